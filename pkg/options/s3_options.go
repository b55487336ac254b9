package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

var _ IOptions = (*S3Options)(nil)

// S3Options configures the optional upload of finished report directories.
type S3Options struct {
	Enabled            bool   `json:"enabled" mapstructure:"enabled"`
	Endpoint           string `json:"endpoint" mapstructure:"endpoint"`
	AccessKeyID        string `json:"access-key-id" mapstructure:"access-key-id"`
	SecretAccessKey    string `json:"secret-access-key" mapstructure:"secret-access-key"`
	UseSSL             bool   `json:"use-ssl" mapstructure:"use-ssl"`
	InsecureSkipVerify bool   `json:"insecure-skip-verify" mapstructure:"insecure-skip-verify"`
	BucketName         string `json:"bucket-name" mapstructure:"bucket-name"`
	Region             string `json:"region" mapstructure:"region"`
	// Prefix is prepended to every object key.
	Prefix string `json:"prefix" mapstructure:"prefix"`
}

func NewS3Options() *S3Options {
	return &S3Options{
		UseSSL:     true,
		BucketName: "ecu-kpi-reports",
		Region:     "us-east-1",
		Prefix:     "startup-time",
	}
}

func (o *S3Options) Validate() []error {
	if o == nil || !o.Enabled {
		return nil
	}
	var errs []error
	if o.Endpoint == "" {
		errs = append(errs, fmt.Errorf("--s3.endpoint is required when --s3.enabled is set"))
	}
	if o.BucketName == "" {
		errs = append(errs, fmt.Errorf("--s3.bucket-name must not be empty"))
	}
	if (o.AccessKeyID == "") != (o.SecretAccessKey == "") {
		errs = append(errs, fmt.Errorf("--s3.access-key-id and --s3.secret-access-key must be set together"))
	}
	return errs
}

func (o *S3Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.BoolVar(&o.Enabled, prefixed("s3.enabled", prefixes), o.Enabled, "Upload the report directory to S3-compatible storage after the run.")
	fs.StringVar(&o.Endpoint, prefixed("s3.endpoint", prefixes), o.Endpoint, "S3 service endpoint (e.g. s3.amazonaws.com or minio.local:9000).")
	fs.StringVar(&o.AccessKeyID, prefixed("s3.access-key-id", prefixes), o.AccessKeyID, "S3 access key ID.")
	fs.StringVar(&o.SecretAccessKey, prefixed("s3.secret-access-key", prefixes), o.SecretAccessKey, "S3 secret access key.")
	fs.BoolVar(&o.UseSSL, prefixed("s3.use-ssl", prefixes), o.UseSSL, "Enable SSL for the S3 connection.")
	fs.BoolVar(&o.InsecureSkipVerify, prefixed("s3.insecure-skip-verify", prefixes), o.InsecureSkipVerify, "Skip TLS certificate verification (self-signed lab storage only).")
	fs.StringVar(&o.BucketName, prefixed("s3.bucket-name", prefixes), o.BucketName, "Bucket receiving the reports.")
	fs.StringVar(&o.Region, prefixed("s3.region", prefixes), o.Region, "S3 region.")
	fs.StringVar(&o.Prefix, prefixed("s3.prefix", prefixes), o.Prefix, "Key prefix of uploaded reports.")
}
