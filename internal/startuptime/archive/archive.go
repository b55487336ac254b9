// Package archive uploads a finished report directory to S3-compatible storage.
package archive

import (
	"context"
	"crypto/tls"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/autopeer-io/ecukpi/pkg/log"
	"github.com/autopeer-io/ecukpi/pkg/options"
)

// Store is the subset of the object store the archiver needs.
type Store interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type Archiver struct {
	store  Store
	bucket string
	region string
	prefix string
	logger log.Logger
}

// NewMinIO connects to the endpoint described by opts.
func NewMinIO(opts *options.S3Options, logger log.Logger) (*Archiver, error) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify},
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure:    opts.UseSSL,
		Region:    opts.Region,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return New(client, opts.BucketName, opts.Region, opts.Prefix, logger), nil
}

func New(store Store, bucket, region, prefix string, logger log.Logger) *Archiver {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Archiver{store: store, bucket: bucket, region: region, prefix: prefix, logger: logger.WithName("archive")}
}

func (a *Archiver) ensureBucket(ctx context.Context) error {
	exists, err := a.store.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if exists {
		return nil
	}
	a.logger.Info("Bucket does not exist, creating", "bucket", a.bucket)
	if err := a.store.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: a.region}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// Upload copies every file under dir to <prefix>/<base(dir)>/<relative path>
// and returns the object keys in walk order.
func (a *Archiver) Upload(ctx context.Context, dir string) ([]string, error) {
	if err := a.ensureBucket(ctx); err != nil {
		return nil, err
	}

	base := filepath.Base(dir)
	var keys []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		key := path.Join(a.prefix, base, filepath.ToSlash(rel))
		opts := minio.PutObjectOptions{ContentType: contentType(p)}
		if _, err := a.store.FPutObject(ctx, a.bucket, key, p, opts); err != nil {
			return fmt.Errorf("upload %s: %w", rel, err)
		}
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return keys, err
	}
	a.logger.Info("Report directory archived", "bucket", a.bucket, "objects", len(keys), "prefix", path.Join(a.prefix, base))
	return keys, nil
}

func contentType(p string) string {
	switch filepath.Ext(p) {
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".log", ".prom":
		return "text/plain"
	case ".dlt":
		return "application/octet-stream"
	}
	if t := mime.TypeByExtension(filepath.Ext(p)); t != "" {
		return t
	}
	return "application/octet-stream"
}
