package options

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

var _ IOptions = (*CaptureOptions)(nil)

// CaptureOptions locate the viewer project template and the optional wrapper script.
type CaptureOptions struct {
	DescriptorTemplate string `json:"descriptor-template" mapstructure:"descriptor-template"`
	WrapperScript      string `json:"wrapper-script" mapstructure:"wrapper-script"`
}

func NewCaptureOptions() *CaptureOptions {
	return &CaptureOptions{
		DescriptorTemplate: "proj.dlp",
	}
}

func (o *CaptureOptions) Validate() []error {
	var errs []error
	if o.WrapperScript != "" {
		if _, err := os.Stat(o.WrapperScript); err != nil {
			errs = append(errs, fmt.Errorf("--capture.wrapper-script: %w", err))
		}
	}
	return errs
}

func (o *CaptureOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.DescriptorTemplate, prefixed("capture.descriptor-template", prefixes), o.DescriptorTemplate,
		"Viewer project template; its ecu/hostname is rewritten per ECU.")
	fs.StringVar(&o.WrapperScript, prefixed("capture.wrapper-script", prefixes), o.WrapperScript,
		"Script that records and converts in one call (used on Windows hosts).")
}
