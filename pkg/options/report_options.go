package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

var _ IOptions = (*ReportOptions)(nil)

// ReportOptions control where results are written.
type ReportOptions struct {
	// RootDir receives 03_Startup_Time/<timestamp>/.
	RootDir string `json:"root-dir" mapstructure:"root-dir"`
	// Metrics writes a prometheus textfile next to the reports.
	Metrics bool `json:"metrics" mapstructure:"metrics"`
}

func NewReportOptions() *ReportOptions {
	return &ReportOptions{
		RootDir: "Reports",
		Metrics: true,
	}
}

func (o *ReportOptions) Validate() []error {
	if o.RootDir == "" {
		return []error{fmt.Errorf("--report.root-dir must not be empty")}
	}
	return nil
}

func (o *ReportOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.RootDir, prefixed("report.root-dir", prefixes), o.RootDir, "Directory under which run reports are created.")
	fs.BoolVar(&o.Metrics, prefixed("report.metrics", prefixes), o.Metrics, "Write metrics.prom next to the reports.")
}
