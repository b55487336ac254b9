package options

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/ecukpi/internal/startuptime"
	"github.com/autopeer-io/ecukpi/internal/startuptime/config"
	"github.com/autopeer-io/ecukpi/internal/startuptime/core"
	"github.com/autopeer-io/ecukpi/pkg/log"
	"github.com/autopeer-io/ecukpi/pkg/options"
)

const DefaultConfigFile = "startup_time_config.json"

// StartupTimeOptions are the command-line options of one measurement run.
type StartupTimeOptions struct {
	ConfigFile string `json:"config" mapstructure:"config"`
	SetupType  string `json:"setup-type" mapstructure:"setup-type"`
	// ECUs maps an ECU type to its IP address, one entry per ECU to test.
	ECUs map[string]string `json:"ecu" mapstructure:"ecu"`

	RelayOptions   *options.RelayOptions   `json:"relay" mapstructure:"relay"`
	CaptureOptions *options.CaptureOptions `json:"capture" mapstructure:"capture"`
	ReportOptions  *options.ReportOptions  `json:"report" mapstructure:"report"`
	S3Options      *options.S3Options      `json:"s3" mapstructure:"s3"`
	MqttOptions    *options.MqttOptions    `json:"mqtt" mapstructure:"mqtt"`
	LogOptions     *log.Options            `json:"log" mapstructure:"log"`

	selection config.Selection
}

func NewStartupTimeOptions() *StartupTimeOptions {
	return &StartupTimeOptions{
		ConfigFile:     DefaultConfigFile,
		SetupType:      string(core.SetupPADAS),
		ECUs:           map[string]string{},
		RelayOptions:   options.NewRelayOptions(),
		CaptureOptions: options.NewCaptureOptions(),
		ReportOptions:  options.NewReportOptions(),
		S3Options:      options.NewS3Options(),
		MqttOptions:    options.NewMqttOptions(),
		LogOptions:     log.NewOptions(),
	}
}

func (o *StartupTimeOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.addRunFlags(fss.FlagSet("run"))
	o.RelayOptions.AddFlags(fss.FlagSet("relay"))
	o.CaptureOptions.AddFlags(fss.FlagSet("capture"))
	o.ReportOptions.AddFlags(fss.FlagSet("report"))
	o.S3Options.AddFlags(fss.FlagSet("s3"))
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.LogOptions.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *StartupTimeOptions) addRunFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.ConfigFile, "config", "c", o.ConfigFile, "Run configuration file (JSON or YAML).")
	fs.StringVar(&o.SetupType, "setup-type", o.SetupType, "Bench setup: PADAS (RCAR over a USB relay) or ELITE (SoC0/SoC1 over a serial relay).")
	fs.StringToStringVar(&o.ECUs, "ecu", o.ECUs, "ECU to test and its IP address as TYPE=IP, e.g. --ecu RCAR=192.168.1.10. Repeat or comma-separate for several ECUs.")
}

// Complete resolves the setup and ECU selection. Unparseable entries are
// left for Validate to report.
func (o *StartupTimeOptions) Complete() error {
	o.SetupType = strings.ToUpper(strings.TrimSpace(o.SetupType))
	o.selection = config.Selection{Addresses: make(map[core.ECUType]string, len(o.ECUs))}
	if setup, err := core.ParseSetupType(o.SetupType); err == nil {
		o.selection.Setup = setup
	}
	for name, addr := range o.ECUs {
		ecu, err := core.ParseECUType(strings.TrimSpace(name))
		if err != nil {
			continue
		}
		o.selection.Addresses[ecu] = strings.TrimSpace(addr)
	}
	return nil
}

func (o *StartupTimeOptions) Validate() error {
	errs := []error{}
	if o.ConfigFile == "" {
		errs = append(errs, fmt.Errorf("--config must not be empty"))
	}
	if _, err := core.ParseSetupType(o.SetupType); err != nil {
		errs = append(errs, fmt.Errorf("--setup-type: %w", err))
	}
	for name := range o.ECUs {
		if _, err := core.ParseECUType(strings.TrimSpace(name)); err != nil {
			errs = append(errs, fmt.Errorf("--ecu: %w", err))
		}
	}
	if o.selection.Setup != "" {
		if err := o.selection.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, o.RelayOptions.Validate()...)
	errs = append(errs, o.CaptureOptions.Validate()...)
	errs = append(errs, o.ReportOptions.Validate()...)
	errs = append(errs, o.S3Options.Validate()...)
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.LogOptions.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *StartupTimeOptions) Config() (*startuptime.Config, error) {
	return &startuptime.Config{
		ConfigFile: o.ConfigFile,
		Selection:  o.selection,
		Relay:      o.RelayOptions,
		Capture:    o.CaptureOptions,
		Report:     o.ReportOptions,
		S3:         o.S3Options,
		Mqtt:       o.MqttOptions,
		Log:        o.LogOptions,
	}, nil
}
