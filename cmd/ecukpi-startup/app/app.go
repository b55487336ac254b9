package app

import (
	"context"
	"errors"
	"flag"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/component-base/cli/globalflag"

	"github.com/autopeer-io/ecukpi/cmd/ecukpi-startup/app/options"
	"github.com/autopeer-io/ecukpi/pkg/log"
)

// ErrMeasurementFailed is returned when the run aborted, an ECU produced no
// data or a report could not be saved. Threshold failures are in the reports.
var ErrMeasurementFailed = errors.New("startup time measurement failed")

func NewStartupTimeCommand(ctx context.Context) *cobra.Command {
	opts := options.NewStartupTimeOptions()
	cmd := &cobra.Command{
		Use:   "ecukpi-startup",
		Short: "Measure ECU application startup times",
		Long: `ecukpi-startup power-cycles the selected ECUs, records their DLT traces
and reports how long every application takes to come up after ignition on.
One Excel workbook per ECU is written below --report.root-dir.`,
		Example: `  ecukpi-startup --setup-type PADAS --ecu RCAR=192.168.1.10
  ecukpi-startup --setup-type ELITE --ecu SoC0=10.0.0.2,SoC1=10.0.0.3 --relay.serial-port /dev/ttyUSB0`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Init(opts.LogOptions)
			defer log.Std().Sync()

			if err := opts.Complete(); err != nil {
				log.Error(err, "failed to complete options")
				return err
			}
			if err := opts.Validate(); err != nil {
				log.Error(err, "invalid options")
				return err
			}

			cfg, err := opts.Config()
			if err != nil {
				log.Error(err, "failed to build configuration")
				return err
			}

			if !cfg.Measure(ctx) {
				return ErrMeasurementFailed
			}
			return nil
		},
	}

	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	fs := cmd.Flags()
	namedfs := opts.Flags()
	globalflag.AddGlobalFlags(namedfs.FlagSet("global"), cmd.Name())
	for _, f := range namedfs.FlagSets {
		fs.AddFlagSet(f)
	}

	return cmd
}
