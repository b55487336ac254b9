// Package startuptime measures how long ECU applications take to come up
// after ignition and writes one workbook per ECU. Measure is the single
// entry point.
package startuptime

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/ecukpi/internal/startuptime/archive"
	"github.com/autopeer-io/ecukpi/internal/startuptime/capture"
	"github.com/autopeer-io/ecukpi/internal/startuptime/config"
	"github.com/autopeer-io/ecukpi/internal/startuptime/core"
	"github.com/autopeer-io/ecukpi/internal/startuptime/metrics"
	"github.com/autopeer-io/ecukpi/internal/startuptime/notifier"
	"github.com/autopeer-io/ecukpi/internal/startuptime/relay"
	"github.com/autopeer-io/ecukpi/internal/startuptime/report"
	"github.com/autopeer-io/ecukpi/internal/startuptime/runner"
	"github.com/autopeer-io/ecukpi/pkg/log"
	"github.com/autopeer-io/ecukpi/pkg/mqtt"
	"github.com/autopeer-io/ecukpi/pkg/mqtt/topic"
	"github.com/autopeer-io/ecukpi/pkg/options"
)

const (
	runLogName      = "run.log"
	snapshotName    = "run-config.yaml"
	metricsName     = "metrics.prom"
	descriptorsDir  = "DLP"
	archiveDeadline = 10 * time.Minute
)

// Config is everything a measurement needs besides the configuration file.
type Config struct {
	ConfigFile string
	Selection  config.Selection

	Relay   *options.RelayOptions
	Capture *options.CaptureOptions
	Report  *options.ReportOptions
	S3      *options.S3Options
	Mqtt    *options.MqttOptions
	Log     *log.Options

	// Out receives the console summary. Defaults to stdout.
	Out io.Writer
	// Now stamps the run. Defaults to time.Now.
	Now func() time.Time
}

// Outcome is the result of one ECU after reporting.
type Outcome struct {
	ECU        core.ECUType
	Aggregates *core.Aggregates
	Report     *report.Report
	ReportPath string
	Err        error
}

// OK reports whether the ECU had data and its workbook was written.
func (o Outcome) OK() bool {
	return o.Err == nil && o.Aggregates.Succeeded()
}

// Measure runs the whole measurement and reports overall success: false
// when the run aborted, an ECU produced no data or a workbook could not be
// saved. Every failure is logged.
func (cfg *Config) Measure(ctx context.Context) bool {
	start := time.Now()
	logger := log.Std().WithName("startup-time")
	defer func() {
		logger.Info("Script execution time", "elapsed", time.Since(start).Round(time.Millisecond).String())
	}()

	rc, file, err := cfg.prepare(logger)
	if err != nil {
		logger.Error(err, "Measurement not started")
		return false
	}
	runLogger := log.NewLogger(cfg.logOptions().WithOutputPath(filepath.Join(rc.ReportDir, runLogName))).WithName("startup-time")
	defer runLogger.Sync()
	rc.Logger = runLogger

	outcomes, err := cfg.run(ctx, rc, file)
	if err != nil {
		runLogger.Error(err, "Measurement aborted")
		return false
	}

	ok := true
	for _, o := range outcomes {
		if !o.OK() {
			ok = false
		}
	}
	WriteSummary(cfg.out(), outcomes)
	runLogger.Info("Measurement finished", "passed", ok, "reportDir", rc.ReportDir)
	return ok
}

func (cfg *Config) logOptions() *log.Options {
	if cfg.Log == nil {
		return log.NewOptions()
	}
	return cfg.Log
}

func (cfg *Config) out() io.Writer {
	if cfg.Out == nil {
		return os.Stdout
	}
	return cfg.Out
}

// prepare loads and validates the configuration and creates the report
// directory. Nothing touches hardware before it succeeds.
func (cfg *Config) prepare(logger log.Logger) (*core.RunContext, *config.File, error) {
	file, err := config.Load(cfg.ConfigFile)
	if err != nil {
		return nil, nil, err
	}
	ecus, err := file.BuildECUs(cfg.Selection)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now
	if cfg.Now != nil {
		now = cfg.Now
	}
	root := "Reports"
	if cfg.Report != nil && cfg.Report.RootDir != "" {
		root = cfg.Report.RootDir
	}

	rc := core.NewRunContext(root, now())
	rc.Setup = cfg.Selection.Setup
	rc.ECUs = ecus
	rc.Iterations = file.Iterations
	rc.CaptureDuration = file.CaptureDuration()
	rc.PowerDwell = file.PowerDwell()
	if cfg.Relay != nil && cfg.Relay.Dwell > 0 {
		rc.PowerDwell = cfg.Relay.Dwell
	}
	rc.ValidateOrder = file.ValidateOrder
	rc.PreGenerated = file.PreGenerated
	rc.PreGeneratedDir = file.PreGeneratedPath

	if err := os.MkdirAll(rc.LogsDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create report directory: %w", err)
	}
	if err := WriteSnapshot(filepath.Join(rc.ReportDir, snapshotName), rc, file); err != nil {
		logger.Warn("Run configuration snapshot not written", "error", err)
	}
	logger.Info("Measurement prepared",
		"setup", rc.Setup,
		"ecus", len(rc.ECUs),
		"iterations", rc.Iterations,
		"captureDuration", rc.CaptureDuration.String(),
		"validateOrder", rc.ValidateOrder,
		"preGenerated", rc.PreGenerated,
		"reportDir", rc.ReportDir)
	return rc, file, nil
}

func (cfg *Config) run(ctx context.Context, rc *core.RunContext, file *config.File) ([]Outcome, error) {
	var m *metrics.Metrics
	if cfg.Report == nil || cfg.Report.Metrics {
		m = metrics.New()
	}

	rel, err := cfg.newRelay(rc)
	if err != nil {
		return nil, err
	}
	capt, err := cfg.newCapturer(rc, file)
	if err != nil {
		return nil, err
	}

	var note core.Notifier = core.NopNotifier{}
	if n := cfg.connectNotifier(ctx, rc.Logger); n != nil {
		defer n.Close(context.WithoutCancel(ctx))
		note = n
	}

	aggs, err := runner.New(rc, runner.Deps{Relay: rel, Capturer: capt, Notifier: note, Metrics: m}).Run(ctx)
	if err != nil {
		return nil, err
	}

	outcomes := SaveReports(rc, aggs, m)
	passed := true
	for _, o := range outcomes {
		ev := core.Event{Type: core.EventReportSaved, ECU: o.ECU, Passed: o.OK(), Message: o.ReportPath}
		if o.Err != nil {
			ev.Message = o.Err.Error()
		}
		notify(ctx, note, rc.Logger, ev)
		passed = passed && o.OK()
	}

	m.SetRunDuration(time.Since(rc.StartedAt))
	if m != nil {
		if err := m.WriteTextfile(filepath.Join(rc.ReportDir, metricsName)); err != nil {
			rc.Logger.Warn("Metrics not written", "error", err)
		}
	}

	cfg.archive(ctx, rc)
	notify(ctx, note, rc.Logger, core.Event{Type: core.EventRunFinished, Passed: passed, Message: rc.ReportDir})
	return outcomes, nil
}

func (cfg *Config) newRelay(rc *core.RunContext) (core.Relay, error) {
	if rc.PreGenerated {
		return relay.Skip{Logger: rc.Logger}, nil
	}
	opts := cfg.Relay
	if opts == nil {
		opts = options.NewRelayOptions()
	}
	return relay.New(rc.Setup, relay.Config{
		USBCommand: opts.USBCommand,
		USBChannel: opts.USBChannel,
		SerialPort: opts.SerialPort,
		BaudRate:   opts.BaudRate,
		Dwell:      rc.PowerDwell,
	}, rc.Logger)
}

func (cfg *Config) newCapturer(rc *core.RunContext, file *config.File) (core.Capturer, error) {
	if rc.PreGenerated {
		rc.Logger.Info("Replaying pre-generated logs", "dir", rc.PreGeneratedDir)
		return &capture.Replay{Dir: rc.PreGeneratedDir, Setup: rc.Setup, Logger: rc.Logger}, nil
	}

	opts := cfg.Capture
	if opts == nil {
		opts = options.NewCaptureOptions()
	}
	descriptors, err := capture.WriteDescriptors(opts.DescriptorTemplate, filepath.Join(rc.ReportDir, descriptorsDir), rc.Setup, rc.ECUs, rc.Logger)
	if err != nil {
		return nil, err
	}

	live := capture.LiveConfigFor(runtime.GOOS, viewerPath(runtime.GOOS, file), opts.WrapperScript, rc.CaptureDuration)
	return capture.NewLiveCapturer(live, rc, descriptors, nil), nil
}

// viewerPath picks the viewer executable configured for goos. An empty
// result lets the capturer fall back to the platform default.
func viewerPath(goos string, file *config.File) string {
	if goos == "windows" {
		if file.Windows.IsPathSet {
			return ""
		}
		return file.Windows.DltViewerPath
	}
	return file.Linux.DltViewerPath
}

func (cfg *Config) connectNotifier(ctx context.Context, logger log.Logger) *notifier.MQTT {
	if cfg.Mqtt == nil || !cfg.Mqtt.Enabled {
		return nil
	}
	topics := topic.NewTopicBuilder(cfg.Mqtt.TopicRoot)
	clientCfg := cfg.Mqtt.ToClientConfig()
	clientCfg.WillTopic = topics.Status()
	clientCfg.WillPayload = notifier.WillPayload()

	client, err := mqtt.NewClient(clientCfg, logger)
	if err != nil {
		logger.Warn("Status events disabled", "error", err)
		return nil
	}
	n := notifier.New(client, topics, logger)
	if err := n.Connect(ctx, cfg.Mqtt.ConnectTimeout); err != nil {
		logger.Warn("Status events disabled", "error", err)
		client.Disconnect(context.WithoutCancel(ctx))
		return nil
	}
	return n
}

func (cfg *Config) archive(ctx context.Context, rc *core.RunContext) {
	if cfg.S3 == nil || !cfg.S3.Enabled {
		return
	}
	a, err := archive.NewMinIO(cfg.S3, rc.Logger)
	if err != nil {
		rc.Logger.Warn("Report directory not archived", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveDeadline)
	defer cancel()
	if _, err := a.Upload(ctx, rc.ReportDir); err != nil {
		rc.Logger.Warn("Report directory not archived", "error", err)
	}
}

// SaveReports writes one workbook per ECU concurrently. An ECU without any
// successful iteration gets no workbook and a failed outcome.
func SaveReports(rc *core.RunContext, aggs []*core.Aggregates, m *metrics.Metrics) []Outcome {
	outcomes := make([]Outcome, len(aggs))

	var g errgroup.Group
	for i, agg := range aggs {
		ecu := rc.ECUs[i]
		g.Go(func() error {
			o := Outcome{ECU: ecu.Type, Aggregates: agg}
			logger := rc.Logger.WithValues("ecu", ecu.Type)
			o.Report = report.Build(rc, ecu, agg)

			if !agg.Succeeded() {
				o.Err = fmt.Errorf("no successful iteration out of %d", rc.Iterations)
				logger.Error(o.Err, "Report not generated")
				outcomes[i] = o
				return nil
			}

			o.ReportPath = filepath.Join(rc.ReportDir, rc.ReportName(ecu.Type))
			o.Err = report.Save(o.Report, rc.ReportDir, o.ReportPath)
			m.ObserveReport(ecu.Type, o.Err)
			if o.Err != nil {
				logger.Error(o.Err, "Report not saved", "path", o.ReportPath)
			} else {
				logger.Info("Report saved", "path", o.ReportPath)
			}
			outcomes[i] = o
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func notify(ctx context.Context, n core.Notifier, logger log.Logger, ev core.Event) {
	ev.Timestamp = time.Now()
	if err := n.Notify(ctx, ev); err != nil {
		logger.Warn("Status event not delivered", "type", ev.Type, "error", err)
	}
}
