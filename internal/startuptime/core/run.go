package core

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/autopeer-io/ecukpi/pkg/log"
)

const (
	// StampLayout names log files and reports of one run.
	StampLayout = "20060102_150405"
	// DirLayout names the per-run report directory.
	DirLayout = "20060102_15-04-05"
)

// RunContext is everything a measurement run needs, fixed once at start.
// Components receive it by pointer and never modify it.
type RunContext struct {
	StartedAt time.Time
	Stamp     string
	// ReportDir is <root>/03_Startup_Time/<started-at>.
	ReportDir string
	LogsDir   string

	Setup           SetupType
	ECUs            []ECUConfig
	Iterations      int
	CaptureDuration time.Duration
	PowerDwell      time.Duration
	ValidateOrder   bool
	PreGenerated    bool
	PreGeneratedDir string

	Logger log.Logger
}

// NewRunContext derives the timestamped directories from root and now.
func NewRunContext(root string, now time.Time) *RunContext {
	dir := filepath.Join(root, "03_Startup_Time", now.Format(DirLayout))
	return &RunContext{
		StartedAt: now,
		Stamp:     now.Format(StampLayout),
		ReportDir: dir,
		LogsDir:   filepath.Join(dir, "Logs"),
		Logger:    log.NewNopLogger(),
	}
}

// LogDirFor returns where logs of ecu are stored. Several ECUs tested
// together get one subfolder each.
func (rc *RunContext) LogDirFor(ecu ECUType) string {
	if len(rc.ECUs) > 1 {
		return filepath.Join(rc.LogsDir, string(ecu))
	}
	return rc.LogsDir
}

// LogBaseName is the file name, without extension, of one capture.
// iteration is 1-based.
func (rc *RunContext) LogBaseName(ecu ECUType, iteration int) string {
	return fmt.Sprintf("%s_Startup_Time_Logs_%s_%s_N%d", rc.Stamp, rc.Setup, ecu, iteration)
}

// ReportName is the workbook file name for ecu.
func (rc *RunContext) ReportName(ecu ECUType) string {
	return fmt.Sprintf("Application_Startup_Time_%s_%s_N%d_%s.xlsx", rc.Setup, ecu, rc.Iterations, rc.Stamp)
}

// Stage names the step of the per-ECU pipeline that failed.
type Stage string

const (
	StageCapture  Stage = "capture"
	StageParse    Stage = "parse"
	StageValidate Stage = "validate"
)

// StageError is the failure of one (ECU, iteration) pair.
type StageError struct {
	ECU       ECUType
	Iteration int
	Stage     Stage
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s iteration %d: %s: %v", e.ECU, e.Iteration, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Relay power-cycles every ECU of the bench at once.
type Relay interface {
	PowerCycle(ctx context.Context) error
}

// Capturer produces the trace text of one (ECU, iteration) pair.
type Capturer interface {
	Capture(ctx context.Context, ecu ECUConfig, iteration int) (*Capture, error)
}

// EventType classifies run status events.
type EventType string

const (
	EventRunStarted      EventType = "run-started"
	EventIterationDone   EventType = "iteration-done"
	EventIterationFailed EventType = "iteration-failed"
	EventReportSaved     EventType = "report-saved"
	EventRunFinished     EventType = "run-finished"
)

// Event is a status update published while a run progresses.
type Event struct {
	Type      EventType `json:"type"`
	ECU       ECUType   `json:"ecu,omitempty"`
	Iteration int       `json:"iteration,omitempty"`
	Passed    bool      `json:"passed"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier publishes run status events. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) error { return nil }
