package core

import (
	"math"

	"github.com/autopeer-io/ecukpi/internal/pkg/mathutil"
)

// TimestampSet maps application name to its startup-completion timestamp
// and remembers the order in which applications were first observed.
type TimestampSet struct {
	names  []string
	values map[string]float64
}

func NewTimestampSet() *TimestampSet {
	return &TimestampSet{values: make(map[string]float64)}
}

// Set records ts for app. A repeated app keeps its first position and takes the latest value.
func (s *TimestampSet) Set(app string, ts float64) {
	if _, ok := s.values[app]; !ok {
		s.names = append(s.names, app)
	}
	s.values[app] = ts
}

func (s *TimestampSet) Get(app string) (float64, bool) {
	v, ok := s.values[app]
	return v, ok
}

// Apps returns the observed startup sequence.
func (s *TimestampSet) Apps() []string {
	return append([]string(nil), s.names...)
}

func (s *TimestampSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.names)
}

// Position returns the 1-based observed position of app, or 0 when absent.
func (s *TimestampSet) Position(app string) int {
	for i, n := range s.names {
		if n == app {
			return i + 1
		}
	}
	return 0
}

// Max returns the latest completion timestamp, or 0 for an empty set.
func (s *TimestampSet) Max() float64 {
	if s.Len() == 0 {
		return 0
	}
	m := math.Inf(-1)
	for _, v := range s.values {
		m = math.Max(m, v)
	}
	return m
}

// Each visits the entries in observed order.
func (s *TimestampSet) Each(fn func(pos int, app string, ts float64)) {
	for i, n := range s.names {
		fn(i+1, n, s.values[n])
	}
}

// ProcessTiming is the initialization duration reported by one application.
type ProcessTiming struct {
	App        string
	InitMillis float64
}

// InitMicros returns the duration as it appears in the trace.
func (p ProcessTiming) InitMicros() float64 {
	return p.InitMillis * 1000
}

// Capture is the raw output of one (ECU, iteration) recording.
type Capture struct {
	ECU       ECUType
	Iteration int
	// LogPath is the converted text log; TracePath the binary trace, if any.
	LogPath   string
	TracePath string
	Lines     []string
}

// OrderAssessment is the startup-order verdict of one capture.
type OrderAssessment struct {
	Enabled bool
	// Overall is the group-by-group check of the whole observed sequence.
	Overall bool
	// Outcomes holds the per-application result for every observed application.
	Outcomes map[string]OrderOutcome
	// Missing lists configured applications that never reported startup.
	Missing []string
}

// Counts returns the number of mismatched, missing and unconfigured applications.
func (a OrderAssessment) Counts() (mismatch, notFound, notConfigured int) {
	for _, o := range a.Outcomes {
		switch o {
		case OrderMismatch:
			mismatch++
		case ApplicationNotConfigured:
			notConfigured++
		}
	}
	return mismatch, len(a.Missing), notConfigured
}

// IterationResult is the verdict of one successful (ECU, iteration) pair.
type IterationResult struct {
	Iteration int
	// CompletionTimestamp is the latest raw trace timestamp of the capture.
	CompletionTimestamp float64
	// TotalFromPowerOn is the time from IG ON until the last application was up.
	TotalFromPowerOn float64
	Passed           bool
	OrderPassed      bool
	Mismatch         int
	NotFound         int
	NotConfigured    int
}

// IterationRecord keeps everything one iteration contributes to the report.
type IterationRecord struct {
	Iteration int
	LogPath   string
	TracePath string
	Welcome   float64
	// Timestamps holds raw trace timestamps in observed order.
	Timestamps *TimestampSet
	Timings    []ProcessTiming
	Order      OrderAssessment
	Result     IterationResult
}

// StartupSeconds returns the time from the welcome baseline until app was up.
func (r *IterationRecord) StartupSeconds(app string) (float64, bool) {
	ts, ok := r.Timestamps.Get(app)
	if !ok {
		return 0, false
	}
	return ts - r.Welcome, true
}

// Evaluate derives the iteration verdict. Every observed application must
// come up from IG ON before its effective threshold.
func (r *IterationRecord) Evaluate(th Thresholds, orderPassed bool) IterationResult {
	res := IterationResult{
		Iteration:           r.Iteration,
		CompletionTimestamp: r.Timestamps.Max(),
		Passed:              true,
		OrderPassed:         orderPassed,
	}
	res.TotalFromPowerOn = FromPowerOn(res.CompletionTimestamp - r.Welcome)
	r.Timestamps.Each(func(_ int, app string, ts float64) {
		if !WithinThreshold(FromPowerOn(ts-r.Welcome), th.For(app)) {
			res.Passed = false
		}
	})
	res.Mismatch, res.NotFound, res.NotConfigured = r.Order.Counts()
	return res
}

// FromPowerOn converts seconds after the welcome baseline into seconds after
// IG ON, rounded half up to milliseconds.
func FromPowerOn(startup float64) float64 {
	return mathutil.Round3(startup + SystemBootOffset)
}

// WithinThreshold is the pass rule for a time from IG ON.
func WithinThreshold(total, threshold float64) bool {
	return total < threshold
}

// IterationFailure records why an (ECU, iteration) pair produced no data.
type IterationFailure struct {
	Iteration int
	Stage     Stage
	Err       error
}

// Aggregates accumulates one ECU's results across iterations.
type Aggregates struct {
	ECU ECUType
	// StartupTimes holds seconds from the welcome baseline, per application.
	StartupTimes map[string][]float64
	// InitDurations holds milliseconds, per application.
	InitDurations map[string][]float64
	Records       []*IterationRecord
	Failures      []IterationFailure
}

func NewAggregates(ecu ECUType) *Aggregates {
	return &Aggregates{
		ECU:           ecu,
		StartupTimes:  make(map[string][]float64),
		InitDurations: make(map[string][]float64),
	}
}

// Add appends a successfully processed iteration.
func (a *Aggregates) Add(r *IterationRecord) {
	r.Timestamps.Each(func(_ int, app string, ts float64) {
		a.StartupTimes[app] = append(a.StartupTimes[app], ts-r.Welcome)
	})
	for _, t := range r.Timings {
		a.InitDurations[t.App] = append(a.InitDurations[t.App], t.InitMillis)
	}
	a.Records = append(a.Records, r)
}

func (a *Aggregates) AddFailure(f IterationFailure) {
	a.Failures = append(a.Failures, f)
}

// Succeeded reports whether at least one iteration was processed.
func (a *Aggregates) Succeeded() bool {
	return len(a.Records) > 0
}
