// Package report turns one ECU's aggregated results into a workbook: a
// summary with statistics, one detail sheet per iteration and an appendix.
package report

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/montanaflynn/stats"

	"github.com/autopeer-io/ecukpi/internal/pkg/mathutil"
	"github.com/autopeer-io/ecukpi/internal/startuptime/core"
	"github.com/autopeer-io/ecukpi/internal/startuptime/order"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	// Placeholder fills cells that have no observation.
	Placeholder = "-"

	SummarySheet  = "Summary"
	AppendixSheet = "Appendix"
)

// IterationSheet names the detail sheet of iteration (1-based).
func IterationSheet(iteration int) string {
	return fmt.Sprintf("StartupTime_%02d", iteration)
}

// Status renders a verdict.
func Status(ok bool) string {
	if ok {
		return StatusPass
	}
	return StatusFail
}

// DetailRow is one application in an iteration's detail table.
type DetailRow struct {
	// No is the observed startup position, zero when the app never came up.
	No             int
	App            string
	Observed       bool
	StartupSeconds float64
	Offset         float64
	Total          float64
	Threshold      float64
	Passed         bool
	Expected       string
	OrderPassed    bool
	// Reason names the order failure, empty when the order is correct.
	Reason string
}

// TimingRow is one application's init duration.
type TimingRow struct {
	App    string
	Micros float64
	Millis float64
}

// IterationSection is the content of one iteration sheet.
type IterationSection struct {
	Iteration int
	Sheet     string
	Captured  bool
	// Failure explains why a non-captured iteration has no data.
	Failure       string
	Rows          []DetailRow
	Timings       []TimingRow
	Mismatch      int
	NotFound      int
	NotConfigured int
	LogPath       string
}

// SummaryRow is one iteration in the summary table.
type SummaryRow struct {
	Iteration   int
	Sheet       string
	Captured    bool
	Total       float64
	Passed      bool
	OrderPassed bool
}

// StatRow is the cross-iteration startup statistics of one application.
type StatRow struct {
	App            string
	Min            float64
	Max            float64
	Avg            float64
	AvgFromPowerOn float64
	Threshold      float64
}

// InitStatRow is the cross-iteration init-duration statistics, in ms.
type InitStatRow struct {
	App string
	Min float64
	Max float64
	Avg float64
}

// Field documents one report column in the appendix.
type Field struct {
	Name        string
	Description string
}

// Report is the full, rendering-independent content of one ECU workbook.
type Report struct {
	ECU           core.ECUType
	Setup         core.SetupType
	ValidateOrder bool
	Threshold     float64
	Iterations    []IterationSection
	Summary       []SummaryRow
	Stats         []StatRow
	InitStats     []InitStatRow
	Appendix      []Field
}

// Appendix describes the report columns.
var Appendix = []Field{
	{"Services/Applications", "Name of the service or application being initialized."},
	{"Application Startup Time", "Seconds from the KSAR Adaptive welcome message until the application reported Init(Up).\nApplication Startup Time = application timestamp - welcome timestamp."},
	{"Init(Up) Time", "Initialization time reported by the application itself in the DLT trace."},
	{"IG ON to OS Startup", "Fixed offset from ignition on until the operating system and KSAR are up."},
	{"Total Time from IG ON", "Time from ignition on until the application completed startup.\nTotal Time = Application Startup Time + IG ON to OS Startup."},
	{"Test Case Status", "PASS when Total Time from IG ON is below the application's threshold."},
	{"Expected Order", "Configured startup position; a range a~b marks a parallel group."},
	{"StartUp Order Status", "PASS when the application started at a position allowed by the configured order."},
	{"Reason for FAIL", "ORDER_MISMATCH: started out of order. APPLICATION_NOT_CONFIGURED: not part of the configured order. APPLICATION_NOT_FOUND: configured but never started within the capture."},
}

// Build computes the report of one ECU from its aggregates. Iterations that
// failed are kept as empty sections so the sheet numbering matches the run.
func Build(rc *core.RunContext, ecu core.ECUConfig, agg *core.Aggregates) *Report {
	r := &Report{
		ECU:           ecu.Type,
		Setup:         rc.Setup,
		ValidateOrder: rc.ValidateOrder,
		Threshold:     ecu.Thresholds.Default,
		Appendix:      Appendix,
	}

	records := make(map[int]*core.IterationRecord, len(agg.Records))
	for _, rec := range agg.Records {
		records[rec.Iteration] = rec
	}
	failures := make(map[int]error, len(agg.Failures))
	for _, f := range agg.Failures {
		failures[f.Iteration] = f.Err
	}

	for i := 1; i <= rc.Iterations; i++ {
		rec, ok := records[i]
		if !ok {
			sec := IterationSection{Iteration: i, Sheet: IterationSheet(i), Failure: "no data captured"}
			if err := failures[i]; err != nil {
				sec.Failure = err.Error()
			}
			r.Iterations = append(r.Iterations, sec)
			r.Summary = append(r.Summary, SummaryRow{Iteration: i, Sheet: sec.Sheet})
			continue
		}
		r.Iterations = append(r.Iterations, buildSection(rec, ecu, rc.ValidateOrder))
		r.Summary = append(r.Summary, SummaryRow{
			Iteration:   i,
			Sheet:       IterationSheet(i),
			Captured:    true,
			Total:       rec.Result.TotalFromPowerOn,
			Passed:      rec.Result.Passed,
			OrderPassed: rec.Result.OrderPassed,
		})
	}

	r.Stats = buildStats(agg.StartupTimes, ecu.Thresholds)
	r.InitStats = buildInitStats(agg.InitDurations)
	return r
}

func buildSection(rec *core.IterationRecord, ecu core.ECUConfig, validate bool) IterationSection {
	sec := IterationSection{
		Iteration: rec.Iteration,
		Sheet:     IterationSheet(rec.Iteration),
		Captured:  true,
		LogPath:   rec.LogPath,
	}
	sec.Mismatch, sec.NotFound, sec.NotConfigured = rec.Order.Counts()

	rec.Timestamps.Each(func(pos int, app string, ts float64) {
		startup := ts - rec.Welcome
		total := core.FromPowerOn(startup)
		th := ecu.Thresholds.For(app)
		row := DetailRow{
			No:             pos,
			App:            app,
			Observed:       true,
			StartupSeconds: mathutil.Round3(startup),
			Offset:         core.SystemBootOffset,
			Total:          total,
			Threshold:      th,
			Passed:         core.WithinThreshold(total, th),
			Expected:       expected(app, ecu.Order),
		}
		if validate {
			outcome := rec.Order.Outcomes[app]
			row.OrderPassed = outcome == core.OrderOK
			if !row.OrderPassed {
				row.Reason = outcome.String()
			}
		}
		sec.Rows = append(sec.Rows, row)
	})

	for _, app := range rec.Order.Missing {
		row := DetailRow{
			App:       app,
			Threshold: ecu.Thresholds.For(app),
			Expected:  expected(app, ecu.Order),
		}
		if validate {
			row.Reason = core.ApplicationNotFound.String()
		}
		sec.Rows = append(sec.Rows, row)
	}

	for _, t := range rec.Timings {
		sec.Timings = append(sec.Timings, TimingRow{
			App:    t.App,
			Micros: mathutil.Round3(t.InitMicros()),
			Millis: mathutil.Round3(t.InitMillis),
		})
	}
	return sec
}

func expected(app string, configured core.StartupOrder) string {
	if pos, ok := order.ExpectedPosition(app, configured); ok {
		return pos
	}
	return Placeholder
}

func minMaxMean(values []float64) (lo, hi, avg float64) {
	data := stats.Float64Data(values)
	lo, _ = stats.Min(data)
	hi, _ = stats.Max(data)
	avg, _ = stats.Mean(data)
	return mathutil.Round3(lo), mathutil.Round3(hi), mathutil.Round3(avg)
}

func buildStats(times map[string][]float64, th core.Thresholds) []StatRow {
	rows := make([]StatRow, 0, len(times))
	for app, values := range times {
		if len(values) == 0 {
			continue
		}
		lo, hi, avg := minMaxMean(values)
		rows = append(rows, StatRow{
			App:            app,
			Min:            lo,
			Max:            hi,
			Avg:            avg,
			AvgFromPowerOn: core.FromPowerOn(avg),
			Threshold:      th.For(app),
		})
	}
	slices.SortFunc(rows, func(a, b StatRow) int {
		if c := cmp.Compare(a.Avg, b.Avg); c != 0 {
			return c
		}
		return cmp.Compare(a.App, b.App)
	})
	return rows
}

func buildInitStats(durations map[string][]float64) []InitStatRow {
	rows := make([]InitStatRow, 0, len(durations))
	for app, values := range durations {
		if len(values) == 0 {
			continue
		}
		lo, hi, avg := minMaxMean(values)
		rows = append(rows, InitStatRow{App: app, Min: lo, Max: hi, Avg: avg})
	}
	slices.SortFunc(rows, func(a, b InitStatRow) int {
		if c := cmp.Compare(a.Avg, b.Avg); c != 0 {
			return c
		}
		return cmp.Compare(a.App, b.App)
	})
	return rows
}
