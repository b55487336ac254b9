package report

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/xuri/excelize/v2"
	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/ecukpi/internal/startuptime/core"
	"github.com/autopeer-io/ecukpi/internal/startuptime/order"
)

type stamp struct {
	app string
	ts  float64
}

func record(iteration int, welcome float64, ecu core.ECUConfig, validate bool, stamps []stamp, timings ...core.ProcessTiming) *core.IterationRecord {
	ts := core.NewTimestampSet()
	for _, s := range stamps {
		ts.Set(s.app, s.ts)
	}
	rec := &core.IterationRecord{
		Iteration:  iteration,
		LogPath:    filepath.Join("/reports/run/Logs", fmt.Sprintf("N%d.log", iteration)),
		Welcome:    welcome,
		Timestamps: ts,
		Timings:    timings,
		Order:      order.Assess(ts, ecu.Order, validate),
	}
	rec.Result = rec.Evaluate(ecu.Thresholds, order.Passed(rec.Order))
	return rec
}

func fixture(validate bool) (*core.RunContext, core.ECUConfig, *core.Aggregates) {
	rc := core.NewRunContext("/reports", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	rc.Setup = core.SetupPADAS
	rc.Iterations = 3
	rc.ValidateOrder = validate

	ecu := core.ECUConfig{
		Type: core.ECURCAR,
		Order: core.StartupOrder{
			{Type: core.Sequential, Apps: []string{"app1", "app2"}},
		},
		Thresholds: core.Thresholds{Default: 5, PerApp: map[string]float64{}},
	}
	rc.ECUs = []core.ECUConfig{ecu}

	agg := core.NewAggregates(core.ECURCAR)
	agg.Add(record(1, 100, ecu, validate,
		[]stamp{{"app1", 101.5}, {"app2", 103.0}},
		core.ProcessTiming{App: "app1", InitMillis: 12.5}))
	agg.Add(record(2, 200, ecu, validate,
		[]stamp{{"app1", 202.0}, {"app2", 203.5}},
		core.ProcessTiming{App: "app1", InitMillis: 7.5}))
	agg.AddFailure(core.IterationFailure{Iteration: 3, Stage: core.StageParse, Err: errors.New("no welcome")})
	return rc, ecu, agg
}

func TestBuild(t *testing.T) {
	rc, ecu, agg := fixture(true)
	r := Build(rc, ecu, agg)

	wantSummary := []SummaryRow{
		{Iteration: 1, Sheet: "StartupTime_01", Captured: true, Total: 4.5, Passed: true, OrderPassed: true},
		{Iteration: 2, Sheet: "StartupTime_02", Captured: true, Total: 5.0, Passed: false, OrderPassed: true},
		{Iteration: 3, Sheet: "StartupTime_03"},
	}
	if diff := cmp.Diff(wantSummary, r.Summary); diff != "" {
		t.Errorf("Summary mismatch (-want +got):\n%s", diff)
	}

	wantRows := []DetailRow{
		{No: 1, App: "app1", Observed: true, StartupSeconds: 1.5, Offset: 1.5, Total: 3.0, Threshold: 5, Passed: true, Expected: "1", OrderPassed: true},
		{No: 2, App: "app2", Observed: true, StartupSeconds: 3.0, Offset: 1.5, Total: 4.5, Threshold: 5, Passed: true, Expected: "2", OrderPassed: true},
	}
	if diff := cmp.Diff(wantRows, r.Iterations[0].Rows); diff != "" {
		t.Errorf("iteration 1 rows mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]TimingRow{{App: "app1", Micros: 12500, Millis: 12.5}}, r.Iterations[0].Timings); diff != "" {
		t.Errorf("iteration 1 timings mismatch (-want +got):\n%s", diff)
	}

	if sec := r.Iterations[2]; sec.Captured || sec.Failure != "no welcome" || len(sec.Rows) != 0 {
		t.Errorf("failed iteration section = %+v", sec)
	}

	wantStats := []StatRow{
		{App: "app1", Min: 1.5, Max: 2.0, Avg: 1.75, AvgFromPowerOn: 3.25, Threshold: 5},
		{App: "app2", Min: 3.0, Max: 3.5, Avg: 3.25, AvgFromPowerOn: 4.75, Threshold: 5},
	}
	if diff := cmp.Diff(wantStats, r.Stats); diff != "" {
		t.Errorf("Stats mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]InitStatRow{{App: "app1", Min: 7.5, Max: 12.5, Avg: 10}}, r.InitStats); diff != "" {
		t.Errorf("InitStats mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildOrderFailures(t *testing.T) {
	rc, ecu, _ := fixture(true)
	ecu.Order = core.StartupOrder{
		{Type: core.Sequential, Apps: []string{"app1", "app2", "app3"}},
	}
	agg := core.NewAggregates(core.ECURCAR)
	agg.Add(record(1, 100, ecu, true, []stamp{{"app2", 101.0}, {"app1", 102.0}, {"extra", 102.5}}))
	rc.Iterations = 1

	r := Build(rc, ecu, agg)
	sec := r.Iterations[0]
	if sec.Mismatch != 2 || sec.NotFound != 1 || sec.NotConfigured != 1 {
		t.Errorf("counts = %d, %d, %d, want 2, 1, 1", sec.Mismatch, sec.NotFound, sec.NotConfigured)
	}

	reasons := make(map[string]string)
	for _, row := range sec.Rows {
		reasons[row.App] = row.Reason
	}
	want := map[string]string{
		"app2":  "ORDER_MISMATCH",
		"app1":  "ORDER_MISMATCH",
		"extra": "APPLICATION_NOT_CONFIGURED",
		"app3":  "APPLICATION_NOT_FOUND",
	}
	if diff := cmp.Diff(want, reasons); diff != "" {
		t.Errorf("reasons mismatch (-want +got):\n%s", diff)
	}

	last := sec.Rows[len(sec.Rows)-1]
	if last.App != "app3" || last.Observed || last.Expected != "3" {
		t.Errorf("missing row = %+v", last)
	}
	if r.Summary[0].OrderPassed {
		t.Error("OrderPassed = true with mismatches")
	}
}

func TestBuildWithoutValidation(t *testing.T) {
	rc, ecu, agg := fixture(false)
	r := Build(rc, ecu, agg)
	for _, row := range r.Iterations[0].Rows {
		if row.Reason != "" {
			t.Errorf("%s has reason %q with validation disabled", row.App, row.Reason)
		}
	}
	if !r.Summary[0].OrderPassed {
		t.Error("disabled validation should not fail the order")
	}
}

func TestSave(t *testing.T) {
	rc, ecu, agg := fixture(true)
	r := Build(rc, ecu, agg)
	path := filepath.Join(t.TempDir(), rc.ReportName(ecu.Type))

	if err := Save(r, rc.ReportDir, path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	defer f.Close()

	want := []string{"Summary", "StartupTime_01", "StartupTime_02", "StartupTime_03", "Appendix"}
	if diff := cmp.Diff(want, f.GetSheetList()); diff != "" {
		t.Errorf("sheets mismatch (-want +got):\n%s", diff)
	}

	cells := []struct {
		sheet, cell, want string
	}{
		{"Summary", "A2", "No. of Iterations"},
		{"Summary", "A3", "1"},
		{"Summary", "B3", "4.5"},
		{"Summary", "C3", "PASS"},
		{"Summary", "C4", "FAIL"},
		{"Summary", "B5", "-"},
		{"Summary", "C5", "FAIL"},
		{"StartupTime_01", "B3", "app1"},
		{"StartupTime_01", "C3", "1.5"},
		{"StartupTime_01", "F4", "PASS"},
		{"StartupTime_01", "H4", "PASS"},
		{"StartupTime_03", "A3", "No data: no welcome"},
		{"Appendix", "A3", "Services/Applications"},
	}
	for _, c := range cells {
		got, err := f.GetCellValue(c.sheet, c.cell)
		if err != nil {
			t.Errorf("GetCellValue(%s, %s) error = %v", c.sheet, c.cell, err)
			continue
		}
		if got != c.want {
			t.Errorf("%s!%s = %q, want %q", c.sheet, c.cell, got, c.want)
		}
	}

	rows, err := f.GetRows("StartupTime_01")
	if err != nil {
		t.Fatal(err)
	}
	found := slices.ContainsFunc(rows, func(row []string) bool {
		return len(row) > 0 && row[0] == "Log File:"
	})
	if !found {
		t.Error("iteration sheet has no log file reference")
	}
}

func TestSaveConcurrently(t *testing.T) {
	rc, ecu, agg := fixture(true)
	dir := t.TempDir()

	var g errgroup.Group
	paths := make([]string, 4)
	for i := range paths {
		paths[i] = filepath.Join(dir, fmt.Sprintf("r%d.xlsx", i))
		g.Go(func() error {
			return Save(Build(rc, ecu, agg), rc.ReportDir, paths[i])
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	want := []string{"Summary", "StartupTime_01", "StartupTime_02", "StartupTime_03", "Appendix"}
	for _, path := range paths {
		f, err := excelize.OpenFile(path)
		if err != nil {
			t.Fatalf("OpenFile(%s) error = %v", path, err)
		}
		if diff := cmp.Diff(want, f.GetSheetList()); diff != "" {
			t.Errorf("%s sheets mismatch (-want +got):\n%s", filepath.Base(path), diff)
		}
		if got, _ := f.GetCellValue("Summary", "C3"); got != "PASS" {
			t.Errorf("%s Summary!C3 = %q, want PASS", filepath.Base(path), got)
		}
		_ = f.Close()
	}
}

func TestSaveWithoutValidationDropsOrderColumns(t *testing.T) {
	rc, ecu, agg := fixture(false)
	path := filepath.Join(t.TempDir(), "r.xlsx")
	if err := Save(Build(rc, ecu, agg), rc.ReportDir, path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if got, _ := f.GetCellValue("Summary", "D2"); got != "" {
		t.Errorf("Summary!D2 = %q, want empty", got)
	}
	if got, _ := f.GetCellValue("StartupTime_01", "H2"); got != "" {
		t.Errorf("StartupTime_01!H2 = %q, want empty", got)
	}
}

func TestLogLink(t *testing.T) {
	got := logLink("/reports/run", "/reports/run/Logs/RCAR/a.log")
	want := `HYPERLINK("` + filepath.Join("Logs", "RCAR", "a.log") + `","a.log")`
	if got != want {
		t.Errorf("logLink() = %q, want %q", got, want)
	}
}
