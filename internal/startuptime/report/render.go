package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/autopeer-io/ecukpi/internal/startuptime/core"
)

// ErrSave marks a workbook that could not be written.
var ErrSave = errors.New("save report")

var (
	detailColumns = []string{
		"No.", "Services/Applications", "Application Startup\nTime (sec)",
		"IG ON\nto\nOS Startup (sec)", "Total Time\nfrom\nIG ON (sec)",
		"Test Case Status", "Expected Order", "StartUp Order Status", "Reason for FAIL",
	}
	timingColumns  = []string{"Services/Applications", "Init(Up) Time (us)", "Init(Up) Time (ms)"}
	summaryColumns = []string{
		"No. of Iterations", "Total Time\nto Startup\nLast Application\nfrom IG ON (sec)",
		"Test Case Status", "Startup Order Status",
	}
	statColumns = []string{
		"Services/Applications", "Minimum (sec)", "Maximum (sec)", "Average (sec)",
		"Average\nfrom\nIG ON (sec)", "Threshold (sec)",
	}
	initStatColumns = []string{"Services/Applications", "Minimum (ms)", "Maximum (ms)", "Average (ms)"}
	appendixColumns = []string{"Column Name", "Description"}
)

const (
	chartColumn  = "K"
	sectionSpace = 3
)

type styles struct {
	title  int
	column int
	cell   int
	pass   int
	fail   int
	link   int
}

func newStyles(f *excelize.File) (*styles, error) {
	border := []excelize.Border{
		{Type: "left", Color: "000000", Style: 1},
		{Type: "right", Color: "000000", Style: 1},
		{Type: "top", Color: "000000", Style: 1},
		{Type: "bottom", Color: "000000", Style: 1},
	}
	center := &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true}
	fill := func(color string) excelize.Fill {
		return excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{color}}
	}

	s := &styles{}
	defs := []struct {
		dst   *int
		style *excelize.Style
	}{
		{&s.title, &excelize.Style{Border: border, Alignment: center, Font: &excelize.Font{Bold: true}, Fill: fill("9EB9DA")}},
		{&s.column, &excelize.Style{Border: border, Alignment: center, Font: &excelize.Font{Bold: true}, Fill: fill("B5E6A2")}},
		{&s.cell, &excelize.Style{Border: border, Alignment: center}},
		{&s.pass, &excelize.Style{Border: border, Alignment: center, Font: &excelize.Font{Bold: true, Color: "00B050"}}},
		{&s.fail, &excelize.Style{Border: border, Alignment: center, Font: &excelize.Font{Bold: true, Color: "FF0000"}}},
		{&s.link, &excelize.Style{Font: &excelize.Font{Color: "0000FF", Underline: "single"}}},
	}
	for _, d := range defs {
		id, err := f.NewStyle(d.style)
		if err != nil {
			return nil, err
		}
		*d.dst = id
	}
	return s, nil
}

// sheetWriter appends rows to one sheet and keeps the first error.
type sheetWriter struct {
	f      *excelize.File
	sheet  string
	row    int
	styles *styles
	err    error
}

func (w *sheetWriter) cell(col, row int) string {
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil && w.err == nil {
		w.err = err
	}
	return name
}

func (w *sheetWriter) do(err error) {
	if err != nil && w.err == nil {
		w.err = err
	}
}

// header writes a merged title row and the column names, returning the title row.
func (w *sheetWriter) header(title string, columns []string) int {
	if w.row > 0 {
		w.row += sectionSpace
	}
	w.row++
	start := w.row
	first, last := w.cell(1, w.row), w.cell(len(columns), w.row)
	w.do(w.f.SetCellValue(w.sheet, first, title))
	w.do(w.f.MergeCell(w.sheet, first, last))
	w.do(w.f.SetCellStyle(w.sheet, first, last, w.styles.title))

	w.row++
	w.do(w.f.SetSheetRow(w.sheet, w.cell(1, w.row), &columns))
	w.do(w.f.SetCellStyle(w.sheet, w.cell(1, w.row), w.cell(len(columns), w.row), w.styles.column))
	return start
}

// append writes one bordered data row and returns its row number.
func (w *sheetWriter) append(values ...any) int {
	w.row++
	w.do(w.f.SetSheetRow(w.sheet, w.cell(1, w.row), &values))
	w.do(w.f.SetCellStyle(w.sheet, w.cell(1, w.row), w.cell(len(values), w.row), w.styles.cell))
	for i, v := range values {
		switch v {
		case StatusPass:
			w.do(w.f.SetCellStyle(w.sheet, w.cell(i+1, w.row), w.cell(i+1, w.row), w.styles.pass))
		case StatusFail:
			w.do(w.f.SetCellStyle(w.sheet, w.cell(i+1, w.row), w.cell(i+1, w.row), w.styles.fail))
		}
	}
	return w.row
}

// barChart plots values against categories, both given as column letters,
// over rows [from, to] of the sheet.
func (w *sheetWriter) barChart(anchorRow, from, to int, catCol, valCol, name, title, axis string) {
	if to < from {
		return
	}
	ref := func(col string) string {
		return fmt.Sprintf("'%s'!$%s$%d:$%s$%d", w.sheet, col, from, col, to)
	}
	height := uint(120 + 22*(to-from+1))
	chart := &excelize.Chart{
		Type: excelize.Bar,
		Series: []excelize.ChartSeries{{
			Name:       name,
			Categories: ref(catCol),
			Values:     ref(valCol),
		}},
		Title:     []excelize.RichTextRun{{Text: title}},
		Legend:    excelize.ChartLegend{Position: "none"},
		Dimension: excelize.ChartDimension{Width: 720, Height: min(height, 480)},
		XAxis:     excelize.ChartAxis{ReverseOrder: true},
		YAxis:     excelize.ChartAxis{Title: []excelize.RichTextRun{{Text: axis}}},
		PlotArea:  excelize.ChartPlotArea{ShowVal: true},
	}

	w.do(w.f.AddChart(w.sheet, fmt.Sprintf("%s%d", chartColumn, anchorRow), chart))
}

func (w *sheetWriter) widths(widths ...float64) {
	for i, width := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		w.do(err)
		w.do(w.f.SetColWidth(w.sheet, col, col, width))
	}
}

func (w *sheetWriter) hideGrid() {
	show := false
	w.do(w.f.SetSheetView(w.sheet, 0, &excelize.ViewOptions{ShowGridLines: &show}))
}

// Render lays r out as a workbook. reportDir is used to make log links relative.
func Render(r *Report, reportDir string) (*excelize.File, error) {
	f := excelize.NewFile()
	st, err := newStyles(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		f.Close()
		return nil, err
	}
	for _, sec := range r.Iterations {
		if _, err := f.NewSheet(sec.Sheet); err != nil {
			f.Close()
			return nil, err
		}
	}
	if _, err := f.NewSheet(AppendixSheet); err != nil {
		f.Close()
		return nil, err
	}

	writers := []*sheetWriter{renderSummary(f, st, r)}
	for _, sec := range r.Iterations {
		writers = append(writers, renderIteration(f, st, r, sec, reportDir))
	}
	writers = append(writers, renderAppendix(f, st, r))

	for _, w := range writers {
		if w.err != nil {
			f.Close()
			return nil, fmt.Errorf("render %s: %w", w.sheet, w.err)
		}
	}
	f.SetActiveSheet(0)
	return f, nil
}

func renderSummary(f *excelize.File, st *styles, r *Report) *sheetWriter {
	w := &sheetWriter{f: f, sheet: SummarySheet, styles: st}
	w.hideGrid()

	columns := summaryColumns
	if !r.ValidateOrder {
		columns = columns[:3]
	}
	w.header(fmt.Sprintf("Overall Test Case Status for each Iteration on %s", r.ECU), columns)
	for _, s := range r.Summary {
		var row int
		switch {
		case !s.Captured:
			values := []any{s.Iteration, Placeholder, StatusFail}
			if r.ValidateOrder {
				values = append(values, Placeholder)
			}
			row = w.append(values...)
		case r.ValidateOrder:
			row = w.append(s.Iteration, s.Total, Status(s.Passed), Status(s.OrderPassed))
		default:
			row = w.append(s.Iteration, s.Total, Status(s.Passed))
		}
		w.do(f.SetCellHyperLink(SummarySheet, w.cell(1, row), s.Sheet+"!A1", "Location"))
	}

	start := w.header(fmt.Sprintf("Services/Applications Startup Time from OS Startup on %s (Min, Max, Avg)", r.ECU), statColumns)
	first := w.row + 1
	for _, s := range r.Stats {
		w.append(s.App, s.Min, s.Max, s.Avg, s.AvgFromPowerOn, s.Threshold)
	}
	w.barChart(start, first, w.row, "A", "E", "Average from IG ON",
		fmt.Sprintf("%s Timeline: Services/Applications Startup Time Average from IG ON", r.ECU), "seconds")

	start = w.header(fmt.Sprintf("Services/Applications Individual Startup Times on %s (Min, Max, Avg)", r.ECU), initStatColumns)
	first = w.row + 1
	for _, s := range r.InitStats {
		w.append(s.App, s.Min, s.Max, s.Avg)
	}
	// Charted in milliseconds, the unit of the table.
	w.barChart(start, first, w.row, "A", "D", "Average Init(Up) Time",
		fmt.Sprintf("%s Timeline: Individual Services/Applications Init(Up) Time Average", r.ECU), "milliseconds")

	w.widths(28, 22, 16, 16, 16, 16)
	return w
}

func renderIteration(f *excelize.File, st *styles, r *Report, sec IterationSection, reportDir string) *sheetWriter {
	w := &sheetWriter{f: f, sheet: sec.Sheet, styles: st}
	w.hideGrid()

	columns := detailColumns
	if !r.ValidateOrder {
		columns = columns[:7]
	}
	start := w.header(fmt.Sprintf("Services/Applications Startup Time on %s", r.ECU), columns)
	if !sec.Captured {
		w.row++
		w.do(f.SetCellValue(sec.Sheet, w.cell(1, w.row), "No data: "+sec.Failure))
		w.widths(8, 28)
		return w
	}

	first := w.row + 1
	for _, d := range sec.Rows {
		values := detailValues(d, r.ValidateOrder)
		w.append(values...)
	}
	w.barChart(start, first, w.row, "B", "E", "Total Time from IG ON",
		fmt.Sprintf("%s Timeline: Services/Applications Startup Completion Time", r.ECU), "seconds")

	if r.ValidateOrder {
		w.row++
		for _, c := range []struct {
			outcome core.OrderOutcome
			count   int
		}{
			{core.OrderMismatch, sec.Mismatch},
			{core.ApplicationNotFound, sec.NotFound},
			{core.ApplicationNotConfigured, sec.NotConfigured},
		} {
			w.append(c.outcome.String(), c.count)
		}
	}

	start = w.header(fmt.Sprintf("Services/Applications Init(Up) Time on %s", r.ECU), timingColumns)
	first = w.row + 1
	for _, t := range sec.Timings {
		w.append(t.App, t.Micros, t.Millis)
	}
	w.barChart(start, first, w.row, "A", "C", "Init(Up) Time",
		fmt.Sprintf("%s Timeline: Services/Applications Init(Up) Time", r.ECU), "milliseconds")

	if sec.LogPath != "" {
		w.row += 2
		w.do(f.SetCellValue(sec.Sheet, w.cell(1, w.row), "Log File:"))
		w.row++
		cell := w.cell(1, w.row)
		w.do(f.SetCellFormula(sec.Sheet, cell, logLink(reportDir, sec.LogPath)))
		w.do(f.SetCellStyle(sec.Sheet, cell, cell, st.link))
	}

	w.widths(8, 28, 16, 16, 16, 14, 14, 16, 30)
	return w
}

func detailValues(d DetailRow, validate bool) []any {
	var values []any
	if d.Observed {
		values = []any{d.No, d.App, d.StartupSeconds, d.Offset, d.Total, Status(d.Passed), d.Expected}
	} else {
		values = []any{Placeholder, d.App, Placeholder, Placeholder, Placeholder, Placeholder, d.Expected}
	}
	if validate {
		values = append(values, Status(d.OrderPassed), d.Reason)
	}
	return values
}

// logLink builds a HYPERLINK formula pointing at the log, relative to the report.
func logLink(reportDir, logPath string) string {
	target := logPath
	if rel, err := filepath.Rel(reportDir, logPath); err == nil {
		target = rel
	}
	target = strings.ReplaceAll(target, `"`, `""`)
	return fmt.Sprintf(`HYPERLINK("%s","%s")`, target, strings.ReplaceAll(filepath.Base(logPath), `"`, `""`))
}

func renderAppendix(f *excelize.File, st *styles, r *Report) *sheetWriter {
	w := &sheetWriter{f: f, sheet: AppendixSheet, styles: st}
	w.hideGrid()
	w.header(fmt.Sprintf("Field Description for\nServices/Applications Startup Completion Time on %s", r.ECU), appendixColumns)
	for _, fd := range r.Appendix {
		w.append(fd.Name, fd.Description)
	}
	w.widths(30, 100)
	return w
}

// Save renders r and writes it to path.
func Save(r *Report, reportDir, path string) error {
	f, err := Render(r, reportDir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSave, err)
	}
	defer f.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrSave, err)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSave, path, err)
	}
	return nil
}
