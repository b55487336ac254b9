package startuptime

import (
	"fmt"
	"io"

	"github.com/gosuri/uitable"

	"github.com/autopeer-io/ecukpi/internal/startuptime/report"
)

// WriteSummary prints one line per iteration of every ECU and where its
// workbook went.
func WriteSummary(w io.Writer, outcomes []Outcome) {
	table := uitable.New()
	table.MaxColWidth = 80
	table.Wrap = true
	table.AddRow("ECU", "ITERATION", "FROM IG ON (s)", "RESULT", "ORDER")

	for _, o := range outcomes {
		if o.Report == nil {
			continue
		}
		for _, row := range o.Report.Summary {
			if !row.Captured {
				table.AddRow(o.ECU, row.Iteration, report.Placeholder, report.StatusFail, report.Placeholder)
				continue
			}
			orderCol := report.Placeholder
			if o.Report.ValidateOrder {
				orderCol = report.Status(row.OrderPassed)
			}
			table.AddRow(o.ECU, row.Iteration, fmt.Sprintf("%.3f", row.Total), report.Status(row.Passed), orderCol)
		}
	}
	fmt.Fprintln(w, table)

	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			fmt.Fprintf(w, "%s: %v\n", o.ECU, o.Err)
		case o.ReportPath != "":
			fmt.Fprintf(w, "%s: report saved to %s\n", o.ECU, o.ReportPath)
		}
	}
}
