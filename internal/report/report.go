// Package report prints solutions and sweep tables as terminal tables.
package report

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"github.com/kartoza/solver-theatre/internal/matrix"
	"github.com/kartoza/solver-theatre/internal/results"
)

// Table is a header plus string rows.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Draw writes table to w.
func Draw(w io.Writer, table Table) {
	output := tablewriter.NewWriter(w)
	output.SetHeader(table.Headers)
	output.SetAutoFormatHeaders(false)
	for _, row := range table.Rows {
		output.Append(row)
	}
	output.Render()
}

// Grid builds a table of one slot with the set's row and column labels.
func Grid(snap matrix.Snapshot, slot matrix.Slot) Table {
	headers := append([]string{""}, snap.ColumnLabels...)
	rows := make([][]string, 0, snap.Rows)
	for i, values := range snap.Grid(slot) {
		row := make([]string, 0, len(values)+1)
		row = append(row, snap.RowLabels[i])
		for _, v := range values {
			row = append(row, Number(v, 2))
		}
		rows = append(rows, row)
	}
	return Table{Headers: headers, Rows: rows}
}

// Sweep builds a table of a sweep result with one column per swept parameter.
func Sweep(rows []results.SweepRow, paramNames []string) Table {
	headers := append([]string(nil), paramNames...)
	headers = append(headers,
		"Prob value", "Prob time (s)",
		"Ant value", "Ant time (s)",
		"Relative diff (%)",
	)

	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		row := make([]string, 0, len(headers))
		for k := range paramNames {
			if k < len(r.Params) {
				row = append(row, Number(r.Params[k], 2))
			} else {
				row = append(row, "")
			}
		}
		row = append(row,
			Number(r.AvgValueProbabilistic, 2),
			Number(r.AvgTimeProbabilistic, 4),
			Number(r.AvgValueAntColony, 2),
			Number(r.AvgTimeAntColony, 4),
			Number(r.RelativeDifference*100, 2),
		)
		out = append(out, row)
	}
	return Table{Headers: headers, Rows: out}
}

// Summary builds the two-row table of solution values.
func Summary(snap matrix.Snapshot) Table {
	return Table{
		Headers: []string{"Algorithm", "Value"},
		Rows: [][]string{
			{"Probabilistic", Number(snap.Values[matrix.SlotProbabilisticSolution], 2)},
			{"Ant colony", Number(snap.Values[matrix.SlotAntColonySolution], 2)},
		},
	}
}

// Number formats v with at most places decimals and no trailing zeros.
func Number(v float64, places int32) string {
	return decimal.NewFromFloat(v).Round(places).String()
}

// Title writes a section heading.
func Title(w io.Writer, title string) {
	fmt.Fprintf(w, "\n%s\n", title)
}
