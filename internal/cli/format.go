package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"payinsights/internal/core"
	"payinsights/internal/dataset"
	"payinsights/internal/manifest"
)

func printReport(w io.Writer, r manifest.Report) error {
	fmt.Fprintf(w, "%s (%d records)\n", r.Title, r.Records)
	for _, s := range r.Sections {
		fmt.Fprintf(w, "\n== %s ==\n", s.Title)
		if s.Error != "" {
			fmt.Fprintf(w, "error: %s\n", s.Error)
			continue
		}
		if err := printData(w, s.Data); err != nil {
			return err
		}
	}
	return nil
}

func percent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

func counts(r core.Rate) string {
	return fmt.Sprintf("%d/%d", r.Successes, r.Total)
}

// printData renders a query result as an aligned text table. Types without
// a text layout fall back to JSON.
func printData(w io.Writer, data any) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	switch d := data.(type) {
	case core.KPIs:
		fmt.Fprintln(tw, "LEVEL\tRATE\tAUTHORIZED")
		fmt.Fprintf(tw, "transaction\t%s\t%s\n", percent(d.Transaction.Value()), counts(d.Transaction))
		fmt.Fprintf(tw, "invoice\t%s\t%s\n", percent(d.Invoice.Value()), counts(d.Invoice))
		fmt.Fprintf(tw, "user\t%s\t%s\n", percent(d.User.Value()), counts(d.User))
	case manifest.RateValue:
		fmt.Fprintf(tw, "%s\t%s\n", percent(d.Rate), counts(d.Counts))
	case []core.KeyRate:
		fmt.Fprintln(tw, "KEY\tRATE\tAUTHORIZED")
		for _, kr := range d {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", kr.Key, percent(kr.Rate), counts(kr.Counts))
		}
	case []core.AttemptRate:
		fmt.Fprintln(tw, "ATTEMPT\tRATE\tAUTHORIZED")
		for _, ar := range d {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", ar.Attempt, percent(ar.Rate), counts(ar.Counts))
		}
	case []core.KeyCount:
		fmt.Fprintln(tw, "REASON\tCOUNT")
		for _, kc := range d {
			fmt.Fprintf(tw, "%s\t%d\n", kc.Key, kc.Count)
		}
	case []core.LevelRates:
		fmt.Fprintln(tw, "KEY\tTRANSACTION\tINVOICE\tUSER")
		for _, lr := range d {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", lr.Key, percent(lr.Transaction), percent(lr.Invoice), percent(lr.User))
		}
	case core.CrossTab:
		fmt.Fprintf(tw, "%s \\ %s\t%s\n", d.RowDim, d.ColDim, strings.Join(d.Columns, "\t"))
		for i, row := range d.Rows {
			cells := make([]string, len(d.Cells[i]))
			for j, n := range d.Cells[i] {
				cells[j] = fmt.Sprint(n)
			}
			fmt.Fprintf(tw, "%s\t%s\n", row, strings.Join(cells, "\t"))
		}
	case core.CrossRates:
		fmt.Fprintf(tw, "%s \\ %s\t%s\n", d.RowDim, d.ColDim, strings.Join(d.Columns, "\t"))
		for i, row := range d.Rows {
			cells := make([]string, len(d.Cells[i]))
			for j, r := range d.Cells[i] {
				if r.Total == 0 {
					cells[j] = "-"
					continue
				}
				cells[j] = percent(r.Value())
			}
			fmt.Fprintf(tw, "%s\t%s\n", row, strings.Join(cells, "\t"))
		}
	case dataset.Table:
		fmt.Fprintln(tw, strings.Join(d.Columns, "\t"))
		for _, row := range d.Rows {
			fmt.Fprintln(tw, strings.Join(row, "\t"))
		}
	default:
		return writeJSON(w, data)
	}
	return tw.Flush()
}
