package metrics

import (
	"fmt"
	"strings"

	"payinsights/internal/core"
)

// Filter selects the records a query considers. A nil Filter keeps all.
type Filter func(core.Transaction) bool

// Named filters usable from manifests and query strings.
var (
	FirstAttempt Filter = func(t core.Transaction) bool { return t.AttemptNumber == 1 }
	Retry        Filter = func(t core.Transaction) bool { return t.IsRetry() }
	Recurring    Filter = func(t core.Transaction) bool {
		return t.SubscriptionInterval != "" || strings.EqualFold(t.ChargeCategory, "recurring")
	}
)

// ParseFilter resolves a filter name. "" and "all" mean no filter.
func ParseFilter(name string) (Filter, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "all":
		return nil, nil
	case "first_attempt":
		return FirstAttempt, nil
	case "retry":
		return Retry, nil
	case "recurring":
		return Recurring, nil
	}
	return nil, fmt.Errorf("unknown filter %q", name)
}

// DeclineReasonsBy cross-tabulates refused records by error message (rows)
// and dim (columns). Combinations never observed hold 0. Rows are ordered by
// total count descending, then reason; columns ascending.
func (a *Aggregator) DeclineReasonsBy(dim core.Dimension) (core.CrossTab, error) {
	if err := a.check(dim, crossTabDims); err != nil {
		return core.CrossTab{}, err
	}

	counts := make(map[string]map[string]int)
	rowTotals := make(map[string]int)
	colSet := make(map[string]struct{})
	a.ds.Each(func(t core.Transaction) {
		if !t.Status.IsRefused() {
			return
		}
		reason := blankAsUnknown(t.ErrorMessage)
		col := keyOf(dim, t)
		row, ok := counts[reason]
		if !ok {
			row = make(map[string]int)
			counts[reason] = row
		}
		row[col]++
		rowTotals[reason]++
		colSet[col] = struct{}{}
	})

	ranked := make([]core.KeyCount, 0, len(rowTotals))
	for reason, n := range rowTotals {
		ranked = append(ranked, core.KeyCount{Key: reason, Count: n})
	}
	core.SortKeyCounts(ranked)

	cols := make([]string, 0, len(colSet))
	for c := range colSet {
		cols = append(cols, c)
	}
	sortColumns(dim, cols)

	ct := core.CrossTab{
		RowDim:  "error_message",
		ColDim:  string(dim),
		Rows:    make([]string, 0, len(ranked)),
		Columns: cols,
		Cells:   make([][]int, 0, len(ranked)),
	}
	for _, r := range ranked {
		cells := make([]int, len(cols))
		for j, c := range cols {
			cells[j] = counts[r.Key][c]
		}
		ct.Rows = append(ct.Rows, r.Key)
		ct.Cells = append(ct.Cells, cells)
	}
	return ct, nil
}

// TopDeclineReasons returns the n most frequent decline reasons among refused
// records that pass keep. n <= 0 yields an empty result.
func (a *Aggregator) TopDeclineReasons(n int, keep Filter) []core.KeyCount {
	if n <= 0 {
		return []core.KeyCount{}
	}
	totals := make(map[string]int)
	a.ds.Each(func(t core.Transaction) {
		if !t.Status.IsRefused() || (keep != nil && !keep(t)) {
			return
		}
		totals[blankAsUnknown(t.ErrorMessage)]++
	})

	out := make([]core.KeyCount, 0, len(totals))
	for reason, c := range totals {
		out = append(out, core.KeyCount{Key: reason, Count: c})
	}
	core.SortKeyCounts(out)
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// TopDeclinesBy is DeclineReasonsBy restricted to the top n reasons under
// keep, in rank order.
func (a *Aggregator) TopDeclinesBy(dim core.Dimension, n int, keep Filter) (core.CrossTab, error) {
	ct, err := a.DeclineReasonsBy(dim)
	if err != nil {
		return core.CrossTab{}, err
	}
	return ct.Restrict(Keys(a.TopDeclineReasons(n, keep))), nil
}

// RecurringTopDeclines is the top n reasons among recurring-payment declines.
func (a *Aggregator) RecurringTopDeclines(n int) []core.KeyCount {
	return a.TopDeclineReasons(n, Recurring)
}

// Keys extracts the keys of a ranked series.
func Keys(cs []core.KeyCount) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Key
	}
	return out
}
