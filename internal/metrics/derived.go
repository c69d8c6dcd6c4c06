package metrics

import (
	"sort"
	"time"

	"payinsights/internal/core"
	"payinsights/internal/dataset"
)

// DailyTrend returns the authorization rate per calendar day, ascending.
// Records without a date are skipped.
func (a *Aggregator) DailyTrend() ([]core.KeyRate, error) {
	if err := a.ds.CheckDimension(core.DimTransactionDate); err != nil {
		return nil, err
	}
	byDay := make(map[string]core.Rate)
	a.ds.Each(func(t core.Transaction) {
		if t.Date.IsZero() {
			return
		}
		addTo(byDay, t.Date.Format(time.DateOnly), t.Status.IsSuccess())
	})

	days := sortedKeys(byDay)
	out := make([]core.KeyRate, 0, len(days))
	for _, d := range days {
		r := byDay[d]
		out = append(out, core.KeyRate{Key: d, Rate: r.Value(), Counts: r})
	}
	return out, nil
}

// MethodComparisonByBrand compares authorization rates across payment
// methods (columns) for each card brand (rows).
func (a *Aggregator) MethodComparisonByBrand() (core.CrossRates, error) {
	return a.methodComparison("card_brand", func(t core.Transaction) string {
		return blankAsUnknown(t.CardBrand)
	})
}

// MethodComparisonByBrandProcessor is MethodComparisonByBrand with rows keyed
// by "brand / processor".
func (a *Aggregator) MethodComparisonByBrandProcessor() (core.CrossRates, error) {
	return a.methodComparison("card_brand/processor", func(t core.Transaction) string {
		return blankAsUnknown(t.CardBrand) + " / " + blankAsUnknown(t.Processor)
	})
}

func (a *Aggregator) methodComparison(rowDim string, rowKey func(core.Transaction) string) (core.CrossRates, error) {
	if !a.ds.Has(dataset.ColPaymentMethod) {
		return core.CrossRates{}, core.InvalidDimension(string(core.DimPaymentMethod))
	}

	cells := make(map[string]map[string]core.Rate)
	colSet := make(map[string]struct{})
	a.ds.Each(func(t core.Transaction) {
		row := rowKey(t)
		col := blankAsUnknown(t.PaymentMethod)
		m, ok := cells[row]
		if !ok {
			m = make(map[string]core.Rate)
			cells[row] = m
		}
		addTo(m, col, t.Status.IsSuccess())
		colSet[col] = struct{}{}
	})

	rows := sortedKeys(cells)
	cols := sortedKeys(colSet)
	out := core.CrossRates{
		RowDim:  rowDim,
		ColDim:  string(core.DimPaymentMethod),
		Rows:    rows,
		Columns: cols,
		Cells:   make([][]core.Rate, len(rows)),
	}
	for i, r := range rows {
		out.Cells[i] = make([]core.Rate, len(cols))
		for j, c := range cols {
			out.Cells[i][j] = cells[r][c]
		}
	}
	return out, nil
}

// sortedKeys returns the map keys in ascending order.
func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
