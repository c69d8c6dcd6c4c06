package core

// CrossTab is a dense two-dimensional count table. Cells[i][j] is the count
// for (Rows[i], Columns[j]); missing combinations hold 0.
type CrossTab struct {
	RowDim  string   `json:"row_dimension"`
	ColDim  string   `json:"column_dimension"`
	Rows    []string `json:"rows"`
	Columns []string `json:"columns"`
	Cells   [][]int  `json:"cells"`
}

// Total sums every cell.
func (c CrossTab) Total() int {
	n := 0
	for _, row := range c.Cells {
		for _, v := range row {
			n += v
		}
	}
	return n
}

// Cell returns the count at (row, col), 0 when either key is absent.
func (c CrossTab) Cell(row, col string) int {
	ri, ci := indexOf(c.Rows, row), indexOf(c.Columns, col)
	if ri < 0 || ci < 0 {
		return 0
	}
	return c.Cells[ri][ci]
}

// Restrict returns a copy holding only the given rows, in the given order.
// Rows absent from the table come back zero-filled.
func (c CrossTab) Restrict(rows []string) CrossTab {
	out := CrossTab{
		RowDim:  c.RowDim,
		ColDim:  c.ColDim,
		Rows:    make([]string, 0, len(rows)),
		Columns: append([]string(nil), c.Columns...),
		Cells:   make([][]int, 0, len(rows)),
	}
	for _, r := range rows {
		cells := make([]int, len(c.Columns))
		if i := indexOf(c.Rows, r); i >= 0 {
			copy(cells, c.Cells[i])
		}
		out.Rows = append(out.Rows, r)
		out.Cells = append(out.Cells, cells)
	}
	return out
}

// CrossRates is a dense two-dimensional rate table. Cells without any
// observation hold a zero Rate.
type CrossRates struct {
	RowDim  string   `json:"row_dimension"`
	ColDim  string   `json:"column_dimension"`
	Rows    []string `json:"rows"`
	Columns []string `json:"columns"`
	Cells   [][]Rate `json:"cells"`
}

// Value returns the rate at (row, col), 0 when absent.
func (c CrossRates) Value(row, col string) float64 {
	ri, ci := indexOf(c.Rows, row), indexOf(c.Columns, col)
	if ri < 0 || ci < 0 {
		return 0
	}
	return c.Cells[ri][ci].Value()
}

func indexOf(xs []string, x string) int {
	for i, v := range xs {
		if v == x {
			return i
		}
	}
	return -1
}
