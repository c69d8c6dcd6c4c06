package google

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// splitValues converts a values matrix (as returned by the Sheets API) into
// a header and rows of strings. Trailing empty rows are dropped and short
// rows are padded to the header width, since the API trims empty cells.
func splitValues(values [][]interface{}) ([]string, [][]string, error) {
	if len(values) == 0 {
		return nil, nil, errors.New("sheet range is empty")
	}
	header := toStrings(values[0])
	rows := make([][]string, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		row := toStrings(values[i])
		if isBlank(row) {
			continue
		}
		for len(row) < len(header) {
			row = append(row, "")
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}

func toStrings(in []interface{}) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = cellString(v)
	}
	return out
}

// cellString renders numbers without a trailing ".0" so attempt numbers
// read back as integers.
func cellString(v interface{}) string {
	switch n := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case string:
		return strings.TrimSpace(n)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func isBlank(row []string) bool {
	for _, v := range row {
		if v != "" {
			return false
		}
	}
	return true
}
