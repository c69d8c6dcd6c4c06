package dataset

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Table is an opaque, pre-aggregated side table passed through to the
// presentation layer unchanged.
type Table struct {
	Name    string     `json:"name"`
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// LoadTables reads every *.csv file in dir into a table named after the
// file stem. A missing directory yields no tables.
func LoadTables(dir string) (map[string]Table, error) {
	tables := make(map[string]Table)
	if dir == "" {
		return tables, nil
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("glob tables: %w", err)
	}
	sort.Strings(paths)
	for _, p := range paths {
		t, err := LoadTable(p)
		if err != nil {
			return nil, err
		}
		tables[t.Name] = t
	}
	return tables, nil
}

// LoadTable reads one delimited file as an opaque table.
func LoadTable(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return Table{}, fmt.Errorf("open table: %w", err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	all, err := cr.ReadAll()
	if err != nil {
		return Table{}, fmt.Errorf("read table %s: %w", path, err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	t := Table{Name: name}
	if len(all) > 0 {
		t.Columns = all[0]
		t.Rows = all[1:]
	}
	return t, nil
}
