package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"payinsights/internal/dataset"
	ports "payinsights/internal/sheets"
)

var _ ports.Source = (*Store)(nil)

// Store is the file-backed source: a delimited transaction extract plus an
// optional directory of side tables. It keeps the last loaded dataset.
type Store struct {
	path      string
	tablesDir string
	opts      dataset.Options

	mu     sync.Mutex
	last   *dataset.Dataset
	tables map[string]dataset.Table
}

// NewFromFiles creates a store that reads path (and tablesDir, if set) on
// every load.
func NewFromFiles(path, tablesDir string, comma rune) *Store {
	return &Store{path: path, tablesDir: tablesDir, opts: dataset.Options{Comma: comma}}
}

// New creates a fixed in-memory store, mostly useful in tests and for
// already-parsed data.
func New(ds *dataset.Dataset, tables map[string]dataset.Table) *Store {
	if tables == nil {
		tables = map[string]dataset.Table{}
	}
	return &Store{last: ds, tables: tables}
}

// LoadDataset parses the configured file; a fixed store returns its dataset.
func (s *Store) LoadDataset(_ context.Context) (*dataset.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		if s.last == nil {
			return nil, errors.New("memory store has no dataset")
		}
		return s.last, nil
	}
	ds, err := dataset.LoadFile(s.path, s.opts)
	if err != nil {
		return nil, err
	}
	s.last = ds
	return ds, nil
}

// Tables reads the side-table directory; a fixed store returns a copy of
// its tables.
func (s *Store) Tables(_ context.Context) (map[string]dataset.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" && s.tablesDir == "" {
		out := make(map[string]dataset.Table, len(s.tables))
		for k, v := range s.tables {
			out[k] = v
		}
		return out, nil
	}
	tables, err := dataset.LoadTables(s.tablesDir)
	if err != nil {
		return nil, fmt.Errorf("load tables from %s: %w", s.tablesDir, err)
	}
	s.tables = tables
	return tables, nil
}

// Last returns the most recently loaded dataset, or nil.
func (s *Store) Last() *dataset.Dataset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// TableDir serves side tables from a directory for sources that only
// provide transactions.
type TableDir string

var _ ports.TableSource = TableDir("")

func (d TableDir) Tables(_ context.Context) (map[string]dataset.Table, error) {
	return dataset.LoadTables(string(d))
}
