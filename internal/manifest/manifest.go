package manifest

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"payinsights/internal/core"
	"payinsights/internal/metrics"
)

//go:embed default.yaml
var defaultManifest []byte

// ErrInvalidSection reports a section whose kind or parameters are unusable.
var ErrInvalidSection = errors.New("invalid section")

// Kind selects the query a section runs.
type Kind string

const (
	KindKPIs                   Kind = "kpis"
	KindOverallRate            Kind = "overall_rate"
	KindRateBy                 Kind = "rate_by"
	KindEntityRate             Kind = "entity_rate"
	KindRateByAttempt          Kind = "rate_by_attempt"
	KindRetryRateByProcessor   Kind = "retry_rate_by_processor"
	KindDeclinesBy             Kind = "declines_by"
	KindTopDeclines            Kind = "top_declines"
	KindDailyTrend             Kind = "daily_trend"
	KindMethodByBrand          Kind = "method_by_brand"
	KindMethodByBrandProcessor Kind = "method_by_brand_processor"
	KindRecurringDeclines      Kind = "recurring_declines"
	KindLevelRatesBy           Kind = "level_rates_by"
	KindTable                  Kind = "table"
)

type params struct {
	dim   bool // requires a dimension
	top   bool // requires top > 0
	table bool // requires a table name
}

var kinds = map[Kind]params{
	KindKPIs:                   {},
	KindOverallRate:            {},
	KindRateBy:                 {dim: true},
	KindEntityRate:             {dim: true},
	KindRateByAttempt:          {},
	KindRetryRateByProcessor:   {},
	KindDeclinesBy:             {dim: true},
	KindTopDeclines:            {top: true},
	KindDailyTrend:             {},
	KindMethodByBrand:          {},
	KindMethodByBrandProcessor: {},
	KindRecurringDeclines:      {top: true},
	KindLevelRatesBy:           {dim: true},
	KindTable:                  {table: true},
}

// Kinds lists every section kind, for help output.
func Kinds() []string {
	out := make([]string, 0, len(kinds))
	for k := range kinds {
		out = append(out, string(k))
	}
	sort.Strings(out)
	return out
}

// Section is one query of a view.
type Section struct {
	ID     string `yaml:"id" json:"id"`
	Title  string `yaml:"title" json:"title"`
	Kind   Kind   `yaml:"kind" json:"kind"`
	Dim    string `yaml:"dim,omitempty" json:"dim,omitempty"`
	Top    int    `yaml:"top,omitempty" json:"top,omitempty"`
	Filter string `yaml:"filter,omitempty" json:"filter,omitempty"`
	Table  string `yaml:"table,omitempty" json:"table,omitempty"`
}

// View is a named, ordered list of sections.
type View struct {
	Name        string    `yaml:"name" json:"name"`
	Title       string    `yaml:"title" json:"title"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	Sections    []Section `yaml:"sections" json:"sections"`
}

type Manifest struct {
	Views []View `yaml:"views"`
	index map[string]int
}

// Default returns the built-in manifest.
func Default() (*Manifest, error) {
	return Parse(defaultManifest)
}

// Load reads a manifest file, or the built-in one when path is empty.
func Load(path string) (*Manifest, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

// Parse decodes and validates a YAML manifest.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	m.index = make(map[string]int, len(m.Views))
	for i, v := range m.Views {
		m.index[v.Name] = i
	}
	return &m, nil
}

// Validate checks everything that does not depend on the dataset schema.
func (m *Manifest) Validate() error {
	if len(m.Views) == 0 {
		return errors.New("manifest defines no views")
	}
	var problems []string
	names := make(map[string]bool, len(m.Views))
	for i, v := range m.Views {
		if v.Name == "" {
			problems = append(problems, fmt.Sprintf("view %d has no name", i+1))
			continue
		}
		if names[v.Name] {
			problems = append(problems, fmt.Sprintf("duplicate view %q", v.Name))
		}
		names[v.Name] = true
		if len(v.Sections) == 0 {
			problems = append(problems, fmt.Sprintf("view %q has no sections", v.Name))
		}
		ids := make(map[string]bool, len(v.Sections))
		for _, s := range v.Sections {
			if s.ID == "" {
				problems = append(problems, fmt.Sprintf("view %q: section without id", v.Name))
				continue
			}
			if ids[s.ID] {
				problems = append(problems, fmt.Sprintf("view %q: duplicate section %q", v.Name, s.ID))
			}
			ids[s.ID] = true
			if err := s.Validate(); err != nil {
				problems = append(problems, fmt.Sprintf("view %q: section %q: %v", v.Name, s.ID, err))
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid manifest:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}

// Validate checks the kind and its required parameters.
func (s Section) Validate() error {
	p, ok := kinds[s.Kind]
	if !ok {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSection, s.Kind)
	}
	if p.dim {
		if s.Dim == "" {
			return fmt.Errorf("%w: kind %s requires dim", ErrInvalidSection, s.Kind)
		}
		if _, err := core.ParseDimension(s.Dim); err != nil {
			return err
		}
	}
	if p.top && s.Top <= 0 {
		return fmt.Errorf("%w: kind %s requires top > 0", ErrInvalidSection, s.Kind)
	}
	if s.Top < 0 {
		return fmt.Errorf("%w: top must not be negative", ErrInvalidSection)
	}
	if p.table && s.Table == "" {
		return fmt.Errorf("%w: kind %s requires table", ErrInvalidSection, s.Kind)
	}
	if _, err := metrics.ParseFilter(s.Filter); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSection, err)
	}
	return nil
}

// View returns the named view or core.ErrUnknownView.
func (m *Manifest) View(name string) (View, error) {
	i, ok := m.index[name]
	if !ok {
		return View{}, fmt.Errorf("%w: %q", core.ErrUnknownView, name)
	}
	return m.Views[i], nil
}

// Names lists view names in manifest order.
func (m *Manifest) Names() []string {
	out := make([]string, len(m.Views))
	for i, v := range m.Views {
		out[i] = v.Name
	}
	return out
}
