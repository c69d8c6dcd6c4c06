package manifest

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"payinsights/internal/core"
	"payinsights/internal/dataset"
	"payinsights/internal/metrics"
)

// DefaultTop applies to derived recurring declines when a table section
// sets no top.
const DefaultTop = 10

// Where a section's data came from.
const (
	SourceQuery   = "query"
	SourceTable   = "table"
	SourceDerived = "derived"
)

// RateValue is a single rate with its counts.
type RateValue struct {
	Rate   float64   `json:"rate"`
	Counts core.Rate `json:"counts"`
}

// SectionResult is one rendered section. Exactly one of Data and Error is set.
type SectionResult struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Kind   Kind   `json:"kind"`
	Source string `json:"source,omitempty"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Report is a rendered view.
type Report struct {
	RequestID   string          `json:"request_id,omitempty"`
	View        string          `json:"view"`
	Title       string          `json:"title"`
	GeneratedAt time.Time       `json:"generated_at"`
	Records     int             `json:"records"`
	Sections    []SectionResult `json:"sections"`
}

// Failed counts sections that rendered an error.
func (r Report) Failed() int {
	n := 0
	for _, s := range r.Sections {
		if s.Error != "" {
			n++
		}
	}
	return n
}

// Renderer evaluates the sections of a view concurrently.
type Renderer struct {
	limit int
	now   func() time.Time
}

// NewRenderer bounds section fan-out to limit goroutines.
func NewRenderer(limit int) *Renderer {
	if limit < 1 {
		limit = 1
	}
	return &Renderer{limit: limit, now: time.Now}
}

// Render evaluates every section of v. A failing section records its error
// and does not abort the others; only context cancellation fails the whole
// report.
func (r *Renderer) Render(ctx context.Context, agg *metrics.Aggregator, tables map[string]dataset.Table, v View) (Report, error) {
	results := make([]SectionResult, len(v.Sections))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.limit)
	for i, s := range v.Sections {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := SectionResult{ID: s.ID, Title: s.Title, Kind: s.Kind}
			data, source, err := Evaluate(agg, tables, s)
			if err != nil {
				res.Error = err.Error()
			} else {
				res.Data, res.Source = data, source
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, fmt.Errorf("render view %s: %w", v.Name, err)
	}

	return Report{
		View:        v.Name,
		Title:       v.Title,
		GeneratedAt: r.now().UTC(),
		Records:     agg.Dataset().Len(),
		Sections:    results,
	}, nil
}

// Evaluate runs a single section against the aggregator. It is also the
// entry point for ad-hoc queries.
func Evaluate(agg *metrics.Aggregator, tables map[string]dataset.Table, s Section) (any, string, error) {
	if err := s.Validate(); err != nil {
		return nil, "", err
	}
	filter, _ := metrics.ParseFilter(s.Filter)

	var (
		data any
		dim  core.Dimension
		err  error
	)
	if s.Dim != "" {
		if dim, err = core.ParseDimension(s.Dim); err != nil {
			return nil, "", err
		}
	}
	switch s.Kind {
	case KindKPIs:
		data = agg.KPIs()
	case KindOverallRate:
		r := agg.OverallAuthorizationRate()
		data = RateValue{Rate: r.Value(), Counts: r}
	case KindRateBy:
		data, err = agg.GroupedAuthorizationRate(dim)
	case KindEntityRate:
		var r core.Rate
		r, err = agg.EntityAuthorizationRate(dim)
		data = RateValue{Rate: r.Value(), Counts: r}
	case KindRateByAttempt:
		data = agg.AuthorizationRateByAttempt()
	case KindRetryRateByProcessor:
		data = agg.RetrySuccessRateByProcessor()
	case KindDeclinesBy:
		if s.Top > 0 {
			data, err = agg.TopDeclinesBy(dim, s.Top, filter)
		} else {
			data, err = agg.DeclineReasonsBy(dim)
		}
	case KindTopDeclines:
		data = agg.TopDeclineReasons(s.Top, filter)
	case KindDailyTrend:
		data, err = agg.DailyTrend()
	case KindMethodByBrand:
		data, err = agg.MethodComparisonByBrand()
	case KindMethodByBrandProcessor:
		data, err = agg.MethodComparisonByBrandProcessor()
	case KindRecurringDeclines:
		data = agg.RecurringTopDeclines(s.Top)
	case KindLevelRatesBy:
		data, err = agg.LevelRatesBy(dim)
	case KindTable:
		return table(agg, tables, s)
	}
	if err != nil {
		return nil, "", err
	}
	return data, SourceQuery, nil
}

// table passes a supplied side table through unchanged, or derives the
// well-known ones from the dataset when the table was not supplied.
func table(agg *metrics.Aggregator, tables map[string]dataset.Table, s Section) (any, string, error) {
	if t, ok := tables[s.Table]; ok {
		return t, SourceTable, nil
	}

	var (
		data any
		err  error
	)
	switch s.Table {
	case "daily_trend":
		data, err = agg.DailyTrend()
	case "brand_comparison":
		data, err = agg.MethodComparisonByBrand()
	case "brand_processor_comparison":
		data, err = agg.MethodComparisonByBrandProcessor()
	case "recurring_declines":
		top := s.Top
		if top <= 0 {
			top = DefaultTop
		}
		data = agg.RecurringTopDeclines(top)
	default:
		return nil, "", fmt.Errorf("%w: %q", core.ErrUnknownTable, s.Table)
	}
	if err != nil {
		return nil, "", err
	}
	return data, SourceDerived, nil
}
