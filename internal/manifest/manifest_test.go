package manifest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"payinsights/internal/core"
	"payinsights/internal/dataset"
	"payinsights/internal/metrics"
)

func fixture() *metrics.Aggregator {
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	return metrics.New(dataset.New([]core.Transaction{
		{Status: core.StatusRefused, InvoiceID: "I1", UserID: "U1", Processor: "A", CardBrand: "visa", ChargeCategory: "recurring", SubscriptionInterval: "month", AttemptNumber: 1, ErrorMessage: "Insufficient funds", PaymentMethod: "apple_pay", Date: day},
		{Status: core.StatusSuccess, InvoiceID: "I1", UserID: "U1", Processor: "A", CardBrand: "visa", ChargeCategory: "recurring", SubscriptionInterval: "month", AttemptNumber: 2, PaymentMethod: "apple_pay", Date: day},
		{Status: core.StatusSuccess, InvoiceID: "I2", UserID: "U2", Processor: "B", CardBrand: "amex", ChargeCategory: "one_off", AttemptNumber: 1, PaymentMethod: "card_on_file", Date: day.AddDate(0, 0, 1)},
		{Status: core.StatusRefused, InvoiceID: "I3", UserID: "U2", Processor: "B", CardBrand: "amex", ChargeCategory: "one_off", AttemptNumber: 1, ErrorMessage: "Do not honor", PaymentMethod: "card_on_file", Date: day.AddDate(0, 0, 1)},
	}))
}

func TestDefault_LoadsBuiltInViews(t *testing.T) {
	m, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	want := []string{"overview", "processors", "retries", "declines", "comparison"}
	if got := m.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Names = %v, want %v", got, want)
	}
	v, err := m.View("overview")
	if err != nil {
		t.Fatal(err)
	}
	if v.Sections[0].Kind != KindKPIs {
		t.Fatalf("first overview section = %s", v.Sections[0].Kind)
	}
	if _, err := m.View("nope"); !errors.Is(err, core.ErrUnknownView) {
		t.Fatalf("View(nope) error = %v", err)
	}
}

func TestLoad(t *testing.T) {
	m, err := Load("")
	if err != nil || len(m.Views) != 5 {
		t.Fatalf("Load(\"\") = %v, %v", m, err)
	}

	path := filepath.Join(t.TempDir(), "views.yaml")
	content := "views:\n  - name: custom\n    title: Custom\n    sections:\n      - id: overall\n        kind: overall_rate\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err = Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := m.Names(); len(got) != 1 || got[0] != "custom" {
		t.Fatalf("Names = %v", got)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no views", "views: []\n", "no views"},
		{"bad yaml", "views: [", "invalid manifest"},
		{"duplicate view", "views:\n  - name: a\n    sections: [{id: s, kind: kpis}]\n  - name: a\n    sections: [{id: s, kind: kpis}]\n", `duplicate view "a"`},
		{"duplicate section", "views:\n  - name: a\n    sections: [{id: s, kind: kpis}, {id: s, kind: kpis}]\n", `duplicate section "s"`},
		{"unknown kind", "views:\n  - name: a\n    sections: [{id: s, kind: pie_chart}]\n", "unknown kind"},
		{"missing dim", "views:\n  - name: a\n    sections: [{id: s, kind: rate_by}]\n", "requires dim"},
		{"bad dim", "views:\n  - name: a\n    sections: [{id: s, kind: rate_by, dim: color}]\n", "invalid dimension"},
		{"missing top", "views:\n  - name: a\n    sections: [{id: s, kind: top_declines}]\n", "requires top"},
		{"bad filter", "views:\n  - name: a\n    sections: [{id: s, kind: top_declines, top: 3, filter: weekends}]\n", "unknown filter"},
		{"missing table", "views:\n  - name: a\n    sections: [{id: s, kind: table}]\n", "requires table"},
		{"empty view", "views:\n  - name: a\n", "has no sections"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not contain %q", err.Error(), tt.want)
			}
		})
	}
}

func TestRender_EveryBuiltInView(t *testing.T) {
	m, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	agg := fixture()
	r := NewRenderer(2)
	for _, v := range m.Views {
		t.Run(v.Name, func(t *testing.T) {
			rep, err := r.Render(context.Background(), agg, nil, v)
			if err != nil {
				t.Fatalf("Render: %v", err)
			}
			if rep.Failed() != 0 {
				t.Fatalf("unexpected failed sections: %+v", rep.Sections)
			}
			if len(rep.Sections) != len(v.Sections) {
				t.Fatalf("sections = %d, want %d", len(rep.Sections), len(v.Sections))
			}
			for i, s := range rep.Sections {
				if s.ID != v.Sections[i].ID {
					t.Fatalf("section %d = %s, want %s (order must follow the manifest)", i, s.ID, v.Sections[i].ID)
				}
				if s.Data == nil {
					t.Fatalf("section %s has no data", s.ID)
				}
			}
			if rep.Records != 4 || rep.GeneratedAt.IsZero() {
				t.Fatalf("unexpected report header %+v", rep)
			}
		})
	}
}

func TestRender_SectionFailureIsIsolated(t *testing.T) {
	header := []string{"transaction_status", "invoice_id", "user_id", "processor", "card_brand", "charge_category", "attempt_number", "error_message"}
	ds, err := dataset.FromRows(header, [][]string{{"success", "I1", "U1", "A", "visa", "recurring", "1", ""}})
	if err != nil {
		t.Fatal(err)
	}
	m, _ := Default()
	v, _ := m.View("comparison")

	rep, err := NewRenderer(4).Render(context.Background(), metrics.New(ds), nil, v)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	failed := map[string]bool{}
	for _, s := range rep.Sections {
		if s.Error != "" {
			failed[s.ID] = true
			if s.Data != nil {
				t.Errorf("section %s has both data and error", s.ID)
			}
		}
	}
	want := map[string]bool{"daily_trend": true, "brand_comparison": true, "brand_processor_comparison": true}
	if !reflect.DeepEqual(failed, want) {
		t.Fatalf("failed sections = %v, want %v", failed, want)
	}
}

func TestRender_CancelledContext(t *testing.T) {
	m, _ := Default()
	v, _ := m.View("overview")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewRenderer(1).Render(ctx, fixture(), nil, v); !errors.Is(err, context.Canceled) {
		t.Fatalf("Render error = %v, want context.Canceled", err)
	}
}

func TestEvaluate(t *testing.T) {
	agg := fixture()
	supplied := map[string]dataset.Table{
		"daily_trend": {Name: "daily_trend", Columns: []string{"date", "rate"}, Rows: [][]string{{"2024-05-01", "0.5"}}},
	}

	t.Run("supplied table passes through", func(t *testing.T) {
		data, source, err := Evaluate(agg, supplied, Section{ID: "t", Kind: KindTable, Table: "daily_trend"})
		if err != nil || source != SourceTable {
			t.Fatalf("Evaluate = %v, %s, %v", data, source, err)
		}
		if !reflect.DeepEqual(data, supplied["daily_trend"]) {
			t.Fatalf("table altered: %+v", data)
		}
	})

	t.Run("missing table is derived", func(t *testing.T) {
		data, source, err := Evaluate(agg, nil, Section{ID: "t", Kind: KindTable, Table: "daily_trend"})
		if err != nil || source != SourceDerived {
			t.Fatalf("Evaluate = %v, %s, %v", data, source, err)
		}
		trend := data.([]core.KeyRate)
		if len(trend) != 2 || trend[0].Key != "2024-05-01" || trend[0].Rate != 0.5 {
			t.Fatalf("unexpected trend %+v", trend)
		}
	})

	t.Run("recurring declines default top", func(t *testing.T) {
		data, _, err := Evaluate(agg, nil, Section{ID: "t", Kind: KindTable, Table: "recurring_declines"})
		if err != nil {
			t.Fatal(err)
		}
		got := data.([]core.KeyCount)
		if len(got) != 1 || got[0].Key != "Insufficient funds" {
			t.Fatalf("unexpected recurring declines %+v", got)
		}
	})

	t.Run("unknown table", func(t *testing.T) {
		_, _, err := Evaluate(agg, nil, Section{ID: "t", Kind: KindTable, Table: "nope"})
		if !errors.Is(err, core.ErrUnknownTable) {
			t.Fatalf("error = %v", err)
		}
	})

	t.Run("overall rate", func(t *testing.T) {
		data, source, err := Evaluate(agg, nil, Section{ID: "o", Kind: KindOverallRate})
		if err != nil || source != SourceQuery {
			t.Fatal(err)
		}
		if rv := data.(RateValue); rv.Rate != 0.5 || rv.Counts.Total != 4 {
			t.Fatalf("unexpected overall %+v", rv)
		}
	})

	t.Run("entity rate rejects non-entity dims", func(t *testing.T) {
		_, _, err := Evaluate(agg, nil, Section{ID: "e", Kind: KindEntityRate, Dim: "processor"})
		if !errors.Is(err, core.ErrInvalidDimension) {
			t.Fatalf("error = %v", err)
		}
	})

	t.Run("declines by with top and filter", func(t *testing.T) {
		data, _, err := Evaluate(agg, nil, Section{ID: "d", Kind: KindDeclinesBy, Dim: "processor", Top: 1, Filter: "recurring"})
		if err != nil {
			t.Fatal(err)
		}
		ct := data.(core.CrossTab)
		if len(ct.Rows) != 1 || ct.Rows[0] != "Insufficient funds" || ct.Cell("Insufficient funds", "A") != 1 {
			t.Fatalf("unexpected crosstab %+v", ct)
		}
	})

	t.Run("invalid section", func(t *testing.T) {
		_, _, err := Evaluate(agg, nil, Section{ID: "x", Kind: "pie"})
		if !errors.Is(err, ErrInvalidSection) {
			t.Fatalf("error = %v", err)
		}
	})
}

func TestEvaluate_DimensionSpelling(t *testing.T) {
	agg := fixture()
	for _, dim := range []string{"processor", "Processor", " processor", "PROCESSOR"} {
		t.Run(dim, func(t *testing.T) {
			data, _, err := Evaluate(agg, nil, Section{ID: "r", Kind: KindRateBy, Dim: dim})
			if err != nil {
				t.Fatalf("Evaluate(%q): %v", dim, err)
			}
			if rates := data.([]core.KeyRate); len(rates) != 2 {
				t.Fatalf("unexpected rates %+v", rates)
			}
		})
	}
}

func TestRender_MixedCaseDimensionFromManifest(t *testing.T) {
	m, err := Parse([]byte("views:\n  - name: custom\n    title: Custom\n    sections:\n      - id: by_processor\n        kind: declines_by\n        dim: Processor\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	v, _ := m.View("custom")
	rep, err := NewRenderer(1).Render(context.Background(), fixture(), nil, v)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if rep.Failed() != 0 {
		t.Fatalf("section failed: %+v", rep.Sections)
	}
	if ct := rep.Sections[0].Data.(core.CrossTab); ct.ColDim != string(core.DimProcessor) {
		t.Fatalf("column dimension = %q", ct.ColDim)
	}
}

func TestKinds(t *testing.T) {
	got := Kinds()
	if len(got) != 14 || got[0] != "daily_trend" {
		t.Fatalf("Kinds = %v", got)
	}
}
