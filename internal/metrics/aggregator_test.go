package metrics

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"payinsights/internal/core"
	"payinsights/internal/dataset"
)

func tx(status, invoice, user, processor string, attempt int, reason string) core.Transaction {
	return core.Transaction{
		Status:         core.Status(status),
		InvoiceID:      invoice,
		UserID:         user,
		Processor:      processor,
		CardBrand:      "visa",
		ChargeCategory: "renewal",
		AttemptNumber:  attempt,
		ErrorMessage:   reason,
	}
}

func fixture() *Aggregator {
	return New(dataset.New([]core.Transaction{
		tx("refused", "I1", "U1", "adyen", 1, "Insufficient funds"),
		tx("success", "I1", "U1", "adyen", 2, ""),
		tx("refused", "I2", "U2", "stripe", 1, "Do not honor"),
		tx("refused", "I2", "U2", "stripe", 2, "Insufficient funds"),
		tx("error", "I3", "U2", "stripe", 1, ""),
		tx("success", "I4", "U3", "adyen", 1, ""),
		tx("refused", "I5", "U4", "adyen", 3, "Insufficient funds"),
	}))
}

func rates(rs []core.KeyRate) map[string]float64 {
	out := make(map[string]float64, len(rs))
	for _, r := range rs {
		out[r.Key] = r.Rate
	}
	return out
}

func TestOverallAuthorizationRate(t *testing.T) {
	r := fixture().OverallAuthorizationRate()
	if r.Successes != 2 || r.Total != 7 {
		t.Fatalf("unexpected rate %+v", r)
	}
	if v := r.Value(); v < 0 || v > 1 {
		t.Fatalf("rate out of range: %v", v)
	}
}

func TestOverallAuthorizationRateEmpty(t *testing.T) {
	for _, agg := range []*Aggregator{New(nil), New(dataset.New(nil))} {
		r := agg.OverallAuthorizationRate()
		if r.Total != 0 || r.Value() != 0 {
			t.Fatalf("empty dataset should yield rate 0, got %+v", r)
		}
	}
}

func TestGroupedAuthorizationRateByProcessor(t *testing.T) {
	agg := New(dataset.New([]core.Transaction{
		tx("success", "I1", "U1", "A", 1, ""),
		tx("refused", "I2", "U2", "A", 1, "x"),
		tx("success", "I3", "U3", "B", 1, ""),
	}))
	got, err := agg.GroupedAuthorizationRate(core.DimProcessor)
	if err != nil {
		t.Fatalf("grouped: %v", err)
	}
	want := []core.KeyRate{
		{Key: "B", Rate: 1.0, Counts: core.Rate{Successes: 1, Total: 1}},
		{Key: "A", Rate: 0.5, Counts: core.Rate{Successes: 1, Total: 2}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestEntityRateIsEverAuthorized(t *testing.T) {
	agg := New(dataset.New([]core.Transaction{
		tx("refused", "I1", "U1", "A", 1, "x"),
		tx("success", "I1", "U1", "A", 2, ""),
	}))
	inv, err := agg.GroupedAuthorizationRate(core.DimInvoice)
	if err != nil {
		t.Fatalf("grouped: %v", err)
	}
	if len(inv) != 1 || inv[0].Rate != 1.0 {
		t.Fatalf("invoice level rate should be 1.0, got %+v", inv)
	}
	if inv[0].Counts.Value() != 0.5 {
		t.Fatalf("per-record mean should be 0.5, got %v", inv[0].Counts.Value())
	}
}

func TestEntityRateAtLeastRecordRate(t *testing.T) {
	agg := fixture()
	for _, dim := range []core.Dimension{core.DimInvoice, core.DimUser} {
		entity, err := agg.EntityAuthorizationRate(dim)
		if err != nil {
			t.Fatalf("%s: %v", dim, err)
		}
		grouped, _ := agg.GroupedAuthorizationRate(dim)
		for _, g := range grouped {
			if g.Rate < g.Counts.Value() {
				t.Fatalf("%s %s: entity rate %v below record mean %v", dim, g.Key, g.Rate, g.Counts.Value())
			}
		}
		if entity.Total != len(grouped) {
			t.Fatalf("%s: entity total %d, groups %d", dim, entity.Total, len(grouped))
		}
	}

	kpis := agg.KPIs()
	// Invoices: I1 yes, I2 no, I3 no, I4 yes, I5 no. Users: U1 yes, U2 no, U3 yes, U4 no.
	if kpis.Invoice != (core.Rate{Successes: 2, Total: 5}) || kpis.User != (core.Rate{Successes: 2, Total: 4}) {
		t.Fatalf("unexpected kpis %+v", kpis)
	}
	if kpis.Transaction.Value() > kpis.User.Value() {
		t.Fatalf("transaction rate should not exceed user rate here: %+v", kpis)
	}
}

func TestEntityAuthorizationRateRejectsNonEntity(t *testing.T) {
	if _, err := fixture().EntityAuthorizationRate(core.DimProcessor); !errors.Is(err, core.ErrInvalidDimension) {
		t.Fatalf("expected ErrInvalidDimension, got %v", err)
	}
}

func TestGroupedAuthorizationRateInvalidDimension(t *testing.T) {
	agg := fixture()
	for _, dim := range []core.Dimension{"country", core.DimAttemptNumber, core.DimTransactionDate} {
		if _, err := agg.GroupedAuthorizationRate(dim); !errors.Is(err, core.ErrInvalidDimension) {
			t.Fatalf("%s: expected ErrInvalidDimension, got %v", dim, err)
		}
	}

	ds, err := dataset.Parse(strings.NewReader(
		"transaction_status,invoice_id,user_id,processor,card_brand,charge_category,attempt_number,error_message\n"), dataset.Options{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := New(ds).GroupedAuthorizationRate(core.DimSubscriptionInterval); !errors.Is(err, core.ErrInvalidDimension) {
		t.Fatalf("absent optional column should be an invalid dimension, got %v", err)
	}
	got, err := New(ds).GroupedAuthorizationRate(core.DimProcessor)
	if err != nil || len(got) != 0 {
		t.Fatalf("empty dataset should give empty result, got %v err=%v", got, err)
	}
}

func TestAuthorizationRateByAttempt(t *testing.T) {
	got := fixture().AuthorizationRateByAttempt()
	if len(got) != 3 {
		t.Fatalf("expected one row per attempt, got %+v", got)
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].Attempt >= got[i].Attempt {
			t.Fatalf("attempts not ascending: %+v", got)
		}
	}
	// attempt 1: refused, refused, error, success -> 1/4
	if got[0].Attempt != 1 || got[0].Rate != 0.25 {
		t.Fatalf("unexpected first attempt %+v", got[0])
	}
	if got[2].Attempt != 3 || got[2].Rate != 0 {
		t.Fatalf("unexpected third attempt %+v", got[2])
	}
}

func TestRetrySuccessRateByProcessor(t *testing.T) {
	got := rates(fixture().RetrySuccessRateByProcessor())
	// adyen retries: success(2), refused(3) -> 0.5; stripe retries: refused(2) -> 0
	want := map[string]float64{"adyen": 0.5, "stripe": 0}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	none := New(dataset.New([]core.Transaction{tx("success", "I", "U", "A", 1, "")}))
	if r := none.RetrySuccessRateByProcessor(); len(r) != 0 {
		t.Fatalf("no retries should give empty result, got %v", r)
	}
}

func TestLevelRatesBy(t *testing.T) {
	got, err := fixture().LevelRatesBy(core.DimProcessor)
	if err != nil {
		t.Fatalf("level rates: %v", err)
	}
	byKey := map[string]core.LevelRates{}
	for _, l := range got {
		byKey[l.Key] = l
	}
	adyen := byKey["adyen"]
	// adyen: 4 records, 2 successes; invoices I1 yes, I4 yes, I5 no; users U1 yes, U3 yes, U4 no.
	if adyen.Transaction != 0.5 || adyen.Invoice != 2.0/3.0 || adyen.User != 2.0/3.0 {
		t.Fatalf("unexpected adyen %+v", adyen)
	}
	if stripe := byKey["stripe"]; stripe.Transaction != 0 || stripe.Invoice != 0 || stripe.User != 0 {
		t.Fatalf("unexpected stripe %+v", stripe)
	}
	if _, err := fixture().LevelRatesBy(core.DimInvoice); !errors.Is(err, core.ErrInvalidDimension) {
		t.Fatalf("expected ErrInvalidDimension for entity dim, got %v", err)
	}
}

func TestQueriesAreIdempotent(t *testing.T) {
	agg := fixture()
	a1, _ := agg.GroupedAuthorizationRate(core.DimCardBrand)
	a2, _ := agg.GroupedAuthorizationRate(core.DimCardBrand)
	if !reflect.DeepEqual(a1, a2) {
		t.Fatalf("grouped rate not idempotent")
	}
	c1, _ := agg.DeclineReasonsBy(core.DimAttemptNumber)
	c2, _ := agg.DeclineReasonsBy(core.DimAttemptNumber)
	if !reflect.DeepEqual(c1, c2) {
		t.Fatalf("cross tab not idempotent")
	}
	if !reflect.DeepEqual(agg.KPIs(), agg.KPIs()) {
		t.Fatalf("kpis not idempotent")
	}
}

func TestDailyTrend(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC) }
	recs := []core.Transaction{
		{Status: core.StatusSuccess, AttemptNumber: 1, Date: day(2)},
		{Status: core.StatusRefused, AttemptNumber: 1, Date: day(1)},
		{Status: core.StatusSuccess, AttemptNumber: 1, Date: day(1)},
		{Status: core.StatusSuccess, AttemptNumber: 1},
	}
	got, err := New(dataset.New(recs)).DailyTrend()
	if err != nil {
		t.Fatalf("daily trend: %v", err)
	}
	if len(got) != 2 || got[0].Key != "2025-01-01" || got[0].Rate != 0.5 || got[1].Rate != 1 {
		t.Fatalf("unexpected trend %+v", got)
	}
}

func TestMethodComparison(t *testing.T) {
	recs := []core.Transaction{
		{Status: core.StatusSuccess, CardBrand: "visa", Processor: "a", PaymentMethod: "apple_pay", AttemptNumber: 1},
		{Status: core.StatusRefused, CardBrand: "visa", Processor: "a", PaymentMethod: "apple_pay", AttemptNumber: 1},
		{Status: core.StatusSuccess, CardBrand: "visa", Processor: "b", PaymentMethod: "card_on_file", AttemptNumber: 1},
		{Status: core.StatusRefused, CardBrand: "amex", Processor: "a", PaymentMethod: "card_on_file", AttemptNumber: 1},
	}
	agg := New(dataset.New(recs))
	byBrand, err := agg.MethodComparisonByBrand()
	if err != nil {
		t.Fatalf("by brand: %v", err)
	}
	if byBrand.Value("visa", "apple_pay") != 0.5 || byBrand.Value("visa", "card_on_file") != 1 {
		t.Fatalf("unexpected comparison %+v", byBrand)
	}
	if byBrand.Value("amex", "apple_pay") != 0 || byBrand.Cells[0][0].Total != 0 {
		t.Fatalf("missing combination should be zero: %+v", byBrand)
	}

	byBP, err := agg.MethodComparisonByBrandProcessor()
	if err != nil {
		t.Fatalf("by brand/processor: %v", err)
	}
	if byBP.Value("visa / b", "card_on_file") != 1 {
		t.Fatalf("unexpected comparison %+v", byBP)
	}
}
