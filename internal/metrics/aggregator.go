// Package metrics computes authorization-rate metrics and decline-reason
// cross-tabulations over an immutable transaction dataset.
//
// Every query is a pure function of the dataset handed to New: there is no
// I/O and no hidden state, so one Aggregator may serve concurrent callers.
// Empty inputs and empty groups produce zero rates or empty results, never
// errors; only unknown or unsupported dimensions fail, with
// core.ErrInvalidDimension.
package metrics

import (
	"sort"
	"strconv"

	"payinsights/internal/core"
	"payinsights/internal/dataset"
)

// UnknownKey labels records whose grouping field is blank.
const UnknownKey = "(unknown)"

// Aggregator answers metric queries over one dataset.
type Aggregator struct {
	ds *dataset.Dataset
}

// New binds an aggregator to a dataset. A nil dataset behaves as empty.
func New(ds *dataset.Dataset) *Aggregator {
	if ds == nil {
		ds = dataset.New(nil)
	}
	return &Aggregator{ds: ds}
}

// Dataset returns the dataset the aggregator reads.
func (a *Aggregator) Dataset() *dataset.Dataset {
	return a.ds
}

var groupDims = map[core.Dimension]bool{
	core.DimInvoice:              true,
	core.DimUser:                 true,
	core.DimProcessor:            true,
	core.DimCardBrand:            true,
	core.DimChargeCategory:       true,
	core.DimSubscriptionInterval: true,
	core.DimPaymentMethod:        true,
}

var crossTabDims = map[core.Dimension]bool{
	core.DimProcessor:            true,
	core.DimAttemptNumber:        true,
	core.DimChargeCategory:       true,
	core.DimCardBrand:            true,
	core.DimSubscriptionInterval: true,
	core.DimPaymentMethod:        true,
}

func (a *Aggregator) check(dim core.Dimension, allowed map[core.Dimension]bool) error {
	if !allowed[dim] {
		return core.InvalidDimension(string(dim))
	}
	return a.ds.CheckDimension(dim)
}

// OverallAuthorizationRate is the share of records with status success. An
// empty dataset yields a zero Rate whose Value is 0.
func (a *Aggregator) OverallAuthorizationRate() core.Rate {
	var r core.Rate
	a.ds.Each(func(t core.Transaction) {
		r.Add(t.Status.IsSuccess())
	})
	return r
}

// GroupedAuthorizationRate returns one rate per distinct value of dim.
//
// For invoice_id and user_id the group rate is 1 when any record in the group
// succeeded and 0 otherwise. For every other dimension it is the per-record
// success mean. Counts always hold the record-level tallies. Rows are ordered
// by rate descending, then key.
func (a *Aggregator) GroupedAuthorizationRate(dim core.Dimension) ([]core.KeyRate, error) {
	if err := a.check(dim, groupDims); err != nil {
		return nil, err
	}
	groups := a.groupRates(dim, nil)

	out := make([]core.KeyRate, 0, len(groups))
	for key, r := range groups {
		rate := r.Value()
		if dim.IsEntity() {
			rate = everAuthorized(r)
		}
		out = append(out, core.KeyRate{Key: key, Rate: rate, Counts: r})
	}
	core.SortKeyRates(out)
	return out, nil
}

// EntityAuthorizationRate is the share of invoices or users that were
// authorized at least once.
func (a *Aggregator) EntityAuthorizationRate(dim core.Dimension) (core.Rate, error) {
	if !dim.IsEntity() {
		return core.Rate{}, core.InvalidDimension(string(dim))
	}
	if err := a.ds.CheckDimension(dim); err != nil {
		return core.Rate{}, err
	}
	return entityRate(a.groupRates(dim, nil)), nil
}

// KPIs returns the transaction, invoice and user level authorization rates.
func (a *Aggregator) KPIs() core.KPIs {
	return core.KPIs{
		Transaction: a.OverallAuthorizationRate(),
		Invoice:     entityRate(a.groupRates(core.DimInvoice, nil)),
		User:        entityRate(a.groupRates(core.DimUser, nil)),
	}
}

// AuthorizationRateByAttempt returns the retry funnel: one row per distinct
// attempt number, ascending.
func (a *Aggregator) AuthorizationRateByAttempt() []core.AttemptRate {
	byAttempt := make(map[int]*core.Rate)
	a.ds.Each(func(t core.Transaction) {
		r, ok := byAttempt[t.AttemptNumber]
		if !ok {
			r = &core.Rate{}
			byAttempt[t.AttemptNumber] = r
		}
		r.Add(t.Status.IsSuccess())
	})

	out := make([]core.AttemptRate, 0, len(byAttempt))
	for n, r := range byAttempt {
		out = append(out, core.AttemptRate{Attempt: n, Rate: r.Value(), Counts: *r})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Attempt < out[j].Attempt })
	return out
}

// RetrySuccessRateByProcessor is the per-processor success mean over retries
// only (attempt_number > 1).
func (a *Aggregator) RetrySuccessRateByProcessor() []core.KeyRate {
	groups := a.groupRates(core.DimProcessor, Retry)
	out := make([]core.KeyRate, 0, len(groups))
	for key, r := range groups {
		out = append(out, core.KeyRate{Key: key, Rate: r.Value(), Counts: r})
	}
	core.SortKeyRates(out)
	return out
}

// LevelRatesBy computes transaction, invoice and user level rates inside each
// group of dim.
func (a *Aggregator) LevelRatesBy(dim core.Dimension) ([]core.LevelRates, error) {
	if dim.IsEntity() {
		return nil, core.InvalidDimension(string(dim))
	}
	if err := a.check(dim, groupDims); err != nil {
		return nil, err
	}

	type level struct {
		tx       core.Rate
		invoices map[string]core.Rate
		users    map[string]core.Rate
	}
	groups := make(map[string]*level)
	a.ds.Each(func(t core.Transaction) {
		key := keyOf(dim, t)
		g, ok := groups[key]
		if !ok {
			g = &level{invoices: map[string]core.Rate{}, users: map[string]core.Rate{}}
			groups[key] = g
		}
		success := t.Status.IsSuccess()
		g.tx.Add(success)
		addTo(g.invoices, blankAsUnknown(t.InvoiceID), success)
		addTo(g.users, blankAsUnknown(t.UserID), success)
	})

	out := make([]core.LevelRates, 0, len(groups))
	for key, g := range groups {
		out = append(out, core.LevelRates{
			Key:         key,
			Transaction: g.tx.Value(),
			Invoice:     entityRate(g.invoices).Value(),
			User:        entityRate(g.users).Value(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Transaction != out[j].Transaction {
			return out[i].Transaction > out[j].Transaction
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

// groupRates tallies record-level rates per dim value, optionally filtered.
// dim must already be validated.
func (a *Aggregator) groupRates(dim core.Dimension, keep Filter) map[string]core.Rate {
	groups := make(map[string]core.Rate)
	a.ds.Each(func(t core.Transaction) {
		if keep != nil && !keep(t) {
			return
		}
		addTo(groups, keyOf(dim, t), t.Status.IsSuccess())
	})
	return groups
}

func addTo(m map[string]core.Rate, key string, success bool) {
	r := m[key]
	r.Add(success)
	m[key] = r
}

func everAuthorized(r core.Rate) float64 {
	if r.Successes > 0 {
		return 1
	}
	return 0
}

func entityRate(groups map[string]core.Rate) core.Rate {
	var out core.Rate
	for _, r := range groups {
		out.Add(r.Successes > 0)
	}
	return out
}

func keyOf(dim core.Dimension, t core.Transaction) string {
	v, err := dim.Value(t)
	if err != nil {
		return UnknownKey
	}
	return blankAsUnknown(v)
}

func blankAsUnknown(s string) string {
	if s == "" {
		return UnknownKey
	}
	return s
}

// sortColumns orders cross-tab columns; attempt numbers sort numerically.
func sortColumns(dim core.Dimension, cols []string) {
	if dim != core.DimAttemptNumber {
		sort.Strings(cols)
		return
	}
	sort.Slice(cols, func(i, j int) bool {
		a, errA := strconv.Atoi(cols[i])
		b, errB := strconv.Atoi(cols[j])
		if errA != nil || errB != nil {
			return cols[i] < cols[j]
		}
		return a < b
	})
}
