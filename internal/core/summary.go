package core

import "sort"

// Rate is a success ratio kept as its two counts so callers can tell an empty
// group from a zero rate.
type Rate struct {
	Successes int `json:"successes"`
	Total     int `json:"total"`
}

// Value returns successes/total, or 0 for an empty rate.
func (r Rate) Value() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Successes) / float64(r.Total)
}

// Add records one observation.
func (r *Rate) Add(success bool) {
	r.Total++
	if success {
		r.Successes++
	}
}

// KeyRate is one row of a grouped rate series.
type KeyRate struct {
	Key    string  `json:"key"`
	Rate   float64 `json:"rate"`
	Counts Rate    `json:"counts"`
}

// AttemptRate is one step of the retry funnel.
type AttemptRate struct {
	Attempt int     `json:"attempt"`
	Rate    float64 `json:"rate"`
	Counts  Rate    `json:"counts"`
}

// KeyCount is one row of a ranked count series.
type KeyCount struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// KPIs holds the authorization rate at the three granularities.
type KPIs struct {
	Transaction Rate `json:"transaction"`
	Invoice     Rate `json:"invoice"`
	User        Rate `json:"user"`
}

// LevelRates holds the three granularities computed inside one group.
type LevelRates struct {
	Key         string  `json:"key"`
	Transaction float64 `json:"transaction"`
	Invoice     float64 `json:"invoice"`
	User        float64 `json:"user"`
}

// SortKeyRates orders by rate descending, then key ascending.
func SortKeyRates(rs []KeyRate) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].Rate != rs[j].Rate {
			return rs[i].Rate > rs[j].Rate
		}
		return rs[i].Key < rs[j].Key
	})
}

// SortKeyCounts orders by count descending, then key ascending.
func SortKeyCounts(cs []KeyCount) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Count != cs[j].Count {
			return cs[i].Count > cs[j].Count
		}
		return cs[i].Key < cs[j].Key
	})
}
