// Package http provides the JSON API over the metrics aggregator.
//
// This file implements parsing and validation of query parameters shared
// by the ad-hoc query endpoints.

package http

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"payinsights/internal/manifest"
)

// ErrBadParam marks a malformed query parameter.
var ErrBadParam = errors.New("invalid parameter")

// maxTop bounds top=N so a request cannot ask for an unbounded list.
const maxTop = 1000

// QueryParams holds the optional parameters of a query endpoint.
type QueryParams struct {
	Dim    string
	Top    int
	Filter string
	Table  string
}

// ParseQueryParams reads dim, top, filter and table from the query string.
// A missing top keeps defaultTop.
func ParseQueryParams(query url.Values, defaultTop int) (QueryParams, error) {
	params := QueryParams{
		Dim:    sanitizeInput(query.Get("dim")),
		Top:    defaultTop,
		Filter: sanitizeInput(query.Get("filter")),
		Table:  sanitizeInput(query.Get("table")),
	}

	if v := strings.TrimSpace(query.Get("top")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return QueryParams{}, fmt.Errorf("%w: top must be an integer, got %q", ErrBadParam, v)
		}
		if n < 0 || n > maxTop {
			return QueryParams{}, fmt.Errorf("%w: top must be between 0 and %d", ErrBadParam, maxTop)
		}
		params.Top = n
	}

	return params, nil
}

// Section turns the parameters into a section of the given kind.
func (p QueryParams) Section(kind manifest.Kind) manifest.Section {
	return manifest.Section{
		ID:     string(kind),
		Kind:   kind,
		Dim:    p.Dim,
		Top:    p.Top,
		Filter: p.Filter,
		Table:  p.Table,
	}
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
