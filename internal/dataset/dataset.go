// Package dataset loads transaction extracts into an immutable, in-memory
// Dataset that the metrics aggregator queries.
//
// Column headers are matched case-insensitively and accept the original
// extract's upper-case names as aliases. Missing required columns fail the
// load immediately with core.ErrMissingColumn.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"payinsights/internal/core"
)

// Column is a canonical column name.
type Column string

const (
	ColStatus               Column = "transaction_status"
	ColInvoice              Column = "invoice_id"
	ColUser                 Column = "user_id"
	ColProcessor            Column = "processor"
	ColCardBrand            Column = "card_brand"
	ColChargeCategory       Column = "charge_category"
	ColSubscriptionInterval Column = "subscription_interval"
	ColAttemptNumber        Column = "attempt_number"
	ColErrorMessage         Column = "error_message"
	ColTransactionDate      Column = "transaction_date"
	ColPaymentMethod        Column = "payment_method"
)

// RequiredColumns must be present in every extract.
var RequiredColumns = []Column{
	ColStatus, ColInvoice, ColUser, ColProcessor, ColCardBrand,
	ColChargeCategory, ColAttemptNumber, ColErrorMessage,
}

// OptionalColumns enable extra dimensions and derived tables when present.
var OptionalColumns = []Column{
	ColSubscriptionInterval, ColTransactionDate, ColPaymentMethod,
}

var aliases = map[string]Column{
	"transaction_status":    ColStatus,
	"status":                ColStatus,
	"invoice_id":            ColInvoice,
	"invoice_public_id":     ColInvoice,
	"user_id":               ColUser,
	"user_public_id":        ColUser,
	"processor":             ColProcessor,
	"card_brand":            ColCardBrand,
	"credit_card_brand":     ColCardBrand,
	"charge_category":       ColChargeCategory,
	"subscription_interval": ColSubscriptionInterval,
	"attempt_number":        ColAttemptNumber,
	"error_message":         ColErrorMessage,
	"transaction_date":      ColTransactionDate,
	"created_at":            ColTransactionDate,
	"date":                  ColTransactionDate,
	"payment_method":        ColPaymentMethod,
}

// dimensionColumns maps query dimensions onto the column backing them.
var dimensionColumns = map[core.Dimension]Column{
	core.DimInvoice:              ColInvoice,
	core.DimUser:                 ColUser,
	core.DimProcessor:            ColProcessor,
	core.DimCardBrand:            ColCardBrand,
	core.DimChargeCategory:       ColChargeCategory,
	core.DimSubscriptionInterval: ColSubscriptionInterval,
	core.DimAttemptNumber:        ColAttemptNumber,
	core.DimPaymentMethod:        ColPaymentMethod,
	core.DimTransactionDate:      ColTransactionDate,
}

// Dataset is an immutable set of transactions plus the columns it was
// loaded with. It is safe for concurrent readers.
type Dataset struct {
	records []core.Transaction
	columns map[Column]bool
}

// Options controls parsing of delimited text.
type Options struct {
	Comma rune // defaults to ','
}

// New builds a dataset directly from records. All columns are treated as
// present.
func New(records []core.Transaction) *Dataset {
	cols := make(map[Column]bool, len(RequiredColumns)+len(OptionalColumns))
	for _, c := range RequiredColumns {
		cols[c] = true
	}
	for _, c := range OptionalColumns {
		cols[c] = true
	}
	return &Dataset{records: append([]core.Transaction(nil), records...), columns: cols}
}

// Len returns the number of records.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.records)
}

// Records returns a copy of the records.
func (d *Dataset) Records() []core.Transaction {
	if d == nil {
		return nil
	}
	return append([]core.Transaction(nil), d.records...)
}

// Each calls fn for every record in load order.
func (d *Dataset) Each(fn func(core.Transaction)) {
	if d == nil {
		return
	}
	for _, t := range d.records {
		fn(t)
	}
}

// Has reports whether the column was present at load time.
func (d *Dataset) Has(c Column) bool {
	return d != nil && d.columns[c]
}

// Columns lists present columns in canonical order.
func (d *Dataset) Columns() []Column {
	var out []Column
	for _, c := range append(append([]Column(nil), RequiredColumns...), OptionalColumns...) {
		if d.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// Supports reports whether the dataset carries the column behind dim.
func (d *Dataset) Supports(dim core.Dimension) bool {
	c, ok := dimensionColumns[dim]
	return ok && d.Has(c)
}

// CheckDimension returns core.ErrInvalidDimension when dim is unknown or its
// column is absent from this dataset.
func (d *Dataset) CheckDimension(dim core.Dimension) error {
	if !d.Supports(dim) {
		return core.InvalidDimension(string(dim))
	}
	return nil
}

// LoadFile parses a delimited file from disk.
func LoadFile(path string, opts Options) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	ds, err := Parse(f, opts)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return ds, nil
}

// Parse reads a header row followed by records.
func Parse(r io.Reader, opts Options) (*Dataset, error) {
	cr := csv.NewReader(r)
	if opts.Comma != 0 {
		cr.Comma = opts.Comma
	}
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty input has no header row", core.ErrMissingColumn)
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	b, err := newBuilder(header)
	if err != nil {
		return nil, err
	}
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read record: %w", err)
		}
		line, _ := cr.FieldPos(0)
		if err := b.add(row, line); err != nil {
			return nil, err
		}
	}
	return b.build(), nil
}

// FromRows builds a dataset from an already-split table whose first
// dimension is rows. Row numbers in errors are 1-based and count the header.
func FromRows(header []string, rows [][]string) (*Dataset, error) {
	b, err := newBuilder(header)
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		if err := b.add(row, i+2); err != nil {
			return nil, err
		}
	}
	return b.build(), nil
}

type builder struct {
	index   map[Column]int
	records []core.Transaction
}

func newBuilder(header []string) (*builder, error) {
	index := make(map[Column]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if col, ok := aliases[key]; ok {
			if _, dup := index[col]; !dup {
				index[col] = i
			}
		}
	}

	var missing []string
	for _, c := range RequiredColumns {
		if _, ok := index[c]; !ok {
			missing = append(missing, string(c))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", core.ErrMissingColumn, strings.Join(missing, ", "))
	}
	return &builder{index: index}, nil
}

func (b *builder) field(row []string, c Column) string {
	i, ok := b.index[c]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (b *builder) add(row []string, line int) error {
	attempt, err := parseAttempt(b.field(row, ColAttemptNumber))
	if err != nil {
		return fmt.Errorf("line %d: %w", line, err)
	}
	var date time.Time
	if raw := b.field(row, ColTransactionDate); raw != "" {
		date, err = parseDate(raw)
		if err != nil {
			return fmt.Errorf("line %d: invalid transaction date %q: %w", line, raw, err)
		}
	}

	t := core.Transaction{
		Status:               core.ParseStatus(b.field(row, ColStatus)),
		InvoiceID:            b.field(row, ColInvoice),
		UserID:               b.field(row, ColUser),
		Processor:            b.field(row, ColProcessor),
		CardBrand:            b.field(row, ColCardBrand),
		ChargeCategory:       b.field(row, ColChargeCategory),
		SubscriptionInterval: b.field(row, ColSubscriptionInterval),
		AttemptNumber:        attempt,
		ErrorMessage:         b.field(row, ColErrorMessage),
		PaymentMethod:        b.field(row, ColPaymentMethod),
		Date:                 date,
	}
	b.records = append(b.records, t)
	return nil
}

func (b *builder) build() *Dataset {
	cols := make(map[Column]bool, len(b.index))
	for c := range b.index {
		cols[c] = true
	}
	return &Dataset{records: b.records, columns: cols}
}

// parseAttempt accepts "2" as well as float renderings such as "2.0" that
// spreadsheet exports produce.
func parseAttempt(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty", core.ErrInvalidAttempt)
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 1 {
			return 0, fmt.Errorf("%w: %d", core.ErrInvalidAttempt, n)
		}
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int(f)) || f < 1 {
		return 0, fmt.Errorf("%w: %q", core.ErrInvalidAttempt, s)
	}
	return int(f), nil
}

var dateLayouts = []string{
	time.DateOnly,
	time.RFC3339,
	time.DateTime,
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
}

// sheetsEpoch is day zero of spreadsheet date serial numbers.
var sheetsEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// parseDate accepts the layouts above and spreadsheet serial numbers such as
// 45658 (2025-01-01); a fractional part is the time of day and is dropped.
func parseDate(s string) (time.Time, error) {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if f < 1 {
			return time.Time{}, fmt.Errorf("date serial %q out of range", s)
		}
		return sheetsEpoch.AddDate(0, 0, int(f)), nil
	}
	var lastErr error
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
