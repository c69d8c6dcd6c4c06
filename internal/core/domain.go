package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	StatusSuccess Status = "success"
	StatusRefused Status = "refused"
	StatusError   Status = "error"
)

// Dimensions the aggregator can group or cross-tabulate by.
const (
	DimInvoice              Dimension = "invoice_id"
	DimUser                 Dimension = "user_id"
	DimProcessor            Dimension = "processor"
	DimCardBrand            Dimension = "card_brand"
	DimChargeCategory       Dimension = "charge_category"
	DimSubscriptionInterval Dimension = "subscription_interval"
	DimAttemptNumber        Dimension = "attempt_number"
	DimPaymentMethod        Dimension = "payment_method"
	DimTransactionDate      Dimension = "transaction_date"
)

type (
	// Status is the outcome of a single payment attempt. Values outside the
	// known set are kept verbatim and count as non-success.
	Status string

	// Dimension names a column a query can group by.
	Dimension string

	Transaction struct {
		Status               Status
		InvoiceID            string
		UserID               string
		Processor            string
		CardBrand            string
		ChargeCategory       string
		SubscriptionInterval string
		AttemptNumber        int
		ErrorMessage         string
		PaymentMethod        string
		Date                 time.Time // zero when the extract carries no date column
	}
)

var (
	ErrInvalidDimension = errors.New("invalid dimension")
	ErrMissingColumn    = errors.New("missing column")
	ErrUnknownView      = errors.New("unknown view")
	ErrUnknownTable     = errors.New("unknown table")
	ErrInvalidAttempt   = errors.New("invalid attempt number")
)

// ParseStatus normalizes a raw status value.
func ParseStatus(s string) Status {
	return Status(strings.ToLower(strings.TrimSpace(s)))
}

func (s Status) IsSuccess() bool { return s == StatusSuccess }

func (s Status) IsRefused() bool { return s == StatusRefused }

// ParseDimension maps a user-supplied name onto a known dimension.
func ParseDimension(s string) (Dimension, error) {
	d := Dimension(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case DimInvoice, DimUser, DimProcessor, DimCardBrand, DimChargeCategory,
		DimSubscriptionInterval, DimAttemptNumber, DimPaymentMethod, DimTransactionDate:
		return d, nil
	}
	return "", InvalidDimension(s)
}

// IsEntity reports whether the dimension identifies an entity whose rate
// means "ever authorized" rather than a per-record mean.
func (d Dimension) IsEntity() bool {
	return d == DimInvoice || d == DimUser
}

// Value extracts the dimension's key from a transaction.
func (d Dimension) Value(t Transaction) (string, error) {
	switch d {
	case DimInvoice:
		return t.InvoiceID, nil
	case DimUser:
		return t.UserID, nil
	case DimProcessor:
		return t.Processor, nil
	case DimCardBrand:
		return t.CardBrand, nil
	case DimChargeCategory:
		return t.ChargeCategory, nil
	case DimSubscriptionInterval:
		return t.SubscriptionInterval, nil
	case DimAttemptNumber:
		return strconv.Itoa(t.AttemptNumber), nil
	case DimPaymentMethod:
		return t.PaymentMethod, nil
	case DimTransactionDate:
		if t.Date.IsZero() {
			return "", nil
		}
		return t.Date.Format(time.DateOnly), nil
	}
	return "", InvalidDimension(string(d))
}

// InvalidDimension wraps ErrInvalidDimension with the offending name.
func InvalidDimension(name string) error {
	return fmt.Errorf("%w: %q", ErrInvalidDimension, name)
}

// IsRetry reports whether the attempt is a retry of an earlier one.
func (t Transaction) IsRetry() bool {
	return t.AttemptNumber > 1
}

func (t Transaction) Validate() error {
	if t.AttemptNumber < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidAttempt, t.AttemptNumber)
	}
	return nil
}
