package google

import (
	"reflect"
	"testing"
	"time"

	"payinsights/internal/dataset"
)

func TestSplitValues(t *testing.T) {
	values := [][]interface{}{
		{"TRANSACTION_STATUS", "INVOICE_PUBLIC_ID", "USER_PUBLIC_ID", "PROCESSOR", "CREDIT_CARD_BRAND", "CHARGE_CATEGORY", "ATTEMPT_NUMBER", "ERROR_MESSAGE"},
		{"success", "I1", "U1", "A", "visa", "recurring", 1.0},
		{},
		{"refused", "I2", "U2", "B", "amex", "one_off", 2.0, " Do not honor "},
	}
	header, rows, err := splitValues(values)
	if err != nil {
		t.Fatalf("splitValues: %v", err)
	}
	if len(header) != 8 {
		t.Fatalf("header len = %d", len(header))
	}
	want := [][]string{
		{"success", "I1", "U1", "A", "visa", "recurring", "1", ""},
		{"refused", "I2", "U2", "B", "amex", "one_off", "2", "Do not honor"},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("rows = %v, want %v", rows, want)
	}
}

func TestSplitValues_Empty(t *testing.T) {
	if _, _, err := splitValues(nil); err == nil {
		t.Fatal("expected error for empty range")
	}
}

func TestCellString(t *testing.T) {
	tests := []struct {
		in   interface{}
		want string
	}{
		{nil, ""},
		{3.0, "3"},
		{0.25, "0.25"},
		{"  x ", "x"},
		{true, "true"},
	}
	for _, tt := range tests {
		if got := cellString(tt.in); got != tt.want {
			t.Errorf("cellString(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSplitValues_DateSerialCells(t *testing.T) {
	values := [][]interface{}{
		{"TRANSACTION_STATUS", "INVOICE_PUBLIC_ID", "USER_PUBLIC_ID", "PROCESSOR", "CREDIT_CARD_BRAND", "CHARGE_CATEGORY", "ATTEMPT_NUMBER", "ERROR_MESSAGE", "CREATED_AT"},
		{"success", "I1", "U1", "A", "visa", "recurring", 1.0, "", float64(45658)},
		{"refused", "I2", "U2", "B", "amex", "one_off", 1.0, "Do not honor", 45659.75},
	}
	header, rows, err := splitValues(values)
	if err != nil {
		t.Fatalf("splitValues: %v", err)
	}
	ds, err := dataset.FromRows(header, rows)
	if err != nil {
		t.Fatalf("FromRows: %v", err)
	}

	records := ds.Records()
	want := []time.Time{
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	for i, r := range records {
		if !r.Date.Equal(want[i]) {
			t.Errorf("record %d date = %v, want %v", i, r.Date, want[i])
		}
	}
}
