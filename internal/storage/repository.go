package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"payinsights/internal/core"
	"payinsights/internal/dataset"
	ports "payinsights/internal/sheets"

	_ "modernc.org/sqlite"
)

var _ ports.TransactionSource = (*SQLiteRepository)(nil)

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
}

// Import describes one ReplaceTransactions run.
type Import struct {
	ID         int64     `json:"id"`
	Source     string    `json:"source"`
	Records    int       `json:"records"`
	ImportedAt time.Time `json:"imported_at"`
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// ReplaceTransactions swaps the stored extract for ds in a single SQL
// transaction, so readers never observe a partial import.
func (r *SQLiteRepository) ReplaceTransactions(ctx context.Context, ds *dataset.Dataset, source string) (Import, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Import{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	qtx := r.queries.WithTx(tx)
	if err := qtx.DeleteTransactions(ctx); err != nil {
		return Import{}, fmt.Errorf("clear transactions: %w", err)
	}
	if err := qtx.DeleteColumns(ctx); err != nil {
		return Import{}, fmt.Errorf("clear columns: %w", err)
	}
	for _, c := range ds.Columns() {
		if err := qtx.InsertColumn(ctx, string(c)); err != nil {
			return Import{}, fmt.Errorf("record column %s: %w", c, err)
		}
	}

	n := 0
	var insertErr error
	ds.Each(func(t core.Transaction) {
		if insertErr != nil {
			return
		}
		if insertErr = t.Validate(); insertErr != nil {
			return
		}
		if insertErr = qtx.InsertTransaction(ctx, toParams(t)); insertErr != nil {
			return
		}
		n++
	})
	if insertErr != nil {
		return Import{}, fmt.Errorf("insert transaction %d: %w", n+1, insertErr)
	}

	row, err := qtx.InsertImport(ctx, InsertImportParams{
		Source:     source,
		Records:    int64(n),
		ImportedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return Import{}, fmt.Errorf("record import: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Import{}, fmt.Errorf("commit import: %w", err)
	}

	slog.InfoContext(ctx, "Transactions imported to SQLite",
		"component", "storage",
		"source", source,
		"records", n)

	return toImport(row), nil
}

// LoadDataset implements sheets.TransactionSource
func (r *SQLiteRepository) LoadDataset(ctx context.Context) (*dataset.Dataset, error) {
	cols, err := r.queries.ListColumns(ctx)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	if len(cols) == 0 {
		// Nothing imported yet: expose every column so queries return empty results.
		for _, c := range dataset.RequiredColumns {
			cols = append(cols, string(c))
		}
	}

	items, err := r.queries.ListTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	rows := make([][]string, 0, len(items))
	for _, it := range items {
		values := rowValues(it)
		row := make([]string, len(cols))
		for i, c := range cols {
			row[i] = values[dataset.Column(c)]
		}
		rows = append(rows, row)
	}

	ds, err := dataset.FromRows(cols, rows)
	if err != nil {
		return nil, fmt.Errorf("rebuild dataset: %w", err)
	}
	return ds, nil
}

// Count returns the number of stored transactions.
func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	n, err := r.queries.CountTransactions(ctx)
	if err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return int(n), nil
}

// LastImport returns the most recent import; ok is false when nothing has
// been imported.
func (r *SQLiteRepository) LastImport(ctx context.Context) (Import, bool, error) {
	row, err := r.queries.GetLastImport(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return Import{}, false, nil
	}
	if err != nil {
		return Import{}, false, fmt.Errorf("get last import: %w", err)
	}
	return toImport(row), true, nil
}

func toParams(t core.Transaction) InsertTransactionParams {
	var date string
	if !t.Date.IsZero() {
		date = t.Date.Format(time.DateOnly)
	}
	return InsertTransactionParams{
		TransactionStatus:    string(t.Status),
		InvoiceID:            t.InvoiceID,
		UserID:               t.UserID,
		Processor:            t.Processor,
		CardBrand:            t.CardBrand,
		ChargeCategory:       t.ChargeCategory,
		SubscriptionInterval: t.SubscriptionInterval,
		AttemptNumber:        int64(t.AttemptNumber),
		ErrorMessage:         t.ErrorMessage,
		PaymentMethod:        t.PaymentMethod,
		TransactionDate:      date,
	}
}

func rowValues(it TransactionRow) map[dataset.Column]string {
	return map[dataset.Column]string{
		dataset.ColStatus:               it.TransactionStatus,
		dataset.ColInvoice:              it.InvoiceID,
		dataset.ColUser:                 it.UserID,
		dataset.ColProcessor:            it.Processor,
		dataset.ColCardBrand:            it.CardBrand,
		dataset.ColChargeCategory:       it.ChargeCategory,
		dataset.ColSubscriptionInterval: it.SubscriptionInterval,
		dataset.ColAttemptNumber:        strconv.FormatInt(it.AttemptNumber, 10),
		dataset.ColErrorMessage:         it.ErrorMessage,
		dataset.ColPaymentMethod:        it.PaymentMethod,
		dataset.ColTransactionDate:      it.TransactionDate,
	}
}

func toImport(row ImportRow) Import {
	at, _ := time.Parse(time.RFC3339, row.ImportedAt)
	return Import{
		ID:         row.ID,
		Source:     row.Source,
		Records:    int(row.Records),
		ImportedAt: at,
	}
}
