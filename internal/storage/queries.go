package storage

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	PrepareContext(context.Context, string) (*sql.Stmt, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type TransactionRow struct {
	ID                   int64
	TransactionStatus    string
	InvoiceID            string
	UserID               string
	Processor            string
	CardBrand            string
	ChargeCategory       string
	SubscriptionInterval string
	AttemptNumber        int64
	ErrorMessage         string
	PaymentMethod        string
	TransactionDate      string
}

type ImportRow struct {
	ID         int64
	Source     string
	Records    int64
	ImportedAt string
}

const deleteTransactions = `DELETE FROM transactions`

func (q *Queries) DeleteTransactions(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, deleteTransactions)
	return err
}

const insertTransaction = `INSERT INTO transactions (
    transaction_status, invoice_id, user_id, processor, card_brand, charge_category,
    subscription_interval, attempt_number, error_message, payment_method, transaction_date
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

type InsertTransactionParams struct {
	TransactionStatus    string
	InvoiceID            string
	UserID               string
	Processor            string
	CardBrand            string
	ChargeCategory       string
	SubscriptionInterval string
	AttemptNumber        int64
	ErrorMessage         string
	PaymentMethod        string
	TransactionDate      string
}

func (q *Queries) InsertTransaction(ctx context.Context, arg InsertTransactionParams) error {
	_, err := q.db.ExecContext(ctx, insertTransaction,
		arg.TransactionStatus,
		arg.InvoiceID,
		arg.UserID,
		arg.Processor,
		arg.CardBrand,
		arg.ChargeCategory,
		arg.SubscriptionInterval,
		arg.AttemptNumber,
		arg.ErrorMessage,
		arg.PaymentMethod,
		arg.TransactionDate,
	)
	return err
}

const listTransactions = `SELECT id, transaction_status, invoice_id, user_id, processor, card_brand, charge_category,
    subscription_interval, attempt_number, error_message, payment_method, transaction_date
FROM transactions
ORDER BY id`

func (q *Queries) ListTransactions(ctx context.Context) ([]TransactionRow, error) {
	rows, err := q.db.QueryContext(ctx, listTransactions)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []TransactionRow
	for rows.Next() {
		var i TransactionRow
		if err := rows.Scan(
			&i.ID,
			&i.TransactionStatus,
			&i.InvoiceID,
			&i.UserID,
			&i.Processor,
			&i.CardBrand,
			&i.ChargeCategory,
			&i.SubscriptionInterval,
			&i.AttemptNumber,
			&i.ErrorMessage,
			&i.PaymentMethod,
			&i.TransactionDate,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countTransactions = `SELECT COUNT(*) FROM transactions`

func (q *Queries) CountTransactions(ctx context.Context) (int64, error) {
	row := q.db.QueryRowContext(ctx, countTransactions)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const deleteColumns = `DELETE FROM dataset_columns`

func (q *Queries) DeleteColumns(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, deleteColumns)
	return err
}

const insertColumn = `INSERT INTO dataset_columns (name) VALUES (?)`

func (q *Queries) InsertColumn(ctx context.Context, name string) error {
	_, err := q.db.ExecContext(ctx, insertColumn, name)
	return err
}

const listColumns = `SELECT name FROM dataset_columns ORDER BY name`

func (q *Queries) ListColumns(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listColumns)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		items = append(items, name)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const insertImport = `INSERT INTO imports (source, records, imported_at) VALUES (?, ?, ?)
RETURNING id, source, records, imported_at`

type InsertImportParams struct {
	Source     string
	Records    int64
	ImportedAt string
}

func (q *Queries) InsertImport(ctx context.Context, arg InsertImportParams) (ImportRow, error) {
	row := q.db.QueryRowContext(ctx, insertImport, arg.Source, arg.Records, arg.ImportedAt)
	var i ImportRow
	err := row.Scan(&i.ID, &i.Source, &i.Records, &i.ImportedAt)
	return i, err
}

const getLastImport = `SELECT id, source, records, imported_at FROM imports ORDER BY id DESC LIMIT 1`

func (q *Queries) GetLastImport(ctx context.Context) (ImportRow, error) {
	row := q.db.QueryRowContext(ctx, getLastImport)
	var i ImportRow
	err := row.Scan(&i.ID, &i.Source, &i.Records, &i.ImportedAt)
	return i, err
}
