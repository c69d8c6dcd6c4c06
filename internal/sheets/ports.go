package sheets

import (
	"context"

	"payinsights/internal/dataset"
)

// Ports for inbound data adapters.
type (
	// TransactionSource loads the full transaction extract.
	TransactionSource interface {
		LoadDataset(ctx context.Context) (*dataset.Dataset, error)
	}

	// TableSource provides the pre-aggregated side tables, keyed by name.
	TableSource interface {
		Tables(ctx context.Context) (map[string]dataset.Table, error)
	}

	// Source is what the hosts consume: transactions plus side tables.
	Source interface {
		TransactionSource
		TableSource
	}
)

// Combine pairs a transaction source with a separate table source.
func Combine(tx TransactionSource, tables TableSource) Source {
	return combined{TransactionSource: tx, TableSource: tables}
}

type combined struct {
	TransactionSource
	TableSource
}
