package transaction

import "context"

// Repository defines the interface for synced transaction data access
type Repository interface {
	// ExistsByExternalID reports whether a transaction with the aggregator id is already stored
	ExistsByExternalID(ctx context.Context, externalID string) (bool, error)

	// InsertIfAbsent stores the transaction unless its external id already exists.
	// inserted is false when another writer got there first.
	InsertIfAbsent(ctx context.Context, params InsertParams) (inserted bool, err error)

	// InsertLedgerEntry writes a row to the user's main transactions ledger
	InsertLedgerEntry(ctx context.Context, params LedgerEntryParams) error

	// ListByAccount returns an account's transactions, newest first
	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*Transaction, error)
}
