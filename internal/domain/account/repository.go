package account

import "context"

// Repository defines the interface for account data access
// This interface is defined in the domain layer, but implemented in the infrastructure layer
type Repository interface {
	// Upsert creates or updates an account keyed by its external id
	Upsert(ctx context.Context, params UpsertParams) (*Account, error)

	// FindByExternalID returns ErrAccountNotFound when no account has the external id
	FindByExternalID(ctx context.Context, externalID string) (*Account, error)

	// ListByConnection retrieves all accounts of a connection
	ListByConnection(ctx context.Context, connectionID string) ([]*Account, error)

	// ListByUser retrieves the accounts of every connection owned by the user
	ListByUser(ctx context.Context, userID string) ([]*Account, error)
}
