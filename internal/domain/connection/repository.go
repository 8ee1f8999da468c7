package connection

import (
	"context"
	"time"
)

// Repository defines the interface for connection data access
// This interface is defined in the domain layer, but implemented in the infrastructure layer
type Repository interface {
	// FindByID returns the connection only if it belongs to userID, ErrNotFound otherwise
	FindByID(ctx context.Context, userID, connectionID string) (*Connection, error)

	// ListByUser returns the user's connections, newest first
	ListByUser(ctx context.Context, userID string) ([]*Connection, error)

	// ListForSweep returns connections in the given statuses, least recently synced first
	// (never-synced connections lead). limit <= 0 means no limit.
	ListForSweep(ctx context.Context, statuses []Status, limit int) ([]*Connection, error)

	// ListStale returns updated connections whose last sync is older than syncedBefore
	ListStale(ctx context.Context, syncedBefore time.Time, limit int) ([]*Connection, error)

	// Upsert creates the connection for (user, item) or refreshes its connector fields.
	// created reports whether a new row was inserted.
	Upsert(ctx context.Context, params UpsertParams) (conn *Connection, created bool, err error)

	// UpdateStatus records the outcome of a sync attempt
	UpdateStatus(ctx context.Context, connectionID string, update StatusUpdate) error

	// Delete removes the connection with its accounts and transactions
	Delete(ctx context.Context, userID, connectionID string) error
}
