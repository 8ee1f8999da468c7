package synclog

import "context"

// Repository defines the interface for sync log persistence
type Repository interface {
	// Start records a started attempt and returns its id
	Start(ctx context.Context, connectionID string, syncType Type) (string, error)

	// Complete records the attempt's outcome
	Complete(ctx context.Context, id string, c Completion) error

	// ListByConnection returns the most recent attempts of a connection
	ListByConnection(ctx context.Context, connectionID string, limit int) ([]*Entry, error)
}
