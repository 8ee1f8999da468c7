package category

import "context"

// Repository defines the interface for category data access
type Repository interface {
	// ListForUser returns the default categories plus the user's own
	ListForUser(ctx context.Context, userID string) ([]*Category, error)
}
