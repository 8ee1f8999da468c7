package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"nero/internal/domain/category"
)

// CategoryRepository implements the category.Repository interface for PostgreSQL
type CategoryRepository struct {
	db *DB
}

// NewCategoryRepository creates a new PostgreSQL category repository
func NewCategoryRepository(db *DB) *CategoryRepository {
	return &CategoryRepository{db: db}
}

// ListForUser returns the user's own categories before the defaults, so a user
// category shadows a default with the same name
func (r *CategoryRepository) ListForUser(ctx context.Context, userID string) ([]*category.Category, error) {
	query := `
		SELECT id, user_id, name, type
		FROM categories
		WHERE user_id IS NULL OR user_id = $1
		ORDER BY (user_id IS NULL), name
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var categories []*category.Category
	for rows.Next() {
		var c category.Category
		var owner sql.NullString

		if err := rows.Scan(&c.ID, &owner, &c.Name, &c.Kind); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		if owner.Valid {
			c.UserID = &owner.String
		}

		categories = append(categories, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating categories: %w", err)
	}

	return categories, nil
}
