package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"nero/internal/domain/connection"
)

const connectionColumns = `id, user_id, item_id, connector_id, connector_name, connector_image_url,
		status, last_sync_at, error_message, created_at, updated_at`

// ConnectionRepository implements the connection.Repository interface for PostgreSQL
type ConnectionRepository struct {
	db *DB
}

// NewConnectionRepository creates a new PostgreSQL connection repository
func NewConnectionRepository(db *DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

// rowScanner is satisfied by both *sql.Rows and *tracedRow
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row rowScanner, extra ...any) (*connection.Connection, error) {
	var c connection.Connection
	var lastSyncAt sql.NullTime
	var errorMessage sql.NullString

	dest := []any{
		&c.ID, &c.UserID, &c.ItemID, &c.ConnectorID, &c.ConnectorName, &c.ConnectorImageURL,
		&c.Status, &lastSyncAt, &errorMessage, &c.CreatedAt, &c.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	if lastSyncAt.Valid {
		c.LastSyncAt = &lastSyncAt.Time
	}
	if errorMessage.Valid {
		c.ErrorMessage = &errorMessage.String
	}
	return &c, nil
}

func (r *ConnectionRepository) FindByID(ctx context.Context, userID, connectionID string) (*connection.Connection, error) {
	// A malformed id can never match and would otherwise surface as a cast error
	if _, err := uuid.Parse(connectionID); err != nil {
		return nil, connection.ErrNotFound
	}

	query := `SELECT ` + connectionColumns + `
		FROM bank_connections
		WHERE id = $1 AND user_id = $2`

	c, err := scanConnection(r.db.QueryRowContext(ctx, query, connectionID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, connection.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return c, nil
}

func (r *ConnectionRepository) ListByUser(ctx context.Context, userID string) ([]*connection.Connection, error) {
	query := `SELECT ` + connectionColumns + `
		FROM bank_connections
		WHERE user_id = $1
		ORDER BY created_at DESC`

	return r.list(ctx, query, userID)
}

func (r *ConnectionRepository) ListForSweep(ctx context.Context, statuses []connection.Status, limit int) ([]*connection.Connection, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	// LIMIT NULL is the same as no limit
	var lim any
	if limit > 0 {
		lim = limit
	}

	query := `SELECT ` + connectionColumns + `
		FROM bank_connections
		WHERE status = ANY($1)
		ORDER BY last_sync_at ASC NULLS FIRST, created_at ASC
		LIMIT $2`

	return r.list(ctx, query, pq.Array(names), lim)
}

func (r *ConnectionRepository) ListStale(ctx context.Context, syncedBefore time.Time, limit int) ([]*connection.Connection, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}

	query := `SELECT ` + connectionColumns + `
		FROM bank_connections
		WHERE status = $1 AND (last_sync_at IS NULL OR last_sync_at < $2)
		ORDER BY last_sync_at ASC NULLS FIRST
		LIMIT $3`

	return r.list(ctx, query, string(connection.StatusUpdated), syncedBefore, lim)
}

func (r *ConnectionRepository) list(ctx context.Context, query string, args ...any) ([]*connection.Connection, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var connections []*connection.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		connections = append(connections, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}

	return connections, nil
}

func (r *ConnectionRepository) Upsert(ctx context.Context, params connection.UpsertParams) (*connection.Connection, bool, error) {
	// xmax is zero only for a freshly inserted tuple
	query := `
		INSERT INTO bank_connections (id, user_id, item_id, connector_id, connector_name, connector_image_url, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, item_id) DO UPDATE SET
			connector_id = EXCLUDED.connector_id,
			connector_name = EXCLUDED.connector_name,
			connector_image_url = EXCLUDED.connector_image_url,
			updated_at = NOW()
		RETURNING ` + connectionColumns + `, (xmax = 0) AS created`

	var created bool
	c, err := scanConnection(r.db.QueryRowContext(ctx, query,
		uuid.NewString(), params.UserID, params.ItemID, params.ConnectorID,
		params.ConnectorName, params.ConnectorImageURL, string(params.Status),
	), &created)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert connection: %w", err)
	}

	return c, created, nil
}

func (r *ConnectionRepository) UpdateStatus(ctx context.Context, connectionID string, update connection.StatusUpdate) error {
	var lastSyncAt sql.NullTime
	if update.LastSyncAt != nil {
		lastSyncAt = sql.NullTime{Time: *update.LastSyncAt, Valid: true}
	}
	var errorMessage sql.NullString
	if update.ErrorMessage != nil {
		errorMessage = sql.NullString{String: *update.ErrorMessage, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE bank_connections
		SET status = $2,
			last_sync_at = COALESCE($3, last_sync_at),
			error_message = $4,
			updated_at = NOW()
		WHERE id = $1`,
		connectionID, string(update.Status), lastSyncAt, errorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to update connection status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return connection.ErrNotFound
	}

	return nil
}

func (r *ConnectionRepository) Delete(ctx context.Context, userID, connectionID string) error {
	if _, err := uuid.Parse(connectionID); err != nil {
		return connection.ErrNotFound
	}

	result, err := r.db.ExecContext(ctx,
		`DELETE FROM bank_connections WHERE id = $1 AND user_id = $2`,
		connectionID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return connection.ErrNotFound
	}

	return nil
}
