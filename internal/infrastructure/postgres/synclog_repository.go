package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"nero/internal/domain/synclog"
)

// SyncLogRepository implements the synclog.Repository interface for PostgreSQL
type SyncLogRepository struct {
	db *DB
}

// NewSyncLogRepository creates a new PostgreSQL sync log repository
func NewSyncLogRepository(db *DB) *SyncLogRepository {
	return &SyncLogRepository{db: db}
}

func (r *SyncLogRepository) Start(ctx context.Context, connectionID string, syncType synclog.Type) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO sync_logs (connection_id, sync_type, status)
		VALUES ($1, $2, $3)
		RETURNING id`,
		connectionID, string(syncType), string(synclog.StatusStarted),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to start sync log: %w", err)
	}
	return id, nil
}

func (r *SyncLogRepository) Complete(ctx context.Context, id string, c synclog.Completion) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sync_logs
		SET status = $2,
			accounts_synced = $3,
			transactions_synced = $4,
			error_message = $5,
			completed_at = $6
		WHERE id = $1`,
		id, string(c.Status), c.AccountsSynced, c.TransactionsSynced,
		nullStringPtr(c.ErrorMessage), c.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to complete sync log: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return synclog.ErrLogNotFound
	}

	return nil
}

func (r *SyncLogRepository) ListByConnection(ctx context.Context, connectionID string, limit int) ([]*synclog.Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, connection_id, sync_type, status, accounts_synced, transactions_synced,
		       error_message, started_at, completed_at
		FROM sync_logs
		WHERE connection_id = $1
		ORDER BY started_at DESC
		LIMIT $2`,
		connectionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync logs: %w", err)
	}
	defer rows.Close()

	var entries []*synclog.Entry
	for rows.Next() {
		var e synclog.Entry
		var errorMessage sql.NullString
		var completedAt sql.NullTime

		err := rows.Scan(
			&e.ID, &e.ConnectionID, &e.SyncType, &e.Status, &e.AccountsSynced, &e.TransactionsSynced,
			&errorMessage, &e.StartedAt, &completedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}

		if errorMessage.Valid {
			e.ErrorMessage = &errorMessage.String
		}
		if completedAt.Valid {
			e.CompletedAt = &completedAt.Time
		}

		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync logs: %w", err)
	}

	return entries, nil
}
