package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"nero/internal/domain/transaction"
)

// TransactionRepository implements the transaction.Repository interface for PostgreSQL
type TransactionRepository struct {
	db *DB
}

// NewTransactionRepository creates a new PostgreSQL transaction repository
func NewTransactionRepository(db *DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) ExistsByExternalID(ctx context.Context, externalID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM synced_transactions WHERE external_id = $1)`,
		externalID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check transaction existence: %w", err)
	}
	return exists, nil
}

// InsertIfAbsent relies on the unique external_id so two concurrent syncs of the
// same item cannot both insert a row
func (r *TransactionRepository) InsertIfAbsent(ctx context.Context, params transaction.InsertParams) (bool, error) {
	query := `
		INSERT INTO synced_transactions (
			id, account_id, external_id, description, amount, date, type, status,
			category_id, category_suggestion, category_confidence, synced_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (external_id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		uuid.NewString(), params.AccountID, params.ExternalID, params.Description, params.Amount,
		params.Date, string(params.Direction), string(params.Status),
		nullStringPtr(params.CategoryID), nullStringPtr(params.CategorySuggestion),
		nullFloatPtr(params.CategoryConfidence), params.SyncedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert transaction: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

func (r *TransactionRepository) InsertLedgerEntry(ctx context.Context, params transaction.LedgerEntryParams) error {
	query := `
		INSERT INTO transactions (user_id, category_id, description, amount, type, date, origin, source_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (origin, source_id) WHERE source_id IS NOT NULL DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query,
		params.UserID, params.CategoryID, params.Description, params.Amount,
		string(params.Direction), params.Date, params.Origin, nullString(params.SourceID),
	)
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return nil
}

func (r *TransactionRepository) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*transaction.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, account_id, external_id, description, amount, date, type, status,
		       category_id, category_suggestion, category_confidence, synced_at, created_at
		FROM synced_transactions
		WHERE account_id = $1
		ORDER BY date DESC, created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*transaction.Transaction
	for rows.Next() {
		var txn transaction.Transaction
		var categoryID, suggestion sql.NullString
		var confidence sql.NullFloat64

		err := rows.Scan(
			&txn.ID, &txn.AccountID, &txn.ExternalID, &txn.Description, &txn.Amount, &txn.Date,
			&txn.Direction, &txn.Status, &categoryID, &suggestion, &confidence,
			&txn.SyncedAt, &txn.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}

		if categoryID.Valid {
			txn.CategoryID = &categoryID.String
		}
		if suggestion.Valid {
			txn.CategorySuggestion = &suggestion.String
		}
		if confidence.Valid {
			txn.CategoryConfidence = &confidence.Float64
		}

		transactions = append(transactions, &txn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return transactions, nil
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullFloatPtr(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
