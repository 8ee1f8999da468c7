package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"nero/internal/domain/account"
)

const accountColumns = `a.id, a.connection_id, a.external_id, a.account_type, a.subtype, a.number, a.name,
		a.currency, a.balance, a.credit_limit, a.created_at, a.updated_at`

// AccountRepository implements the account.Repository interface for PostgreSQL
type AccountRepository struct {
	db *DB
}

// NewAccountRepository creates a new PostgreSQL account repository
func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func scanAccount(row rowScanner) (*account.Account, error) {
	var acc account.Account
	var subtype, number sql.NullString
	var creditLimit decimal.NullDecimal

	err := row.Scan(
		&acc.ID, &acc.ConnectionID, &acc.ExternalID, &acc.AccountType, &subtype, &number, &acc.Name,
		&acc.Currency, &acc.Balance, &creditLimit, &acc.CreatedAt, &acc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if subtype.Valid {
		acc.Subtype = subtype.String
	}
	if number.Valid {
		acc.Number = number.String
	}
	if creditLimit.Valid {
		acc.CreditLimit = &creditLimit.Decimal
	}
	return &acc, nil
}

// Upsert creates an account or, when the external id is already known, refreshes
// its balance and credit limit
func (r *AccountRepository) Upsert(ctx context.Context, params account.UpsertParams) (*account.Account, error) {
	query := `
		INSERT INTO bank_accounts AS a (
			id, connection_id, external_id, account_type, subtype, number, name, currency, balance, credit_limit
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (external_id) DO UPDATE SET
			balance = EXCLUDED.balance,
			credit_limit = EXCLUDED.credit_limit,
			updated_at = NOW()
		RETURNING ` + accountColumns

	var creditLimit decimal.NullDecimal
	if params.CreditLimit != nil {
		creditLimit = decimal.NewNullDecimal(*params.CreditLimit)
	}

	acc, err := scanAccount(r.db.QueryRowContext(ctx, query,
		uuid.NewString(), params.ConnectionID, params.ExternalID, params.AccountType,
		nullString(params.Subtype), nullString(params.Number), params.Name, params.Currency,
		params.Balance, creditLimit,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert account: %w", err)
	}

	return acc, nil
}

func (r *AccountRepository) FindByExternalID(ctx context.Context, externalID string) (*account.Account, error) {
	query := `SELECT ` + accountColumns + `
		FROM bank_accounts a
		WHERE a.external_id = $1`

	acc, err := scanAccount(r.db.QueryRowContext(ctx, query, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, account.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acc, nil
}

func (r *AccountRepository) ListByConnection(ctx context.Context, connectionID string) ([]*account.Account, error) {
	query := `SELECT ` + accountColumns + `
		FROM bank_accounts a
		WHERE a.connection_id = $1
		ORDER BY a.created_at`

	return r.list(ctx, query, connectionID)
}

func (r *AccountRepository) ListByUser(ctx context.Context, userID string) ([]*account.Account, error) {
	query := `SELECT ` + accountColumns + `
		FROM bank_accounts a
		JOIN bank_connections c ON c.id = a.connection_id
		WHERE c.user_id = $1
		ORDER BY c.created_at DESC, a.created_at`

	return r.list(ctx, query, userID)
}

func (r *AccountRepository) list(ctx context.Context, query string, args ...any) ([]*account.Account, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*account.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, acc)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	return accounts, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
