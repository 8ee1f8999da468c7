package transaction

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Direction tells whether money entered or left the account
type Direction string

const (
	DirectionIncome  Direction = "income"
	DirectionExpense Direction = "expense"
)

// Status is the settlement state reported by the institution
type Status string

const (
	StatusPending Status = "pending"
	StatusPosted  Status = "posted"
)

// LedgerOrigin marks ledger rows created from synced transactions
const LedgerOrigin = "open_finance"

// Domain errors
var (
	ErrInvalidDirection = errors.New("invalid transaction direction")
	ErrInvalidStatus    = errors.New("invalid transaction status")
	ErrNegativeAmount   = errors.New("amount must be non-negative")
)

// Transaction is a synced transaction. Rows are created once and never updated by sync.
type Transaction struct {
	ID                 string          `json:"id"`
	AccountID          string          `json:"accountId"`
	ExternalID         string          `json:"externalId"` // aggregator transaction id, the dedup key
	Description        string          `json:"description"`
	Amount             decimal.Decimal `json:"amount"` // absolute value, see Direction
	Date               time.Time       `json:"date"`
	Direction          Direction       `json:"type"`
	Status             Status          `json:"status"`
	CategoryID         *string         `json:"categoryId,omitempty"`
	CategorySuggestion *string         `json:"categorySuggestion,omitempty"`
	CategoryConfidence *float64        `json:"categoryConfidence,omitempty"`
	SyncedAt           time.Time       `json:"syncedAt"`
	CreatedAt          time.Time       `json:"createdAt"`
}

// InsertParams describes a new synced transaction
type InsertParams struct {
	AccountID          string
	ExternalID         string
	Description        string
	Amount             decimal.Decimal
	Date               time.Time
	Direction          Direction
	Status             Status
	CategoryID         *string
	CategorySuggestion *string
	CategoryConfidence *float64
	SyncedAt           time.Time
}

// Validate validates the insert parameters
func (p InsertParams) Validate() error {
	if p.AccountID == "" {
		return errors.New("account ID is required")
	}
	if p.ExternalID == "" {
		return errors.New("external transaction ID is required")
	}
	if p.Amount.IsNegative() {
		return ErrNegativeAmount
	}
	if p.Date.IsZero() {
		return errors.New("transaction date is required")
	}
	if !p.Direction.Valid() {
		return ErrInvalidDirection
	}
	if !p.Status.Valid() {
		return ErrInvalidStatus
	}
	return nil
}

// LedgerEntryParams is a row for the user's main ledger, written when a synced
// transaction arrives already categorized.
type LedgerEntryParams struct {
	UserID      string
	CategoryID  string
	Description string
	Amount      decimal.Decimal
	Date        time.Time
	Direction   Direction
	Origin      string
	SourceID    string // synced transaction external id
}

// Valid reports whether d is a known direction
func (d Direction) Valid() bool {
	return d == DirectionIncome || d == DirectionExpense
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusPosted
}
