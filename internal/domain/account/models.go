package account

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// Allowed account types and subtypes for validation (from the aggregator API)
	accountTypes = map[string]struct{}{
		"BANK":       {},
		"CREDIT":     {},
		"INVESTMENT": {},
	}
	accountSubtypes = map[string]struct{}{
		"CHECKING_ACCOUNT": {},
		"SAVINGS_ACCOUNT":  {},
		"CREDIT_CARD":      {},
	}
)

// Domain errors
var (
	ErrInvalidAccountType    = errors.New("invalid account type")
	ErrInvalidAccountSubtype = errors.New("invalid account subtype")
	ErrAccountNotFound       = errors.New("account not found")
	ErrInvalidInput          = errors.New("invalid input")
	ErrInvalidCurrency       = errors.New("valid ISO 4217 currency is required")
)

// Account is a bank or card account mirrored from the aggregator
type Account struct {
	ID           string           `json:"id"`
	ConnectionID string           `json:"connectionId"`
	ExternalID   string           `json:"externalId"` // aggregator account id, globally unique
	AccountType  string           `json:"accountType"`
	Subtype      string           `json:"subtype"`
	Number       string           `json:"number"`
	Name         string           `json:"name"`
	Currency     string           `json:"currency"`
	Balance      decimal.Decimal  `json:"balance"`
	CreditLimit  *decimal.Decimal `json:"creditLimit,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// UpsertParams contains parameters for upserting an account by its external id.
// On conflict only Balance, CreditLimit and the update time change.
type UpsertParams struct {
	ConnectionID string
	ExternalID   string
	AccountType  string
	Subtype      string
	Number       string
	Name         string
	Currency     string
	Balance      decimal.Decimal
	CreditLimit  *decimal.Decimal
}

// Validate validates the upsert parameters
func (p UpsertParams) Validate() error {
	if p.ConnectionID == "" {
		return errors.New("connection ID is required for upsert")
	}
	if p.ExternalID == "" {
		return errors.New("external account ID is required for upsert")
	}
	if p.AccountType == "" {
		return errors.New("account type is required")
	}
	if !IsValidAccountType(p.AccountType) {
		return ErrInvalidAccountType
	}
	if p.Subtype != "" && !IsValidAccountSubtype(p.Subtype) {
		return ErrInvalidAccountSubtype
	}
	if p.Currency == "" || !IsValidCurrency(p.Currency) {
		return ErrInvalidCurrency
	}
	return nil
}

// IsValidAccountType checks if the provided account type is valid.
func IsValidAccountType(t string) bool {
	_, ok := accountTypes[t]
	return ok
}

// IsValidAccountSubtype checks if the provided subtype is valid.
func IsValidAccountSubtype(s string) bool {
	_, ok := accountSubtypes[s]
	return ok
}

// IsValidCurrency reports whether c has the shape of an ISO 4217 code: three
// uppercase ASCII letters. The aggregator decides which codes exist.
func IsValidCurrency(c string) bool {
	if len(c) != 3 {
		return false
	}
	for i := 0; i < len(c); i++ {
		if c[i] < 'A' || c[i] > 'Z' {
			return false
		}
	}
	return true
}
