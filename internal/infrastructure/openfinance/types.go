package openfinance

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Connector represents an institution the aggregator can connect to
type Connector struct {
	ID             int             `json:"id"`
	Name           string          `json:"name"`
	InstitutionURL string          `json:"institutionUrl"`
	ImageURL       string          `json:"imageUrl"`
	PrimaryColor   string          `json:"primaryColor"`
	Type           string          `json:"type"` // PERSONAL_BANK, BUSINESS_BANK, INVESTMENT
	Country        string          `json:"country"`
	HasMFA         bool            `json:"hasMFA"`
	Health         ConnectorHealth `json:"health"`
}

// ConnectorHealth is the aggregator's view of the institution's availability
type ConnectorHealth struct {
	Status string  `json:"status"` // ONLINE, OFFLINE, UNSTABLE
	Stage  *string `json:"stage"`
}

// ConnectorFilter narrows the connector listing
type ConnectorFilter struct {
	Types     []string
	Countries []string
	Name      string
}

// Item is the aggregator's record of one user-to-institution link
type Item struct {
	ID              string        `json:"id"`
	Connector       ItemConnector `json:"connector"`
	Status          string        `json:"status"`          // UPDATED, UPDATING, LOGIN_ERROR, OUTDATED
	ExecutionStatus string        `json:"executionStatus"` // SUCCESS, ERROR, PARTIAL_SUCCESS, MERGING
	CreatedAt       string        `json:"createdAt"`
	UpdatedAt       string        `json:"updatedAt"`
	LastUpdatedAt   *string       `json:"lastUpdatedAt"`
	Error           *ItemError    `json:"error,omitempty"`
	ClientUserID    string        `json:"clientUserId,omitempty"`
}

// ItemConnector is the connector summary embedded in an item
type ItemConnector struct {
	ID             int    `json:"id"`
	Name           string `json:"name"`
	InstitutionURL string `json:"institutionUrl"`
	ImageURL       string `json:"imageUrl"`
	PrimaryColor   string `json:"primaryColor"`
}

// ItemError carries the aggregator's last error for an item
type ItemError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// UpdateItemParams are the fields accepted by PATCH /items/{id}.
// An empty value asks the aggregator to refresh the item.
type UpdateItemParams struct {
	Credentials map[string]string `json:"credentials,omitempty"`
	WebhookURL  string            `json:"webhookUrl,omitempty"`
}

// Account represents an account from the aggregator
type Account struct {
	ID           string          `json:"id"`
	ItemID       string          `json:"itemId"`
	Type         string          `json:"type"`    // BANK, CREDIT
	Subtype      string          `json:"subtype"` // CHECKING_ACCOUNT, SAVINGS_ACCOUNT, CREDIT_CARD
	Number       string          `json:"number"`
	Name         string          `json:"name"`
	Balance      decimal.Decimal `json:"balance"`
	CurrencyCode string          `json:"currencyCode"`
	CreditData   *CreditData     `json:"creditData,omitempty"`
}

// CreditLimit returns the card limit, or nil for non-credit accounts
func (a *Account) CreditLimit() *decimal.Decimal {
	if a.CreditData == nil {
		return nil
	}
	return a.CreditData.CreditLimit
}

// CreditData represents credit card-specific account data
type CreditData struct {
	Level                string           `json:"level"`
	Brand                string           `json:"brand"`
	BalanceCloseDate     string           `json:"balanceCloseDate"`
	BalanceDueDate       string           `json:"balanceDueDate"`
	AvailableCreditLimit *decimal.Decimal `json:"availableCreditLimit"`
	MinimumPayment       *decimal.Decimal `json:"minimumPayment"`
	CreditLimit          *decimal.Decimal `json:"creditLimit"`
}

// Transaction represents a transaction from the aggregator
type Transaction struct {
	ID             string          `json:"id"`
	AccountID      string          `json:"accountId"`
	Description    string          `json:"description"`
	DescriptionRaw *string         `json:"descriptionRaw"`
	CurrencyCode   string          `json:"currencyCode"`
	Amount         decimal.Decimal `json:"amount"`
	DateString     string          `json:"date"` // ISO 8601
	Category       *string         `json:"category"`
	Type           string          `json:"type"`   // DEBIT or CREDIT
	Status         string          `json:"status"` // PENDING or POSTED
}

// GetDate parses and returns the transaction date
func (t *Transaction) GetDate() (time.Time, error) {
	if t.DateString == "" {
		return time.Time{}, fmt.Errorf("transaction %s has no date", t.ID)
	}
	parsed, err := time.Parse(time.RFC3339Nano, t.DateString)
	if err != nil {
		// Some institutions report a bare date
		parsed, err = time.Parse("2006-01-02", t.DateString)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to parse date '%s': %w", t.DateString, err)
		}
	}
	return parsed, nil
}

// IsCredit reports whether money flowed into the account
func (t *Transaction) IsCredit() bool {
	return strings.EqualFold(t.Type, "CREDIT")
}

// TransactionQuery selects one page of an account's transactions
type TransactionQuery struct {
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}

// TransactionPage is one page of GET /transactions
type TransactionPage struct {
	Results    []Transaction `json:"results"`
	Total      int           `json:"total"`
	TotalPages int           `json:"totalPages"`
	Page       int           `json:"page"`
}

// HasMore reports whether another page follows this one
func (p *TransactionPage) HasMore() bool {
	return p.Page < p.TotalPages
}

// ConnectToken is the short-lived token handed to the connect widget
type ConnectToken struct {
	AccessToken string `json:"accessToken"`
}

type listResponse[T any] struct {
	Results []T `json:"results"`
}
