package openfinance

import (
	"fmt"
	"strings"
	"time"

	"nero/internal/domain/account"
	"nero/internal/domain/category"
	"nero/internal/domain/transaction"
	ofclient "nero/internal/infrastructure/openfinance"
)

// accountParams maps an aggregator account onto the local upsert parameters.
// Subtypes we do not know are stored empty rather than rejecting the account.
func accountParams(connectionID string, a ofclient.Account) account.UpsertParams {
	subtype := strings.ToUpper(a.Subtype)
	if !account.IsValidAccountSubtype(subtype) {
		subtype = ""
	}
	// A blank currency falls back to BRL in account.Service.
	currency := strings.ToUpper(strings.TrimSpace(a.CurrencyCode))
	if !account.IsValidCurrency(currency) {
		currency = ""
	}
	return account.UpsertParams{
		ConnectionID: connectionID,
		ExternalID:   a.ID,
		AccountType:  strings.ToUpper(a.Type),
		Subtype:      subtype,
		Number:       a.Number,
		Name:         a.Name,
		Currency:     currency,
		Balance:      a.Balance,
		CreditLimit:  a.CreditLimit(),
	}
}

// direction maps the aggregator's CREDIT/DEBIT type. Anything but CREDIT is an expense.
func direction(tx ofclient.Transaction) transaction.Direction {
	if tx.IsCredit() {
		return transaction.DirectionIncome
	}
	return transaction.DirectionExpense
}

func transactionStatus(raw string) (transaction.Status, error) {
	if strings.TrimSpace(raw) == "" {
		return transaction.StatusPosted, nil
	}
	status := transaction.Status(strings.ToLower(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", fmt.Errorf("%w: %q", transaction.ErrInvalidStatus, raw)
	}
	return status, nil
}

func categoryInput(tx ofclient.Transaction) category.Input {
	kind := category.KindExpense
	if tx.IsCredit() {
		kind = category.KindIncome
	}
	return category.Input{
		Description: tx.Description,
		Amount:      tx.Amount.Abs(),
		Kind:        kind,
	}
}

// transactionParams normalizes an aggregator transaction for insertion.
// suggestion is only applied when it clears the confidence threshold.
func transactionParams(accountID string, tx ofclient.Transaction, suggestion *category.Suggestion, syncedAt time.Time) (transaction.InsertParams, error) {
	date, err := tx.GetDate()
	if err != nil {
		return transaction.InsertParams{}, err
	}

	status, err := transactionStatus(tx.Status)
	if err != nil {
		return transaction.InsertParams{}, err
	}

	params := transaction.InsertParams{
		AccountID:   accountID,
		ExternalID:  tx.ID,
		Description: tx.Description,
		Amount:      tx.Amount.Abs(),
		Date:        date,
		Direction:   direction(tx),
		Status:      status,
		SyncedAt:    syncedAt,
	}

	if suggestion.Accepted() && suggestion.CategoryID != "" {
		categoryID := suggestion.CategoryID
		name := suggestion.Name
		confidence := suggestion.Confidence
		params.CategoryID = &categoryID
		params.CategorySuggestion = &name
		params.CategoryConfidence = &confidence
	}

	if err := params.Validate(); err != nil {
		return transaction.InsertParams{}, err
	}
	return params, nil
}

// ledgerEntry builds the main-ledger row for a categorized transaction
func ledgerEntry(userID string, params transaction.InsertParams) transaction.LedgerEntryParams {
	return transaction.LedgerEntryParams{
		UserID:      userID,
		CategoryID:  *params.CategoryID,
		Description: params.Description,
		Amount:      params.Amount,
		Date:        params.Date,
		Direction:   params.Direction,
		Origin:      transaction.LedgerOrigin,
		SourceID:    params.ExternalID,
	}
}
