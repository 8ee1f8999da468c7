// Package category holds the categories used to label synced transactions and
// the suggestion produced by the classifier.
package category

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// MinConfidence is the lowest classifier confidence accepted as a category
const MinConfidence = 0.6

// Kind tells whether a category applies to income or expenses
type Kind string

const (
	KindIncome  Kind = "income"
	KindExpense Kind = "expense"
)

var ErrCategoryNotFound = errors.New("category not found")

// Category is a transaction category. Defaults have no owning user.
type Category struct {
	ID     string  `json:"id"`
	UserID *string `json:"userId,omitempty"`
	Name   string  `json:"name"`
	Kind   Kind    `json:"type"`
}

// Input is what the classifier sees of a transaction
type Input struct {
	Description string
	Amount      decimal.Decimal
	Kind        Kind
}

// Suggestion is a classifier's proposed category
type Suggestion struct {
	CategoryID string
	Name       string
	Confidence float64
	Reasoning  string
}

// Accepted reports whether the suggestion is confident enough to be stored.
// A nil suggestion is never accepted.
func (s *Suggestion) Accepted() bool {
	return s != nil && s.Confidence >= MinConfidence
}

// ResolveName finds the category whose name matches, ignoring case and surrounding
// space. When kind is set, categories of the other kind are skipped.
func ResolveName(categories []*Category, name string, kind Kind) *Category {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	for _, c := range categories {
		if kind != "" && c.Kind != "" && c.Kind != kind {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(c.Name), name) {
			return c
		}
	}
	return nil
}

// FilterKind returns the categories usable for kind
func FilterKind(categories []*Category, kind Kind) []*Category {
	if kind == "" {
		return categories
	}
	out := make([]*Category, 0, len(categories))
	for _, c := range categories {
		if c.Kind == "" || c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}
