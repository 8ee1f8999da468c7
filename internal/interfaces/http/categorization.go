package http

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"nero/internal/domain/category"
	"nero/internal/shared/middleware"
)

const (
	maxBatchSize        = 50
	batchParallelism    = 4
	classifierErrorText = "Failed to categorize transaction"
)

// Categorizer suggests a category among the user's categories
type Categorizer interface {
	Classify(ctx context.Context, userID string, input category.Input) (*category.Suggestion, error)
}

type CategorizationHandler struct {
	categorizer Categorizer
}

// NewCategorizationHandler creates the handler. A nil categorizer answers 503.
func NewCategorizationHandler(categorizer Categorizer) *CategorizationHandler {
	return &CategorizationHandler{categorizer: categorizer}
}

type CategorizeRequest struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Type        category.Kind   `json:"type"`
}

func (r CategorizeRequest) validate() string {
	if strings.TrimSpace(r.Description) == "" {
		return "description is required"
	}
	if r.Amount.IsZero() {
		return "amount is required"
	}
	if r.Type != category.KindIncome && r.Type != category.KindExpense {
		return `type must be "income" or "expense"`
	}
	return ""
}

func (r CategorizeRequest) input() category.Input {
	return category.Input{Description: r.Description, Amount: r.Amount.Abs(), Kind: r.Type}
}

type CategorizeBatchRequest struct {
	Transactions []CategorizeRequest `json:"transactions"`
}

// CategorySuggestion is the classifier's answer. CategoryID and Category are
// only set when the confidence reaches category.MinConfidence, the same
// threshold sync uses before storing a category.
type CategorySuggestion struct {
	CategoryID *string `json:"categoryId"`
	Category   *string `json:"category"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// BatchItem is one transaction's outcome. A failed item does not fail the batch.
type BatchItem struct {
	Index      int                 `json:"index"`
	Suggestion *CategorySuggestion `json:"suggestion,omitempty"`
	Error      string              `json:"error,omitempty"`
}

func toSuggestion(s *category.Suggestion) *CategorySuggestion {
	out := &CategorySuggestion{}
	if s == nil {
		return out
	}
	out.Confidence = s.Confidence
	out.Reasoning = s.Reasoning
	if s.Accepted() {
		out.CategoryID = &s.CategoryID
		out.Category = &s.Name
	}
	return out
}

// HandleCategorizeTransaction handles POST /api/ai/categorize-transaction
func (h *CategorizationHandler) HandleCategorizeTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var req CategorizeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg, "")
		return
	}

	suggestion, err := h.categorizer.Classify(r.Context(), userID, req.input())
	if err != nil {
		log.Printf("Error categorizing transaction for user %s: %v", userID, err)
		writeError(w, http.StatusBadGateway, classifierErrorText, "")
		return
	}
	writeData(w, http.StatusOK, toSuggestion(suggestion))
}

// HandleCategorizeBatch handles POST /api/ai/categorize-batch. Items are
// classified concurrently, at most batchParallelism at a time, and answered in
// request order.
func (h *CategorizationHandler) HandleCategorizeBatch(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var req CategorizeBatchRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "")
		return
	}
	if len(req.Transactions) == 0 {
		writeError(w, http.StatusBadRequest, "transactions must be a non-empty array", "")
		return
	}
	if len(req.Transactions) > maxBatchSize {
		writeError(w, http.StatusBadRequest, "too many transactions", "at most 50 per request")
		return
	}

	items := make([]BatchItem, len(req.Transactions))
	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(batchParallelism)
	for i, tx := range req.Transactions {
		items[i].Index = i
		if msg := tx.validate(); msg != "" {
			items[i].Error = msg
			continue
		}
		g.Go(func() error {
			suggestion, err := h.categorizer.Classify(ctx, userID, tx.input())
			if err != nil {
				log.Printf("Error categorizing batch item %d for user %s: %v", i, userID, err)
				items[i].Error = classifierErrorText
				return nil
			}
			items[i].Suggestion = toSuggestion(suggestion)
			return nil
		})
	}
	g.Wait()

	writeList(w, items)
}

func (h *CategorizationHandler) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User not authenticated", "")
		return "", false
	}
	if h.categorizer == nil {
		writeError(w, http.StatusServiceUnavailable, "Categorization is not configured", "")
		return "", false
	}
	return userID, true
}
