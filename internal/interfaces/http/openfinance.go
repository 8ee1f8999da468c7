package http

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"nero/internal/domain/account"
	"nero/internal/domain/connection"
	"nero/internal/domain/openfinance"
	"nero/internal/domain/synclog"
	"nero/internal/domain/transaction"
	ofclient "nero/internal/infrastructure/openfinance"
	"nero/internal/interfaces/scheduler"
	"nero/internal/shared/middleware"
)

const (
	syncLogLimit           = 20
	defaultTransactionPage = 50
	maxTransactionPage     = 500
)

// ConnectionManager links, lists and removes a user's connections
type ConnectionManager interface {
	CreateConnectToken(ctx context.Context, userID string) (*ofclient.ConnectToken, error)
	ListConnectors(ctx context.Context, filter ofclient.ConnectorFilter) ([]ofclient.Connector, error)
	LinkConnection(ctx context.Context, userID, itemID string) (*openfinance.LinkResult, error)
	ListConnections(ctx context.Context, userID string) ([]*connection.Connection, error)
	GetConnection(ctx context.Context, userID, connectionID string) (*openfinance.ConnectionDetail, error)
	ListAccounts(ctx context.Context, userID string) ([]*account.Account, error)
	DeleteConnection(ctx context.Context, userID, connectionID string) error
}

// OnDemandSyncer runs a sync the user asked for
type OnDemandSyncer interface {
	SyncOne(ctx context.Context, userID, connectionID string) (*openfinance.SyncRun, error)
}

type OpenFinanceHandler struct {
	connections  ConnectionManager
	syncer       OnDemandSyncer
	transactions transaction.Repository
	logs         synclog.Repository
}

func NewOpenFinanceHandler(connections ConnectionManager, syncer OnDemandSyncer, transactions transaction.Repository, logs synclog.Repository) *OpenFinanceHandler {
	return &OpenFinanceHandler{
		connections:  connections,
		syncer:       syncer,
		transactions: transactions,
		logs:         logs,
	}
}

type CreateConnectionRequest struct {
	ItemID string `json:"itemId"`
}

// LinkResponse is returned after linking an item
type LinkResponse struct {
	Connection *connection.Connection `json:"connection"`
	Sync       *openfinance.SyncRun   `json:"sync,omitempty"`
}

// HandleConnectToken handles GET /api/open-finance/connect-token
func (h *OpenFinanceHandler) HandleConnectToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User not authenticated", "")
		return
	}

	token, err := h.connections.CreateConnectToken(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, "Failed to create connect token", err)
		return
	}
	writeData(w, http.StatusOK, token)
}

// HandleConnectors handles GET /api/open-finance/connectors?name=&types=&countries=
func (h *OpenFinanceHandler) HandleConnectors(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := ofclient.ConnectorFilter{
		Types:     splitQuery(query["types"]),
		Countries: splitQuery(query["countries"]),
		Name:      strings.TrimSpace(query.Get("name")),
	}

	connectors, err := h.connections.ListConnectors(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, "Failed to fetch connectors", err)
		return
	}
	writeList(w, connectors)
}

// HandleListConnections handles GET /api/open-finance/connections
func (h *OpenFinanceHandler) HandleListConnections(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User not authenticated", "")
		return
	}

	conns, err := h.connections.ListConnections(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, "Failed to fetch connections", err)
		return
	}
	writeList(w, conns)
}

// HandleCreateConnection handles POST /api/open-finance/connections. A new link
// answers 201 and includes the initial sync; relinking an item answers 200.
func (h *OpenFinanceHandler) HandleCreateConnection(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User not authenticated", "")
		return
	}

	var req CreateConnectionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation error", "invalid request body")
		return
	}
	if strings.TrimSpace(req.ItemID) == "" {
		writeError(w, http.StatusBadRequest, "Validation error", "itemId is required")
		return
	}

	result, err := h.connections.LinkConnection(r.Context(), userID, strings.TrimSpace(req.ItemID))
	if err != nil {
		h.writeServiceError(w, "Failed to create connection", err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, Response{
		Success: true,
		Data:    LinkResponse{Connection: result.Connection, Sync: result.Run},
		Message: "Bank connection created successfully",
	})
}

// HandleGetConnection handles GET /api/open-finance/connections/{id}
func (h *OpenFinanceHandler) HandleGetConnection(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User not authenticated", "")
		return
	}

	detail, err := h.connections.GetConnection(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, "Failed to fetch connection", err)
		return
	}
	writeData(w, http.StatusOK, detail)
}

// HandleSyncConnection handles POST /api/open-finance/connections/{id}/sync.
// A sync that ran but failed answers 502 with the run in the body.
func (h *OpenFinanceHandler) HandleSyncConnection(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User not authenticated", "")
		return
	}

	run, err := h.syncer.SyncOne(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		if run != nil && errors.Is(err, openfinance.ErrSyncFailed) {
			log.Printf("User %s: on-demand sync of %s failed: %v", userID, run.ConnectionID, err)
			writeJSON(w, http.StatusBadGateway, Response{Success: false, Data: run, Message: err.Error()})
			return
		}
		h.writeServiceError(w, "Failed to sync connection", err)
		return
	}

	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    run,
		Message: fmt.Sprintf("Synced %d accounts and %d transactions", run.Accounts, run.NewTransactions),
	})
}

// HandleSyncLogs handles GET /api/open-finance/connections/{id}/sync-logs
func (h *OpenFinanceHandler) HandleSyncLogs(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User not authenticated", "")
		return
	}

	detail, err := h.connections.GetConnection(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, "Failed to fetch sync logs", err)
		return
	}

	entries, err := h.logs.ListByConnection(r.Context(), detail.Connection.ID, syncLogLimit)
	if err != nil {
		h.writeServiceError(w, "Failed to fetch sync logs", err)
		return
	}
	writeList(w, entries)
}

// HandleDeleteConnection handles DELETE /api/open-finance/connections/{id}
func (h *OpenFinanceHandler) HandleDeleteConnection(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User not authenticated", "")
		return
	}

	if err := h.connections.DeleteConnection(r.Context(), userID, r.PathValue("id")); err != nil {
		h.writeServiceError(w, "Failed to delete connection", err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "Bank connection deleted successfully"})
}

// HandleListAccounts handles GET /api/open-finance/accounts
func (h *OpenFinanceHandler) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User not authenticated", "")
		return
	}

	accounts, err := h.connections.ListAccounts(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, "Failed to fetch accounts", err)
		return
	}
	writeList(w, accounts)
}

// HandleAccountTransactions handles GET /api/open-finance/accounts/{id}/transactions?limit=&offset=
func (h *OpenFinanceHandler) HandleAccountTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User not authenticated", "")
		return
	}

	limit, offset, err := pagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Validation error", err.Error())
		return
	}

	accounts, err := h.connections.ListAccounts(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, "Failed to fetch transactions", err)
		return
	}
	accountID := r.PathValue("id")
	owned := false
	for _, acc := range accounts {
		if acc.ID == accountID {
			owned = true
			break
		}
	}
	if !owned {
		writeError(w, http.StatusNotFound, "Account not found", "")
		return
	}

	txs, err := h.transactions.ListByAccount(r.Context(), accountID, limit, offset)
	if err != nil {
		h.writeServiceError(w, "Failed to fetch transactions", err)
		return
	}
	writeList(w, txs)
}

// writeServiceError maps domain errors to status codes. Anything unknown is a 500.
func (h *OpenFinanceHandler) writeServiceError(w http.ResponseWriter, errText string, err error) {
	switch {
	case errors.Is(err, scheduler.ErrValidation),
		errors.Is(err, connection.ErrInvalidInput),
		errors.Is(err, account.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "Validation error", err.Error())
	case errors.Is(err, connection.ErrNotFound):
		writeError(w, http.StatusNotFound, "Connection not found", "")
	case errors.Is(err, ofclient.ErrNotFound):
		writeError(w, http.StatusNotFound, errText, "item not found at the aggregator")
	case errors.Is(err, ofclient.ErrAuth),
		errors.Is(err, ofclient.ErrUnauthorized),
		errors.Is(err, ofclient.ErrRateLimited),
		errors.Is(err, ofclient.ErrServerError),
		errors.Is(err, ofclient.ErrNetwork):
		log.Printf("%s: %v", errText, err)
		writeError(w, http.StatusBadGateway, errText, "open finance provider unavailable")
	default:
		log.Printf("%s: %v", errText, err)
		writeError(w, http.StatusInternalServerError, errText, err.Error())
	}
}

// splitQuery accepts both repeated parameters and comma-separated values
func splitQuery(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func pagination(r *http.Request) (limit, offset int, err error) {
	limit = defaultTransactionPage
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
	}
	limit = min(limit, maxTransactionPage)

	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}
