package main

import (
	"log"
	"net/http"

	httphandlers "nero/internal/interfaces/http"
	"nero/internal/shared/config"
	"nero/internal/shared/middleware"
)

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *Dependencies, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", httphandlers.HandleHealth(deps.DB))

	// Protected routes
	authMiddleware := middleware.Auth(deps.JWT)
	protect := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(h)
	}

	of := deps.OpenFinanceHandler
	mux.Handle("GET /api/open-finance/connect-token", protect(of.HandleConnectToken))
	mux.Handle("GET /api/open-finance/connectors", protect(of.HandleConnectors))
	mux.Handle("GET /api/open-finance/connections", protect(of.HandleListConnections))
	mux.Handle("POST /api/open-finance/connections", protect(of.HandleCreateConnection))
	mux.Handle("GET /api/open-finance/connections/{id}", protect(of.HandleGetConnection))
	mux.Handle("DELETE /api/open-finance/connections/{id}", protect(of.HandleDeleteConnection))
	mux.Handle("POST /api/open-finance/connections/{id}/sync", protect(of.HandleSyncConnection))
	mux.Handle("GET /api/open-finance/connections/{id}/sync-logs", protect(of.HandleSyncLogs))
	mux.Handle("GET /api/open-finance/accounts", protect(of.HandleListAccounts))
	mux.Handle("GET /api/open-finance/accounts/{id}/transactions", protect(of.HandleAccountTransactions))

	ai := deps.CategorizationHandler
	mux.Handle("POST /api/ai/categorize-transaction", protect(ai.HandleCategorizeTransaction))
	mux.Handle("POST /api/ai/categorize-batch", protect(ai.HandleCategorizeBatch))

	mux.Handle("POST /api/notifications/devices", protect(deps.NotificationHandler.HandleRegisterDevice))
	mux.Handle("DELETE /api/notifications/devices", protect(deps.NotificationHandler.HandleUnregisterDevice))

	// Apply global middleware, outermost first: logging, server span, CORS, route naming
	var handler http.Handler = middleware.Tracing(mux)
	handler = middleware.CORS(cfg.Server.AllowedHosts)(handler)
	if cfg.Telemetry.Enabled {
		handler = middleware.Telemetry(cfg.Telemetry.ServiceName)(handler)
	}
	handler = middleware.Logging(handler)

	if len(cfg.Server.AllowedHosts) > 0 {
		handler = middleware.HSTS(middleware.AllowedHosts(cfg.Server.AllowedHosts)(handler))
		log.Printf("Host allowlist enabled: %v", cfg.Server.AllowedHosts)
	}

	return handler
}
