package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"nero/internal/infrastructure/postgres/listener"
	"nero/internal/interfaces/scheduler"
	"nero/internal/shared/config"
)

// StartServer creates and starts the HTTP server.
func StartServer(handler http.Handler, cfg *config.Config) *http.Server {
	srv := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		// An on-demand sync of a large connection takes longer than a regular request
		WriteTimeout: cfg.Scheduler.JobTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("HTTP server starting on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	return srv
}

// GracefulShutdown stops accepting requests, then stops the background sync
// sources and waits for their in-flight work.
func GracefulShutdown(srv *http.Server, sched *scheduler.Scheduler, syncListener *listener.SyncListener, timeout time.Duration) {
	log.Println("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}

	if syncListener != nil {
		syncListener.Stop()
	}

	if sched != nil {
		sched.Shutdown(timeout)
	}

	log.Println("Server stopped")
}
