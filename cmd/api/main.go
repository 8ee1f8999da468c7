package main

import (
	"context"
	"log"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"nero/internal/shared/config"
	"nero/internal/shared/telemetry"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.Init(ctx, telemetryConfig(cfg, telemetry.RoleAPI, cfg.Telemetry.MetricsPort))
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(ctx); err != nil {
				log.Printf("Error shutting down telemetry: %v", err)
			}
		}()
	}

	deps, err := NewDependencies(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	if deps.Scheduler != nil {
		deps.Scheduler.Start()
		if next := deps.Scheduler.NextFullSweep(time.Now()); !next.IsZero() {
			log.Printf("Next full sweep at %s", next.Format(time.RFC3339))
		}
	}
	if deps.Listener != nil {
		deps.Listener.Start(context.Background())
	}

	srv := StartServer(SetupRoutes(deps, cfg), cfg)

	<-ctx.Done()
	stop()
	GracefulShutdown(srv, deps.Scheduler, deps.Listener, shutdownTimeout)
	return nil
}

func telemetryConfig(cfg *config.Config, role, metricsPort string) telemetry.Config {
	var aggregatorHost string
	if u, err := url.Parse(cfg.OpenFinance.BaseURL); err == nil {
		aggregatorHost = u.Hostname()
	}
	return telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		Environment:    cfg.Telemetry.Environment,
		Role:           role,
		SyncWorkers:    cfg.Scheduler.Workers,
		AggregatorHost: aggregatorHost,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		SampleRatio:    cfg.Telemetry.SampleRatio,
		MetricsPort:    metricsPort,
	}
}
