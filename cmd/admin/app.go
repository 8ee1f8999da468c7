package main

import (
	"context"
	"log"
	"net/url"

	"nero/internal/domain/account"
	"nero/internal/domain/notification"
	"nero/internal/domain/openfinance"
	"nero/internal/infrastructure/classifier"
	"nero/internal/infrastructure/firebase"
	ofclient "nero/internal/infrastructure/openfinance"
	"nero/internal/infrastructure/postgres"
	"nero/internal/interfaces/scheduler"
	"nero/internal/shared/clock"
	"nero/internal/shared/config"
	"nero/internal/shared/messages"
	"nero/internal/shared/telemetry"
)

// app is the sync stack of the API, built for one command run
type app struct {
	db      *postgres.DB
	sweeper *scheduler.Sweeper
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if !cfg.OpenFinance.Enabled() {
		log.Println("Warning: PLUGGY_CLIENT_ID/PLUGGY_CLIENT_SECRET not set, aggregator calls will fail")
	}

	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}

	connectionRepo := postgres.NewConnectionRepository(db)
	transactionRepo := postgres.NewTransactionRepository(db)
	notificationRepo := postgres.NewNotificationRepository(db)

	texts, err := messages.Load(cfg.Firebase.MessagesFile)
	if err != nil {
		texts = messages.Default()
	}
	var messenger notification.Messenger
	if cfg.Firebase.CredentialsFile != "" {
		fcm, err := firebase.NewClient(ctx, cfg.Firebase.CredentialsFile, notificationRepo.DeactivateToken)
		if err != nil {
			db.Close()
			return nil, err
		}
		messenger = fcm
	}

	var suggester openfinance.Classifier
	if cfg.Classifier.APIKey != "" {
		suggester = classifier.NewClient(classifier.Config{
			BaseURL: cfg.Classifier.BaseURL,
			APIKey:  cfg.Classifier.APIKey,
			Model:   cfg.Classifier.Model,
			Timeout: cfg.Classifier.Timeout,
		}, postgres.NewCategoryRepository(db))
	}

	httpClient := ofclient.NewHTTPClient()
	client := ofclient.NewClient(ofclient.ClientConfig{
		BaseURL:           cfg.OpenFinance.BaseURL,
		Timeout:           cfg.OpenFinance.RequestTimeout,
		RequestsPerSecond: cfg.OpenFinance.RequestsPerSec,
		HTTPClient:        httpClient,
	}, ofclient.NewTokenGuard(ofclient.TokenGuardConfig{
		BaseURL:      cfg.OpenFinance.BaseURL,
		ClientID:     cfg.OpenFinance.ClientID,
		ClientSecret: cfg.OpenFinance.ClientSecret,
		Validity:     cfg.OpenFinance.TokenValidity,
		Margin:       cfg.OpenFinance.TokenMargin,
		Timeout:      cfg.OpenFinance.RequestTimeout,
		HTTPClient:   httpClient,
	}))

	engine := openfinance.NewSyncEngine(
		client,
		connectionRepo,
		account.NewService(postgres.NewAccountRepository(db)),
		transactionRepo,
		suggester,
		notification.NewService(notificationRepo, messenger, texts),
		clock.System{},
		openfinance.EngineConfig{
			SettleDelay:      cfg.OpenFinance.SettleDelay,
			Lookback:         cfg.OpenFinance.Lookback,
			PageSize:         cfg.OpenFinance.PageSize,
			NotifyOnComplete: true,
		},
	)

	pool := scheduler.NewWorkerPool(cfg.Scheduler.Workers, cfg.Scheduler.JobTimeout, clock.System{})
	sweeper := scheduler.NewSweeper(connectionRepo, engine, postgres.NewSyncLogRepository(db), pool, clock.System{}, scheduler.SweepConfig{
		SweepDelay:     cfg.Scheduler.SweepDelay,
		StaleDelay:     cfg.Scheduler.StaleDelay,
		StaleAfter:     cfg.Scheduler.StaleAfter,
		StaleBatchSize: cfg.Scheduler.StaleBatchSize,
	})

	return &app{db: db, sweeper: sweeper}, nil
}

func telemetryConfig(cfg *config.Config) telemetry.Config {
	var aggregatorHost string
	if u, err := url.Parse(cfg.OpenFinance.BaseURL); err == nil {
		aggregatorHost = u.Hostname()
	}
	return telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		Environment:    cfg.Telemetry.Environment,
		Role:           telemetry.RoleAdmin,
		SyncWorkers:    cfg.Scheduler.Workers,
		AggregatorHost: aggregatorHost,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	}
}
