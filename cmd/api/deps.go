package main

import (
	"context"
	"log"

	"nero/internal/domain/account"
	"nero/internal/domain/notification"
	"nero/internal/domain/openfinance"
	"nero/internal/infrastructure/classifier"
	"nero/internal/infrastructure/firebase"
	ofclient "nero/internal/infrastructure/openfinance"
	"nero/internal/infrastructure/postgres"
	"nero/internal/infrastructure/postgres/listener"
	httphandlers "nero/internal/interfaces/http"
	"nero/internal/interfaces/scheduler"
	"nero/internal/shared/auth"
	"nero/internal/shared/clock"
	"nero/internal/shared/config"
	"nero/internal/shared/messages"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	DB *postgres.DB

	// Handlers
	OpenFinanceHandler    *httphandlers.OpenFinanceHandler
	NotificationHandler   *httphandlers.NotificationHandler
	CategorizationHandler *httphandlers.CategorizationHandler

	// Auth
	JWT *auth.JWT

	// Sync (for scheduler and listener)
	Sweeper   *scheduler.Sweeper
	Scheduler *scheduler.Scheduler
	Listener  *listener.SyncListener
}

// NewDependencies initializes all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	if cfg.Database.RunMigrations {
		if err := postgres.Migrate(cfg.Database.URL()); err != nil {
			return nil, err
		}
	}

	// Connect to database
	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}
	log.Println("Connected to database")

	// Initialize repositories
	connectionRepo := postgres.NewConnectionRepository(db)
	accountRepo := postgres.NewAccountRepository(db)
	transactionRepo := postgres.NewTransactionRepository(db)
	categoryRepo := postgres.NewCategoryRepository(db)
	syncLogRepo := postgres.NewSyncLogRepository(db)
	notificationRepo := postgres.NewNotificationRepository(db)

	// Initialize domain services
	accountService := account.NewService(accountRepo)
	notificationService, err := newNotificationService(ctx, cfg.Firebase, notificationRepo)
	if err != nil {
		db.Close()
		return nil, err
	}

	// Initialize Open Finance client and sync engine
	ofClient := newOpenFinanceClient(cfg.OpenFinance)

	var suggester openfinance.Classifier
	if cfg.Classifier.APIKey != "" {
		suggester = classifier.NewClient(classifier.Config{
			BaseURL: cfg.Classifier.BaseURL,
			APIKey:  cfg.Classifier.APIKey,
			Model:   cfg.Classifier.Model,
			Timeout: cfg.Classifier.Timeout,
		}, categoryRepo)
		log.Printf("Transaction classifier enabled (model=%s)", cfg.Classifier.Model)
	} else {
		log.Println("CLASSIFIER_API_KEY not set, transactions will be stored without category suggestions")
	}

	engine := openfinance.NewSyncEngine(
		ofClient,
		connectionRepo,
		accountService,
		transactionRepo,
		suggester,
		notificationService,
		clock.System{},
		openfinance.EngineConfig{
			SettleDelay:      cfg.OpenFinance.SettleDelay,
			Lookback:         cfg.OpenFinance.Lookback,
			PageSize:         cfg.OpenFinance.PageSize,
			NotifyOnComplete: true,
		},
	)
	connectionService := openfinance.NewConnectionService(ofClient, connectionRepo, accountService, engine)

	// Initialize scheduling
	pool := scheduler.NewWorkerPool(cfg.Scheduler.Workers, cfg.Scheduler.JobTimeout, clock.System{})
	sweeper := scheduler.NewSweeper(connectionRepo, engine, syncLogRepo, pool, clock.System{}, scheduler.SweepConfig{
		SweepDelay:     cfg.Scheduler.SweepDelay,
		StaleDelay:     cfg.Scheduler.StaleDelay,
		StaleAfter:     cfg.Scheduler.StaleAfter,
		StaleBatchSize: cfg.Scheduler.StaleBatchSize,
	})

	deps := &Dependencies{
		DB:                    db,
		OpenFinanceHandler:    httphandlers.NewOpenFinanceHandler(connectionService, sweeper, transactionRepo, syncLogRepo),
		NotificationHandler:   httphandlers.NewNotificationHandler(notificationService),
		CategorizationHandler: httphandlers.NewCategorizationHandler(suggester),
		JWT:                   auth.NewJWT(cfg.JWT.Secret),
		Sweeper:               sweeper,
	}

	if cfg.Scheduler.Enabled {
		deps.Scheduler, err = scheduler.NewScheduler(sweeper, scheduler.Config{
			FullSweepTimes:  cfg.Scheduler.FullSweepTimes,
			StaleCheckEvery: cfg.Scheduler.StaleCheckEvery,
			RunOnStartup:    cfg.Scheduler.RunOnStartup,
		})
		if err != nil {
			db.Close()
			return nil, err
		}
	} else {
		log.Println("Scheduler is disabled")
	}

	if cfg.Scheduler.ListenForRequests {
		deps.Listener = listener.NewSyncListener(cfg.Database.ConnectionString(), sweeper, cfg.Scheduler.JobTimeout, cfg.Scheduler.Workers)
	}

	return deps, nil
}

func newOpenFinanceClient(cfg config.OpenFinanceConfig) *ofclient.Client {
	if !cfg.Enabled() {
		log.Println("Warning: PLUGGY_CLIENT_ID/PLUGGY_CLIENT_SECRET not set, aggregator calls will fail")
	}
	httpClient := ofclient.NewHTTPClient()
	tokens := ofclient.NewTokenGuard(ofclient.TokenGuardConfig{
		BaseURL:      cfg.BaseURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Validity:     cfg.TokenValidity,
		Margin:       cfg.TokenMargin,
		Timeout:      cfg.RequestTimeout,
		HTTPClient:   httpClient,
	})
	return ofclient.NewClient(ofclient.ClientConfig{
		BaseURL:           cfg.BaseURL,
		Timeout:           cfg.RequestTimeout,
		RequestsPerSecond: cfg.RequestsPerSec,
		HTTPClient:        httpClient,
	}, tokens)
}

// newNotificationService sends pushes through Firebase when credentials are
// configured. Without them notifications are only recorded.
func newNotificationService(ctx context.Context, cfg config.FirebaseConfig, repo *postgres.NotificationRepository) (*notification.Service, error) {
	texts, err := messages.Load(cfg.MessagesFile)
	if err != nil {
		log.Printf("Using default notification texts: %v", err)
		texts = messages.Default()
	}

	if cfg.CredentialsFile == "" {
		log.Println("FIREBASE_CREDENTIALS_FILE not set, push notifications disabled")
		return notification.NewService(repo, nil, texts), nil
	}

	fcm, err := firebase.NewClient(ctx, cfg.CredentialsFile, repo.DeactivateToken)
	if err != nil {
		return nil, err
	}
	log.Println("Firebase messaging initialized")
	return notification.NewService(repo, fcm, texts), nil
}

// Close releases all resources held by dependencies.
func (d *Dependencies) Close() {
	if d.DB != nil {
		d.DB.Close()
	}
}
