package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	Scheduler   SchedulerConfig
	OpenFinance OpenFinanceConfig
	Classifier  ClassifierConfig
	Firebase    FirebaseConfig
	Telemetry   TelemetryConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	AllowedHosts []string
}

type DatabaseConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	DBName        string
	SSLMode       string
	RunMigrations bool
}

type JWTConfig struct {
	Secret string
}

type SchedulerConfig struct {
	Enabled           bool
	FullSweepTimes    []string
	StaleCheckEvery   time.Duration
	Workers           int
	SweepDelay        time.Duration
	StaleDelay        time.Duration
	StaleAfter        time.Duration
	StaleBatchSize    int
	JobTimeout        time.Duration
	RunOnStartup      bool
	ListenForRequests bool
}

type OpenFinanceConfig struct {
	BaseURL        string
	ClientID       string
	ClientSecret   string
	RequestTimeout time.Duration
	TokenValidity  time.Duration
	TokenMargin    time.Duration
	SettleDelay    time.Duration
	Lookback       time.Duration
	PageSize       int
	RequestsPerSec float64
}

// Enabled reports whether aggregator credentials are configured.
func (c OpenFinanceConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

type ClassifierConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

type FirebaseConfig struct {
	CredentialsFile string
	MessagesFile    string
}

type TelemetryConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	SampleRatio    float64
	MetricsPort    string
}

func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	sampleRatio, err := strconv.ParseFloat(getEnv("OTEL_TRACES_SAMPLER_RATIO", "1"), 64)
	if err != nil || sampleRatio < 0 || sampleRatio > 1 {
		return nil, fmt.Errorf("invalid OTEL_TRACES_SAMPLER_RATIO: must be a number between 0 and 1")
	}

	// Scheduler
	sweepTimes := splitList(getEnv("SCHEDULER_SWEEP_TIMES", "00:00,03:00,06:00,12:00,18:00"))
	workers, err := strconv.Atoi(getEnv("SCHEDULER_WORKERS", "1"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_WORKERS: %w", err)
	}
	staleBatch, err := strconv.Atoi(getEnv("SCHEDULER_STALE_BATCH_SIZE", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_STALE_BATCH_SIZE: %w", err)
	}

	staleEvery, err := getDurationEnv("SCHEDULER_STALE_CHECK_EVERY", "1h")
	if err != nil {
		return nil, err
	}
	sweepDelay, err := getDurationEnv("SCHEDULER_SWEEP_DELAY", "2s")
	if err != nil {
		return nil, err
	}
	staleDelay, err := getDurationEnv("SCHEDULER_STALE_DELAY", "3s")
	if err != nil {
		return nil, err
	}
	staleAfter, err := getDurationEnv("SCHEDULER_STALE_AFTER", "12h")
	if err != nil {
		return nil, err
	}
	jobTimeout, err := getDurationEnv("SCHEDULER_JOB_TIMEOUT", "10m")
	if err != nil {
		return nil, err
	}
	// Open Finance aggregator
	requestTimeout, err := getDurationEnv("PLUGGY_REQUEST_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}
	tokenValidity, err := getDurationEnv("PLUGGY_TOKEN_VALIDITY", "24h")
	if err != nil {
		return nil, err
	}
	tokenMargin, err := getDurationEnv("PLUGGY_TOKEN_MARGIN", "1h")
	if err != nil {
		return nil, err
	}
	settleDelay, err := getDurationEnv("PLUGGY_SETTLE_DELAY", "2s")
	if err != nil {
		return nil, err
	}
	lookback, err := getDurationEnv("PLUGGY_LOOKBACK", "2160h")
	if err != nil {
		return nil, err
	}
	// Classifier
	classifierTimeout, err := getDurationEnv("CLASSIFIER_TIMEOUT", "20s")
	if err != nil {
		return nil, err
	}

	pageSize, err := strconv.Atoi(getEnv("PLUGGY_PAGE_SIZE", "500"))
	if err != nil {
		return nil, fmt.Errorf("invalid PLUGGY_PAGE_SIZE: %w", err)
	}
	rps, err := strconv.ParseFloat(getEnv("PLUGGY_REQUESTS_PER_SECOND", "5"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid PLUGGY_REQUESTS_PER_SECOND: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Host:         getEnv("HOST", "0.0.0.0"),
			AllowedHosts: splitList(getEnv("ALLOWED_HOSTS", "")),
		},
		Database: DatabaseConfig{
			Host:          getEnv("DB_HOST", "localhost"),
			Port:          dbPort,
			User:          getEnv("DB_USER", "nero"),
			Password:      getEnv("DB_PASSWORD", ""),
			DBName:        getEnv("DB_NAME", "nero"),
			SSLMode:       getEnv("DB_SSLMODE", "disable"),
			RunMigrations: getBoolEnv("DB_RUN_MIGRATIONS", true),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
		},
		Scheduler: SchedulerConfig{
			Enabled:           getBoolEnv("SCHEDULER_ENABLED", true),
			FullSweepTimes:    sweepTimes,
			StaleCheckEvery:   staleEvery,
			Workers:           workers,
			SweepDelay:        sweepDelay,
			StaleDelay:        staleDelay,
			StaleAfter:        staleAfter,
			StaleBatchSize:    staleBatch,
			JobTimeout:        jobTimeout,
			RunOnStartup:      getBoolEnv("SCHEDULER_RUN_ON_STARTUP", false),
			ListenForRequests: getBoolEnv("SCHEDULER_LISTEN_FOR_REQUESTS", true),
		},
		OpenFinance: OpenFinanceConfig{
			BaseURL:        getEnv("PLUGGY_BASE_URL", "https://api.pluggy.ai"),
			ClientID:       getEnv("PLUGGY_CLIENT_ID", ""),
			ClientSecret:   getEnv("PLUGGY_CLIENT_SECRET", ""),
			RequestTimeout: requestTimeout,
			TokenValidity:  tokenValidity,
			TokenMargin:    tokenMargin,
			SettleDelay:    settleDelay,
			Lookback:       lookback,
			PageSize:       pageSize,
			RequestsPerSec: rps,
		},
		Classifier: ClassifierConfig{
			BaseURL: getEnv("CLASSIFIER_BASE_URL", "https://api.openai.com/v1"),
			APIKey:  getEnv("CLASSIFIER_API_KEY", ""),
			Model:   getEnv("CLASSIFIER_MODEL", "gpt-4o-mini"),
			Timeout: classifierTimeout,
		},
		Firebase: FirebaseConfig{
			CredentialsFile: getEnv("FIREBASE_CREDENTIALS_FILE", ""),
			MessagesFile:    getEnv("NOTIFICATION_MESSAGES_FILE", "notifications.json"),
		},
		Telemetry: TelemetryConfig{
			Enabled:        getBoolEnv("OTEL_ENABLED", false),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "nero-api"),
			ServiceVersion: getEnv("SERVICE_VERSION", ""),
			Environment:    getEnv("ENVIRONMENT", "development"),
			OTLPEndpoint:   getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
			SampleRatio:    sampleRatio,
			MetricsPort:    getEnv("METRICS_PORT", "9464"),
		},
	}

	// Validate required fields
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.Scheduler.Workers < 1 || cfg.Scheduler.Workers > 4 {
		return nil, fmt.Errorf("SCHEDULER_WORKERS must be between 1 and 4, got %d", cfg.Scheduler.Workers)
	}
	if cfg.OpenFinance.TokenMargin >= cfg.OpenFinance.TokenValidity {
		return nil, fmt.Errorf("PLUGGY_TOKEN_MARGIN (%s) must be shorter than PLUGGY_TOKEN_VALIDITY (%s)",
			cfg.OpenFinance.TokenMargin, cfg.OpenFinance.TokenValidity)
	}
	if cfg.OpenFinance.PageSize <= 0 {
		return nil, fmt.Errorf("PLUGGY_PAGE_SIZE must be positive")
	}

	return cfg, nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// URL returns the connection string in URL form, as expected by the migration driver.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	// Accept: true, false, 1, 0, yes, no (case-insensitive)
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}

func getDurationEnv(key, defaultValue string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, defaultValue))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
