package openfinance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"nero/internal/domain/account"
	"nero/internal/domain/category"
	"nero/internal/domain/connection"
	"nero/internal/domain/transaction"
	ofclient "nero/internal/infrastructure/openfinance"
	"nero/internal/shared/clock"
)

const (
	DefaultSettleDelay = 2 * time.Second
	DefaultLookback    = 90 * 24 * time.Hour
	DefaultPageSize    = 500
)

var (
	syncTracer              = otel.Tracer("nero/openfinance")
	syncMeter               = otel.Meter("nero/openfinance")
	syncDuration, _         = syncMeter.Float64Histogram("openfinance.sync.duration", metric.WithDescription("Connection sync duration in seconds"), metric.WithUnit("s"))
	syncTotal, _            = syncMeter.Int64Counter("openfinance.sync.total", metric.WithDescription("Connection syncs by outcome"))
	transactionsIngested, _ = syncMeter.Int64Counter("openfinance.transactions.ingested", metric.WithDescription("Synced transactions by result"))
)

// ErrSyncFailed wraps the cause of a connection-level sync failure
var ErrSyncFailed = errors.New("sync failed")

// Classifier suggests a category for a transaction. A nil suggestion means no category.
type Classifier interface {
	Classify(ctx context.Context, userID string, input category.Input) (*category.Suggestion, error)
}

// Notifier delivers push notifications about sync results
type Notifier interface {
	NotifyConnectionError(ctx context.Context, userID, connectionID, connectorName string) error
	NotifySyncComplete(ctx context.Context, userID, connectionID, connectorName string, newTransactions int) error
}

// EngineConfig tunes a SyncEngine. Zero values fall back to the defaults.
type EngineConfig struct {
	SettleDelay      time.Duration
	Lookback         time.Duration
	PageSize         int
	NotifyOnComplete bool
}

// SyncEngine pulls accounts and transactions of one connection from the aggregator
// into the local store.
type SyncEngine struct {
	client       ofclient.ClientInterface
	connections  connection.Repository
	accounts     *account.Service
	transactions transaction.Repository
	classifier   Classifier
	notifier     Notifier
	clock        clock.Clock
	cfg          EngineConfig
}

// NewSyncEngine creates a new sync engine. classifier and notifier may be nil.
func NewSyncEngine(
	client ofclient.ClientInterface,
	connections connection.Repository,
	accounts *account.Service,
	transactions transaction.Repository,
	classifier Classifier,
	notifier Notifier,
	clk clock.Clock,
	cfg EngineConfig,
) *SyncEngine {
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	} else if cfg.SettleDelay == 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &SyncEngine{
		client:       client,
		connections:  connections,
		accounts:     accounts,
		transactions: transactions,
		classifier:   classifier,
		notifier:     notifier,
		clock:        clk,
		cfg:          cfg,
	}
}

// Sync loads the user's connection and syncs it. A connection that does not exist
// or belongs to someone else returns connection.ErrNotFound and nothing is written.
func (e *SyncEngine) Sync(ctx context.Context, userID, connectionID string) (*SyncRun, error) {
	conn, err := e.connections.FindByID(ctx, userID, connectionID)
	if err != nil {
		if errors.Is(err, connection.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load connection %s: %w", connectionID, err)
	}
	return e.SyncConnection(ctx, conn)
}

// SyncConnection runs a full sync of an already loaded connection.
// Per-transaction problems are counted on the run. Any other failure marks the
// connection login_error, notifies the user and returns an error wrapping ErrSyncFailed.
func (e *SyncEngine) SyncConnection(ctx context.Context, conn *connection.Connection) (*SyncRun, error) {
	ctx, span := syncTracer.Start(ctx, "openfinance.sync")
	defer span.End()
	span.SetAttributes(
		attribute.String("connection.id", conn.ID),
		attribute.String("connector.name", conn.ConnectorName),
	)

	run := newSyncRun(conn.ID, conn.UserID, e.clock.Now())
	log.Printf("Connection %s: starting sync for user %s (%s)", conn.ID, conn.UserID, conn.ConnectorName)

	err := e.execute(ctx, conn, run)
	if err != nil {
		err = e.handleFailure(ctx, conn, run, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	attrs := metric.WithAttributes(attribute.String("outcome", string(run.Outcome)))
	syncDuration.Record(ctx, run.Duration().Seconds(), attrs)
	syncTotal.Add(ctx, 1, attrs)
	span.SetAttributes(
		attribute.String("sync.outcome", string(run.Outcome)),
		attribute.Int("sync.accounts", run.Accounts),
		attribute.Int("sync.transactions.new", run.NewTransactions),
	)

	if err != nil {
		return run, err
	}

	log.Printf("Connection %s: sync %s: accounts=%d, new=%d, duplicates=%d, skipped=%d, failed=%d, categorized=%d",
		conn.ID, run.Outcome, run.Accounts, run.NewTransactions, run.Duplicates, run.Skipped, run.Failed, run.Categorized)

	if e.cfg.NotifyOnComplete && e.notifier != nil && run.NewTransactions > 0 {
		if nerr := e.notifier.NotifySyncComplete(ctx, conn.UserID, conn.ID, conn.ConnectorName, run.NewTransactions); nerr != nil {
			log.Printf("Connection %s: failed to send sync notification: %v", conn.ID, nerr)
		}
	}
	return run, nil
}

func (e *SyncEngine) execute(ctx context.Context, conn *connection.Connection, run *SyncRun) error {
	// Fetching item: ask the aggregator to refresh, then give it time to start.
	if _, err := e.client.TriggerItemSync(ctx, conn.ItemID); err != nil {
		log.Printf("Connection %s: failed to trigger item refresh, continuing with cached data: %v", conn.ID, err)
	}
	if err := e.clock.Sleep(ctx, e.cfg.SettleDelay); err != nil {
		return err
	}

	run.State = StateSyncingAccounts
	accountIDs, err := e.syncAccounts(ctx, conn, run)
	if err != nil {
		return err
	}

	run.State = StateSyncingTransactions
	now := e.clock.Now()
	query := ofclient.TransactionQuery{
		From:     now.Add(-e.cfg.Lookback),
		To:       now,
		PageSize: e.cfg.PageSize,
	}
	for _, externalID := range accountIDs.order {
		if err := e.syncTransactions(ctx, conn, externalID, query, accountIDs.local, run); err != nil {
			return err
		}
	}

	run.State = StateFinalizing
	finishedAt := e.clock.Now()
	if err := e.connections.UpdateStatus(ctx, conn.ID, connection.Succeeded(finishedAt)); err != nil {
		return fmt.Errorf("failed to update connection status: %w", err)
	}
	run.finish(finishedAt)
	return nil
}

// accountIndex maps aggregator account ids to local ones. order keeps the
// accounts reported in this run as the aggregator listed them.
type accountIndex struct {
	order []string
	local map[string]string
}

func (e *SyncEngine) syncAccounts(ctx context.Context, conn *connection.Connection, run *SyncRun) (*accountIndex, error) {
	remote, err := e.client.ListAccounts(ctx, conn.ItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	index := &accountIndex{
		order: make([]string, 0, len(remote)),
		local: make(map[string]string, len(remote)),
	}
	for _, a := range remote {
		acc, err := e.accounts.UpsertAccount(ctx, accountParams(conn.ID, a))
		if err != nil {
			return nil, fmt.Errorf("failed to save account %s: %w", a.ID, err)
		}
		index.order = append(index.order, a.ID)
		index.local[a.ID] = acc.ID
		run.Accounts++
	}

	log.Printf("Connection %s: synced %d accounts", conn.ID, run.Accounts)
	return index, nil
}

func (e *SyncEngine) syncTransactions(
	ctx context.Context,
	conn *connection.Connection,
	externalAccountID string,
	query ofclient.TransactionQuery,
	localAccounts map[string]string,
	run *SyncRun,
) error {
	query.Page = 1
	for {
		page, err := e.client.ListTransactions(ctx, externalAccountID, query)
		if err != nil {
			return fmt.Errorf("failed to list transactions of account %s: %w", externalAccountID, err)
		}

		for _, tx := range page.Results {
			result := e.ingest(ctx, conn, tx, localAccounts, run)
			transactionsIngested.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
		}

		// The requested page number also bounds the loop in case the
		// aggregator echoes a stale page field.
		if !page.HasMore() || len(page.Results) == 0 || query.Page >= page.TotalPages {
			return nil
		}
		query.Page = max(page.Page, query.Page) + 1
	}
}

// ingest stores one aggregator transaction and returns how it was counted.
func (e *SyncEngine) ingest(
	ctx context.Context,
	conn *connection.Connection,
	tx ofclient.Transaction,
	localAccounts map[string]string,
	run *SyncRun,
) string {
	if tx.ID == "" {
		run.Failed++
		log.Printf("Connection %s: skipping transaction without id on account %s", conn.ID, tx.AccountID)
		return "failed"
	}

	exists, err := e.transactions.ExistsByExternalID(ctx, tx.ID)
	if err != nil {
		e.recordFailure(run, conn.ID, tx.ID, fmt.Errorf("failed to check existing transaction: %w", err))
		return "failed"
	}
	if exists {
		run.Duplicates++
		return "duplicate"
	}

	accountID, ok, err := e.resolveAccount(ctx, tx.AccountID, localAccounts)
	if err != nil {
		e.recordFailure(run, conn.ID, tx.ID, err)
		return "failed"
	}
	if !ok {
		run.Skipped++
		log.Printf("Connection %s: skipping transaction %s, account %s is not stored locally", conn.ID, tx.ID, tx.AccountID)
		return "skipped"
	}

	suggestion := e.classify(ctx, conn.UserID, tx)

	params, err := transactionParams(accountID, tx, suggestion, e.clock.Now())
	if err != nil {
		e.recordFailure(run, conn.ID, tx.ID, fmt.Errorf("malformed transaction: %w", err))
		return "failed"
	}

	inserted, err := e.transactions.InsertIfAbsent(ctx, params)
	if err != nil {
		e.recordFailure(run, conn.ID, tx.ID, fmt.Errorf("failed to insert transaction: %w", err))
		return "failed"
	}
	if !inserted {
		run.Duplicates++
		return "duplicate"
	}
	run.NewTransactions++

	if params.CategoryID != nil {
		run.Categorized++
		if err := e.transactions.InsertLedgerEntry(ctx, ledgerEntry(conn.UserID, params)); err != nil {
			log.Printf("Connection %s: failed to write ledger entry for transaction %s: %v", conn.ID, tx.ID, err)
		}
	}
	return "new"
}

func (e *SyncEngine) resolveAccount(ctx context.Context, externalID string, localAccounts map[string]string) (string, bool, error) {
	if id, ok := localAccounts[externalID]; ok {
		return id, true, nil
	}

	acc, err := e.accounts.FindByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, account.ErrAccountNotFound) || errors.Is(err, account.ErrInvalidInput) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to resolve account %s: %w", externalID, err)
	}
	localAccounts[externalID] = acc.ID
	return acc.ID, true, nil
}

// classify never fails the transaction. Classifier errors are logged and the
// transaction is stored without a category.
func (e *SyncEngine) classify(ctx context.Context, userID string, tx ofclient.Transaction) *category.Suggestion {
	if e.classifier == nil {
		return nil
	}
	suggestion, err := e.classifier.Classify(ctx, userID, categoryInput(tx))
	if err != nil {
		log.Printf("User %s: failed to categorize transaction %s: %v", userID, tx.ID, err)
		return nil
	}
	return suggestion
}

func (e *SyncEngine) recordFailure(run *SyncRun, connectionID, transactionID string, err error) {
	run.Failed++
	msg := fmt.Sprintf("transaction %s: %v", transactionID, err)
	run.Errors = append(run.Errors, msg)
	log.Printf("Connection %s: %s", connectionID, msg)
}

// handleFailure records a connection-level failure. When the caller gave up
// (context cancelled) the connection status is left alone.
func (e *SyncEngine) handleFailure(ctx context.Context, conn *connection.Connection, run *SyncRun, cause error) error {
	log.Printf("Connection %s: sync failed during %s: %v", conn.ID, run.State, cause)
	run.fail(e.clock.Now(), cause)

	if ctx.Err() == nil {
		if err := e.connections.UpdateStatus(ctx, conn.ID, connection.Failed(cause.Error())); err != nil {
			log.Printf("Connection %s: failed to record sync error: %v", conn.ID, err)
		}
		if e.notifier != nil {
			if err := e.notifier.NotifyConnectionError(ctx, conn.UserID, conn.ID, conn.ConnectorName); err != nil {
				log.Printf("Connection %s: failed to send error notification: %v", conn.ID, err)
			}
		}
	}

	return fmt.Errorf("%w: connection %s: %w", ErrSyncFailed, conn.ID, cause)
}
