package scheduler

import (
	"context"
	"fmt"
	"log"

	"nero/internal/domain/connection"
	"nero/internal/domain/openfinance"
	"nero/internal/domain/synclog"
	"nero/internal/shared/clock"
)

// ConnectionSyncer syncs one already loaded connection
type ConnectionSyncer interface {
	SyncConnection(ctx context.Context, conn *connection.Connection) (*openfinance.SyncRun, error)
}

// ConnectionSyncJob syncs one connection and records the attempt in sync_logs
type ConnectionSyncJob struct {
	conn     *connection.Connection
	syncer   ConnectionSyncer
	logs     synclog.Repository
	syncType synclog.Type
	clock    clock.Clock

	run *openfinance.SyncRun
}

// NewConnectionSyncJob creates a sync job for conn. logs may be nil.
func NewConnectionSyncJob(conn *connection.Connection, syncer ConnectionSyncer, logs synclog.Repository, syncType synclog.Type, clk clock.Clock) *ConnectionSyncJob {
	return &ConnectionSyncJob{
		conn:     conn,
		syncer:   syncer,
		logs:     logs,
		syncType: syncType,
		clock:    clk,
	}
}

// Execute runs the sync. A sync log failure never fails the job.
func (j *ConnectionSyncJob) Execute(ctx context.Context) error {
	logID := j.startLog(ctx)

	run, err := j.syncer.SyncConnection(ctx, j.conn)
	j.run = run

	j.completeLog(ctx, logID, run, err)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	return nil
}

// Run returns the finished sync run, nil before Execute
func (j *ConnectionSyncJob) Run() *openfinance.SyncRun {
	return j.run
}

// UserID returns the user ID associated with this job
func (j *ConnectionSyncJob) UserID() string {
	return j.conn.UserID
}

// Description returns a human-readable description of the job
func (j *ConnectionSyncJob) Description() string {
	return fmt.Sprintf("%s sync of connection %s (%s)", j.syncType, j.conn.ID, j.conn.ConnectorName)
}

func (j *ConnectionSyncJob) startLog(ctx context.Context) string {
	if j.logs == nil {
		return ""
	}
	id, err := j.logs.Start(ctx, j.conn.ID, j.syncType)
	if err != nil {
		log.Printf("Connection %s: failed to start sync log: %v", j.conn.ID, err)
		return ""
	}
	return id
}

func (j *ConnectionSyncJob) completeLog(ctx context.Context, logID string, run *openfinance.SyncRun, syncErr error) {
	if logID == "" {
		return
	}

	completion := synclog.Completion{
		Status:      synclog.StatusSuccess,
		CompletedAt: j.clock.Now(),
	}
	if run != nil {
		completion.AccountsSynced = run.Accounts
		completion.TransactionsSynced = run.NewTransactions
	}
	if syncErr != nil {
		msg := syncErr.Error()
		completion.Status = synclog.StatusError
		completion.ErrorMessage = &msg
	}

	// The sync may have failed because ctx expired; the log row should still close
	if err := j.logs.Complete(context.WithoutCancel(ctx), logID, completion); err != nil {
		log.Printf("Connection %s: failed to complete sync log %s: %v", j.conn.ID, logID, err)
	}
}
