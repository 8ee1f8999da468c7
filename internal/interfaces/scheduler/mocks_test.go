package scheduler

import (
	"context"
	"sync"
	"time"

	"nero/internal/domain/connection"
	"nero/internal/domain/openfinance"
	"nero/internal/domain/synclog"
)

type MockConnectionRepo struct {
	FindByIDFunc     func(ctx context.Context, userID, connectionID string) (*connection.Connection, error)
	ListForSweepFunc func(ctx context.Context, statuses []connection.Status, limit int) ([]*connection.Connection, error)
	ListStaleFunc    func(ctx context.Context, syncedBefore time.Time, limit int) ([]*connection.Connection, error)
}

func (m *MockConnectionRepo) FindByID(ctx context.Context, userID, connectionID string) (*connection.Connection, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, userID, connectionID)
	}
	return nil, connection.ErrNotFound
}

func (m *MockConnectionRepo) ListByUser(ctx context.Context, userID string) ([]*connection.Connection, error) {
	return nil, nil
}

func (m *MockConnectionRepo) ListForSweep(ctx context.Context, statuses []connection.Status, limit int) ([]*connection.Connection, error) {
	if m.ListForSweepFunc != nil {
		return m.ListForSweepFunc(ctx, statuses, limit)
	}
	return nil, nil
}

func (m *MockConnectionRepo) ListStale(ctx context.Context, syncedBefore time.Time, limit int) ([]*connection.Connection, error) {
	if m.ListStaleFunc != nil {
		return m.ListStaleFunc(ctx, syncedBefore, limit)
	}
	return nil, nil
}

func (m *MockConnectionRepo) Upsert(ctx context.Context, params connection.UpsertParams) (*connection.Connection, bool, error) {
	return nil, false, nil
}

func (m *MockConnectionRepo) UpdateStatus(ctx context.Context, connectionID string, update connection.StatusUpdate) error {
	return nil
}

func (m *MockConnectionRepo) Delete(ctx context.Context, userID, connectionID string) error {
	return nil
}

// MockSyncer records synced connection ids in call order
type MockSyncer struct {
	SyncConnectionFunc func(ctx context.Context, conn *connection.Connection) (*openfinance.SyncRun, error)

	mu     sync.Mutex
	synced []string
}

func (m *MockSyncer) SyncConnection(ctx context.Context, conn *connection.Connection) (*openfinance.SyncRun, error) {
	m.mu.Lock()
	m.synced = append(m.synced, conn.ID)
	m.mu.Unlock()

	if m.SyncConnectionFunc != nil {
		return m.SyncConnectionFunc(ctx, conn)
	}
	return &openfinance.SyncRun{ConnectionID: conn.ID, State: openfinance.StateSucceeded, Outcome: openfinance.OutcomeSucceeded}, nil
}

func (m *MockSyncer) Synced() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.synced...)
}

type startedLog struct {
	ConnectionID string
	Type         synclog.Type
}

// MockSyncLogs keeps sync log rows in memory
type MockSyncLogs struct {
	StartErr error

	mu        sync.Mutex
	started   []startedLog
	completed map[string]synclog.Completion
}

func (m *MockSyncLogs) Start(ctx context.Context, connectionID string, syncType synclog.Type) (string, error) {
	if m.StartErr != nil {
		return "", m.StartErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, startedLog{ConnectionID: connectionID, Type: syncType})
	return "log-" + connectionID, nil
}

func (m *MockSyncLogs) Complete(ctx context.Context, id string, c synclog.Completion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.completed == nil {
		m.completed = make(map[string]synclog.Completion)
	}
	m.completed[id] = c
	return nil
}

func (m *MockSyncLogs) ListByConnection(ctx context.Context, connectionID string, limit int) ([]*synclog.Entry, error) {
	return nil, nil
}

func (m *MockSyncLogs) Completion(connectionID string) (synclog.Completion, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.completed["log-"+connectionID]
	return c, ok
}

func testConnections(ids ...string) []*connection.Connection {
	conns := make([]*connection.Connection, len(ids))
	for i, id := range ids {
		conns[i] = &connection.Connection{
			ID:            id,
			UserID:        "user-" + id,
			ItemID:        "item-" + id,
			ConnectorName: "Banco " + id,
			Status:        connection.StatusUpdated,
		}
	}
	return conns
}
