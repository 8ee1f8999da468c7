package http

import (
	"context"
	"net/http"

	"nero/internal/domain/account"
	"nero/internal/domain/connection"
	"nero/internal/domain/notification"
	"nero/internal/domain/openfinance"
	"nero/internal/domain/synclog"
	"nero/internal/domain/transaction"
	ofclient "nero/internal/infrastructure/openfinance"
	"nero/internal/shared/middleware"
)

// MockConnectionManager implements ConnectionManager for testing
type MockConnectionManager struct {
	CreateConnectTokenFunc func(ctx context.Context, userID string) (*ofclient.ConnectToken, error)
	ListConnectorsFunc     func(ctx context.Context, filter ofclient.ConnectorFilter) ([]ofclient.Connector, error)
	LinkConnectionFunc     func(ctx context.Context, userID, itemID string) (*openfinance.LinkResult, error)
	ListConnectionsFunc    func(ctx context.Context, userID string) ([]*connection.Connection, error)
	GetConnectionFunc      func(ctx context.Context, userID, connectionID string) (*openfinance.ConnectionDetail, error)
	ListAccountsFunc       func(ctx context.Context, userID string) ([]*account.Account, error)
	DeleteConnectionFunc   func(ctx context.Context, userID, connectionID string) error
}

func (m *MockConnectionManager) CreateConnectToken(ctx context.Context, userID string) (*ofclient.ConnectToken, error) {
	if m.CreateConnectTokenFunc != nil {
		return m.CreateConnectTokenFunc(ctx, userID)
	}
	return &ofclient.ConnectToken{AccessToken: "connect-token"}, nil
}

func (m *MockConnectionManager) ListConnectors(ctx context.Context, filter ofclient.ConnectorFilter) ([]ofclient.Connector, error) {
	if m.ListConnectorsFunc != nil {
		return m.ListConnectorsFunc(ctx, filter)
	}
	return nil, nil
}

func (m *MockConnectionManager) LinkConnection(ctx context.Context, userID, itemID string) (*openfinance.LinkResult, error) {
	if m.LinkConnectionFunc != nil {
		return m.LinkConnectionFunc(ctx, userID, itemID)
	}
	return nil, nil
}

func (m *MockConnectionManager) ListConnections(ctx context.Context, userID string) ([]*connection.Connection, error) {
	if m.ListConnectionsFunc != nil {
		return m.ListConnectionsFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockConnectionManager) GetConnection(ctx context.Context, userID, connectionID string) (*openfinance.ConnectionDetail, error) {
	if m.GetConnectionFunc != nil {
		return m.GetConnectionFunc(ctx, userID, connectionID)
	}
	return nil, connection.ErrNotFound
}

func (m *MockConnectionManager) ListAccounts(ctx context.Context, userID string) ([]*account.Account, error) {
	if m.ListAccountsFunc != nil {
		return m.ListAccountsFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockConnectionManager) DeleteConnection(ctx context.Context, userID, connectionID string) error {
	if m.DeleteConnectionFunc != nil {
		return m.DeleteConnectionFunc(ctx, userID, connectionID)
	}
	return nil
}

type MockSyncer struct {
	SyncOneFunc func(ctx context.Context, userID, connectionID string) (*openfinance.SyncRun, error)
}

func (m *MockSyncer) SyncOne(ctx context.Context, userID, connectionID string) (*openfinance.SyncRun, error) {
	if m.SyncOneFunc != nil {
		return m.SyncOneFunc(ctx, userID, connectionID)
	}
	return &openfinance.SyncRun{ConnectionID: connectionID, State: openfinance.StateSucceeded}, nil
}

// MockTransactionRepo implements transaction.Repository for testing
type MockTransactionRepo struct {
	ListByAccountFunc func(ctx context.Context, accountID string, limit, offset int) ([]*transaction.Transaction, error)
}

func (m *MockTransactionRepo) ExistsByExternalID(ctx context.Context, externalID string) (bool, error) {
	return false, nil
}

func (m *MockTransactionRepo) InsertIfAbsent(ctx context.Context, params transaction.InsertParams) (bool, error) {
	return false, nil
}

func (m *MockTransactionRepo) InsertLedgerEntry(ctx context.Context, params transaction.LedgerEntryParams) error {
	return nil
}

func (m *MockTransactionRepo) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*transaction.Transaction, error) {
	if m.ListByAccountFunc != nil {
		return m.ListByAccountFunc(ctx, accountID, limit, offset)
	}
	return nil, nil
}

// MockSyncLogs implements synclog.Repository for testing
type MockSyncLogs struct {
	ListByConnectionFunc func(ctx context.Context, connectionID string, limit int) ([]*synclog.Entry, error)
}

func (m *MockSyncLogs) Start(ctx context.Context, connectionID string, syncType synclog.Type) (string, error) {
	return "", nil
}

func (m *MockSyncLogs) Complete(ctx context.Context, id string, c synclog.Completion) error {
	return nil
}

func (m *MockSyncLogs) ListByConnection(ctx context.Context, connectionID string, limit int) ([]*synclog.Entry, error) {
	if m.ListByConnectionFunc != nil {
		return m.ListByConnectionFunc(ctx, connectionID, limit)
	}
	return nil, nil
}

// MockDeviceRegistry implements DeviceRegistry for testing
type MockDeviceRegistry struct {
	RegisterDeviceFunc  func(ctx context.Context, params notification.CreateDeviceTokenParams) (*notification.DeviceToken, error)
	DeactivateTokenFunc func(ctx context.Context, token string) error
}

func (m *MockDeviceRegistry) RegisterDevice(ctx context.Context, params notification.CreateDeviceTokenParams) (*notification.DeviceToken, error) {
	if m.RegisterDeviceFunc != nil {
		return m.RegisterDeviceFunc(ctx, params)
	}
	return &notification.DeviceToken{UserID: params.UserID, Token: params.Token, DeviceType: params.DeviceType, IsActive: true}, nil
}

func (m *MockDeviceRegistry) DeactivateToken(ctx context.Context, token string) error {
	if m.DeactivateTokenFunc != nil {
		return m.DeactivateTokenFunc(ctx, token)
	}
	return nil
}

// withUser marks the request as authenticated by userID, as the Auth middleware does
func withUser(r *http.Request, userID string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), middleware.UserIDKey, userID))
}
