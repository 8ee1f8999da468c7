package openfinance

import (
	"context"
	"sync"
	"time"

	"nero/internal/domain/account"
	"nero/internal/domain/category"
	"nero/internal/domain/connection"
	"nero/internal/domain/transaction"
	ofclient "nero/internal/infrastructure/openfinance"
)

// MockClient implements ofclient.ClientInterface
type MockClient struct {
	ListConnectorsFunc     func(ctx context.Context, filter ofclient.ConnectorFilter) ([]ofclient.Connector, error)
	GetItemFunc            func(ctx context.Context, itemID string) (*ofclient.Item, error)
	TriggerItemSyncFunc    func(ctx context.Context, itemID string) (*ofclient.Item, error)
	DeleteItemFunc         func(ctx context.Context, itemID string) error
	ListAccountsFunc       func(ctx context.Context, itemID string) ([]ofclient.Account, error)
	ListTransactionsFunc   func(ctx context.Context, accountID string, query ofclient.TransactionQuery) (*ofclient.TransactionPage, error)
	CreateConnectTokenFunc func(ctx context.Context, clientUserID string) (*ofclient.ConnectToken, error)
}

func (m *MockClient) ListConnectors(ctx context.Context, filter ofclient.ConnectorFilter) ([]ofclient.Connector, error) {
	if m.ListConnectorsFunc != nil {
		return m.ListConnectorsFunc(ctx, filter)
	}
	return nil, nil
}

func (m *MockClient) GetItem(ctx context.Context, itemID string) (*ofclient.Item, error) {
	if m.GetItemFunc != nil {
		return m.GetItemFunc(ctx, itemID)
	}
	return &ofclient.Item{ID: itemID, Status: "UPDATED"}, nil
}

func (m *MockClient) TriggerItemSync(ctx context.Context, itemID string) (*ofclient.Item, error) {
	if m.TriggerItemSyncFunc != nil {
		return m.TriggerItemSyncFunc(ctx, itemID)
	}
	return &ofclient.Item{ID: itemID, Status: "UPDATING"}, nil
}

func (m *MockClient) UpdateItem(ctx context.Context, itemID string, params ofclient.UpdateItemParams) (*ofclient.Item, error) {
	return &ofclient.Item{ID: itemID}, nil
}

func (m *MockClient) DeleteItem(ctx context.Context, itemID string) error {
	if m.DeleteItemFunc != nil {
		return m.DeleteItemFunc(ctx, itemID)
	}
	return nil
}

func (m *MockClient) ListAccounts(ctx context.Context, itemID string) ([]ofclient.Account, error) {
	if m.ListAccountsFunc != nil {
		return m.ListAccountsFunc(ctx, itemID)
	}
	return nil, nil
}

func (m *MockClient) ListTransactions(ctx context.Context, accountID string, query ofclient.TransactionQuery) (*ofclient.TransactionPage, error) {
	if m.ListTransactionsFunc != nil {
		return m.ListTransactionsFunc(ctx, accountID, query)
	}
	return &ofclient.TransactionPage{Page: 1, TotalPages: 1}, nil
}

func (m *MockClient) CreateConnectToken(ctx context.Context, clientUserID string) (*ofclient.ConnectToken, error) {
	if m.CreateConnectTokenFunc != nil {
		return m.CreateConnectTokenFunc(ctx, clientUserID)
	}
	return &ofclient.ConnectToken{AccessToken: "token"}, nil
}

// MockConnectionRepo implements connection.Repository
type MockConnectionRepo struct {
	FindByIDFunc     func(ctx context.Context, userID, connectionID string) (*connection.Connection, error)
	ListByUserFunc   func(ctx context.Context, userID string) ([]*connection.Connection, error)
	UpsertFunc       func(ctx context.Context, params connection.UpsertParams) (*connection.Connection, bool, error)
	UpdateStatusFunc func(ctx context.Context, connectionID string, update connection.StatusUpdate) error
	DeleteFunc       func(ctx context.Context, userID, connectionID string) error

	mu      sync.Mutex
	updates []connection.StatusUpdate
}

func (m *MockConnectionRepo) FindByID(ctx context.Context, userID, connectionID string) (*connection.Connection, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, userID, connectionID)
	}
	return nil, connection.ErrNotFound
}

func (m *MockConnectionRepo) ListByUser(ctx context.Context, userID string) ([]*connection.Connection, error) {
	if m.ListByUserFunc != nil {
		return m.ListByUserFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockConnectionRepo) ListForSweep(ctx context.Context, statuses []connection.Status, limit int) ([]*connection.Connection, error) {
	return nil, nil
}

func (m *MockConnectionRepo) ListStale(ctx context.Context, syncedBefore time.Time, limit int) ([]*connection.Connection, error) {
	return nil, nil
}

func (m *MockConnectionRepo) Upsert(ctx context.Context, params connection.UpsertParams) (*connection.Connection, bool, error) {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, params)
	}
	return nil, false, nil
}

func (m *MockConnectionRepo) UpdateStatus(ctx context.Context, connectionID string, update connection.StatusUpdate) error {
	m.mu.Lock()
	m.updates = append(m.updates, update)
	m.mu.Unlock()
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, connectionID, update)
	}
	return nil
}

func (m *MockConnectionRepo) Delete(ctx context.Context, userID, connectionID string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, userID, connectionID)
	}
	return nil
}

// Updates returns every status update recorded so far
func (m *MockConnectionRepo) Updates() []connection.StatusUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]connection.StatusUpdate(nil), m.updates...)
}

// MockAccountRepo implements account.Repository. Upserted accounts get the id
// "local-" + external id and can be found afterwards.
type MockAccountRepo struct {
	UpsertFunc func(ctx context.Context, params account.UpsertParams) (*account.Account, error)

	mu     sync.Mutex
	stored map[string]*account.Account
}

func (m *MockAccountRepo) Upsert(ctx context.Context, params account.UpsertParams) (*account.Account, error) {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, params)
	}
	acc := &account.Account{
		ID:           "local-" + params.ExternalID,
		ConnectionID: params.ConnectionID,
		ExternalID:   params.ExternalID,
		AccountType:  params.AccountType,
		Subtype:      params.Subtype,
		Name:         params.Name,
		Currency:     params.Currency,
		Balance:      params.Balance,
		CreditLimit:  params.CreditLimit,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stored == nil {
		m.stored = make(map[string]*account.Account)
	}
	m.stored[params.ExternalID] = acc
	return acc, nil
}

func (m *MockAccountRepo) FindByExternalID(ctx context.Context, externalID string) (*account.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if acc, ok := m.stored[externalID]; ok {
		return acc, nil
	}
	return nil, account.ErrAccountNotFound
}

func (m *MockAccountRepo) ListByConnection(ctx context.Context, connectionID string) ([]*account.Account, error) {
	return nil, nil
}

func (m *MockAccountRepo) ListByUser(ctx context.Context, userID string) ([]*account.Account, error) {
	return nil, nil
}

// MockTransactionRepo implements transaction.Repository on top of an in-memory
// table keyed by external id.
type MockTransactionRepo struct {
	ExistsFunc func(ctx context.Context, externalID string) (bool, error)
	InsertFunc func(ctx context.Context, params transaction.InsertParams) (bool, error)
	LedgerFunc func(ctx context.Context, params transaction.LedgerEntryParams) error

	mu     sync.Mutex
	rows   map[string]transaction.InsertParams
	ledger []transaction.LedgerEntryParams
}

func (m *MockTransactionRepo) ExistsByExternalID(ctx context.Context, externalID string) (bool, error) {
	if m.ExistsFunc != nil {
		return m.ExistsFunc(ctx, externalID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[externalID]
	return ok, nil
}

func (m *MockTransactionRepo) InsertIfAbsent(ctx context.Context, params transaction.InsertParams) (bool, error) {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, params)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows == nil {
		m.rows = make(map[string]transaction.InsertParams)
	}
	if _, ok := m.rows[params.ExternalID]; ok {
		return false, nil
	}
	m.rows[params.ExternalID] = params
	return true, nil
}

func (m *MockTransactionRepo) InsertLedgerEntry(ctx context.Context, params transaction.LedgerEntryParams) error {
	if m.LedgerFunc != nil {
		return m.LedgerFunc(ctx, params)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger = append(m.ledger, params)
	return nil
}

func (m *MockTransactionRepo) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*transaction.Transaction, error) {
	return nil, nil
}

// Row returns the stored transaction with the external id
func (m *MockTransactionRepo) Row(externalID string) (transaction.InsertParams, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[externalID]
	return row, ok
}

// Count returns the number of stored transactions
func (m *MockTransactionRepo) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// Ledger returns the ledger entries written so far
func (m *MockTransactionRepo) Ledger() []transaction.LedgerEntryParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]transaction.LedgerEntryParams(nil), m.ledger...)
}

// MockClassifier implements Classifier
type MockClassifier struct {
	ClassifyFunc func(ctx context.Context, userID string, input category.Input) (*category.Suggestion, error)
}

func (m *MockClassifier) Classify(ctx context.Context, userID string, input category.Input) (*category.Suggestion, error) {
	if m.ClassifyFunc != nil {
		return m.ClassifyFunc(ctx, userID, input)
	}
	return nil, nil
}

// MockNotifier implements Notifier and records what it was asked to send
type MockNotifier struct {
	mu             sync.Mutex
	errorsNotified []string
	completed      map[string]int
}

func (m *MockNotifier) NotifyConnectionError(ctx context.Context, userID, connectionID, connectorName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorsNotified = append(m.errorsNotified, connectionID)
	return nil
}

func (m *MockNotifier) NotifySyncComplete(ctx context.Context, userID, connectionID, connectorName string, newTransactions int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.completed == nil {
		m.completed = make(map[string]int)
	}
	m.completed[connectionID] += newTransactions
	return nil
}
