package openfinance

import (
	"context"
)

// ClientInterface defines the methods required from the Open Finance aggregator client
type ClientInterface interface {
	ListConnectors(ctx context.Context, filter ConnectorFilter) ([]Connector, error)
	GetItem(ctx context.Context, itemID string) (*Item, error)
	TriggerItemSync(ctx context.Context, itemID string) (*Item, error)
	UpdateItem(ctx context.Context, itemID string, params UpdateItemParams) (*Item, error)
	DeleteItem(ctx context.Context, itemID string) error
	ListAccounts(ctx context.Context, itemID string) ([]Account, error)
	ListTransactions(ctx context.Context, accountID string, query TransactionQuery) (*TransactionPage, error) // One page per call
	CreateConnectToken(ctx context.Context, clientUserID string) (*ConnectToken, error)
}
