package openfinance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"nero/internal/domain/account"
	"nero/internal/domain/connection"
	ofclient "nero/internal/infrastructure/openfinance"
)

// ConnectionDetail is a connection with its stored accounts
type ConnectionDetail struct {
	Connection *connection.Connection `json:"connection"`
	Accounts   []*account.Account     `json:"accounts"`
}

// LinkResult is the outcome of linking an aggregator item to a user
type LinkResult struct {
	Connection *connection.Connection
	Created    bool
	Run        *SyncRun // initial sync, nil when the connection already existed
}

// ConnectionService manages the user's connections: linking, listing and removal
type ConnectionService struct {
	client      ofclient.ClientInterface
	connections connection.Repository
	accounts    *account.Service
	engine      *SyncEngine
}

// NewConnectionService creates a new connection service
func NewConnectionService(
	client ofclient.ClientInterface,
	connections connection.Repository,
	accounts *account.Service,
	engine *SyncEngine,
) *ConnectionService {
	return &ConnectionService{
		client:      client,
		connections: connections,
		accounts:    accounts,
		engine:      engine,
	}
}

// CreateConnectToken issues a widget token scoped to the user
func (s *ConnectionService) CreateConnectToken(ctx context.Context, userID string) (*ofclient.ConnectToken, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, connection.ErrInvalidInput
	}

	token, err := s.client.CreateConnectToken(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create connect token: %w", err)
	}
	return token, nil
}

// ListConnectors returns the institutions the user can link
func (s *ConnectionService) ListConnectors(ctx context.Context, filter ofclient.ConnectorFilter) ([]ofclient.Connector, error) {
	connectors, err := s.client.ListConnectors(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list connectors: %w", err)
	}
	return connectors, nil
}

// LinkConnection stores the item the user just connected through the widget.
// A new link is synced right away. A failed initial sync is recorded on the
// connection and does not fail the link.
func (s *ConnectionService) LinkConnection(ctx context.Context, userID, itemID string) (*LinkResult, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(itemID) == "" {
		return nil, connection.ErrInvalidInput
	}

	item, err := s.client.GetItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch item %s: %w", itemID, err)
	}

	status, err := connection.ParseStatus(item.Status)
	if err != nil {
		status = connection.StatusUpdating
	}

	conn, created, err := s.connections.Upsert(ctx, connection.UpsertParams{
		UserID:            userID,
		ItemID:            item.ID,
		ConnectorID:       item.Connector.ID,
		ConnectorName:     item.Connector.Name,
		ConnectorImageURL: item.Connector.ImageURL,
		Status:            status,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save connection: %w", err)
	}

	result := &LinkResult{Connection: conn, Created: created}
	if !created {
		log.Printf("User %s: item %s already linked as connection %s", userID, itemID, conn.ID)
		return result, nil
	}

	log.Printf("User %s: linked %s as connection %s", userID, conn.ConnectorName, conn.ID)
	run, err := s.engine.SyncConnection(ctx, conn)
	result.Run = run
	if err != nil {
		log.Printf("User %s: initial sync of connection %s failed: %v", userID, conn.ID, err)
	}

	if refreshed, err := s.connections.FindByID(ctx, userID, conn.ID); err == nil {
		result.Connection = refreshed
	}
	return result, nil
}

// ListConnections returns the user's connections, newest first
func (s *ConnectionService) ListConnections(ctx context.Context, userID string) ([]*connection.Connection, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, connection.ErrInvalidInput
	}
	return s.connections.ListByUser(ctx, userID)
}

// GetConnection returns one of the user's connections with its accounts
func (s *ConnectionService) GetConnection(ctx context.Context, userID, connectionID string) (*ConnectionDetail, error) {
	conn, err := s.connections.FindByID(ctx, userID, connectionID)
	if err != nil {
		return nil, err
	}

	accounts, err := s.accounts.ListAccountsByConnection(ctx, conn.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return &ConnectionDetail{Connection: conn, Accounts: accounts}, nil
}

// ListAccounts returns every account across the user's connections
func (s *ConnectionService) ListAccounts(ctx context.Context, userID string) ([]*account.Account, error) {
	return s.accounts.ListAccountsByUser(ctx, userID)
}

// DeleteConnection removes the item from the aggregator and deletes the connection
// with its accounts and transactions. An item the aggregator no longer knows is
// deleted locally anyway.
func (s *ConnectionService) DeleteConnection(ctx context.Context, userID, connectionID string) error {
	conn, err := s.connections.FindByID(ctx, userID, connectionID)
	if err != nil {
		return err
	}

	if err := s.client.DeleteItem(ctx, conn.ItemID); err != nil {
		if !errors.Is(err, ofclient.ErrNotFound) {
			return fmt.Errorf("failed to delete item %s: %w", conn.ItemID, err)
		}
		log.Printf("User %s: item %s already gone from aggregator", userID, conn.ItemID)
	}

	if err := s.connections.Delete(ctx, userID, connectionID); err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}

	log.Printf("User %s: deleted connection %s", userID, connectionID)
	return nil
}
