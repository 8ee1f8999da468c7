package account

import (
	"context"
	"errors"
	"strings"
)

// Service contains the business logic for account operations
type Service struct {
	repo Repository
}

// NewService creates a new account service
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// UpsertAccount creates or updates an account with validation
func (s *Service) UpsertAccount(ctx context.Context, params UpsertParams) (*Account, error) {
	// Apply default currency if not provided
	if params.Currency == "" {
		params.Currency = "BRL"
	}
	params.Currency = strings.ToUpper(params.Currency)

	// Validate parameters
	if err := params.Validate(); err != nil {
		return nil, err
	}

	return s.repo.Upsert(ctx, params)
}

// FindByExternalID resolves an aggregator account id to the local account
func (s *Service) FindByExternalID(ctx context.Context, externalID string) (*Account, error) {
	if externalID == "" {
		return nil, ErrInvalidInput
	}

	acc, err := s.repo.FindByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return acc, nil
}

// ListAccountsByUser retrieves all accounts for a specific user
func (s *Service) ListAccountsByUser(ctx context.Context, userID string) ([]*Account, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("valid user ID is required")
	}

	return s.repo.ListByUser(ctx, userID)
}

// ListAccountsByConnection retrieves all accounts of one connection
func (s *Service) ListAccountsByConnection(ctx context.Context, connectionID string) ([]*Account, error) {
	if connectionID == "" {
		return nil, ErrInvalidInput
	}

	return s.repo.ListByConnection(ctx, connectionID)
}
