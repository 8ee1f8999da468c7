package notification

import (
	"context"
	"log"
	"strconv"

	"nero/internal/shared/messages"
)

// Service contains the business logic for notification operations
type Service struct {
	repo      Repository
	messenger Messenger
	texts     *messages.Messages
}

// NewService creates a new notification service. messenger may be nil, in which
// case notifications are only recorded.
func NewService(repo Repository, messenger Messenger, texts *messages.Messages) *Service {
	if texts == nil {
		texts = messages.Default()
	}
	return &Service{repo: repo, messenger: messenger, texts: texts}
}

// RegisterDevice registers a device token for the authenticated user.
// If the token already belongs to another user, it is reassigned.
func (s *Service) RegisterDevice(ctx context.Context, params CreateDeviceTokenParams) (*DeviceToken, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	return s.repo.UpsertDeviceToken(ctx, params)
}

// DeactivateToken marks a token as no longer deliverable
func (s *Service) DeactivateToken(ctx context.Context, token string) error {
	if token == "" {
		return ErrInvalidToken
	}
	return s.repo.DeactivateToken(ctx, token)
}

// NotifyConnectionError tells the user a bank connection needs attention
func (s *Service) NotifyConnectionError(ctx context.Context, userID, connectionID, connectorName string) error {
	title, body := s.texts.ConnectionError.Format(connectorName)
	return s.SendToUser(ctx, userID, title, body, CategoryConnections, map[string]string{
		"connection_id": connectionID,
	})
}

// NotifySyncComplete tells the user new transactions were imported
func (s *Service) NotifySyncComplete(ctx context.Context, userID, connectionID, connectorName string, newTransactions int) error {
	title, body := s.texts.SyncComplete.Format(connectorName, newTransactions)
	return s.SendToUser(ctx, userID, title, body, CategoryTransactions, map[string]string{
		"connection_id":    connectionID,
		"new_transactions": strconv.Itoa(newTransactions),
	})
}

// SendToUser sends a push notification to a specific user and records it.
func (s *Service) SendToUser(ctx context.Context, userID, title, body, category string, data map[string]string) error {
	if !IsValidCategory(category) {
		return ErrInvalidCategory
	}

	// Get active device tokens
	tokens, err := s.repo.GetActiveTokensByUserID(ctx, userID)
	if err != nil {
		return err
	}

	// Add route from category if not present
	if data == nil {
		data = make(map[string]string)
	}
	if _, ok := data["route"]; !ok {
		data["route"] = category
	}

	if len(tokens) == 0 {
		log.Printf("No active device tokens for user %s", userID)
	} else if s.messenger != nil {
		tokenStrings := make([]string, len(tokens))
		for i, t := range tokens {
			tokenStrings[i] = t.Token
		}

		if err := s.messenger.SendMulticast(ctx, tokenStrings, title, body, data); err != nil {
			log.Printf("Error sending notification to user %s: %v", userID, err)
		}
	}

	// Store notification record
	_, err = s.repo.CreateNotification(ctx, CreateNotificationParams{
		UserID:   userID,
		Title:    title,
		Message:  body,
		Category: category,
		Data:     data,
	})
	if err != nil {
		log.Printf("Error storing notification for user %s: %v", userID, err)
	}

	return nil
}
