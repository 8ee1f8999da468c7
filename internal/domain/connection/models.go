package connection

import (
	"errors"
	"strings"
	"time"
)

// Status mirrors the aggregator's item status, stored lower-case
type Status string

const (
	StatusUpdated    Status = "updated"
	StatusUpdating   Status = "updating"
	StatusLoginError Status = "login_error"
	StatusOutdated   Status = "outdated"
)

// SweepStatuses are the statuses eligible for a scheduled full sweep.
// Connections in login_error need the user to re-authenticate first.
var SweepStatuses = []Status{StatusUpdated, StatusUpdating, StatusOutdated}

// Domain errors
var (
	ErrNotFound      = errors.New("connection not found")
	ErrInvalidStatus = errors.New("invalid connection status")
	ErrInvalidInput  = errors.New("invalid input")
)

// Connection is a user's link to one institution through the aggregator
type Connection struct {
	ID                string     `json:"id"`
	UserID            string     `json:"userId"`
	ItemID            string     `json:"itemId"`
	ConnectorID       int        `json:"connectorId"`
	ConnectorName     string     `json:"connectorName"`
	ConnectorImageURL string     `json:"connectorImageUrl"`
	Status            Status     `json:"status"`
	LastSyncAt        *time.Time `json:"lastSyncAt"`
	ErrorMessage      *string    `json:"errorMessage,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// UpsertParams creates a connection or refreshes its connector metadata.
// Status is only written when the row is created.
type UpsertParams struct {
	UserID            string
	ItemID            string
	ConnectorID       int
	ConnectorName     string
	ConnectorImageURL string
	Status            Status
}

// Validate validates the upsert parameters
func (p UpsertParams) Validate() error {
	if strings.TrimSpace(p.UserID) == "" {
		return errors.New("user ID is required")
	}
	if strings.TrimSpace(p.ItemID) == "" {
		return errors.New("item ID is required")
	}
	if !p.Status.Valid() {
		return ErrInvalidStatus
	}
	return nil
}

// StatusUpdate is the outcome of a sync attempt written back to the connection
type StatusUpdate struct {
	Status       Status
	LastSyncAt   *time.Time
	ErrorMessage *string
}

// Succeeded returns the update for a completed sync: error cleared, last sync set.
func Succeeded(at time.Time) StatusUpdate {
	return StatusUpdate{Status: StatusUpdated, LastSyncAt: &at}
}

// Failed returns the update for a failed sync. The last sync time is left unchanged.
func Failed(message string) StatusUpdate {
	return StatusUpdate{Status: StatusLoginError, ErrorMessage: &message}
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusUpdated, StatusUpdating, StatusLoginError, StatusOutdated:
		return true
	}
	return false
}

// ParseStatus converts an aggregator item status (e.g. "LOGIN_ERROR") into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", ErrInvalidStatus
	}
	return s, nil
}
