// Package synclog records one row per scheduler-driven sync attempt.
package synclog

import (
	"errors"
	"time"
)

// Type distinguishes scheduled attempts from user-requested ones
type Type string

const (
	TypeAutomatic Type = "automatic"
	TypeManual    Type = "manual"
)

// Status of an attempt
type Status string

const (
	StatusStarted Status = "started"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

var ErrLogNotFound = errors.New("sync log not found")

// Entry is one sync attempt
type Entry struct {
	ID                 string     `json:"id"`
	ConnectionID       string     `json:"connectionId"`
	SyncType           Type       `json:"syncType"`
	Status             Status     `json:"status"`
	AccountsSynced     int        `json:"accountsSynced"`
	TransactionsSynced int        `json:"transactionsSynced"`
	ErrorMessage       *string    `json:"errorMessage,omitempty"`
	StartedAt          time.Time  `json:"startedAt"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
}

// Completion is the final state of an attempt
type Completion struct {
	Status             Status
	AccountsSynced     int
	TransactionsSynced int
	ErrorMessage       *string
	CompletedAt        time.Time
}
