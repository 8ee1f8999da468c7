package openfinance

import (
	"time"
)

// State is the stage a sync run is in
type State string

const (
	StateFetchingItem        State = "fetching-item"
	StateSyncingAccounts     State = "syncing-accounts"
	StateSyncingTransactions State = "syncing-transactions"
	StateFinalizing          State = "finalizing"
	StateSucceeded           State = "succeeded"
	StateFailed              State = "failed"
)

// Outcome summarizes how a finished run went
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomePartial   Outcome = "partial" // succeeded, but some transactions were skipped or failed
	OutcomeFailed    Outcome = "failed"
)

// SyncRun contains the results of syncing one connection
type SyncRun struct {
	ConnectionID    string    `json:"connectionId"`
	UserID          string    `json:"-"`
	State           State     `json:"state"`
	Outcome         Outcome   `json:"outcome,omitempty"`
	Accounts        int       `json:"accounts"`
	NewTransactions int       `json:"transactions"`
	Duplicates      int       `json:"duplicates"`
	Skipped         int       `json:"skipped"` // transactions whose account is not stored locally
	Failed          int       `json:"failed"`
	Categorized     int       `json:"categorized"`
	StartedAt       time.Time `json:"startedAt"`
	FinishedAt      time.Time `json:"finishedAt"`
	Errors          []string  `json:"errors,omitempty"`
}

func newSyncRun(connectionID, userID string, startedAt time.Time) *SyncRun {
	return &SyncRun{
		ConnectionID: connectionID,
		UserID:       userID,
		State:        StateFetchingItem,
		StartedAt:    startedAt,
	}
}

// Succeeded reports whether the run finished without a connection-level failure
func (r *SyncRun) Succeeded() bool {
	return r.State == StateSucceeded
}

// Duration returns how long the run took
func (r *SyncRun) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r *SyncRun) finish(at time.Time) {
	r.FinishedAt = at
	r.State = StateSucceeded
	r.Outcome = OutcomeSucceeded
	if r.Skipped > 0 || r.Failed > 0 {
		r.Outcome = OutcomePartial
	}
}

func (r *SyncRun) fail(at time.Time, err error) {
	r.FinishedAt = at
	r.State = StateFailed
	r.Outcome = OutcomeFailed
	r.Errors = append(r.Errors, err.Error())
}
