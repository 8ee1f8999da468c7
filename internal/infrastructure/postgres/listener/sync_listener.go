// Package listener receives on-demand sync requests over PostgreSQL LISTEN/NOTIFY.
package listener

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"golang.org/x/sync/semaphore"

	"nero/internal/domain/openfinance"
)

const (
	// ChannelName is the NOTIFY channel carrying sync requests
	ChannelName       = "connection_sync_requested"
	reconnectInterval = 5 * time.Second
	pingInterval      = 90 * time.Second
	defaultJobTimeout = 10 * time.Minute
	defaultParallel   = 1
	maxPending        = 32
)

var ErrInvalidPayload = errors.New("invalid sync request payload")

// SyncRequest is the NOTIFY payload
type SyncRequest struct {
	UserID       string `json:"user_id"`
	ConnectionID string `json:"connection_id"`
}

// Syncer runs one connection's sync outside the sweep guard
type Syncer interface {
	SyncOne(ctx context.Context, userID, connectionID string) (*openfinance.SyncRun, error)
}

// Execer is the subset of the database handle needed to publish a request
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SyncListener runs a sync for every request published on ChannelName.
// At most parallel syncs run at once; a request for a connection that is
// already queued or running is dropped, and so is anything past maxPending.
type SyncListener struct {
	connStr    string
	syncer     Syncer
	jobTimeout time.Duration
	slots      *semaphore.Weighted
	shutdownCh chan struct{}
	done       chan struct{}
	inflight   sync.WaitGroup

	queueCtx  context.Context
	stopQueue context.CancelFunc

	mu      sync.Mutex
	pending map[SyncRequest]struct{}
}

// NewSyncListener creates a listener. jobTimeout bounds each requested sync and
// parallel caps how many run at the same time.
func NewSyncListener(connStr string, syncer Syncer, jobTimeout time.Duration, parallel int) *SyncListener {
	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}
	if parallel <= 0 {
		parallel = defaultParallel
	}
	queueCtx, stopQueue := context.WithCancel(context.Background())
	return &SyncListener{
		connStr:    connStr,
		syncer:     syncer,
		jobTimeout: jobTimeout,
		slots:      semaphore.NewWeighted(int64(parallel)),
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
		queueCtx:   queueCtx,
		stopQueue:  stopQueue,
		pending:    make(map[SyncRequest]struct{}),
	}
}

// Start begins listening for notifications in a background goroutine
func (l *SyncListener) Start(ctx context.Context) {
	go l.listen(ctx)
	log.Println("Sync request listener started")
}

// Stop shuts down the listener, drops queued requests and waits for the
// syncs already running
func (l *SyncListener) Stop() {
	close(l.shutdownCh)
	<-l.done
	l.stopQueue()
	l.inflight.Wait()
	log.Println("Sync request listener stopped")
}

// RequestSync publishes a sync request for a running API process to pick up
func RequestSync(ctx context.Context, db Execer, userID, connectionID string) error {
	req := SyncRequest{UserID: userID, ConnectionID: connectionID}
	if err := req.validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal sync request: %w", err)
	}

	if _, err := db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, ChannelName, string(payload)); err != nil {
		return fmt.Errorf("failed to publish sync request: %w", err)
	}
	return nil
}

func (r SyncRequest) validate() error {
	if strings.TrimSpace(r.UserID) == "" || strings.TrimSpace(r.ConnectionID) == "" {
		return fmt.Errorf("%w: user_id and connection_id are required", ErrInvalidPayload)
	}
	return nil
}

func parseRequest(extra string) (SyncRequest, error) {
	var req SyncRequest
	if err := json.Unmarshal([]byte(extra), &req); err != nil {
		return SyncRequest{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := req.validate(); err != nil {
		return SyncRequest{}, err
	}
	return req, nil
}

func (l *SyncListener) listen(ctx context.Context) {
	defer close(l.done)

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		default:
			l.connectAndListen(ctx)
		}

		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(reconnectInterval):
			log.Println("Reconnecting to PostgreSQL for sync requests...")
		}
	}
}

func (l *SyncListener) connectAndListen(ctx context.Context) {
	listener := pq.NewListener(l.connStr, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			log.Println("Connected to PostgreSQL notification channel")
		case pq.ListenerEventDisconnected:
			log.Printf("Disconnected from PostgreSQL notification channel: %v", err)
		case pq.ListenerEventReconnected:
			log.Println("Reconnected to PostgreSQL notification channel")
		case pq.ListenerEventConnectionAttemptFailed:
			log.Printf("Connection attempt failed: %v", err)
		}
	})
	defer listener.Close()

	if err := listener.Listen(ChannelName); err != nil {
		log.Printf("Failed to listen on channel %s: %v", ChannelName, err)
		return
	}

	log.Printf("Listening on channel: %s", ChannelName)

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case n := <-listener.Notify:
			if n == nil {
				// pq sends nil after a reconnect; requests sent meanwhile are lost
				log.Println("Notification connection was reset")
				continue
			}
			l.handleNotification(n)
		case <-time.After(pingInterval):
			go func() {
				if err := listener.Ping(); err != nil {
					log.Printf("Listener ping failed: %v", err)
				}
			}()
		}
	}
}

func (l *SyncListener) handleNotification(n *pq.Notification) {
	req, err := parseRequest(n.Extra)
	if err != nil {
		log.Printf("Ignoring notification on %s: %v", n.Channel, err)
		return
	}

	if !l.enqueue(req) {
		return
	}

	l.inflight.Add(1)
	go func() {
		defer l.inflight.Done()
		defer l.dequeue(req)

		if err := l.slots.Acquire(l.queueCtx, 1); err != nil {
			log.Printf("Connection %s: dropping queued sync request: %v", req.ConnectionID, err)
			return
		}
		defer l.slots.Release(1)
		l.run(req)
	}()
}

func (l *SyncListener) enqueue(req SyncRequest) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.pending[req]; ok {
		log.Printf("Connection %s: sync already requested, ignoring duplicate", req.ConnectionID)
		return false
	}
	if len(l.pending) >= maxPending {
		log.Printf("Connection %s: %d sync requests pending, ignoring request", req.ConnectionID, len(l.pending))
		return false
	}
	l.pending[req] = struct{}{}
	return true
}

func (l *SyncListener) dequeue(req SyncRequest) {
	l.mu.Lock()
	delete(l.pending, req)
	l.mu.Unlock()
}

func (l *SyncListener) run(req SyncRequest) {
	// Detached from the listener context so shutdown does not cut a sync short
	ctx, cancel := context.WithTimeout(context.Background(), l.jobTimeout)
	defer cancel()

	log.Printf("Connection %s: sync requested for user %s", req.ConnectionID, req.UserID)

	run, err := l.syncer.SyncOne(ctx, req.UserID, req.ConnectionID)
	if err != nil {
		log.Printf("Connection %s: requested sync failed: %v", req.ConnectionID, err)
		return
	}
	log.Printf("Connection %s: requested sync finished (%s, %d new transactions)",
		req.ConnectionID, run.Outcome, run.NewTransactions)
}
