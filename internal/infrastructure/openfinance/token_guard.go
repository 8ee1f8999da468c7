package openfinance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"nero/internal/shared/clock"
)

const (
	authPath             = "/auth"
	defaultTokenValidity = 24 * time.Hour
	defaultTokenMargin   = time.Hour
	defaultAuthTimeout   = 30 * time.Second
)

// Credential is an API key issued by the aggregator
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// TokenSource supplies credentials to the client
type TokenSource interface {
	EnsureValid(ctx context.Context) (Credential, error)
	Invalidate(token string)
}

// TokenGuardConfig configures a TokenGuard. Validity is how long the aggregator
// honors a key. Margin is subtracted from it so the key is replaced before the
// aggregator starts rejecting it.
type TokenGuardConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Validity     time.Duration
	Margin       time.Duration
	Timeout      time.Duration
	HTTPClient   *http.Client
	Clock        clock.Clock
}

// TokenGuard caches the aggregator API key and refreshes it when it nears expiry.
// Concurrent callers that find the cache stale share a single refresh.
type TokenGuard struct {
	baseURL      string
	clientID     string
	clientSecret string
	validity     time.Duration
	margin       time.Duration
	timeout      time.Duration
	httpClient   *http.Client
	clock        clock.Clock

	mu      sync.Mutex
	current *Credential
	group   singleflight.Group
}

var _ TokenSource = (*TokenGuard)(nil)

// NewTokenGuard creates a TokenGuard. Zero durations fall back to the aggregator defaults.
func NewTokenGuard(cfg TokenGuardConfig) *TokenGuard {
	g := &TokenGuard{
		baseURL:      cfg.BaseURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		validity:     cfg.Validity,
		margin:       cfg.Margin,
		timeout:      cfg.Timeout,
		httpClient:   cfg.HTTPClient,
		clock:        cfg.Clock,
	}
	if g.validity <= 0 {
		g.validity = defaultTokenValidity
	}
	if g.margin <= 0 || g.margin >= g.validity {
		g.margin = defaultTokenMargin
	}
	if g.timeout <= 0 {
		g.timeout = defaultAuthTimeout
	}
	if g.httpClient == nil {
		g.httpClient = &http.Client{}
	}
	if g.clock == nil {
		g.clock = clock.System{}
	}
	return g
}

// EnsureValid returns a credential that is valid now, authenticating only
// when the cached one is missing or expired.
func (g *TokenGuard) EnsureValid(ctx context.Context) (Credential, error) {
	if cred, ok := g.cached(); ok {
		return cred, nil
	}

	ch := g.group.DoChan("auth", func() (interface{}, error) {
		if cred, ok := g.cached(); ok {
			return cred, nil
		}
		// The refresh outlives any single caller; each caller waits on its own context below.
		authCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
		defer cancel()
		return g.authenticate(authCtx)
	})

	select {
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Credential{}, res.Err
		}
		return res.Val.(Credential), nil
	}
}

// Invalidate drops the cached credential if it is still the given token.
// A credential that was already replaced by a concurrent refresh is kept.
func (g *TokenGuard) Invalidate(token string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current != nil && g.current.Token == token {
		g.current = nil
	}
}

func (g *TokenGuard) cached() (Credential, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil || !g.clock.Now().Before(g.current.ExpiresAt) {
		return Credential{}, false
	}
	return *g.current, true
}

type authRequest struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

type authResponse struct {
	APIKey string `json:"apiKey"`
}

func (g *TokenGuard) authenticate(ctx context.Context) (Credential, error) {
	payload, err := json.Marshal(authRequest{ClientID: g.clientID, ClientSecret: g.clientSecret})
	if err != nil {
		return Credential{}, fmt.Errorf("failed to marshal auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+authPath, bytes.NewReader(payload))
	if err != nil {
		return Credential{}, fmt.Errorf("failed to create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return Credential{}, newNetworkError(http.MethodPost, authPath, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Credential{}, newNetworkError(http.MethodPost, authPath, err)
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		return Credential{}, fmt.Errorf("%w: %w", ErrAuth, newAPIError(resp.StatusCode, body))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return Credential{}, newAPIError(resp.StatusCode, body)
	}

	var authResp authResponse
	if err := json.Unmarshal(body, &authResp); err != nil {
		return Credential{}, fmt.Errorf("failed to unmarshal auth response: %w", err)
	}
	if authResp.APIKey == "" {
		return Credential{}, fmt.Errorf("%w: empty apiKey in auth response", ErrAuth)
	}

	cred := Credential{
		Token:     authResp.APIKey,
		ExpiresAt: g.clock.Now().Add(g.validity - g.margin),
	}

	g.mu.Lock()
	g.current = &cred
	g.mu.Unlock()

	log.Printf("OpenFinance: obtained API key, valid until %s", cred.ExpiresAt.Format(time.RFC3339))
	return cred, nil
}
