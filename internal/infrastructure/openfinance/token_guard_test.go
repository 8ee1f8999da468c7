package openfinance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nero/internal/shared/clock"
)

var testEpoch = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

// authServer issues key-1, key-2, ... and counts auth calls.
type authServer struct {
	*httptest.Server
	calls   atomic.Int32
	release chan struct{}
}

func newAuthServer(t *testing.T, block bool) *authServer {
	t.Helper()
	s := &authServer{}
	if block {
		s.release = make(chan struct{})
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != authPath || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var body authRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ClientID != "client" || body.ClientSecret != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"message":"invalid credentials"}`))
			return
		}
		n := s.calls.Add(1)
		if s.release != nil {
			<-s.release
		}
		json.NewEncoder(w).Encode(authResponse{APIKey: fmt.Sprintf("key-%d", n)})
	}))
	t.Cleanup(s.Close)
	return s
}

func newTestGuard(baseURL string, clk clock.Clock) *TokenGuard {
	return NewTokenGuard(TokenGuardConfig{
		BaseURL:      baseURL,
		ClientID:     "client",
		ClientSecret: "secret",
		Validity:     24 * time.Hour,
		Margin:       time.Hour,
		Clock:        clk,
	})
}

func TestTokenGuard_RefreshBoundary(t *testing.T) {
	srv := newAuthServer(t, false)
	clk := clock.NewFake(testEpoch)
	guard := newTestGuard(srv.URL, clk)
	ctx := context.Background()

	cred, err := guard.EnsureValid(ctx)
	require.NoError(t, err)
	assert.Equal(t, "key-1", cred.Token)
	assert.Equal(t, testEpoch.Add(23*time.Hour), cred.ExpiresAt)

	clk.Advance(23*time.Hour - time.Second)
	cred, err = guard.EnsureValid(ctx)
	require.NoError(t, err)
	assert.Equal(t, "key-1", cred.Token, "key should be reused just before expiry")
	assert.Equal(t, int32(1), srv.calls.Load())

	clk.Advance(time.Second)
	cred, err = guard.EnsureValid(ctx)
	require.NoError(t, err)
	assert.Equal(t, "key-2", cred.Token, "key should be refreshed at expiry")
	assert.Equal(t, int32(2), srv.calls.Load())
}

func TestTokenGuard_ConcurrentCallersShareRefresh(t *testing.T) {
	srv := newAuthServer(t, true)
	guard := newTestGuard(srv.URL, clock.NewFake(testEpoch))

	const callers = 10
	tokens := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cred, err := guard.EnsureValid(context.Background())
			tokens[i], errs[i] = cred.Token, err
		}(i)
	}

	require.Eventually(t, func() bool { return srv.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	close(srv.release)
	wg.Wait()

	assert.Equal(t, int32(1), srv.calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "key-1", tokens[i])
	}
}

func TestTokenGuard_CallerCancellationDoesNotAbortRefresh(t *testing.T) {
	srv := newAuthServer(t, true)
	guard := newTestGuard(srv.URL, clock.NewFake(testEpoch))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := guard.EnsureValid(ctx)
		done <- err
	}()

	require.Eventually(t, func() bool { return srv.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(srv.release)
	cred, err := guard.EnsureValid(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "key-1", cred.Token)
	assert.Equal(t, int32(1), srv.calls.Load())
}

func TestTokenGuard_RejectedCredentials(t *testing.T) {
	srv := newAuthServer(t, false)
	guard := NewTokenGuard(TokenGuardConfig{
		BaseURL:      srv.URL,
		ClientID:     "client",
		ClientSecret: "wrong",
		Clock:        clock.NewFake(testEpoch),
	})

	_, err := guard.EnsureValid(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuth), "got %v", err)
	assert.Contains(t, err.Error(), "invalid credentials")
}

func TestTokenGuard_InvalidateOnlyDropsMatchingToken(t *testing.T) {
	srv := newAuthServer(t, false)
	guard := newTestGuard(srv.URL, clock.NewFake(testEpoch))
	ctx := context.Background()

	cred, err := guard.EnsureValid(ctx)
	require.NoError(t, err)

	guard.Invalidate("some-older-key")
	again, err := guard.EnsureValid(ctx)
	require.NoError(t, err)
	assert.Equal(t, cred.Token, again.Token)
	assert.Equal(t, int32(1), srv.calls.Load())

	guard.Invalidate(cred.Token)
	fresh, err := guard.EnsureValid(ctx)
	require.NoError(t, err)
	assert.Equal(t, "key-2", fresh.Token)
}
