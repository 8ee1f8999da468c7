package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ofclient "nero/internal/infrastructure/openfinance"
	"nero/internal/shared/clock"
)

type MockJob struct {
	ExecuteFunc func(ctx context.Context) error
	executed    atomic.Int32
}

func (m *MockJob) Execute(ctx context.Context) error {
	m.executed.Add(1)
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx)
	}
	return nil
}

func (m *MockJob) UserID() string      { return "user-1" }
func (m *MockJob) Description() string { return "test job" }

func newJobs(n int) ([]Job, []*MockJob) {
	jobs := make([]Job, n)
	mocks := make([]*MockJob, n)
	for i := range mocks {
		mocks[i] = &MockJob{}
		jobs[i] = mocks[i]
	}
	return jobs, mocks
}

func testClock() *clock.Fake {
	return clock.NewFake(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
}

func TestNewWorkerPool_ClampsWorkers(t *testing.T) {
	tests := []struct {
		requested int
		want      int
	}{
		{0, 1},
		{-3, 1},
		{1, 1},
		{3, 3},
		{10, MaxWorkers},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.requested), func(t *testing.T) {
			wp := NewWorkerPool(tt.requested, time.Minute, testClock())
			assert.Equal(t, tt.want, wp.workerCount)
		})
	}
}

func TestWorkerPool_RunsEveryJob(t *testing.T) {
	wp := NewWorkerPool(3, time.Minute, testClock())
	jobs, mocks := newJobs(7)

	result := wp.Run(context.Background(), jobs, BatchOptions{})

	assert.Equal(t, BatchResult{Succeeded: 7}, result)
	for i, m := range mocks {
		assert.EqualValues(t, 1, m.executed.Load(), "job %d", i)
	}
}

func TestWorkerPool_DelaysBetweenConsecutiveJobs(t *testing.T) {
	clk := testClock()
	wp := NewWorkerPool(1, time.Minute, clk)
	jobs, _ := newJobs(3)

	wp.Run(context.Background(), jobs, BatchOptions{Delay: 2 * time.Second})

	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, clk.Slept())
}

func TestWorkerPool_FailuresDoNotStopBatch(t *testing.T) {
	wp := NewWorkerPool(1, time.Minute, testClock())
	jobs, mocks := newJobs(3)
	mocks[0].ExecuteFunc = func(ctx context.Context) error { return ofclient.ErrServerError }

	result := wp.Run(context.Background(), jobs, BatchOptions{
		Abort: func(err error) bool { return errors.Is(err, ofclient.ErrAuth) },
	})

	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 2, result.Succeeded)
	assert.NoError(t, result.AbortedBy)
}

func TestWorkerPool_AbortStopsBatch(t *testing.T) {
	clk := testClock()
	wp := NewWorkerPool(1, time.Minute, clk)
	jobs, mocks := newJobs(3)
	mocks[0].ExecuteFunc = func(ctx context.Context) error {
		return fmt.Errorf("sync failed: %w", ofclient.ErrAuth)
	}

	result := wp.Run(context.Background(), jobs, BatchOptions{
		Delay: time.Second,
		Abort: func(err error) bool { return errors.Is(err, ofclient.ErrAuth) },
	})

	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 2, result.NotStarted)
	assert.ErrorIs(t, result.AbortedBy, ofclient.ErrAuth)
	assert.Zero(t, mocks[1].executed.Load())
	assert.Zero(t, mocks[2].executed.Load())
	assert.Empty(t, clk.Slept(), "no delay should be taken once the batch is aborted")
}

func TestWorkerPool_JobTimeout(t *testing.T) {
	wp := NewWorkerPool(1, 20*time.Millisecond, testClock())
	jobs, mocks := newJobs(1)
	mocks[0].ExecuteFunc = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	result := wp.Run(context.Background(), jobs, BatchOptions{})

	require.Equal(t, 1, result.Failed)
}

func TestWorkerPool_CancelledContext(t *testing.T) {
	wp := NewWorkerPool(2, time.Minute, testClock())
	jobs, mocks := newJobs(4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := wp.Run(ctx, jobs, BatchOptions{})

	assert.Equal(t, 4, result.NotStarted)
	for _, m := range mocks {
		assert.Zero(t, m.executed.Load())
	}
}

func TestWorkerPool_EmptyBatch(t *testing.T) {
	wp := NewWorkerPool(2, time.Minute, testClock())
	assert.Equal(t, BatchResult{}, wp.Run(context.Background(), nil, BatchOptions{}))
}
