package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"nero/internal/shared/clock"
)

const (
	// MaxWorkers bounds parallel syncs to stay within the aggregator's rate limits
	MaxWorkers        = 4
	defaultJobTimeout = 10 * time.Minute
)

var (
	jobTracer         = otel.Tracer("nero/scheduler")
	jobMeter          = otel.Meter("nero/scheduler")
	jobDuration, _    = jobMeter.Float64Histogram("scheduler.job.duration", metric.WithDescription("Job execution duration in seconds"), metric.WithUnit("s"))
	jobTotal, _       = jobMeter.Int64Counter("scheduler.job.total", metric.WithDescription("Total jobs executed by status"))
	jobsNotStarted, _ = jobMeter.Int64Counter("scheduler.job.not_started", metric.WithDescription("Jobs left unstarted because their batch was aborted"))
)

// BatchOptions controls one call to Run
type BatchOptions struct {
	// Delay is the pause a worker takes between two consecutive jobs
	Delay time.Duration
	// Abort, when it returns true for a job's error, stops the batch: queued jobs
	// are not started and running jobs see their context cancelled.
	Abort func(error) bool
}

// BatchResult summarizes a finished batch
type BatchResult struct {
	Succeeded  int
	Failed     int
	NotStarted int
	AbortedBy  error
}

// WorkerPool runs batches of jobs on a fixed number of workers.
type WorkerPool struct {
	workerCount int
	jobTimeout  time.Duration
	clock       clock.Clock
}

// NewWorkerPool creates a pool. workerCount is clamped to [1, MaxWorkers].
func NewWorkerPool(workerCount int, jobTimeout time.Duration, clk clock.Clock) *WorkerPool {
	workerCount = max(1, min(workerCount, MaxWorkers))
	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &WorkerPool{workerCount: workerCount, jobTimeout: jobTimeout, clock: clk}
}

type jobOutcome struct {
	err     error
	skipped bool
}

// batch is the state shared by the workers of one Run
type batch struct {
	queue    chan Job
	outcomes chan jobOutcome
	opts     BatchOptions
	cancel   context.CancelFunc

	abortOnce sync.Once
	abortedBy error
}

// Run executes jobs and blocks until every started job has returned.
func (wp *WorkerPool) Run(ctx context.Context, jobs []Job, opts BatchOptions) BatchResult {
	var result BatchResult
	if len(jobs) == 0 {
		return result
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b := &batch{
		queue:    make(chan Job, len(jobs)),
		outcomes: make(chan jobOutcome, len(jobs)),
		opts:     opts,
		cancel:   cancel,
	}
	for _, job := range jobs {
		b.queue <- job
	}
	close(b.queue)

	workers := min(wp.workerCount, len(jobs))
	var wg sync.WaitGroup
	for i := 1; i <= workers; i++ {
		wg.Add(1)
		go wp.worker(ctx, i, b, &wg)
	}

	go func() {
		wg.Wait()
		close(b.outcomes)
	}()

	for o := range b.outcomes {
		switch {
		case o.skipped:
			result.NotStarted++
		case o.err != nil:
			result.Failed++
		default:
			result.Succeeded++
		}
	}
	result.AbortedBy = b.abortedBy

	if result.NotStarted > 0 {
		jobsNotStarted.Add(context.WithoutCancel(ctx), int64(result.NotStarted))
	}
	return result
}

// worker takes jobs from the queue until it is drained. Once the batch context
// is done, remaining jobs are reported as skipped without running.
func (wp *WorkerPool) worker(ctx context.Context, id int, b *batch, wg *sync.WaitGroup) {
	defer wg.Done()

	first := true
	for job := range b.queue {
		if !first && b.opts.Delay > 0 {
			// A cancelled sleep falls through to the ctx check below
			_ = wp.clock.Sleep(ctx, b.opts.Delay)
		}
		first = false

		if ctx.Err() != nil {
			b.outcomes <- jobOutcome{skipped: true}
			continue
		}

		err := wp.processJob(ctx, id, job)
		if err != nil && b.opts.Abort != nil && b.opts.Abort(err) {
			b.abortOnce.Do(func() {
				log.Printf("Worker %d: aborting batch: %v", id, err)
				b.abortedBy = err
				b.cancel()
			})
		}
		b.outcomes <- jobOutcome{err: err}
	}
}

// processJob executes a single job with a timeout, logging and telemetry.
func (wp *WorkerPool) processJob(ctx context.Context, workerID int, job Job) error {
	log.Printf("Worker %d: Processing %s for user %s", workerID, job.Description(), job.UserID())

	ctx, cancel := context.WithTimeout(ctx, wp.jobTimeout)
	defer cancel()

	ctx, span := jobTracer.Start(ctx, "job.execute",
		trace.WithAttributes(
			attribute.Int("worker.id", workerID),
			attribute.String("job.description", job.Description()),
			attribute.String("job.user_id", job.UserID()),
		),
	)
	defer span.End()

	start := time.Now()

	if err := job.Execute(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		jobTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "error")))
		jobDuration.Record(ctx, time.Since(start).Seconds())
		log.Printf("Worker %d: Error processing %s for user %s: %v",
			workerID, job.Description(), job.UserID(), err)
		return err
	}

	jobTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "success")))
	jobDuration.Record(ctx, time.Since(start).Seconds())
	log.Printf("Worker %d: Successfully completed %s for user %s",
		workerID, job.Description(), job.UserID())
	return nil
}
