package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// ScheduleTime represents a specific time of day when a sweep should run.
type ScheduleTime struct {
	Hour   int
	Minute int
}

// String returns the time in HH:MM format.
func (st ScheduleTime) String() string {
	return fmt.Sprintf("%02d:%02d", st.Hour, st.Minute)
}

// ParseScheduleTime parses a time string in HH:MM format.
func ParseScheduleTime(s string) (ScheduleTime, error) {
	var hour, minute int
	_, err := fmt.Sscanf(s, "%d:%d", &hour, &minute)
	if err != nil {
		return ScheduleTime{}, fmt.Errorf("invalid time format (expected HH:MM): %w", err)
	}

	if hour < 0 || hour > 23 {
		return ScheduleTime{}, fmt.Errorf("invalid hour: %d (must be 0-23)", hour)
	}
	if minute < 0 || minute > 59 {
		return ScheduleTime{}, fmt.Errorf("invalid minute: %d (must be 0-59)", minute)
	}

	return ScheduleTime{Hour: hour, Minute: minute}, nil
}

// Sweeps is what the scheduler triggers
type Sweeps interface {
	RunFullSweep(ctx context.Context) (*SweepReport, error)
	RunStalenessCheck(ctx context.Context) (*SweepReport, error)
}

// Config holds configuration for the scheduler.
type Config struct {
	FullSweepTimes  []string
	StaleCheckEvery time.Duration
	RunOnStartup    bool
	// SweepTimeout bounds one triggered sweep
	SweepTimeout time.Duration
}

// Scheduler triggers full sweeps at fixed times of day and staleness checks
// on an interval.
type Scheduler struct {
	sweeps          Sweeps
	scheduleTimes   []ScheduleTime
	staleCheckEvery time.Duration
	runOnStartup    bool
	sweepTimeout    time.Duration

	ctx      context.Context
	cancel   context.CancelFunc
	stop     chan struct{}
	loopDone chan struct{}
	wg       sync.WaitGroup // running sweeps

	mu           sync.Mutex
	lastFullRun  string
	lastStaleRun time.Time
}

// NewScheduler creates a new scheduler with the given configuration.
func NewScheduler(sweeps Sweeps, config Config) (*Scheduler, error) {
	scheduleTimes := make([]ScheduleTime, 0, len(config.FullSweepTimes))
	for _, timeStr := range config.FullSweepTimes {
		st, err := ParseScheduleTime(timeStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse schedule time %q: %w", timeStr, err)
		}
		scheduleTimes = append(scheduleTimes, st)
	}

	if len(scheduleTimes) == 0 && config.StaleCheckEvery <= 0 {
		return nil, fmt.Errorf("at least one schedule time or a staleness interval is required")
	}

	sweepTimeout := config.SweepTimeout
	if sweepTimeout <= 0 {
		sweepTimeout = 3 * time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())

	log.Printf("Scheduler initialized with %d full sweep times: %v, staleness check every %v",
		len(scheduleTimes), config.FullSweepTimes, config.StaleCheckEvery)

	return &Scheduler{
		sweeps:          sweeps,
		scheduleTimes:   scheduleTimes,
		staleCheckEvery: config.StaleCheckEvery,
		runOnStartup:    config.RunOnStartup,
		sweepTimeout:    sweepTimeout,
		ctx:             ctx,
		cancel:          cancel,
		stop:            make(chan struct{}),
		loopDone:        make(chan struct{}),
	}, nil
}

// Start launches the scheduling loop.
func (s *Scheduler) Start() {
	log.Println("Starting scheduler...")

	if s.runOnStartup {
		log.Println("Scheduler: Running full sweep on startup")
		s.launch(KindFullSweep, s.sweeps.RunFullSweep)
	}

	s.mu.Lock()
	s.lastStaleRun = time.Now()
	s.mu.Unlock()

	go s.scheduleLoop()

	log.Println("Scheduler started")
}

// scheduleLoop is the main scheduling loop.
func (s *Scheduler) scheduleLoop() {
	defer close(s.loopDone)

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	log.Println("Scheduler loop started, checking every minute")

	for {
		select {
		case <-s.stop:
			log.Println("Scheduler loop: Stopped")
			return

		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

func (s *Scheduler) tick(now time.Time) {
	if s.shouldRunFullSweep(now) {
		log.Printf("Scheduler: Full sweep triggered at %s", now.Format("15:04"))
		s.launch(KindFullSweep, s.sweeps.RunFullSweep)
	}
	if s.shouldRunStaleCheck(now) {
		log.Printf("Scheduler: Staleness check triggered at %s", now.Format("15:04"))
		s.launch(KindStaleCheck, s.sweeps.RunStalenessCheck)
	}
}

// shouldRunFullSweep checks if the current time matches any scheduled time.
func (s *Scheduler) shouldRunFullSweep(now time.Time) bool {
	currentKey := now.Format("2006-01-02 15:04")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastFullRun == currentKey {
		return false
	}

	for _, st := range s.scheduleTimes {
		if now.Hour() == st.Hour && now.Minute() == st.Minute {
			s.lastFullRun = currentKey
			return true
		}
	}

	return false
}

// shouldRunStaleCheck reports whether a staleness interval has elapsed since the last check.
func (s *Scheduler) shouldRunStaleCheck(now time.Time) bool {
	if s.staleCheckEvery <= 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastStaleRun) < s.staleCheckEvery {
		return false
	}
	s.lastStaleRun = now
	return true
}

// launch runs a sweep in the background. The sweeper's guard turns an overlapping
// trigger into a no-op; a sweep-level error only ends this tick.
func (s *Scheduler) launch(kind string, run func(context.Context) (*SweepReport, error)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(s.ctx, s.sweepTimeout)
		defer cancel()

		report, err := run(ctx)
		if err != nil {
			log.Printf("Scheduler: %s failed: %v", kind, err)
			return
		}
		if report.Skipped {
			log.Printf("Scheduler: %s skipped, previous sweep still running", kind)
		}
	}()
}

// Shutdown stops the scheduler, cancelling running sweeps after timeout.
// It must be called after Start.
func (s *Scheduler) Shutdown(timeout time.Duration) {
	log.Println("Scheduler: Initiating graceful shutdown...")

	close(s.stop)
	<-s.loopDone

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	// No new sweeps are triggered; running ones get until timeout to finish
	select {
	case <-done:
	case <-time.After(timeout):
		log.Println("Scheduler: Timeout waiting for sweeps, cancelling")
	}
	s.cancel()
	<-done

	log.Println("Scheduler: Shutdown complete")
}

// TriggerNow starts a full sweep immediately.
func (s *Scheduler) TriggerNow() {
	log.Println("Scheduler: Manual trigger")
	s.launch(KindFullSweep, s.sweeps.RunFullSweep)
}

// NextFullSweep returns the next scheduled full sweep after now.
func (s *Scheduler) NextFullSweep(now time.Time) time.Time {
	var next time.Time
	for _, st := range s.scheduleTimes {
		candidate := time.Date(now.Year(), now.Month(), now.Day(), st.Hour, st.Minute, 0, 0, now.Location())
		if !candidate.After(now) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		if next.IsZero() || candidate.Before(next) {
			next = candidate
		}
	}
	return next
}
