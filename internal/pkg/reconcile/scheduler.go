package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/robfig/cron/v3"
)

// DefaultInterval is the sweep period when none is configured.
const DefaultInterval = 6 * time.Hour

// ErrSweepInFlight is returned when a trigger is coalesced into a running sweep.
var ErrSweepInFlight = errors.New("reconcile: sweep already in flight")

// Locker guards a sweep across processes.
type Locker interface {
	// Acquire returns ok=false when another holder has the lock. release must
	// be called when ok is true.
	Acquire(ctx context.Context) (release func(), ok bool, err error)
}

// Scheduler runs the sweeper on a fixed interval. At most one sweep is in
// flight; overlapping triggers are skipped.
type Scheduler struct {
	sweeper  *Sweeper
	interval time.Duration
	locker   Locker

	cron     *cron.Cron
	inFlight atomic.Bool
	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc

	lastMu     sync.RWMutex
	lastReport *Report
}

// NewScheduler creates a scheduler. A non-positive interval uses
// DefaultInterval; locker may be nil.
func NewScheduler(sweeper *Sweeper, interval time.Duration, locker Locker) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		sweeper:  sweeper,
		interval: interval,
		locker:   locker,
	}
}

// Interval returns the sweep period.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Start schedules the periodic sweep. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	logger := cronLogger{}
	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	s.cron.Schedule(cron.Every(s.interval), cron.FuncJob(func() { s.tick(runCtx) }))
	s.cron.Start()
	s.running = true

	log.Infof("[Reconcile] Scheduler started (interval: %s)", s.interval)
}

// Stop cancels the schedule and waits for a running sweep to finish its
// current seller. The lock is released before waiting so a due tick can
// still complete.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, c := s.cancel, s.cron
	s.running = false
	s.mu.Unlock()

	log.Info("[Reconcile] Stopping scheduler...")
	cancel()
	<-c.Stop().Done()
	log.Info("[Reconcile] Scheduler stopped")
}

// IsRunning reports whether the schedule is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastReport returns the report of the most recent finished sweep.
func (s *Scheduler) LastReport() *Report {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	return s.lastReport
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.TriggerNow(ctx); err != nil {
		if errors.Is(err, ErrSweepInFlight) {
			log.Debug("[Reconcile] Tick skipped, sweep in flight")
			return
		}
		log.Errorf("[Reconcile] Sweep failed: %v", err)
	}
}

// TriggerNow runs a sweep immediately. It returns ErrSweepInFlight instead of
// starting a second concurrent sweep.
func (s *Scheduler) TriggerNow(ctx context.Context) (*Report, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, ErrSweepInFlight
	}
	defer s.inFlight.Store(false)

	if s.locker != nil {
		release, ok, err := s.locker.Acquire(ctx)
		switch {
		case err != nil:
			log.Warnf("[Reconcile] Lock unavailable, sweeping without it: %v", err)
		case !ok:
			return nil, ErrSweepInFlight
		default:
			defer release()
		}
	}

	report, err := s.sweeper.RunOnce(ctx)
	if err != nil {
		return nil, err
	}

	s.lastMu.Lock()
	s.lastReport = report
	s.lastMu.Unlock()
	return report, nil
}

// cronLogger routes robfig/cron messages to the application log.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debugf("[Reconcile] cron: %s %v", msg, keysAndValues)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Errorf("[Reconcile] cron: %s: %v %v", msg, err, keysAndValues)
}
