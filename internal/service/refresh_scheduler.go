package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/portfolio-aggregator/internal/logging"
)

// Refresher is what the scheduler drives
type Refresher interface {
	RefreshAll(ctx context.Context) (refreshed, failed int, err error)
}

// RefreshScheduler refreshes every wallet periodically so the daily snapshot
// is written even when nobody calls the API.
type RefreshScheduler struct {
	refresher Refresher
	next      func(now time.Time) time.Duration
	runNow    bool
	logger    *logging.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewIntervalScheduler refreshes once at start and then every interval
func NewIntervalScheduler(r Refresher, interval time.Duration) *RefreshScheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &RefreshScheduler{
		refresher: r,
		next:      func(time.Time) time.Duration { return interval },
		runNow:    true,
		logger:    logging.Component("refresh-scheduler"),
	}
}

// NewDailyScheduler refreshes at every midnight UTC
func NewDailyScheduler(r Refresher) *RefreshScheduler {
	return &RefreshScheduler{
		refresher: r,
		next:      UntilNextMidnightUTC,
		logger:    logging.Component("snapshot-scheduler"),
	}
}

// UntilNextMidnightUTC returns the wait until the next 00:00 UTC
func UntilNextMidnightUTC(now time.Time) time.Duration {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	return midnight.Sub(now)
}

// Start begins the scheduler loop
func (s *RefreshScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("refresh scheduler is already running")
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go s.loop(ctx, s.stop, s.done)
	return nil
}

// Stop ends the loop and waits for an in-flight run to finish
func (s *RefreshScheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return errors.New("refresh scheduler is not running")
	}
	s.running = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done
	s.logger.Info("refresh scheduler stopped")
	return nil
}

func (s *RefreshScheduler) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)

	if s.runNow {
		s.RunOnce(ctx)
	}

	for {
		wait := s.next(time.Now())
		s.logger.WithField("next_run_in", wait.String()).Debug("refresh scheduled")
		timer := time.NewTimer(wait)

		select {
		case <-timer.C:
			s.RunOnce(ctx)
		case <-stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// RunOnce refreshes every wallet immediately
func (s *RefreshScheduler) RunOnce(ctx context.Context) {
	start := time.Now()
	refreshed, failed, err := s.refresher.RefreshAll(ctx)
	logger := s.logger.WithFields(map[string]interface{}{
		"refreshed": refreshed,
		"failed":    failed,
		"duration":  time.Since(start).String(),
	})
	if err != nil {
		logger.WithError(err).Error("scheduled refresh aborted")
		return
	}
	logger.Info("scheduled refresh completed")
}
