package engine

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrSchedulerStopped    = errors.New("scheduler stopped")
	ErrSchedulerNotStarted = errors.New("scheduler not started")
)

// RetryHandler runs a retry once it comes due.
type RetryHandler func(ctx context.Context, job RetryJob)

// Scheduler defers retry attempts. Implementations must not block the caller
// of Schedule for the length of the delay.
type Scheduler interface {
	// Start begins delivering due jobs to handle. It returns immediately.
	Start(ctx context.Context, handle RetryHandler)
	Schedule(ctx context.Context, job RetryJob, delay time.Duration) error
	// Stop stops delivering jobs and waits for running handlers.
	Stop()
}

// TimerScheduler keeps pending retries in process timers. Pending retries
// are lost when the process exits.
type TimerScheduler struct {
	mu      sync.Mutex
	ctx     context.Context
	handle  RetryHandler
	timers  map[*time.Timer]struct{}
	stopped bool
	wg      sync.WaitGroup
}

func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{timers: make(map[*time.Timer]struct{})}
}

func (s *TimerScheduler) Start(ctx context.Context, handle RetryHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	s.handle = handle
}

func (s *TimerScheduler) Schedule(_ context.Context, job RetryJob, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrSchedulerStopped
	}
	if s.handle == nil {
		return ErrSchedulerNotStarted
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, t)
		if s.stopped || s.ctx.Err() != nil {
			s.mu.Unlock()
			return
		}
		s.wg.Add(1)
		ctx, handle := s.ctx, s.handle
		s.mu.Unlock()

		defer s.wg.Done()
		handle(ctx, job)
	})
	s.timers[t] = struct{}{}
	return nil
}

// Pending returns the number of retries waiting on a timer.
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for t := range s.timers {
		t.Stop()
		delete(s.timers, t)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
