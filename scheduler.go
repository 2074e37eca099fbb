package session

import (
	"context"
	"sync"
	"time"
)

// Ticker delivers periodic ticks until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a Ticker firing every d.
type TickerFactory func(d time.Duration) Ticker

type realTicker struct {
	t *time.Ticker
}

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// NewRealTicker returns a Ticker backed by time.Ticker.
func NewRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// Scheduler runs a periodic task bound to a single epoch. Starting a new
// epoch cancels the previous one; Stop cancels unconditionally.
type Scheduler struct {
	interval  time.Duration
	newTicker TickerFactory

	mu      sync.Mutex
	cancel  context.CancelFunc
	epoch   uint64
	running bool
	wg      sync.WaitGroup
}

// NewScheduler returns a stopped Scheduler.
func NewScheduler(interval time.Duration, factory TickerFactory) *Scheduler {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	if factory == nil {
		factory = NewRealTicker
	}
	return &Scheduler{
		interval:  interval,
		newTicker: factory,
	}
}

// Interval returns the tick cadence.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Start begins calling fn on every tick for epoch, replacing any running
// schedule. fn runs on the scheduler goroutine; ticks that arrive while fn
// is running are dropped.
func (s *Scheduler) Start(parent context.Context, epoch uint64, fn func(ctx context.Context, epoch uint64)) {
	if fn == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()

	ctx, cancel := context.WithCancel(parent)
	ticker := s.newTicker(s.interval)

	s.cancel = cancel
	s.epoch = epoch
	s.running = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				if ctx.Err() != nil {
					return
				}
				fn(ctx, epoch)
			}
		}
	}()
}

// Stop cancels the running schedule, if any. It does not wait for an
// in-progress tick to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Running reports the epoch of the active schedule.
func (s *Scheduler) Running() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch, s.running
}

// Wait blocks until every schedule goroutine has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) stopLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.running = false
}
