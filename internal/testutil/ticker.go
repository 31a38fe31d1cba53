package testutil

import (
	"sync"
	"time"
)

// ManualTicker is a ticker whose ticks are fired by the test.
type ManualTicker struct {
	mu      sync.Mutex
	c       chan time.Time
	period  time.Duration
	stopped bool
}

func NewManualTicker(d time.Duration) *ManualTicker {
	return &ManualTicker{c: make(chan time.Time), period: d}
}

func (t *ManualTicker) C() <-chan time.Time { return t.c }

func (t *ManualTicker) Reset(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.period = d
}

func (t *ManualTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

// Fire delivers one tick and returns once the scheduler loop has received it.
func (t *ManualTicker) Fire(now time.Time) {
	t.c <- now
}

// Period is the interval the ticker was last set to.
func (t *ManualTicker) Period() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.period
}

func (t *ManualTicker) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Factory hands out tickers created by the scheduler so the test can reach them. New
// never blocks, however many tickers nobody asked for yet.
type Factory struct {
	mu      sync.Mutex
	pending []*ManualTicker
	signal  chan struct{}
}

func NewFactory() *Factory {
	return &Factory{signal: make(chan struct{}, 1)}
}

func (f *Factory) New(d time.Duration) *ManualTicker {
	t := NewManualTicker(d)
	f.mu.Lock()
	f.pending = append(f.pending, t)
	f.mu.Unlock()
	select {
	case f.signal <- struct{}{}:
	default:
	}
	return t
}

// Next returns the oldest ticker not handed out yet, waiting up to timeout for one.
func (f *Factory) Next(timeout time.Duration) *ManualTicker {
	deadline := time.After(timeout)
	for {
		f.mu.Lock()
		if len(f.pending) > 0 {
			t := f.pending[0]
			f.pending = f.pending[1:]
			f.mu.Unlock()
			return t
		}
		f.mu.Unlock()
		select {
		case <-f.signal:
		case <-deadline:
			return nil
		}
	}
}
