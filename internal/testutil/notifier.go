package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/rowjay/savekeep/internal/notify"
)

// Recorder keeps every event it is notified of.
type Recorder struct {
	mu     sync.Mutex
	events []notify.Event
	signal chan struct{}
}

func NewRecorder() *Recorder {
	return &Recorder{signal: make(chan struct{}, 1)}
}

func (r *Recorder) Notify(_ context.Context, event notify.Event) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	select {
	case r.signal <- struct{}{}:
	default:
	}
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Event(nil), r.events...)
}

// WaitFor blocks until an event matching typ and status was recorded or the timeout
// passes.
func (r *Recorder) WaitFor(typ, status string, timeout time.Duration) (notify.Event, bool) {
	deadline := time.After(timeout)
	for {
		for _, e := range r.Events() {
			if e.Type == typ && e.Status == status {
				return e, true
			}
		}
		select {
		case <-r.signal:
		case <-deadline:
			return notify.Event{}, false
		}
	}
}

// Count returns how many recorded events match typ and status.
func (r *Recorder) Count(typ, status string) int {
	n := 0
	for _, e := range r.Events() {
		if e.Type == typ && e.Status == status {
			n++
		}
	}
	return n
}
