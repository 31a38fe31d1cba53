// Package notify carries operation events from the engine to whoever renders them.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	TypeCapture = "capture"
	TypeEvict   = "evict"
	TypeRestore = "restore"
	TypeDelete  = "delete"
	TypeRescan  = "rescan"
	TypeDrift   = "drift"

	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// ErrDropped is returned by Channel when the receiver is not keeping up.
var ErrDropped = errors.New("event dropped, receiver is full")

type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Status    string    `json:"status"`
	Day       string    `json:"day,omitempty"`
	Sequence  int       `json:"sequence,omitempty"`
	SizeBytes int64     `json:"size_bytes,omitempty"`
	Count     int       `json:"count,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Duration  string    `json:"duration"`
	Error     string    `json:"error,omitempty"`
}

// Begin starts an event of the given type with a fresh id.
func Begin(typ, message string) Event {
	return Event{ID: uuid.NewString(), Type: typ, Message: message, StartedAt: time.Now()}
}

// End stamps the outcome. A nil err means success.
func (e Event) End(err error) Event {
	e.EndedAt = time.Now()
	e.Duration = e.EndedAt.Sub(e.StartedAt).String()
	e.Status = StatusFromErr(err)
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// Skip stamps the event as skipped with a reason.
func (e Event) Skip(reason string) Event {
	e = e.End(nil)
	e.Status = StatusSkipped
	e.Message = reason
	return e
}

type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

type Multi struct {
	Targets []Notifier
}

func (m Multi) Notify(ctx context.Context, event Event) error {
	var err error
	for _, target := range m.Targets {
		if target == nil {
			continue
		}
		if nerr := target.Notify(ctx, event); nerr != nil {
			err = nerr
		}
	}
	return err
}

// Log writes every event to a zerolog logger; failures at warn level.
type Log struct {
	Logger zerolog.Logger
}

func (l Log) Notify(_ context.Context, event Event) error {
	ev := l.Logger.Info()
	switch event.Status {
	case StatusFailed:
		ev = l.Logger.Warn().Str("error", event.Error)
	case StatusSkipped:
		ev = l.Logger.Debug()
	}
	ev.Str("event_id", event.ID).
		Str("type", event.Type).
		Str("status", event.Status).
		Str("day", event.Day).
		Int("seq", event.Sequence).
		Int64("size", event.SizeBytes).
		Int("count", event.Count).
		Str("duration", event.Duration).
		Msg(event.Message)
	return nil
}

// Channel hands events to a UI loop without ever blocking the engine.
type Channel struct {
	C chan Event
}

func NewChannel(buffer int) Channel {
	return Channel{C: make(chan Event, buffer)}
}

func (c Channel) Notify(_ context.Context, event Event) error {
	select {
	case c.C <- event:
		return nil
	default:
		return ErrDropped
	}
}

func StatusFromErr(err error) string {
	if err == nil {
		return StatusSuccess
	}
	return StatusFailed
}
