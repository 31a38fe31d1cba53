// Package scheduler runs backups on an interval and applies retention after each one.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rowjay/savekeep/internal/archive"
	"github.com/rowjay/savekeep/internal/notify"
	"github.com/rowjay/savekeep/internal/retention"
	"github.com/rowjay/savekeep/internal/source"
	"github.com/rowjay/savekeep/internal/util"
)

var (
	ErrAlreadyRunning  = errors.New("scheduler is already running")
	ErrInvalidInterval = errors.New("backup interval must be positive")
	ErrBusy            = errors.New("a backup is already in progress")
)

type State int

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// Capturer takes one backup.
type Capturer interface {
	CaptureNow(ctx context.Context) (archive.Entry, error)
}

// Ticker is the part of time.Ticker the scheduler uses.
type Ticker interface {
	C() <-chan time.Time
	Reset(d time.Duration)
	Stop()
}

// TickerFunc creates the ticker for a run.
type TickerFunc func(d time.Duration) Ticker

type realTicker struct{ *time.Ticker }

func (t realTicker) C() <-chan time.Time { return t.Ticker.C }

// NewRealTicker wraps time.NewTicker.
func NewRealTicker(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }

// Window limits scheduled backups to a daily time range; empty bounds mean no limit.
type Window struct {
	Start    string
	End      string
	Timezone string
}

// Result is the outcome of one capture and retention pass.
type Result struct {
	Entry   archive.Entry
	Evicted []archive.Entry
}

// Scheduler is a Stopped/Running state machine. At most one capture and retention pass
// runs at any time; a tick that arrives while one is running is skipped, not queued.
type Scheduler struct {
	writer         Capturer
	index          retention.Archive
	notifier       notify.Notifier
	log            zerolog.Logger
	clock          util.Clock
	newTicker      TickerFunc
	tickTimeout    time.Duration
	window         Window
	captureOnStart bool

	mu       sync.Mutex
	state    State
	interval time.Duration
	budget   int64
	ticker   Ticker
	quit     chan struct{}
	done     chan struct{}

	work     sync.Mutex
	inflight sync.WaitGroup
}

type Option func(*Scheduler)

func WithNotifier(n notify.Notifier) Option { return func(s *Scheduler) { s.notifier = n } }

func WithLogger(log zerolog.Logger) Option { return func(s *Scheduler) { s.log = log } }

func WithClock(c util.Clock) Option { return func(s *Scheduler) { s.clock = c } }

func WithTicker(fn TickerFunc) Option { return func(s *Scheduler) { s.newTicker = fn } }

// WithTickTimeout bounds each capture and retention pass.
func WithTickTimeout(d time.Duration) Option { return func(s *Scheduler) { s.tickTimeout = d } }

func WithWindow(w Window) Option { return func(s *Scheduler) { s.window = w } }

// WithCaptureOnStart makes Start take a backup right away instead of one interval later.
func WithCaptureOnStart(on bool) Option { return func(s *Scheduler) { s.captureOnStart = on } }

// New returns a stopped scheduler. budget is validated here so a bad value never
// reaches retention.
func New(writer Capturer, index retention.Archive, budget int64, opts ...Option) (*Scheduler, error) {
	if err := retention.ValidateBudget(budget); err != nil {
		return nil, err
	}
	s := &Scheduler{
		writer:    writer,
		index:     index,
		budget:    budget,
		notifier:  notify.Multi{},
		log:       zerolog.Nop(),
		clock:     util.RealClock{},
		newTicker: NewRealTicker,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func validateInterval(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: got %s", ErrInvalidInterval, interval)
	}
	return nil
}

// Start moves Stopped to Running. Starting a running scheduler is an error.
func (s *Scheduler) Start(interval time.Duration) error {
	if err := validateInterval(interval); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state == Running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.interval = interval
	s.ticker = s.newTicker(interval)
	s.quit = make(chan struct{})
	s.done = make(chan struct{})
	s.state = Running
	go s.loop(s.ticker, s.quit, s.done)
	s.mu.Unlock()

	s.log.Info().Str("interval", interval.String()).Int64("budget", s.Budget()).Msg("scheduler started")
	if s.captureOnStart {
		s.fire()
	}
	return nil
}

// Stop moves Running to Stopped. A pass that is already running finishes normally;
// use Wait to block until it has.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		return
	}
	s.state = Stopped
	s.ticker.Stop()
	close(s.quit)
	done := s.done
	s.mu.Unlock()

	<-done
	s.log.Info().Msg("scheduler stopped")
}

// Reconfigure changes interval and budget. A new interval applies from the next tick.
func (s *Scheduler) Reconfigure(interval time.Duration, budget int64) error {
	if err := validateInterval(interval); err != nil {
		return err
	}
	if err := retention.ValidateBudget(budget); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.budget = budget
	if interval != s.interval {
		s.interval = interval
		if s.state == Running {
			s.ticker.Reset(interval)
		}
	}
	s.log.Info().Str("interval", interval.String()).Int64("budget", budget).Msg("scheduler reconfigured")
	return nil
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

func (s *Scheduler) Budget() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.budget
}

// RunOnce takes a backup now, outside the timer. It returns ErrBusy instead of waiting
// when a pass is already running.
func (s *Scheduler) RunOnce(ctx context.Context) (Result, error) {
	if !s.work.TryLock() {
		return Result{}, ErrBusy
	}
	defer s.work.Unlock()
	return s.pass(ctx, "manual backup")
}

// Exclusive runs fn while no capture or retention pass is running. Restores and deletes
// go through here so they never interleave with a tick.
func (s *Scheduler) Exclusive(fn func() error) error {
	s.work.Lock()
	defer s.work.Unlock()
	return fn()
}

// Wait blocks until scheduled passes that already started have finished.
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}

func (s *Scheduler) loop(ticker Ticker, quit, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-quit:
			return
		case <-ticker.C():
			s.fire()
		}
	}
}

// fire starts a scheduled pass unless one is running or the window is closed.
func (s *Scheduler) fire() {
	ev := notify.Begin(notify.TypeCapture, "scheduled backup")
	if ok, err := util.InWindow(s.clock.Now(), s.window.Start, s.window.End, s.window.Timezone); err != nil || !ok {
		reason := "outside backup window"
		if err != nil {
			reason = err.Error()
		}
		s.log.Debug().Str("reason", reason).Msg("tick skipped")
		s.emit(ev.Skip(reason))
		return
	}
	if !s.work.TryLock() {
		s.log.Warn().Msg("previous backup still running, tick skipped")
		s.emit(ev.Skip("previous backup still running"))
		return
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer s.work.Unlock()
		ctx := context.Background()
		if s.tickTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.tickTimeout)
			defer cancel()
		}
		_, _ = s.pass(ctx, "scheduled backup")
	}()
}

// pass captures one backup and, only if that worked, enforces the budget. The caller
// holds s.work.
func (s *Scheduler) pass(ctx context.Context, message string) (Result, error) {
	ev := notify.Begin(notify.TypeCapture, message)
	entry, err := s.writer.CaptureNow(ctx)
	if err != nil {
		if errors.Is(err, source.ErrSourceUnavailable) || errors.Is(err, archive.ErrWriteFailure) {
			s.log.Warn().Err(err).Msg("backup failed, will retry on next tick")
		} else {
			s.log.Error().Err(err).Msg("backup failed")
		}
		s.emit(ev.End(err))
		return Result{}, err
	}
	ev.Day, ev.Sequence, ev.SizeBytes = string(entry.Day), entry.Sequence, entry.SizeBytes
	s.emit(ev.End(nil))

	budget := s.Budget()
	evict := notify.Begin(notify.TypeEvict, "retention")
	evicted, err := retention.Enforce(ctx, s.index, budget)
	if len(evicted) > 0 || err != nil {
		evict.Count = len(evicted)
		for _, e := range evicted {
			evict.SizeBytes += e.SizeBytes
		}
		s.emit(evict.End(err))
	}
	if err != nil {
		s.log.Error().Err(err).Int("evicted", len(evicted)).Msg("retention failed")
		return Result{Entry: entry, Evicted: evicted}, err
	}
	for _, e := range evicted {
		s.log.Info().Str("day", string(e.Day)).Int("seq", e.Sequence).Int64("size", e.SizeBytes).Msg("evicted old backup")
	}
	return Result{Entry: entry, Evicted: evicted}, nil
}

func (s *Scheduler) emit(ev notify.Event) {
	if err := s.notifier.Notify(context.Background(), ev); err != nil {
		s.log.Debug().Err(err).Str("type", ev.Type).Msg("event not delivered")
	}
}
