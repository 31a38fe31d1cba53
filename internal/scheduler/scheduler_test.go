package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowjay/savekeep/internal/archive"
	"github.com/rowjay/savekeep/internal/capture"
	"github.com/rowjay/savekeep/internal/notify"
	"github.com/rowjay/savekeep/internal/retention"
	"github.com/rowjay/savekeep/internal/source"
	"github.com/rowjay/savekeep/internal/testutil"
)

const wait = 5 * time.Second

type fixture struct {
	savePath string
	index    *archive.Index
	writer   *capture.Writer
	clock    *testutil.StubClock
	tickers  *testutil.Factory
	events   *testutil.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := archive.NewStore(filepath.Join(t.TempDir(), "backups"), nil)
	require.NoError(t, err)
	idx := archive.NewIndex(store, time.UTC, zerolog.Nop())
	savePath := filepath.Join(t.TempDir(), "global-v35")
	clock := testutil.FixedClock()
	return &fixture{
		savePath: savePath,
		index:    idx,
		writer:   capture.NewWriter(source.New(savePath, source.Options{}), idx, capture.WithClock(clock), capture.WithLocation(time.UTC)),
		clock:    clock,
		tickers:  testutil.NewFactory(),
		events:   testutil.NewRecorder(),
	}
}

func (f *fixture) save(t *testing.T, size int) {
	t.Helper()
	require.NoError(t, os.WriteFile(f.savePath, make([]byte, size), 0o600))
}

func (f *fixture) scheduler(t *testing.T, c Capturer, budget int64, opts ...Option) *Scheduler {
	t.Helper()
	base := []Option{
		WithTicker(func(d time.Duration) Ticker { return f.tickers.New(d) }),
		WithNotifier(f.events),
		WithClock(f.clock),
	}
	s, err := New(c, f.index, budget, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Stop()
		s.Wait()
	})
	return s
}

// gate blocks CaptureNow until released so tests can hold a pass in flight.
type gate struct {
	inner   Capturer
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func newGate(inner Capturer) *gate {
	return &gate{inner: inner, entered: make(chan struct{}, 4), release: make(chan struct{})}
}

func (g *gate) CaptureNow(ctx context.Context) (archive.Entry, error) {
	g.calls.Add(1)
	g.entered <- struct{}{}
	<-g.release
	return g.inner.CaptureNow(ctx)
}

func (g *gate) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-g.entered:
	case <-time.After(wait):
		t.Fatal("capture never started")
	}
}

func TestStateMachine(t *testing.T) {
	f := newFixture(t)
	s := f.scheduler(t, f.writer, 1000)

	assert.Equal(t, Stopped, s.State())
	assert.ErrorIs(t, s.Start(0), ErrInvalidInterval)
	assert.ErrorIs(t, s.Start(-time.Second), ErrInvalidInterval)

	require.NoError(t, s.Start(time.Minute))
	assert.Equal(t, Running, s.State())
	assert.Equal(t, time.Minute, s.Interval())
	assert.ErrorIs(t, s.Start(time.Minute), ErrAlreadyRunning)

	s.Stop()
	assert.Equal(t, Stopped, s.State())
	s.Stop()
	assert.Equal(t, Stopped, s.State())

	require.NoError(t, s.Start(2*time.Minute))
	assert.Equal(t, Running, s.State())
}

func TestNewRejectsInvalidBudget(t *testing.T) {
	f := newFixture(t)
	_, err := New(f.writer, f.index, 0)
	assert.ErrorIs(t, err, retention.ErrInvalidBudget)
}

func TestTickCapturesAndEnforces(t *testing.T) {
	f := newFixture(t)
	f.save(t, 100)
	s := f.scheduler(t, f.writer, 250)
	require.NoError(t, s.Start(time.Minute))
	ticker := f.tickers.Next(wait)
	require.NotNil(t, ticker)

	for i := range 3 {
		ticker.Fire(f.clock.Now())
		require.Eventually(t, func() bool {
			return f.events.Count(notify.TypeCapture, notify.StatusSuccess) == i+1
		}, wait, 5*time.Millisecond)
		s.Wait()
		f.clock.Advance(time.Minute)
	}

	list := f.index.List()
	require.Len(t, list, 2)
	assert.Equal(t, 2, list[0].Sequence)
	assert.Equal(t, 3, list[1].Sequence)
	assert.Equal(t, int64(200), f.index.TotalSize())

	evict, ok := f.events.WaitFor(notify.TypeEvict, notify.StatusSuccess, wait)
	require.True(t, ok)
	assert.Equal(t, 1, evict.Count)
}

func TestFailedCaptureDoesNotEvict(t *testing.T) {
	f := newFixture(t)
	_, err := f.index.Add(context.Background(), archive.Day("2024-01-14"), f.clock.Now(), "global-v35", make([]byte, 500))
	require.NoError(t, err)

	s := f.scheduler(t, f.writer, 100)
	require.NoError(t, s.Start(time.Minute))
	ticker := f.tickers.Next(wait)
	require.NotNil(t, ticker)

	ticker.Fire(f.clock.Now())
	failed, ok := f.events.WaitFor(notify.TypeCapture, notify.StatusFailed, wait)
	require.True(t, ok)
	assert.Contains(t, failed.Error, source.ErrSourceUnavailable.Error())
	s.Wait()
	assert.Equal(t, 1, f.index.Len())
	assert.Equal(t, int64(500), f.index.TotalSize())
	assert.Equal(t, Running, s.State())

	f.save(t, 50)
	ticker.Fire(f.clock.Now())
	require.Eventually(t, func() bool { return f.index.TotalSize() == 50 }, wait, 10*time.Millisecond)
	s.Wait()
	assert.Equal(t, 1, f.index.Len())
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.save(t, 10)
	g := newGate(f.writer)
	s := f.scheduler(t, g, 1000)
	require.NoError(t, s.Start(time.Minute))
	ticker := f.tickers.Next(wait)
	require.NotNil(t, ticker)

	ticker.Fire(f.clock.Now())
	g.waitEntered(t)
	ticker.Fire(f.clock.Now())
	_, ok := f.events.WaitFor(notify.TypeCapture, notify.StatusSkipped, wait)
	require.True(t, ok)

	close(g.release)
	s.Wait()
	assert.Equal(t, int32(1), g.calls.Load())
	assert.Equal(t, 1, f.index.Len())
}

func TestStopDoesNotInterruptPass(t *testing.T) {
	f := newFixture(t)
	f.save(t, 10)
	g := newGate(f.writer)
	s := f.scheduler(t, g, 1000)
	require.NoError(t, s.Start(time.Minute))
	ticker := f.tickers.Next(wait)
	require.NotNil(t, ticker)

	ticker.Fire(f.clock.Now())
	g.waitEntered(t)
	s.Stop()
	assert.Equal(t, Stopped, s.State())
	assert.True(t, ticker.Stopped())

	close(g.release)
	s.Wait()
	assert.Equal(t, 1, f.index.Len())
}

func TestRunOnceAndExclusiveRespectInFlightPass(t *testing.T) {
	f := newFixture(t)
	f.save(t, 10)
	g := newGate(f.writer)
	s := f.scheduler(t, g, 1000)
	require.NoError(t, s.Start(time.Minute))
	ticker := f.tickers.Next(wait)
	require.NotNil(t, ticker)

	ticker.Fire(f.clock.Now())
	g.waitEntered(t)

	_, err := s.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrBusy)

	var ran atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Exclusive(func() error {
			ran.Store(true)
			return nil
		})
	}()
	time.Sleep(50 * time.Millisecond)
	assert.False(t, ran.Load(), "exclusive ran during a pass")

	close(g.release)
	select {
	case <-done:
	case <-time.After(wait):
		t.Fatal("exclusive never ran")
	}
	assert.True(t, ran.Load())

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Entry.Sequence)
}

func TestReconfigure(t *testing.T) {
	f := newFixture(t)
	s := f.scheduler(t, f.writer, 1000)
	require.NoError(t, s.Start(time.Minute))
	ticker := f.tickers.Next(wait)
	require.NotNil(t, ticker)

	require.NoError(t, s.Reconfigure(5*time.Minute, 500))
	assert.Equal(t, 5*time.Minute, ticker.Period())
	assert.Equal(t, 5*time.Minute, s.Interval())
	assert.Equal(t, int64(500), s.Budget())

	assert.ErrorIs(t, s.Reconfigure(0, 500), ErrInvalidInterval)
	assert.ErrorIs(t, s.Reconfigure(time.Minute, 0), retention.ErrInvalidBudget)
	assert.Equal(t, 5*time.Minute, s.Interval())
	assert.Equal(t, int64(500), s.Budget())
}

func TestCaptureOnStart(t *testing.T) {
	f := newFixture(t)
	f.save(t, 10)
	s := f.scheduler(t, f.writer, 1000, WithCaptureOnStart(true))
	require.NoError(t, s.Start(time.Hour))
	require.Eventually(t, func() bool { return f.index.Len() == 1 }, wait, 10*time.Millisecond)
}

func TestTickOutsideWindowIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.save(t, 10)
	// FixedClock is 10:30 UTC.
	s := f.scheduler(t, f.writer, 1000, WithWindow(Window{Start: "20:00", End: "23:00", Timezone: "UTC"}))
	require.NoError(t, s.Start(time.Minute))
	ticker := f.tickers.Next(wait)
	require.NotNil(t, ticker)

	ticker.Fire(f.clock.Now())
	skipped, ok := f.events.WaitFor(notify.TypeCapture, notify.StatusSkipped, wait)
	require.True(t, ok)
	assert.Equal(t, "outside backup window", skipped.Message)
	assert.Zero(t, f.index.Len())
}
