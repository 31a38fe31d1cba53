// Package app wires the archive, capture, retention and scheduler packages into the
// operation set the command line drives.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rowjay/savekeep/internal/archive"
	"github.com/rowjay/savekeep/internal/capture"
	"github.com/rowjay/savekeep/internal/config"
	"github.com/rowjay/savekeep/internal/cryptoutil"
	"github.com/rowjay/savekeep/internal/lock"
	"github.com/rowjay/savekeep/internal/notify"
	"github.com/rowjay/savekeep/internal/retention"
	"github.com/rowjay/savekeep/internal/scheduler"
	"github.com/rowjay/savekeep/internal/source"
	"github.com/rowjay/savekeep/internal/util"
)

// App owns one archive for the lifetime of a process.
type App struct {
	Cfg      *config.Config
	Index    *archive.Index
	Source   *source.File
	Sched    *scheduler.Scheduler
	Log      zerolog.Logger
	Notifier notify.Notifier

	guard   *lock.Lock
	watcher *archive.Watcher
}

type options struct {
	clock     util.Clock
	newTicker scheduler.TickerFunc
	notifiers []notify.Notifier
}

type Option func(*options)

func WithClock(c util.Clock) Option { return func(o *options) { o.clock = c } }

func WithTicker(fn scheduler.TickerFunc) Option { return func(o *options) { o.newTicker = fn } }

// WithNotifier adds an event sink next to the log sink every App has.
func WithNotifier(n notify.Notifier) Option {
	return func(o *options) { o.notifiers = append(o.notifiers, n) }
}

// Open validates cfg, locks the archive and loads it from disk. The scheduler starts
// stopped; call Start to begin periodic backups.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts ...Option) (*App, error) {
	o := options{clock: util.RealClock{}, newTicker: scheduler.NewRealTicker}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	var key []byte
	if cfg.Archive.Encryption {
		if key, err = cryptoutil.ParseKey(cfg.Archive.EncryptionKey); err != nil {
			return nil, fmt.Errorf("archive.encryption_key: %w", err)
		}
	}

	guard, err := lock.Acquire(cfg.Global.LockFile)
	if err != nil {
		return nil, err
	}
	a := &App{Cfg: cfg, Log: log, guard: guard}
	a.Notifier = notify.Multi{Targets: append([]notify.Notifier{notify.Log{Logger: log}}, o.notifiers...)}

	store, err := archive.NewStore(cfg.Archive.Root, key)
	if err != nil {
		_ = guard.Release()
		return nil, err
	}
	a.Index = archive.NewIndex(store, loc, log.With().Str("component", "archive").Logger())
	if err := a.Index.Rescan(ctx); err != nil {
		_ = guard.Release()
		return nil, err
	}

	a.Source = source.New(cfg.Source.Path, source.Options{
		ReadTimeout:  cfg.Source.ReadTimeout,
		RetryCount:   cfg.Source.RetryCount,
		RetryBackoff: cfg.Source.RetryBackoff,
	})
	writer := capture.NewWriter(a.Source, a.Index,
		capture.WithClock(o.clock),
		capture.WithLocation(loc),
		capture.WithWriteTimeout(cfg.Global.OperationTimeout),
		capture.WithLogger(log.With().Str("component", "capture").Logger()),
	)
	a.Sched, err = scheduler.New(writer, a.Index, cfg.Budget(),
		scheduler.WithNotifier(a.Notifier),
		scheduler.WithLogger(log.With().Str("component", "scheduler").Logger()),
		scheduler.WithClock(o.clock),
		scheduler.WithTicker(o.newTicker),
		scheduler.WithTickTimeout(2*cfg.Global.OperationTimeout),
		scheduler.WithWindow(cfg.Window()),
		scheduler.WithCaptureOnStart(cfg.Schedule.CaptureOnStart),
	)
	if err != nil {
		_ = guard.Release()
		return nil, err
	}

	if cfg.Archive.Watch {
		a.watcher, err = a.Index.Watch(a.drift)
		if err != nil {
			log.Warn().Err(err).Msg("archive watcher disabled")
		}
	}

	log.Info().
		Str("root", cfg.Archive.Root).
		Str("source", cfg.Source.Path).
		Int("backups", a.Index.Len()).
		Int64("total_bytes", a.Index.TotalSize()).
		Bool("sealed", store.Sealed()).
		Msg("archive opened")
	return a, nil
}

// Close stops the scheduler, waits for a running backup and releases the archive.
func (a *App) Close() error {
	a.Sched.Stop()
	a.Sched.Wait()
	var errs []error
	if a.watcher != nil {
		errs = append(errs, a.watcher.Close())
	}
	errs = append(errs, a.guard.Release())
	return errors.Join(errs...)
}

// Start begins periodic backups at the configured interval.
func (a *App) Start() error {
	return a.Sched.Start(a.Cfg.Interval())
}

func (a *App) Stop() {
	a.Sched.Stop()
}

// Reconfigure changes interval and budget. A smaller budget is enforced right away
// instead of waiting for the next backup.
func (a *App) Reconfigure(ctx context.Context, interval time.Duration, budget int64) error {
	if err := a.Sched.Reconfigure(interval, budget); err != nil {
		return err
	}
	if a.Index.TotalSize() <= budget {
		return nil
	}
	return a.Sched.Exclusive(func() error {
		ev := notify.Begin(notify.TypeEvict, "retention after budget change")
		evicted, err := retention.Enforce(ctx, a.Index, budget)
		ev.Count = len(evicted)
		for _, e := range evicted {
			ev.SizeBytes += e.SizeBytes
		}
		a.emit(ev.End(err))
		return err
	})
}

// ApplyConfig takes the settings that can change while running from a reloaded config.
// Everything else needs a restart and is only logged.
func (a *App) ApplyConfig(ctx context.Context, cfg *config.Config) error {
	if cfg.Source.Path != a.Cfg.Source.Path || cfg.Archive.Root != a.Cfg.Archive.Root || cfg.Archive.Encryption != a.Cfg.Archive.Encryption {
		a.Log.Warn().Msg("source or archive settings changed; restart savekeep to apply them")
	}
	return a.Reconfigure(ctx, cfg.Interval(), cfg.Budget())
}

func (a *App) State() scheduler.State { return a.Sched.State() }

func (a *App) List() []archive.Entry { return a.Index.List() }

func (a *App) Days() []archive.DaySummary { return a.Index.Days() }

func (a *App) TotalSize() int64 { return a.Index.TotalSize() }

// BackupNow takes a backup outside the schedule and enforces the budget after it.
func (a *App) BackupNow(ctx context.Context) (scheduler.Result, error) {
	ctx, cancel := a.bound(ctx)
	defer cancel()
	return a.Sched.RunOnce(ctx)
}

// RemoveEntry deletes one backup.
func (a *App) RemoveEntry(ctx context.Context, day archive.Day, seq int) error {
	ctx, cancel := a.bound(ctx)
	defer cancel()
	ev := notify.Begin(notify.TypeDelete, "delete backup")
	ev.Day, ev.Sequence = string(day), seq
	err := a.Sched.Exclusive(func() error {
		e, err := a.Index.Get(day, seq)
		if err != nil {
			return err
		}
		ev.SizeBytes, ev.Count = e.SizeBytes, 1
		return a.Index.Remove(ctx, e)
	})
	a.emit(ev.End(err))
	return err
}

// RemoveDay deletes every backup of day and returns how many there were.
func (a *App) RemoveDay(ctx context.Context, day archive.Day) (int, error) {
	ctx, cancel := a.bound(ctx)
	defer cancel()
	ev := notify.Begin(notify.TypeDelete, "delete day")
	ev.Day = string(day)
	var n int
	err := a.Sched.Exclusive(func() error {
		var err error
		n, err = a.Index.RemoveDay(ctx, day)
		return err
	})
	ev.Count = n
	a.emit(ev.End(err))
	return n, err
}

// Restore copies one backup over the save file.
func (a *App) Restore(ctx context.Context, day archive.Day, seq int) (archive.Entry, error) {
	return a.restore(ctx, "restore backup", func() (archive.Entry, error) {
		return a.Index.Get(day, seq)
	})
}

// RestoreDay restores the latest backup of day, or the one before it when previous is set.
func (a *App) RestoreDay(ctx context.Context, day archive.Day, previous bool) (archive.Entry, error) {
	back := 0
	if previous {
		back = 1
	}
	return a.restore(ctx, "restore day", func() (archive.Entry, error) {
		return a.Index.Pick(day, back)
	})
}

func (a *App) restore(ctx context.Context, message string, pick func() (archive.Entry, error)) (archive.Entry, error) {
	ctx, cancel := a.bound(ctx)
	defer cancel()
	ev := notify.Begin(notify.TypeRestore, message)
	var entry archive.Entry
	err := a.Sched.Exclusive(func() error {
		var err error
		if entry, err = pick(); err != nil {
			return err
		}
		ev.Day, ev.Sequence, ev.SizeBytes = string(entry.Day), entry.Sequence, entry.SizeBytes
		r, err := a.Index.Open(ctx, entry)
		if err != nil {
			return err
		}
		defer r.Close()
		if err := a.Source.Restore(ctx, r); err != nil {
			return fmt.Errorf("restore %s to %s: %w", entry, a.Source.Path, err)
		}
		return nil
	})
	if errors.Is(err, archive.ErrCorruptIndex) {
		err = fmt.Errorf("%w; run `savekeep rescan` to rebuild the index", err)
	}
	a.emit(ev.End(err))
	if err != nil {
		return archive.Entry{}, err
	}
	return entry, nil
}

// Rescan rebuilds the index from disk.
func (a *App) Rescan(ctx context.Context) error {
	ctx, cancel := a.bound(ctx)
	defer cancel()
	ev := notify.Begin(notify.TypeRescan, "rescan archive")
	err := a.Sched.Exclusive(func() error {
		return a.Index.Rescan(ctx)
	})
	ev.Count, ev.SizeBytes = a.Index.Len(), a.Index.TotalSize()
	a.emit(ev.End(err))
	return err
}

func (a *App) drift(err error) {
	a.emit(notify.Begin(notify.TypeDrift, "archive changed outside savekeep; run rescan").End(err))
}

func (a *App) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.Cfg.Global.OperationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.Cfg.Global.OperationTimeout)
}

func (a *App) emit(ev notify.Event) {
	if err := a.Notifier.Notify(context.Background(), ev); err != nil {
		a.Log.Debug().Err(err).Str("type", ev.Type).Msg("event not delivered")
	}
}
