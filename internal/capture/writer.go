// Package capture copies the current save file into the archive.
package capture

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/rowjay/savekeep/internal/archive"
	"github.com/rowjay/savekeep/internal/util"
)

// Source yields the bytes of the save file.
type Source interface {
	Name() string
	Read(ctx context.Context) ([]byte, error)
}

// Writer takes one backup per CaptureNow call.
type Writer struct {
	source       Source
	index        *archive.Index
	clock        util.Clock
	loc          *time.Location
	writeTimeout time.Duration
	log          zerolog.Logger
}

type Option func(*Writer)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c util.Clock) Option { return func(w *Writer) { w.clock = c } }

// WithLocation sets the time zone that decides which day a backup belongs to.
func WithLocation(loc *time.Location) Option { return func(w *Writer) { w.loc = loc } }

// WithWriteTimeout bounds how long a single archive write may take.
func WithWriteTimeout(d time.Duration) Option { return func(w *Writer) { w.writeTimeout = d } }

func WithLogger(log zerolog.Logger) Option { return func(w *Writer) { w.log = log } }

func NewWriter(src Source, idx *archive.Index, opts ...Option) *Writer {
	w := &Writer{
		source: src,
		index:  idx,
		clock:  util.RealClock{},
		loc:    time.Local,
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// CaptureNow reads the save file and stores it as the next backup of today. Read errors
// wrap source.ErrSourceUnavailable and store errors wrap archive.ErrWriteFailure; in both
// cases the index is unchanged.
func (w *Writer) CaptureNow(ctx context.Context) (archive.Entry, error) {
	data, err := w.source.Read(ctx)
	if err != nil {
		return archive.Entry{}, err
	}

	now := w.clock.Now().In(w.loc)
	if w.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.writeTimeout)
		defer cancel()
	}
	entry, err := w.index.Add(ctx, archive.DayOf(now), now, w.source.Name(), data)
	if err != nil {
		return archive.Entry{}, err
	}
	w.log.Info().Str("day", string(entry.Day)).Int("seq", entry.Sequence).Int64("size", entry.SizeBytes).Msg("backup captured")
	return entry, nil
}
