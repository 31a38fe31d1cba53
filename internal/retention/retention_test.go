package retention

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowjay/savekeep/internal/archive"
)

var (
	day = archive.Day("2025-02-08")
	at  = time.Date(2025, 2, 8, 9, 0, 0, 0, time.UTC)
)

func newIndex(t *testing.T) *archive.Index {
	t.Helper()
	store, err := archive.NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	return archive.NewIndex(store, time.UTC, zerolog.Nop())
}

func fill(t *testing.T, x *archive.Index, d archive.Day, sizes ...int) {
	t.Helper()
	for _, size := range sizes {
		_, err := x.Add(context.Background(), d, at, "save", make([]byte, size))
		require.NoError(t, err)
	}
}

func TestEnforceEvictsOldestFirst(t *testing.T) {
	x := newIndex(t)
	fill(t, x, day, 150, 100, 100)

	evicted, err := Enforce(context.Background(), x, 300)
	require.NoError(t, err)
	require.Len(t, evicted, 1)
	assert.Equal(t, 1, evicted[0].Sequence)
	assert.Equal(t, int64(200), x.TotalSize())
	assert.Equal(t, 2, x.Len())
}

func TestEnforceIsIdempotent(t *testing.T) {
	x := newIndex(t)
	fill(t, x, archive.Day("2025-02-07"), 80, 80)
	fill(t, x, day, 80, 80, 80)

	evicted, err := Enforce(context.Background(), x, 170)
	require.NoError(t, err)
	assert.Len(t, evicted, 3)
	assert.Equal(t, archive.Day("2025-02-07"), evicted[0].Day)
	assert.Equal(t, archive.Day("2025-02-07"), evicted[1].Day)
	assert.Equal(t, day, evicted[2].Day)
	assert.LessOrEqual(t, x.TotalSize(), int64(170))

	again, err := Enforce(context.Background(), x, 170)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestEnforceBudgetIsInclusive(t *testing.T) {
	x := newIndex(t)
	fill(t, x, day, 100, 100)

	evicted, err := Enforce(context.Background(), x, 200)
	require.NoError(t, err)
	assert.Empty(t, evicted)
	assert.Equal(t, 2, x.Len())
}

func TestEnforceCanEmptyArchive(t *testing.T) {
	x := newIndex(t)
	fill(t, x, day, 500)

	evicted, err := Enforce(context.Background(), x, 100)
	require.NoError(t, err)
	assert.Len(t, evicted, 1)
	assert.Zero(t, x.TotalSize())
	assert.Zero(t, x.Len())
}

func TestEnforceRejectsNonPositiveBudget(t *testing.T) {
	x := newIndex(t)
	fill(t, x, day, 10)

	for _, budget := range []int64{0, -1} {
		evicted, err := Enforce(context.Background(), x, budget)
		assert.ErrorIs(t, err, ErrInvalidBudget)
		assert.Empty(t, evicted)
	}
	assert.Equal(t, 1, x.Len())
}

type failingArchive struct {
	entries []archive.Entry
	total   int64
	failAt  int
	removed int
}

func (f *failingArchive) TotalSize() int64 { return f.total }

func (f *failingArchive) Oldest() (archive.Entry, bool) {
	if len(f.entries) == 0 {
		return archive.Entry{}, false
	}
	return f.entries[0], true
}

func (f *failingArchive) Remove(_ context.Context, e archive.Entry) error {
	if f.removed == f.failAt {
		return archive.ErrWriteFailure
	}
	f.removed++
	f.entries = f.entries[1:]
	f.total -= e.SizeBytes
	return nil
}

func TestEnforceStopsOnRemovalError(t *testing.T) {
	f := &failingArchive{
		entries: []archive.Entry{
			{Day: day, Sequence: 1, SizeBytes: 10},
			{Day: day, Sequence: 2, SizeBytes: 10},
			{Day: day, Sequence: 3, SizeBytes: 10},
		},
		total:  30,
		failAt: 1,
	}
	evicted, err := Enforce(context.Background(), f, 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, archive.ErrWriteFailure))
	require.Len(t, evicted, 1)
	assert.Equal(t, 1, evicted[0].Sequence)
}
