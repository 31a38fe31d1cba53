package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DaySummary describes one day group for display.
type DaySummary struct {
	Day       Day
	Count     int
	SizeBytes int64
	Latest    time.Time
}

// Index is the in-memory view of the archive. Mutations hold the write lock for their
// whole duration, including disk I/O, so the index and the disk change together.
type Index struct {
	store *Store
	loc   *time.Location
	log   zerolog.Logger

	mu     sync.RWMutex
	groups map[Day][]Entry // sorted by Sequence
	issued map[Day]int     // highest sequence ever handed out per day, mirrored in the ledger
	total  int64
}

// NewIndex returns an empty index over store. Call Rescan to load existing backups.
// Capture times in file names are interpreted in loc (time.Local when nil).
func NewIndex(store *Store, loc *time.Location, log zerolog.Logger) *Index {
	if loc == nil {
		loc = time.Local
	}
	return &Index{
		store:  store,
		loc:    loc,
		log:    log,
		groups: map[Day][]Entry{},
		issued: map[Day]int{},
	}
}

// Root returns the archive root folder.
func (x *Index) Root() string { return x.store.Root }

// Add stores data as the next backup of day. On failure nothing is indexed and no file is
// left in the archive.
func (x *Index) Add(ctx context.Context, day Day, at time.Time, source string, data []byte) (Entry, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	entry := Entry{
		Day:       day,
		Sequence:  x.issued[day] + 1,
		Timestamp: at.In(x.loc).Truncate(time.Second),
		Source:    sourceName(source),
		Encrypted: x.store.Sealed(),
	}
	if err := x.reserve(day, entry.Sequence); err != nil {
		return Entry{}, fmt.Errorf("%w: record sequence %s: %w", ErrWriteFailure, entry, err)
	}
	size, err := x.store.Put(ctx, entry.RelPath(), data)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: store %s: %w", ErrWriteFailure, entry.RelPath(), err)
	}
	entry.SizeBytes = size

	x.groups[day] = append(x.groups[day], entry)
	x.total += size
	x.log.Debug().Str("day", string(day)).Int("seq", entry.Sequence).Int64("size", size).Msg("backup indexed")
	return entry, nil
}

// Remove deletes one backup. ErrNotFound is returned when it is not indexed.
func (x *Index) Remove(ctx context.Context, e Entry) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	i, ok := x.find(e.Day, e.Sequence)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, e)
	}
	stored := x.groups[e.Day][i]
	if err := x.store.Delete(ctx, stored.RelPath()); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: delete %s: %w", ErrWriteFailure, stored.RelPath(), err)
		}
		x.log.Warn().Str("path", stored.RelPath()).Msg("backup file was already gone; archive changed outside savekeep, rescan recommended")
	}

	group := slices.Delete(x.groups[e.Day], i, i+1)
	x.total -= stored.SizeBytes
	if len(group) == 0 {
		delete(x.groups, e.Day)
		x.store.PruneDay(e.Day)
	} else {
		x.groups[e.Day] = group
	}
	return nil
}

// RemoveDay deletes every backup of day and returns how many were removed. The day
// folder is renamed aside first, so the group is either removed whole or not at all.
func (x *Index) RemoveDay(ctx context.Context, day Day) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	group, ok := x.groups[day]
	if !ok {
		return 0, fmt.Errorf("%w: day %s", ErrNotFound, day)
	}
	aside, err := x.store.Trash(ctx, day)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: remove day %s: %w", ErrWriteFailure, day, err)
		}
		x.log.Warn().Str("day", string(day)).Msg("day folder was already gone; archive changed outside savekeep, rescan recommended")
	}

	for _, e := range group {
		x.total -= e.SizeBytes
	}
	delete(x.groups, day)

	if aside != "" {
		if err := x.store.Purge(ctx, aside); err != nil {
			x.log.Warn().Err(err).Str("path", aside).Msg("failed to delete removed day folder")
		}
	}
	return len(group), nil
}

// List returns every backup, oldest first by (day, sequence).
func (x *Index) List() []Entry {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make([]Entry, 0, x.countLocked())
	for _, day := range x.daysLocked() {
		out = append(out, x.groups[day]...)
	}
	return out
}

// Days summarises each day group, oldest day first.
func (x *Index) Days() []DaySummary {
	x.mu.RLock()
	defer x.mu.RUnlock()

	days := x.daysLocked()
	out := make([]DaySummary, 0, len(days))
	for _, day := range days {
		sum := DaySummary{Day: day}
		for _, e := range x.groups[day] {
			sum.Count++
			sum.SizeBytes += e.SizeBytes
			if e.Timestamp.After(sum.Latest) {
				sum.Latest = e.Timestamp
			}
		}
		out = append(out, sum)
	}
	return out
}

// TotalSize is the running sum of all stored backup sizes.
func (x *Index) TotalSize() int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.total
}

// Len is the number of indexed backups.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.countLocked()
}

// Oldest returns the first entry in List order.
func (x *Index) Oldest() (Entry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	days := x.daysLocked()
	if len(days) == 0 {
		return Entry{}, false
	}
	return x.groups[days[0]][0], true
}

// Get looks up one backup.
func (x *Index) Get(day Day, seq int) (Entry, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	i, ok := x.find(day, seq)
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s #%d", ErrNotFound, day, seq)
	}
	return x.groups[day][i], nil
}

// Pick returns the backup of day that is back positions before the latest one, by capture
// time with sequence breaking ties: 0 is the latest, 1 the previous.
func (x *Index) Pick(day Day, back int) (Entry, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	group := slices.Clone(x.groups[day])
	if len(group) == 0 {
		return Entry{}, fmt.Errorf("%w: day %s", ErrNotFound, day)
	}
	sort.SliceStable(group, func(i, j int) bool {
		if !group[i].Timestamp.Equal(group[j].Timestamp) {
			return group[i].Timestamp.Before(group[j].Timestamp)
		}
		return group[i].Sequence < group[j].Sequence
	})
	i := len(group) - 1 - back
	if back < 0 || i < 0 {
		return Entry{}, fmt.Errorf("%w: day %s has %d backup(s)", ErrNotFound, day, len(group))
	}
	return group[i], nil
}

// Has reports whether day and seq are indexed.
func (x *Index) Has(day Day, seq int) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.find(day, seq)
	return ok
}

// HasDay reports whether day has a group.
func (x *Index) HasDay(day Day) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.groups[day]
	return ok
}

// Open returns a reader over the stored bytes of e. A missing file means the index is
// stale and is reported as ErrCorruptIndex.
func (x *Index) Open(ctx context.Context, e Entry) (io.ReadCloser, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	i, ok := x.find(e.Day, e.Sequence)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, e)
	}
	stored := x.groups[e.Day][i]
	reader, err := x.store.Open(ctx, stored.RelPath(), stored.Encrypted)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s is missing on disk", ErrCorruptIndex, stored.RelPath())
		}
		return nil, err
	}
	return reader, nil
}

// reserve persists seq as the high-water mark of day before anything is written under
// it. A failed write afterwards leaves a gap, never a reusable number.
func (x *Index) reserve(day Day, seq int) error {
	next := maps.Clone(x.issued)
	next[day] = seq
	if err := x.store.SaveIssued(next); err != nil {
		return err
	}
	x.issued = next
	return nil
}

func (x *Index) find(day Day, seq int) (int, bool) {
	group := x.groups[day]
	i := sort.Search(len(group), func(i int) bool { return group[i].Sequence >= seq })
	if i < len(group) && group[i].Sequence == seq {
		return i, true
	}
	return 0, false
}

func (x *Index) daysLocked() []Day {
	days := make([]Day, 0, len(x.groups))
	for day := range x.groups {
		days = append(days, day)
	}
	slices.Sort(days)
	return days
}

func (x *Index) countLocked() int {
	n := 0
	for _, group := range x.groups {
		n += len(group)
	}
	return n
}
