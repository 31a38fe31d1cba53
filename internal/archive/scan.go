package archive

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

const scanWorkers = 4

// Rescan rebuilds the index from the folders on disk. Files that are missing, unreadable
// or not named like a backup are left alone and not indexed. Sequence high-water marks
// come from the ledger and the files found, and only ever grow. Temporary files and day
// folders left behind by an interrupted write or day removal are deleted.
func (x *Index) Rescan(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	days, err := x.store.Days(ctx)
	if err != nil {
		return fmt.Errorf("rescan %s: %w", x.store.Root, err)
	}
	ledger, err := x.store.LoadIssued()
	if err != nil {
		x.log.Warn().Err(err).Msg("sequence ledger unreadable; rebuilding it from the backups on disk")
		ledger = map[Day]int{}
	}
	x.sweep(ctx, days)

	found := make([][]Entry, len(days))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scanWorkers)
	for i, day := range days {
		g.Go(func() error {
			entries, err := x.scanDay(gctx, day)
			if err != nil {
				return err
			}
			found[i] = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("rescan %s: %w", x.store.Root, err)
	}

	issued := maps.Clone(x.issued)
	for day, seq := range ledger {
		issued[day] = max(issued[day], seq)
	}
	groups := make(map[Day][]Entry, len(days))
	var total int64
	for i, day := range days {
		entries := found[i]
		if len(entries) == 0 {
			continue
		}
		groups[day] = entries
		for _, e := range entries {
			total += e.SizeBytes
		}
		issued[day] = max(issued[day], entries[len(entries)-1].Sequence)
	}
	if !maps.Equal(issued, ledger) {
		if err := x.store.SaveIssued(issued); err != nil {
			return fmt.Errorf("rescan %s: %w", x.store.Root, err)
		}
	}
	x.issued = issued

	dropped := x.countLocked()
	x.groups = groups
	x.total = total
	x.log.Info().Int("days", len(groups)).Int("backups", x.countLocked()).Int("previous", dropped).Int64("total_bytes", total).Msg("archive rescanned")
	return nil
}

// scanDay reads one day folder. Only context cancellation is treated as an error; an
// unreadable folder just contributes nothing.
func (x *Index) scanDay(ctx context.Context, day Day) ([]Entry, error) {
	files, err := x.store.Files(ctx, day)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		x.log.Warn().Err(err).Str("day", string(day)).Msg("skipping unreadable day folder")
		return nil, nil
	}

	// Of two files claiming one sequence the lexically first name wins.
	sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })
	bySeq := map[int]Entry{}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry, ok := parseName(day, file.Name(), x.loc)
		if !ok {
			x.log.Debug().Str("day", string(day)).Str("file", file.Name()).Msg("ignoring file that is not a backup")
			continue
		}
		info, err := file.Info()
		if err != nil {
			x.log.Warn().Err(err).Str("path", entry.RelPath()).Msg("discarding backup that cannot be stat'ed")
			continue
		}
		if err := x.store.Readable(entry.RelPath()); err != nil {
			x.log.Warn().Err(err).Str("path", entry.RelPath()).Msg("discarding unreadable backup")
			continue
		}
		entry.SizeBytes = info.Size()
		if prev, dup := bySeq[entry.Sequence]; dup {
			x.log.Warn().Str("kept", prev.RelPath()).Str("ignored", entry.RelPath()).Msg("duplicate backup sequence")
			continue
		}
		bySeq[entry.Sequence] = entry
	}

	entries := make([]Entry, 0, len(bySeq))
	for _, e := range bySeq {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Sequence < entries[j].Sequence })
	return entries, nil
}

// sweep deletes trash folders in the root and temporary files in the root and day folders.
// Failures are logged; a leftover never blocks a rescan.
func (x *Index) sweep(ctx context.Context, days []Day) {
	dirs := []string{x.store.Root}
	for _, day := range days {
		dirs = append(dirs, x.store.path(string(day)))
	}
	for _, dir := range dirs {
		if ctx.Err() != nil {
			return
		}
		items, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, item := range items {
			name := item.Name()
			leftover := strings.HasPrefix(name, tempPrefix) && item.Type().IsRegular()
			if dir == x.store.Root && strings.HasPrefix(name, trashPrefix) && item.IsDir() {
				leftover = true
			}
			if !leftover {
				continue
			}
			target := filepath.Join(dir, name)
			if err := x.store.Purge(ctx, target); err != nil {
				x.log.Warn().Err(err).Str("path", target).Msg("failed to delete leftover")
				continue
			}
			x.log.Info().Str("path", target).Msg("deleted leftover from an interrupted operation")
		}
	}
}
