package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reports changes to the archive folders that the index did not make. It never
// repairs anything itself; drift is handed to onDrift as an ErrCorruptIndex error.
type Watcher struct {
	fsw     *fsnotify.Watcher
	index   *Index
	log     zerolog.Logger
	onDrift func(error)
	wg      sync.WaitGroup
}

// Watch starts watching the archive root and every day folder.
func (x *Index) Watch(onDrift func(error)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create archive watcher: %w", err)
	}
	w := &Watcher{fsw: fsw, index: x, log: x.log, onDrift: onDrift}
	if err := fsw.Add(x.store.Root); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", x.store.Root, err)
	}
	items, err := os.ReadDir(x.store.Root)
	if err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", x.store.Root, err)
	}
	for _, item := range items {
		if _, err := ParseDay(item.Name()); err == nil && item.IsDir() {
			w.add(filepath.Join(x.store.Root, item.Name()))
		}
	}

	w.wg.Add(1)
	go w.run()
	return w, nil
}

// Close stops the watcher and waits for its goroutine.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) run() {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("archive watcher error")
		}
	}
}

func (w *Watcher) add(dir string) {
	if err := w.fsw.Add(dir); err != nil {
		w.log.Warn().Err(err).Str("path", dir).Msg("cannot watch day folder")
	}
}

// handle runs after the index released its lock for the operation that caused the
// event, so our own writes and deletes are already reflected when we look.
func (w *Watcher) handle(event fsnotify.Event) {
	rel, err := filepath.Rel(w.index.Root(), event.Name)
	if err != nil {
		return
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	day, err := ParseDay(parts[0])
	if err != nil {
		return
	}
	gone := event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)

	switch len(parts) {
	case 1:
		if event.Has(fsnotify.Create) {
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				w.add(event.Name)
			}
			return
		}
		if gone && w.index.HasDay(day) {
			w.drift(fmt.Errorf("%w: day folder %s was removed", ErrCorruptIndex, day))
		}
	case 2:
		entry, ok := parseName(day, parts[1], w.index.loc)
		if !ok {
			return
		}
		switch {
		case event.Has(fsnotify.Create) && !w.index.Has(day, entry.Sequence):
			w.drift(fmt.Errorf("%w: unindexed file %s appeared", ErrCorruptIndex, rel))
		case gone && w.index.Has(day, entry.Sequence):
			w.drift(fmt.Errorf("%w: indexed file %s disappeared", ErrCorruptIndex, rel))
		}
	}
}

func (w *Watcher) drift(err error) {
	w.log.Warn().Err(err).Msg("archive drift detected")
	if w.onDrift != nil {
		w.onDrift(err)
	}
}
