// Package source reads the game's save file for backup and writes restored copies back.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rowjay/savekeep/internal/util"
)

// ErrSourceUnavailable means the save file is missing, locked or too slow to read.
var ErrSourceUnavailable = errors.New("save file unavailable")

type Options struct {
	ReadTimeout  time.Duration
	RetryCount   int
	RetryBackoff time.Duration
}

// File is the single save file being protected.
type File struct {
	Path string
	opts Options
}

func New(path string, opts Options) *File {
	return &File{Path: path, opts: opts}
}

// Name is the base name of the save file.
func (f *File) Name() string { return filepath.Base(f.Path) }

// Validate checks that the save file exists and is a regular file.
func (f *File) Validate() error {
	if f.Path == "" {
		return fmt.Errorf("%w: source path is not configured", ErrSourceUnavailable)
	}
	info, err := os.Stat(f.Path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrSourceUnavailable, f.Path)
	}
	return nil
}

// Read returns the current contents of the save file. Reads that fail, for example
// because the game holds the file open, are retried; the whole call is bounded by the
// configured read timeout.
func (f *File) Read(ctx context.Context) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if f.opts.ReadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.opts.ReadTimeout)
		defer cancel()
	}

	var data []byte
	err := util.Retry(ctx, f.opts.RetryCount, f.opts.RetryBackoff, func() error {
		var err error
		data, err = util.Bounded(ctx, func() ([]byte, error) { return os.ReadFile(f.Path) }, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrSourceUnavailable, f.Path, err)
	}
	return data, nil
}

// Restore replaces the save file with the contents of r. The new content is written
// next to the save file and renamed over it, so the game never sees a partial file.
func (f *File) Restore(ctx context.Context, r io.Reader) error {
	if f.Path == "" {
		return errors.New("source path is not configured")
	}
	_, err := util.Bounded(ctx, func() (struct{}, error) {
		return struct{}{}, f.restore(r)
	}, nil)
	return err
}

func (f *File) restore(r io.Reader) error {
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create save directory: %w", err)
	}
	file, err := os.CreateTemp(dir, ".savekeep-restore-*")
	if err != nil {
		return err
	}
	tmp := file.Name()
	writer := &flushWriter{writer: file}
	if _, err := io.Copy(writer, r); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := writer.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, f.Path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

type flushWriter struct {
	writer *os.File
}

func (w *flushWriter) Write(p []byte) (int, error) { return w.writer.Write(p) }

func (w *flushWriter) Close() error {
	if err := w.writer.Sync(); err != nil {
		_ = w.writer.Close()
		return err
	}
	return w.writer.Close()
}

var _ io.WriteCloser = (*flushWriter)(nil)
