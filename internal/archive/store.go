package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rowjay/savekeep/internal/cryptoutil"
	"github.com/rowjay/savekeep/internal/util"
)

// Store keeps backup files under Root, one folder per day. When a key is set every
// file is sealed with DARE before it touches the disk.
type Store struct {
	Root string
	key  []byte
}

// NewStore creates root if needed. key may be nil for plain storage.
func NewStore(root string, key []byte) (*Store, error) {
	if root == "" {
		return nil, errors.New("archive root is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create archive root: %w", err)
	}
	return &Store{Root: root, key: key}, nil
}

// Sealed reports whether new files are written encrypted.
func (s *Store) Sealed() bool { return len(s.key) > 0 }

func (s *Store) path(rel string) string {
	return filepath.Join(s.Root, filepath.FromSlash(rel))
}

// Put writes data to rel through a temporary file and a rename, so rel either holds the
// complete payload or does not exist. It returns the number of bytes on disk.
func (s *Store) Put(ctx context.Context, rel string, data []byte) (int64, error) {
	target := s.path(rel)
	return util.Bounded(ctx, func() (int64, error) {
		return s.put(target, data)
	}, func(_ int64, err error) {
		if err == nil {
			_ = os.Remove(target)
		}
	})
}

func (s *Store) put(target string, data []byte) (int64, error) {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return 0, fmt.Errorf("create directories: %w", err)
	}
	if _, err := os.Lstat(target); err == nil {
		return 0, fmt.Errorf("%s already exists", target)
	}

	file, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return 0, err
	}
	tmp := file.Name()
	fail := func(err error) (int64, error) {
		_ = file.Close()
		_ = os.Remove(tmp)
		return 0, err
	}

	// sio closes its destination on Close; the file still needs Sync and Stat after that.
	w := io.WriteCloser(nopCloser{file})
	if s.Sealed() {
		if w, err = cryptoutil.EncryptWriter(nopCloser{file}, s.key); err != nil {
			return fail(err)
		}
	}
	if _, err := w.Write(data); err != nil {
		return fail(err)
	}
	if err := w.Close(); err != nil {
		return fail(err)
	}
	if err := file.Sync(); err != nil {
		return fail(err)
	}
	info, err := file.Stat()
	if err != nil {
		return fail(err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	return info.Size(), nil
}

// Open returns a reader over the payload stored at rel, decrypting it when sealed.
func (s *Store) Open(ctx context.Context, rel string, sealed bool) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if sealed && !s.Sealed() {
		return nil, fmt.Errorf("%s is encrypted but no archive encryption key is configured", rel)
	}
	file, err := os.Open(s.path(rel))
	if err != nil {
		return nil, err
	}
	if !sealed {
		return file, nil
	}
	plain, err := cryptoutil.DecryptReader(file, s.key)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return readCloser{Reader: plain, Closer: file}, nil
}

// Delete removes the file at rel. A missing file is reported as fs.ErrNotExist.
func (s *Store) Delete(ctx context.Context, rel string) error {
	_, err := util.Bounded(ctx, func() (struct{}, error) {
		return struct{}{}, os.Remove(s.path(rel))
	}, nil)
	return err
}

// PruneDay removes the folder of day if it is empty.
func (s *Store) PruneDay(day Day) {
	_ = os.Remove(s.path(string(day)))
}

// Trash moves the whole folder of day aside in one rename and returns its new location.
func (s *Store) Trash(ctx context.Context, day Day) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	aside := filepath.Join(s.Root, trashPrefix+string(day)+"-"+strconv.FormatInt(time.Now().UnixNano(), 36))
	if err := os.Rename(s.path(string(day)), aside); err != nil {
		return "", err
	}
	return aside, nil
}

// Purge deletes a folder returned by Trash.
func (s *Store) Purge(ctx context.Context, dir string) error {
	_, err := util.Bounded(ctx, func() (struct{}, error) {
		return struct{}{}, os.RemoveAll(dir)
	}, nil)
	return err
}

// Days lists the day folders below the root. Other entries are ignored.
func (s *Store) Days(ctx context.Context) ([]Day, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	items, err := os.ReadDir(s.Root)
	if err != nil {
		return nil, err
	}
	days := []Day{}
	for _, item := range items {
		if !item.IsDir() {
			continue
		}
		day, err := ParseDay(item.Name())
		if err != nil {
			continue
		}
		days = append(days, day)
	}
	return days, nil
}

// Files lists the regular files in the folder of day.
func (s *Store) Files(ctx context.Context, day Day) ([]fs.DirEntry, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	items, err := os.ReadDir(s.path(string(day)))
	if err != nil {
		return nil, err
	}
	files := items[:0]
	for _, item := range items {
		if item.Type().IsRegular() {
			files = append(files, item)
		}
	}
	return files, nil
}

// Readable checks that the file at rel can be opened.
func (s *Store) Readable(rel string) error {
	file, err := os.Open(s.path(rel))
	if err != nil {
		return err
	}
	return file.Close()
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

type readCloser struct {
	io.Reader
	io.Closer
}
