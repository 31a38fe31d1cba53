package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ledgerName holds the per-day sequence high-water marks so numbers stay unique across
// restarts even after the newest backups of a day were deleted.
const ledgerName = ".issued"

// LoadIssued reads the sequence ledger. A missing ledger is an empty one.
func (s *Store) LoadIssued() (map[Day]int, error) {
	data, err := os.ReadFile(filepath.Join(s.Root, ledgerName))
	if errors.Is(err, fs.ErrNotExist) {
		return map[Day]int{}, nil
	}
	if err != nil {
		return nil, err
	}
	raw := map[string]int{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ledgerName, err)
	}
	issued := make(map[Day]int, len(raw))
	for name, seq := range raw {
		day, err := ParseDay(name)
		if err != nil || seq < 1 {
			continue
		}
		issued[day] = seq
	}
	return issued, nil
}

// SaveIssued replaces the sequence ledger through a temporary file and a rename.
func (s *Store) SaveIssued(issued map[Day]int) error {
	data, err := json.Marshal(issued)
	if err != nil {
		return err
	}
	file, err := os.CreateTemp(s.Root, tempPrefix+"*")
	if err != nil {
		return err
	}
	tmp := file.Name()
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, filepath.Join(s.Root, ledgerName)); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
