package archive

import "errors"

var (
	// ErrWriteFailure means the backup store rejected a write or delete.
	ErrWriteFailure = errors.New("backup store write failed")
	// ErrNotFound means the referenced backup or day is not in the index.
	ErrNotFound = errors.New("backup not found")
	// ErrCorruptIndex means the files on disk no longer match the index. Run a rescan.
	ErrCorruptIndex = errors.New("archive index out of sync with disk, rescan recommended")
)
