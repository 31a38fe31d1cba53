package cryptoutil

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// KeySize is the length of archive and config keys.
const KeySize = 32

var ErrInvalidKey = errors.New("invalid encryption key")

// ParseKey accepts a 32-byte key written as base64 or hex, optionally prefixed with
// "base64:" or "hex:".
func ParseKey(key string) ([]byte, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidKey)
	}

	var data []byte
	var err error
	switch {
	case strings.HasPrefix(trimmed, "base64:"):
		data, err = base64.StdEncoding.DecodeString(strings.TrimPrefix(trimmed, "base64:"))
	case strings.HasPrefix(trimmed, "hex:"):
		data, err = hex.DecodeString(strings.TrimPrefix(trimmed, "hex:"))
	default:
		// 64 hex digits are also valid base64, so hex wins whenever it yields a full key.
		if raw, hexErr := hex.DecodeString(trimmed); hexErr == nil && len(raw) == KeySize {
			data = raw
		} else {
			data, err = base64.StdEncoding.DecodeString(trimmed)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidKey, err)
	}
	if len(data) != KeySize {
		return nil, fmt.Errorf("%w: %d bytes, expected %d", ErrInvalidKey, len(data), KeySize)
	}
	return data, nil
}

// GenerateKey returns a fresh random key in the "base64:" form ParseKey reads.
func GenerateKey() (string, error) {
	buf := make([]byte, KeySize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return "base64:" + base64.StdEncoding.EncodeToString(buf), nil
}
