package util

import (
	"context"
	"errors"
	"time"
)

// Retry calls fn up to attempts times, sleeping backoff between failures. When ctx ends
// during a backoff the result carries both ctx.Err() and the last failure.
func Retry(ctx context.Context, attempts int, backoff time.Duration, fn func() error) error {
	if attempts <= 1 {
		return fn()
	}
	var err error
	for i := range attempts {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return errors.Join(ctx.Err(), err)
		}
	}
	return err
}
