package util

import "context"

// Bounded runs fn in its own goroutine and waits for it or for ctx, whichever ends first.
// File I/O cannot be interrupted, so a stuck fn keeps running after Bounded returns;
// abandon is then called with fn's eventual result so it can undo partial work.
func Bounded[T any](ctx context.Context, fn func() (T, error), abandon func(T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	done := make(chan result)
	quit := make(chan struct{})
	go func() {
		val, err := fn()
		select {
		case done <- result{val: val, err: err}:
		case <-quit:
			if abandon != nil {
				abandon(val, err)
			}
		}
	}()

	select {
	case res := <-done:
		return res.val, res.err
	case <-ctx.Done():
		close(quit)
		var zero T
		return zero, ctx.Err()
	}
}
