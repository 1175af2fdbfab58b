// Package hedge races a primary operation against a delayed fallback.
package hedge

import (
	"context"
	"errors"
	"time"
)

// Func is an operation that honours ctx cancellation.
type Func[T any] func(ctx context.Context) (T, error)

type outcome[T any] struct {
	v       T
	err     error
	primary bool
}

// Do runs primary. If primary has not produced a value when cutover
// elapses, fallback is started and the first of the two to produce a value
// wins. A primary error before the cutover starts the fallback at once.
// The loser is cancelled and its result discarded. When both fail, the
// primary error is returned joined with the fallback error.
//
// Do returns as soon as a winner is known. Losing operations see their
// context cancelled and finish in the background.
func Do[T any](ctx context.Context, primary, fallback Func[T], cutover time.Duration) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	pctx, pcancel := context.WithCancel(ctx)
	defer pcancel()
	fctx, fcancel := context.WithCancel(ctx)
	defer fcancel()

	results := make(chan outcome[T], 2)
	running := 1
	go func() {
		v, err := primary(pctx)
		results <- outcome[T]{v: v, err: err, primary: true}
	}()

	timer := time.NewTimer(cutover)
	defer timer.Stop()

	started := false
	startFallback := func() {
		if started || fallback == nil {
			return
		}
		started = true
		running++
		go func() {
			v, err := fallback(fctx)
			results <- outcome[T]{v: v, err: err}
		}()
	}

	var primaryErr, fallbackErr error
	for running > 0 {
		select {
		case <-timer.C:
			startFallback()
		case r := <-results:
			running--
			if r.err == nil {
				return r.v, nil
			}
			if r.primary {
				primaryErr = r.err
				timer.Stop()
				startFallback()
			} else {
				fallbackErr = r.err
			}
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}

	switch {
	case primaryErr == nil:
		return zero, fallbackErr
	case fallbackErr == nil:
		return zero, primaryErr
	}
	return zero, errors.Join(primaryErr, fallbackErr)
}
