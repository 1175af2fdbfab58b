package techblock

import (
	"context"
	"log/slog"
	"time"
)

// Timers bound how long a caller waits for a block.
type Timers struct {
	// Pending fires onPending once if the block is still missing.
	Pending time.Duration
	// Deadline abandons the block. Zero waits until ctx is done.
	Deadline time.Duration
}

// DefaultTimers are the waits used while a reply is being finished.
var DefaultTimers = Timers{Pending: time.Second, Deadline: 5 * time.Second}

// Run extracts a block, calling onPending once when Pending elapses first.
// After Deadline, Run returns ErrDeadline; the late block is logged and
// dropped when it arrives.
func Run(ctx context.Context, ex Extractor, in Input, t Timers, onPending func()) (*Block, error) {
	type result struct {
		b   *Block
		err error
	}
	ch := make(chan result, 1)
	abandoned := make(chan struct{})
	start := time.Now()
	go func() {
		b, err := ex.Extract(ctx, in)
		ch <- result{b, err}
		select {
		case <-abandoned:
			slog.Warn("techblock: late block dropped", "elapsed", time.Since(start), "error", err)
		default:
		}
	}()

	var pendingC, deadlineC <-chan time.Time
	if t.Pending > 0 && onPending != nil {
		pt := time.NewTimer(t.Pending)
		defer pt.Stop()
		pendingC = pt.C
	}
	if t.Deadline > 0 {
		dt := time.NewTimer(t.Deadline)
		defer dt.Stop()
		deadlineC = dt.C
	}
	for {
		select {
		case r := <-ch:
			if r.err != nil {
				slog.Debug("techblock: extraction degraded", "error", r.err)
			}
			if r.b == nil {
				r.b = Blank()
			}
			return r.b, nil
		case <-pendingC:
			pendingC = nil
			onPending()
		case <-deadlineC:
			close(abandoned)
			slog.Warn("techblock: deadline exceeded", "deadline", t.Deadline)
			return nil, ErrDeadline
		case <-ctx.Done():
			close(abandoned)
			return nil, ctx.Err()
		}
	}
}

// Race starts an extraction and returns two channels, each delivering one
// value. full delivers the extracted block. race delivers the same block
// if it arrives within timeout, nil otherwise. A timeout of zero resolves
// race immediately.
func Race(ctx context.Context, ex Extractor, in Input, timeout time.Duration) (race, full <-chan *Block) {
	raceCh := make(chan *Block, 1)
	fullCh := make(chan *Block, 1)
	if timeout <= 0 {
		raceCh <- nil
	}
	go func() {
		res := make(chan *Block, 1)
		go func() {
			b, err := ex.Extract(ctx, in)
			if err != nil {
				slog.Debug("techblock: extraction degraded", "error", err)
			}
			if b == nil {
				b = Blank()
			}
			res <- b
		}()
		if timeout <= 0 {
			fullCh <- <-res
			return
		}
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case b := <-res:
			raceCh <- b
			fullCh <- b
		case <-timer.C:
			raceCh <- nil
			fullCh <- <-res
		}
	}()
	return raceCh, fullCh
}
