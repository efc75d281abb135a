package llm

import (
	"context"
	"errors"
	"time"
)

var errStalled = errors.New("no data from upstream within the read timeout")

// readDeadline bounds every single read of a response stream. A read that
// takes longer than timeout cancels the stream's context.
type readDeadline struct {
	ctx     context.Context
	cancel  context.CancelCauseFunc
	timeout time.Duration
}

func newReadDeadline(ctx context.Context, timeout time.Duration) *readDeadline {
	ctx, cancel := context.WithCancelCause(ctx)
	return &readDeadline{ctx: ctx, cancel: cancel, timeout: timeout}
}

// arm starts the clock for one read; the returned func stops it.
func (d *readDeadline) arm() func() {
	if d.timeout <= 0 {
		return func() {}
	}
	t := time.AfterFunc(d.timeout, func() { d.cancel(errStalled) })
	return func() { t.Stop() }
}

func (d *readDeadline) stalled() bool {
	return errors.Is(context.Cause(d.ctx), errStalled)
}

func (d *readDeadline) close() {
	d.cancel(context.Canceled)
}
