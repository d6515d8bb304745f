package resource

import (
	"context"
	"time"
)

// maxBackoff is the ceiling the graceful shutdown poll interval backs off
// to: 1, 2, 4, 8, 16, then 32ms repeating, never longer.
const maxBackoff = 32 * time.Millisecond

// FastShutdown disposes every resource in manager immediately, ignoring
// DisposalEligible. It is used for the second SIGINT/SIGTERM (the
// "fast_quit" event): the operator has already asked once and is asking
// again, so in-flight connections are torn down rather than drained.
func FastShutdown(manager *Manager) {
	for _, r := range manager.Snapshot() {
		r.Dispose()
		manager.Remove(r.ID())
	}
}

// GracefulShutdown polls manager until it is empty (every live connection
// has reached a terminal state and been swept), ctx is canceled (a second
// fast-quit event arrived), or the poll loop is interrupted by abort
// becoming readable. The poll interval starts at 1ms and doubles on each
// empty check up to maxBackoff, trading CPU for latency the same way a
// connection-draining loop would: busy at first when a quick drain is
// likely, cheap once it's clearly going to take a while.
//
// GracefulShutdown does not dispose anything itself; it relies on the
// sweeper goroutine draining the manager and returns once that has
// happened or it is interrupted.
func GracefulShutdown(ctx context.Context, manager *Manager, abort <-chan struct{}) error {
	backoff := time.Millisecond
	for {
		if manager.Empty() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-abort:
			return errAborted
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// errAborted is returned by GracefulShutdown when abort fires before the
// manager drains.
var errAborted = gracefulAbortedError{}

type gracefulAbortedError struct{}

func (gracefulAbortedError) Error() string { return "graceful shutdown aborted by fast quit" }

// IsAborted reports whether err is the sentinel GracefulShutdown returns
// when interrupted via abort.
func IsAborted(err error) bool {
	_, ok := err.(gracefulAbortedError)
	return ok
}
