package resource

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// sweepTicker is the seam tests substitute to drive the sweeper without
// a real clock.
type sweepTicker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ ticker *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.ticker.C }
func (t timeTicker) Stop()               { t.ticker.Stop() }

type tickerFactory func(time.Duration) sweepTicker

// StartSweeper launches a background goroutine that, every interval,
// scans manager for resources with DisposalEligible true, disposes them,
// and removes them. It returns a stop function that cancels the
// goroutine and waits for it to exit; calling the stop function more
// than once is a no-op.
func StartSweeper(ctx context.Context, logger *slog.Logger, manager *Manager, interval time.Duration) func() {
	return startSweeperWithTicker(ctx, logger, manager, interval, func(d time.Duration) sweepTicker {
		return timeTicker{ticker: time.NewTicker(d)}
	})
}

func startSweeperWithTicker(ctx context.Context, logger *slog.Logger, manager *Manager, interval time.Duration, newTicker tickerFactory) func() {
	if manager == nil || interval <= 0 {
		return func() {}
	}
	workerCtx, cancel := context.WithCancel(ctx)
	ticker := newTicker(interval)
	done := make(chan struct{})
	go func() {
		defer func() {
			ticker.Stop()
			close(done)
		}()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C():
				sweepOnce(logger, manager)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

func sweepOnce(logger *slog.Logger, manager *Manager) {
	for _, r := range manager.Snapshot() {
		if !r.DisposalEligible() {
			continue
		}
		if err := r.Dispose(); err != nil && logger != nil {
			logger.Warn("resource disposal failed", "id", r.ID(), "error", err)
		}
		manager.Remove(r.ID())
	}
}
