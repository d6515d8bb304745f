package cluster

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// StartHeartbeat launches a background goroutine that re-registers node in
// registry every interval, keeping its TTL-bound Redis key alive for as
// long as this origin process is running. It returns a stop function that
// cancels the goroutine and deregisters node; calling it more than once is
// a no-op.
func StartHeartbeat(ctx context.Context, logger *slog.Logger, registry Registry, node Node, interval time.Duration) func() {
	if registry == nil || interval <= 0 {
		return func() {}
	}
	workerCtx, cancel := context.WithCancel(ctx)
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	register := func() {
		if err := registry.Register(workerCtx, node, interval*2); err != nil && logger != nil {
			logger.Warn("cluster heartbeat register failed", "vhost", node.Vhost, "node_id", node.ID, "error", err)
		}
	}
	register()

	go func() {
		defer close(done)
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				register()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			ticker.Stop()
			<-done
			deregisterCtx, deregisterCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer deregisterCancel()
			if err := registry.Deregister(deregisterCtx, node.Vhost, node.ID); err != nil && logger != nil {
				logger.Warn("cluster heartbeat deregister failed", "vhost", node.Vhost, "node_id", node.ID, "error", err)
			}
		})
	}
}
