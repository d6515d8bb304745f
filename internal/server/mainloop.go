package server

import (
	"context"
	"time"

	"tidecast/internal/cluster"
	"tidecast/internal/config"
	"tidecast/internal/resource"
	"tidecast/internal/signalbus"
	"tidecast/internal/statsdb"
)

// mainLoop consumes signalbus.Events until the bus closes (Stop was
// called), ctx is canceled, the acceptor fails, or a fast or graceful quit
// is processed, applying each event the way the
// single-threaded fiber this module descends from would: serially, with
// reload coalesced by the engine's own singleflight group.
func (s *Server) mainLoop(ctx context.Context, cancel context.CancelFunc, acceptorErrs <-chan error) error {
	for {
		select {
		case err := <-acceptorErrs:
			s.logger.Error("acceptor failed, shutting down", "error", err)
			cancel()
			s.drainListeners(context.Background())
			return err

		case ev, ok := <-s.bus.Events():
			if !ok {
				return nil
			}
			switch ev {
			case signalbus.EventReload:
				s.handleReload()
			case signalbus.EventReopenLog:
				s.logger.Info("log reopen requested (no-op: slog writes to the configured writer directly)")
			case signalbus.EventGracefulQuit:
				s.logger.Info("graceful shutdown requested")
				return s.shutdownGraceful(ctx, cancel)
			case signalbus.EventFastQuit:
				s.logger.Info("fast shutdown requested")
				s.shutdownFast(cancel)
				return nil
			}

		case <-ctx.Done():
			s.drainListeners(context.Background())
			return nil
		}
	}
}

func (s *Server) handleReload() {
	changes, err := s.cfg.Engine.Reload()
	if err != nil {
		s.logger.Error("reload rejected", "error", err)
		return
	}
	s.logger.Info("reload applied", "changes", len(changes))
}

// shutdownGraceful waits for in-flight connections to drain (per
// resource.GracefulShutdown) while remaining responsive to a subsequent
// fast-quit event on the bus, then closes the HTTP listeners.
func (s *Server) shutdownGraceful(parent context.Context, cancel context.CancelFunc) error {
	cancel()

	abort := make(chan struct{})
	go func() {
		for ev := range s.bus.Events() {
			if ev == signalbus.EventFastQuit {
				close(abort)
				return
			}
		}
	}()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer drainCancel()
	if err := resource.GracefulShutdown(drainCtx, s.manager, abort); err != nil && !resource.IsAborted(err) {
		s.logger.Warn("graceful drain did not complete cleanly", "error", err)
	}

	s.drainListeners(context.Background())
	return nil
}

func (s *Server) shutdownFast(cancel context.CancelFunc) {
	cancel()
	resource.FastShutdown(s.manager)
	s.drainListeners(context.Background())
}

// drainListeners closes the HTTP listeners and stops every tracked ingest
// process, in the order spec.md's quit sequence names them: "close
// listeners; stop ingesters".
func (s *Server) drainListeners(ctx context.Context) {
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 5*time.Second)
	defer shutdownCancel()
	for _, hs := range s.httpServers {
		if err := hs.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http listener shutdown failed", "addr", hs.Addr, "error", err)
		}
	}
	if s.cfg.Ingest != nil {
		s.cfg.Ingest.StopAll(shutdownCtx)
	}
}

// startStatsLoop periodically records a Snapshot of the resource manager's
// live counts to s.cfg.Stats, returning a stop function. It is a no-op
// (returning a no-op stop) when no stats store was configured.
func (s *Server) startStatsLoop(ctx context.Context) func() {
	if s.cfg.Stats == nil {
		return func() {}
	}
	done := make(chan struct{})
	ticker := time.NewTicker(s.cfg.StatsInterval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap := statsdb.Snapshot{
					ServerID:    s.cfg.ServerID,
					ObservedAt:  time.Now(),
					ActiveConns: s.manager.Size(),
				}
				recordCtx, recordCancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := s.cfg.Stats.Record(recordCtx, snap); err != nil {
					s.logger.Warn("stats snapshot failed", "error", err)
				}
				recordCancel()
			}
		}
	}()
	return func() {
		<-done
	}
}

// startClusterHeartbeats registers one heartbeat per origin-mode vhost
// against s.cfg.ClusterRegistry, so an edge-mode resolver elsewhere in the
// cluster can discover this process as a forward target. Returns a stop
// function that deregisters every heartbeat; a no-op when no registry was
// configured.
func (s *Server) startClusterHeartbeats(ctx context.Context, root *config.Directive) func() {
	if s.cfg.ClusterRegistry == nil {
		return func() {}
	}

	originAddr := ":1935"
	if addrs := listenAddrs(root.Get("listen")); len(addrs) > 0 {
		originAddr = addrs[0]
	}

	var stops []func()
	for _, vhost := range root.GetAll("vhost") {
		name := vhost.Arg(0)
		if name == "" || cluster.IsEdge(vhost) {
			continue
		}
		node := cluster.Node{ID: s.cfg.ServerID + ":" + name, Addr: originAddr, Vhost: name}
		stop := cluster.StartHeartbeat(ctx, s.logger, s.cfg.ClusterRegistry, node, s.cfg.HeartbeatInterval)
		stops = append(stops, stop)
	}

	return func() {
		for _, stop := range stops {
			stop()
		}
	}
}
