// Command tidecast-transcoder is the standalone transcode driver process
// named in SPEC_FULL.md's supplemented features: it watches the same
// configuration tree as tidecast for vhost.transcode entries, starts and
// stops transcode processes as they are added, removed, or updated, and
// exposes a health endpoint. It is adapted from the teacher's
// cmd/transcoder job controller, stripped to the spawn boundary spec §1
// excludes actual codec work from.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"time"

	"tidecast/internal/config"
	"tidecast/internal/observability/logging"
	"tidecast/internal/observability/metrics"
	"tidecast/internal/signalbus"
	"tidecast/internal/transcodeproc"
)

func main() {
	os.Exit(run())
}

func run() int {
	confPath := firstNonEmpty(os.Getenv("TIDECAST_CONF"), "/etc/srs/srs.conf")
	bind := firstNonEmpty(os.Getenv("TIDECAST_TRANSCODER_BIND"), ":9091")
	forceGraceQuit := os.Getenv("TIDECAST_FORCE_GRACE_QUIT") == "on"

	logger := logging.Init(logging.Config{Level: firstNonEmpty(os.Getenv("TIDECAST_LOG_LEVEL"), "info")})
	recorder := metrics.Default()

	engine := config.NewEngine(confPath, osFileReader{})
	if err := engine.Load(); err != nil {
		logger.Error("configuration invalid", "error", err)
		return 1
	}

	manager := transcodeproc.NewManager(logging.WithComponent(logger, "transcode"), recorder)
	engine.Subscribe(manager)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handleHealthz(manager))
	mux.Handle("/metrics", recorder.Handler())

	httpServer := &http.Server{
		Addr:              bind,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("tidecast-transcoder listening", "addr", bind)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen failed", "error", err)
		}
	}()

	bus := signalbus.New(forceGraceQuit)
	bus.Start()
	defer bus.Stop()

	watcher, err := signalbus.NewWatcher(confPath, bus)
	if err != nil {
		logger.Warn("config watcher unavailable, transcode set will not auto-reload", "error", err)
	} else {
		watcher.Start()
		defer watcher.Stop()
	}

	runMainLoop(logger, engine, manager, httpServer, bus)
	logger.Info("tidecast-transcoder stopped")
	return 0
}

// runMainLoop consumes bus.Events until a quit event is processed, the
// way internal/server's own main loop does: reload and reopen-log run
// inline, a quit event tears down the HTTP listener and every tracked
// transcode process, then returns.
func runMainLoop(logger *slog.Logger, engine *config.Engine, manager *transcodeproc.Manager, httpServer *http.Server, bus *signalbus.Bus) {
	for ev := range bus.Events() {
		switch ev {
		case signalbus.EventReload:
			if _, err := engine.Reload(); err != nil {
				logger.Error("reload rejected", "error", err)
			} else {
				logger.Info("reload applied")
			}
		case signalbus.EventReopenLog:
			logger.Info("log reopen requested (no-op: slog writes to the configured writer directly)")
		case signalbus.EventReserved:
			logger.Info("reserved signal received, ignoring")
		case signalbus.EventFastQuit, signalbus.EventGracefulQuit:
			logger.Info("shutdown requested", "event", ev.String())
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("graceful shutdown failed", "error", err)
			}
			manager.StopAll(shutdownCtx)
			cancel()
			return
		}
	}
}

func handleHealthz(manager *transcodeproc.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statuses := manager.HealthChecks(r.Context())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"tracked": manager.Len(),
			"jobs":    statuses,
		})
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

type osFileReader struct{}

func (osFileReader) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }
