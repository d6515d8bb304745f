// Package server wires the configuration engine, connection acceptor,
// resource manager, signal controller, cluster coordinator, and statistics
// store into one runnable process. It is the composition root spec.md §1
// leaves implicit: nothing here owns protocol semantics, it only owns
// lifecycle.
package server

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"tidecast/internal/acceptor"
	"tidecast/internal/cluster"
	"tidecast/internal/config"
	"tidecast/internal/ingestproc"
	"tidecast/internal/observability/logging"
	"tidecast/internal/observability/metrics"
	"tidecast/internal/resource"
	"tidecast/internal/signalbus"
	"tidecast/internal/statsdb"
)

// Config aggregates the dependencies Server needs. Engine, Logger and
// ServerID are required; everything else is optional and simply not
// started when left zero.
type Config struct {
	Engine   *config.Engine
	Logger   *slog.Logger
	Metrics  *metrics.Recorder
	ServerID string

	// Stats, when non-nil, receives a snapshot of connection/stream
	// counts on StatsInterval (defaulting to 30s).
	Stats         *statsdb.Store
	StatsInterval time.Duration

	// ClusterRegistry, when non-nil, backs origin-mode vhost
	// advertisement and edge-mode forward resolution.
	ClusterRegistry   cluster.Registry
	HeartbeatInterval time.Duration

	// ConfigPath, when non-empty, arms an fsnotify-driven reload watcher
	// alongside the signal-driven one.
	ConfigPath string

	// Ingest, when non-nil, is subscribed to the engine so vhost.ingest
	// reloads start/stop/restart its tracked processes, and is drained
	// during shutdown alongside the listeners.
	Ingest *ingestproc.Manager

	// ForceGraceQuit selects SIGTERM's effect: fast quit when off
	// (default), graceful quit when on, per spec §6's signal table.
	ForceGraceQuit bool
}

// Server owns every long-running goroutine a running process needs:
// listener accept loops, the internal service and exporter HTTP servers,
// the stats snapshot loop, cluster heartbeats, and the signal-driven main
// loop that applies reload/quit/reopen-log events.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	manager *resource.Manager
	bus     *signalbus.Bus
	watcher *signalbus.Watcher

	resolver *cluster.Resolver

	httpServers []*http.Server
}

// New validates cfg and constructs a Server. It does not bind any sockets
// or start any goroutines; call Run for that.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("server: engine is required")
	}
	if cfg.Engine.Active() == nil {
		return nil, fmt.Errorf("server: engine has no active configuration, call Load first")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Default()
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = 30 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}

	s := &Server{
		cfg:     cfg,
		logger:  cfg.Logger,
		manager: resource.NewManager(),
		bus:     signalbus.New(cfg.ForceGraceQuit),
	}
	if cfg.ClusterRegistry != nil {
		s.resolver = cluster.NewResolver(cfg.ClusterRegistry)
	}
	if cfg.Ingest != nil {
		cfg.Engine.Subscribe(cfg.Ingest)
	}
	return s, nil
}

// Manager exposes the resource manager backing every accepted connection,
// primarily for tests and for the stats snapshot loop.
func (s *Server) Manager() *resource.Manager { return s.manager }

// Resolver returns the cluster forward-target resolver, or nil when no
// cluster registry was configured.
func (s *Server) Resolver() *cluster.Resolver { return s.resolver }

// Ingest returns the ingest process manager, or nil when none was
// configured.
func (s *Server) Ingest() *ingestproc.Manager { return s.cfg.Ingest }

// Run binds every configured listener, starts the ambient background
// loops, and blocks until ctx is canceled, a quit event (fast or
// graceful) is processed, or the acceptor fails. It always attempts a
// best-effort shutdown before returning.
func (s *Server) Run(ctx context.Context) error {
	root := s.cfg.Engine.Active()

	acc, httpServers, err := s.buildAcceptor(root)
	if err != nil {
		return err
	}
	s.httpServers = httpServers

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, 1)
	go func() {
		if err := acc.Run(runCtx); err != nil {
			errs <- err
		}
	}()
	for _, hs := range httpServers {
		hs := hs
		go func() {
			if err := hs.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.logger.Error("http listener failed", "addr", hs.Addr, "error", err)
			}
		}()
	}

	stopHeartbeats := s.startClusterHeartbeats(runCtx, root)
	defer stopHeartbeats()

	stopStats := s.startStatsLoop(runCtx)
	defer stopStats()

	s.bus.Start()
	defer s.bus.Stop()

	if s.cfg.ConfigPath != "" {
		watcher, err := signalbus.NewWatcher(s.cfg.ConfigPath, s.bus)
		if err != nil {
			s.logger.Warn("config watcher unavailable", "error", err)
		} else {
			s.watcher = watcher
			watcher.Start()
			defer watcher.Stop()
		}
	}

	return s.mainLoop(runCtx, cancel, errs)
}

// buildAcceptor constructs the raw-socket acceptor (RTMP, stream casters)
// and the standalone http.Servers (internal service, exporter) per the
// listener-set table: RTMP always listens, the rest only when their
// `enabled` directive is on.
func (s *Server) buildAcceptor(root *config.Directive) (*acceptor.Acceptor, []*http.Server, error) {
	var listeners []*acceptor.Listener
	var httpServers []*http.Server

	for _, addr := range listenAddrs(root.Get("listen")) {
		listeners = append(listeners, &acceptor.Listener{
			Kind:    acceptor.KindRTMP,
			Addr:    addr,
			Handle:  s.passthroughHandler(acceptor.KindRTMP),
			Manager: s.manager,
			Admit:   s.admission(root),
			Logger:  logging.WithComponent(s.logger, "rtmp"),
		})
	}

	for _, caster := range root.GetAll("stream_caster") {
		if !directiveEnabled(caster) {
			continue
		}
		addr := caster.Get("listen").Arg(0)
		if addr == "" {
			continue
		}
		listeners = append(listeners, &acceptor.Listener{
			Kind:    acceptor.KindStreamCaster,
			Addr:    addr,
			Handle:  s.passthroughHandler(acceptor.KindStreamCaster),
			Manager: s.manager,
			Admit:   s.admission(root),
			Logger:  logging.WithComponent(s.logger, "stream_caster"),
		})
	}

	if svc := root.Get("service_server"); directiveEnabled(svc) {
		addr := svc.Get("listen").Arg(0)
		if addr == "" {
			return nil, nil, fmt.Errorf("server: service_server.enabled requires service_server.listen")
		}
		token := svc.Get("token").Arg(0)
		internalSvc, err := acceptor.NewInternalService(token, s.cfg.Engine, logging.WithComponent(s.logger, "internal_service"))
		if err != nil {
			return nil, nil, fmt.Errorf("server: configure internal service: %w", err)
		}
		httpServers = append(httpServers, &http.Server{
			Addr:              addr,
			Handler:           internalSvc.Mux(),
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	if exp := root.Get("exporter"); directiveEnabled(exp) {
		addr := exp.Get("listen").Arg(0)
		if addr == "" {
			return nil, nil, fmt.Errorf("server: exporter.enabled requires exporter.listen")
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", s.cfg.Metrics.Handler())
		httpServers = append(httpServers, &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	return acceptor.New(s.logger, listeners...), httpServers, nil
}

func (s *Server) admission(root *config.Directive) *acceptor.Admission {
	acc := config.NewAccessor(root)
	max := acc.Int("TIDECAST_MAX_CONNECTIONS", 0, "max_connections")
	if max <= 0 {
		return nil
	}
	return &acceptor.Admission{MaxConnections: max}
}

// passthroughHandler returns a Handler that marks the connection running,
// drains it until the peer closes or an error occurs, and records the
// terminal state. Actual protocol parsing for the listener kind named is
// out of scope; this exists so the resource manager sees real lifecycle
// transitions for every accepted socket.
func (s *Server) passthroughHandler(kind acceptor.Kind) acceptor.Handler {
	return func(ctx context.Context, conn net.Conn, res *resource.Connection) {
		s.cfg.Metrics.ConnectionAccepted(kind.String())
		defer s.cfg.Metrics.ConnectionClosed(kind.String())

		reader := bufio.NewReader(conn)
		buf := make([]byte, 4096)
		for {
			if _, err := reader.Read(buf); err != nil {
				markTerminal(ctx, res, err)
				return
			}
		}
	}
}

func markTerminal(ctx context.Context, res *resource.Connection, err error) {
	select {
	case <-ctx.Done():
		res.MarkExpired()
		return
	default:
	}
	if err == nil {
		res.MarkPeerClosed()
		return
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		res.MarkExpired()
		return
	}
	res.MarkErrored(err)
}

func listenAddrs(listen *config.Directive) []string {
	if listen == nil {
		return nil
	}
	out := make([]string, 0, len(listen.Args))
	for _, arg := range listen.Args {
		out = append(out, normalizeListenAddr(arg))
	}
	return out
}

// normalizeListenAddr turns a bare port ("1935") into ":1935" for
// net.Listen, leaving a host:port pair untouched.
func normalizeListenAddr(arg string) string {
	if !strings.Contains(arg, ":") {
		return ":" + arg
	}
	return arg
}

func directiveEnabled(d *config.Directive) bool {
	if d == nil {
		return false
	}
	enabled := d.Get("enabled")
	if enabled == nil {
		return false
	}
	switch strings.ToLower(enabled.Arg(0)) {
	case "on", "true", "yes", "1":
		return true
	default:
		return false
	}
}
