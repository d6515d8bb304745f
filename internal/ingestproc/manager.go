package ingestproc

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tidecast/internal/config"
	"tidecast/internal/observability/metrics"
)

const (
	defaultMaxAttempts   = 3
	defaultRetryInterval = 500 * time.Millisecond
	defaultStartTimeout  = 10 * time.Second
)

// Option configures a Manager.
type Option func(*Manager)

// WithMaxAttempts overrides the number of Spawn attempts before an ingest
// add/update is given up on. Non-positive values are ignored.
func WithMaxAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

// WithRetryInterval overrides the backoff between Spawn attempts. Negative
// values are ignored.
func WithRetryInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.retryInterval = d
		}
	}
}

// WithSpawner overrides the Spawner used to start ingest processes. Without
// one, Manager uses NoopSpawner.
func WithSpawner(s Spawner) Option {
	return func(m *Manager) {
		if s != nil {
			m.spawner = s
		}
	}
}

// Manager tracks the running ingest process for every vhost.ingest entry
// and reacts to config.Change events with scope "vhost.ingest", starting,
// stopping, or restarting processes to match the candidate tree. It
// implements config.Subscriber.
type Manager struct {
	mu      sync.Mutex
	running map[string]map[string]*tracked

	spawner       Spawner
	logger        *slog.Logger
	metrics       *metrics.Recorder
	maxAttempts   int
	retryInterval time.Duration
}

type tracked struct {
	ingest Ingest
	proc   Process
}

// NewManager constructs a Manager. A nil logger falls back to slog.Default
// and a nil recorder to metrics.Default.
func NewManager(logger *slog.Logger, recorder *metrics.Recorder, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.Default()
	}
	m := &Manager{
		running:       make(map[string]map[string]*tracked),
		spawner:       NoopSpawner{},
		logger:        logger,
		metrics:       recorder,
		maxAttempts:   defaultMaxAttempts,
		retryInterval: defaultRetryInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnReload implements config.Subscriber. It only reacts to
// Scope == "vhost.ingest"; every other scope is ignored. The reload
// pipeline already computes one Change per affected ingest id (config.Diff
// fires added/removed/updated separately), so each call here handles
// exactly one id. Spawn failures are logged and counted, not returned,
// since one dead ingester should not abort a configuration reload
// otherwise unrelated to it.
func (m *Manager) OnReload(c config.Change) error {
	if c.Scope != "vhost.ingest" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultStartTimeout)
	defer cancel()

	if c.Before != nil {
		m.stop(ctx, c.VhostName, c.Before.Arg(0))
	}
	if c.After != nil {
		m.start(ctx, parseIngest(c.VhostName, c.After))
	}
	return nil
}

func (m *Manager) start(ctx context.Context, ing Ingest) {
	var lastErr error
attempts:
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		m.metrics.ObserveIngestAttempt(ing.Vhost)
		proc, err := m.spawner.Spawn(ctx, ing)
		if err == nil {
			m.mu.Lock()
			if m.running[ing.Vhost] == nil {
				m.running[ing.Vhost] = make(map[string]*tracked)
			}
			m.running[ing.Vhost][ing.ID] = &tracked{ingest: ing, proc: proc}
			m.mu.Unlock()
			return
		}
		lastErr = err
		if attempt < m.maxAttempts {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				break attempts
			case <-time.After(m.retryInterval):
			}
		}
	}
	m.metrics.ObserveIngestFailure(ing.Vhost)
	m.logger.Error("ingest spawn failed", "vhost", ing.Vhost, "id", ing.ID, "attempts", m.maxAttempts, "error", lastErr)
}

func (m *Manager) stop(ctx context.Context, vhost, id string) {
	m.mu.Lock()
	var t *tracked
	if vhosts := m.running[vhost]; vhosts != nil {
		t = vhosts[id]
		delete(vhosts, id)
	}
	m.mu.Unlock()
	if t == nil {
		return
	}
	if err := t.proc.Stop(ctx); err != nil {
		m.logger.Warn("ingest stop failed", "vhost", vhost, "id", id, "error", err)
	}
}

// StopAll stops every tracked ingest process, best effort, in the order
// spec.md's quit sequence expects ("close listeners; stop ingesters").
// Errors are logged, not returned; StopAll always stops every process it
// can reach.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	var all []*tracked
	for vhost, procs := range m.running {
		for id, t := range procs {
			all = append(all, t)
			delete(procs, id)
		}
		delete(m.running, vhost)
	}
	m.mu.Unlock()

	for _, t := range all {
		if err := t.proc.Stop(ctx); err != nil {
			m.logger.Warn("ingest stop failed", "vhost", t.ingest.Vhost, "id", t.ingest.ID, "error", err)
		}
	}
}

// HealthChecks reports the health of every tracked ingest process.
func (m *Manager) HealthChecks(ctx context.Context) []HealthStatus {
	m.mu.Lock()
	var procs []*tracked
	for _, byVhost := range m.running {
		for _, t := range byVhost {
			procs = append(procs, t)
		}
	}
	m.mu.Unlock()

	out := make([]HealthStatus, 0, len(procs))
	for _, t := range procs {
		out = append(out, t.proc.Healthy(ctx))
	}
	return out
}

// Len reports the number of currently tracked ingest processes, across all
// vhosts. Primarily useful for tests and diagnostics.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, byVhost := range m.running {
		n += len(byVhost)
	}
	return n
}
