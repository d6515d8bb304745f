package transcodeproc

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tidecast/internal/config"
	"tidecast/internal/observability/metrics"
)

const defaultStartTimeout = 10 * time.Second

// Manager tracks the running transcode processes for every vhost and
// reacts to config.Change events with scope "vhost.transcode". Since
// spec §4.5 coalesces transcode's add/remove/update into a single Change
// per vhost, the Manager re-derives which ids actually changed by
// diffing the vhost's transcode children itself rather than trusting a
// per-id event. It implements config.Subscriber.
type Manager struct {
	mu      sync.Mutex
	running map[string]map[string]*tracked

	spawner Spawner
	logger  *slog.Logger
	metrics *metrics.Recorder
}

type tracked struct {
	transcode Transcode
	proc      Process
}

// Option configures a Manager.
type Option func(*Manager)

// WithSpawner overrides the Spawner used to start transcode processes.
// A nil Spawner is ignored.
func WithSpawner(s Spawner) Option {
	return func(m *Manager) {
		if s != nil {
			m.spawner = s
		}
	}
}

func NewManager(logger *slog.Logger, recorder *metrics.Recorder, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.Default()
	}
	m := &Manager{
		running: make(map[string]map[string]*tracked),
		spawner: NoopSpawner{},
		logger:  logger,
		metrics: recorder,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnReload implements config.Subscriber. It only reacts to
// Scope == "vhost.transcode"; every other scope is ignored.
func (m *Manager) OnReload(c config.Change) error {
	if c.Scope != "vhost.transcode" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultStartTimeout)
	defer cancel()

	before := indexByID(parseTranscodes(c.VhostName, c.Before))
	after := indexByID(parseTranscodes(c.VhostName, c.After))

	for id := range before {
		if _, stillPresent := after[id]; !stillPresent || !config.Equal(findDirective(c.Before, id), findDirective(c.After, id)) {
			m.stop(ctx, c.VhostName, id)
		}
	}
	for id, t := range after {
		if _, existed := before[id]; !existed || !config.Equal(findDirective(c.Before, id), findDirective(c.After, id)) {
			m.start(ctx, t)
		}
	}
	return nil
}

func findDirective(vhost *config.Directive, id string) *config.Directive {
	if vhost == nil {
		return nil
	}
	for _, d := range vhost.GetAll("transcode") {
		if d.Arg(0) == id {
			return d
		}
	}
	return nil
}

func indexByID(transcodes []Transcode) map[string]Transcode {
	out := make(map[string]Transcode, len(transcodes))
	for _, t := range transcodes {
		out[t.ID] = t
	}
	return out
}

func (m *Manager) start(ctx context.Context, t Transcode) {
	m.metrics.TranscoderJobStarted(t.Engine)
	proc, err := m.spawner.Spawn(ctx, t)
	if err != nil {
		m.metrics.TranscoderJobFailed(t.Engine)
		m.logger.Error("transcode spawn failed", "vhost", t.Vhost, "id", t.ID, "error", err)
		return
	}
	m.mu.Lock()
	if m.running[t.Vhost] == nil {
		m.running[t.Vhost] = make(map[string]*tracked)
	}
	m.running[t.Vhost][t.ID] = &tracked{transcode: t, proc: proc}
	m.mu.Unlock()
}

func (m *Manager) stop(ctx context.Context, vhost, id string) {
	m.mu.Lock()
	vhostProcs := m.running[vhost]
	var tr *tracked
	if vhostProcs != nil {
		tr = vhostProcs[id]
		delete(vhostProcs, id)
	}
	m.mu.Unlock()
	if tr == nil {
		return
	}
	if err := tr.proc.Stop(ctx); err != nil {
		m.logger.Warn("transcode stop failed", "vhost", vhost, "id", id, "error", err)
		return
	}
	m.metrics.TranscoderJobCompleted(tr.transcode.Engine)
}

// StopAll stops every tracked transcode process, best effort.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	all := m.running
	m.running = make(map[string]map[string]*tracked)
	m.mu.Unlock()

	for vhost, procs := range all {
		for id, tr := range procs {
			if err := tr.proc.Stop(ctx); err != nil {
				m.logger.Warn("transcode stop failed", "vhost", vhost, "id", id, "error", err)
				continue
			}
			m.metrics.TranscoderJobCompleted(tr.transcode.Engine)
		}
	}
}

// HealthChecks reports the health of every tracked transcode process.
func (m *Manager) HealthChecks(ctx context.Context) []HealthStatus {
	m.mu.Lock()
	var all []*tracked
	for _, procs := range m.running {
		for _, tr := range procs {
			all = append(all, tr)
		}
	}
	m.mu.Unlock()

	out := make([]HealthStatus, 0, len(all))
	for _, tr := range all {
		out = append(out, tr.proc.Healthy(ctx))
	}
	return out
}

// Len reports the number of currently tracked transcode processes.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, procs := range m.running {
		n += len(procs)
	}
	return n
}
