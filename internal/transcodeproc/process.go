package transcodeproc

import "context"

// HealthStatus captures the availability of one running transcode
// process.
type HealthStatus struct {
	ID     string
	Vhost  string
	Status string
	Detail string
}

// Process is a running transcode job handed back by a Spawner. Stop must
// be safe to call more than once.
type Process interface {
	Stop(ctx context.Context) error
	Healthy(ctx context.Context) HealthStatus
}

// Spawner starts the external process (ffmpeg or whatever the configured
// engine names) that actually performs the transcode. No concrete
// implementation lives in this tree: spec §1 excludes process spawning
// itself, specifying only the boundary a real one would cross.
type Spawner interface {
	Spawn(ctx context.Context, t Transcode) (Process, error)
}

// NoopSpawner is a Spawner that starts nothing and reports every process
// as disabled. It is the default when a Manager is built without an
// explicit Spawner.
type NoopSpawner struct{}

func (NoopSpawner) Spawn(ctx context.Context, t Transcode) (Process, error) {
	return noopProcess{t: t}, nil
}

type noopProcess struct {
	t Transcode
}

func (noopProcess) Stop(ctx context.Context) error { return nil }

func (p noopProcess) Healthy(ctx context.Context) HealthStatus {
	return HealthStatus{ID: p.t.ID, Vhost: p.t.Vhost, Status: "disabled", Detail: "no spawner configured"}
}
