// Package ingestproc represents the process-spawning boundary for
// transcoders and ingesters (spec §1 Non-goal: actual process spawning is
// out of scope, specified only at the interface it crosses). It is adapted
// from the teacher's internal/ingest package: same retry/backoff and
// health-check shape, repointed at vhost.ingest directive entries instead
// of orchestrating SRS/OME/transcoder microservices.
package ingestproc

import "tidecast/internal/config"

// Ingest describes one vhost.ingest entry: an external source the server
// pulls from to feed a vhost, identified within that vhost by ID (the
// directive's first argument).
type Ingest struct {
	ID     string
	Vhost  string
	Input  string
	Engine string
}

func parseIngest(vhost string, d *config.Directive) Ingest {
	ing := Ingest{ID: d.Arg(0), Vhost: vhost}
	if input := d.Get("input"); input != nil {
		ing.Input = input.Arg(0)
	}
	if engine := d.Get("engine"); engine != nil {
		ing.Engine = engine.Arg(0)
	}
	return ing
}

