// Package cluster implements the thin origin/edge coordination surface a
// vhost's cluster block names (spec reload dispatch treats a mode flip as
// RtmpEdgeReload: switching live would leave connections addressed to the
// wrong role). An origin-mode vhost registers itself under its vhost name;
// an edge-mode vhost resolves a forward target from whatever origins are
// currently registered, falling back to the static cluster.origin address
// list when no registry is configured or nothing is registered yet.
package cluster

import (
	"context"
	"time"

	"tidecast/internal/config"
)

// Node is one origin server registered for a vhost.
type Node struct {
	ID    string
	Addr  string
	Vhost string
}

// Registry is the origin node directory an edge-mode vhost consults to
// resolve a forward target, and an origin-mode vhost writes itself into.
// TTLs bound node lifetime so a crashed origin drops out without an
// explicit Deregister call.
type Registry interface {
	Register(ctx context.Context, node Node, ttl time.Duration) error
	Deregister(ctx context.Context, vhost, id string) error
	Origins(ctx context.Context, vhost string) ([]Node, error)
}

// Mode reports the cluster mode ("origin" or "edge") of a vhost directive,
// defaulting to "origin" when the vhost carries no cluster block or the
// block omits mode — the same default the reload diff pipeline uses.
func Mode(vhost *config.Directive) string {
	cluster := vhost.Get("cluster")
	if cluster == nil {
		return "origin"
	}
	mode := cluster.Get("mode")
	if mode == nil || mode.Arg(0) == "" {
		return "origin"
	}
	return mode.Arg(0)
}

// IsEdge reports whether vhost is configured in edge mode.
func IsEdge(vhost *config.Directive) bool {
	return Mode(vhost) == "edge"
}

// TokenTraverse reports whether the vhost's cluster block has
// token_traverse enabled, gating whether an edge forwards the client's
// auth token upstream to the origin.
func TokenTraverse(vhost *config.Directive) bool {
	cluster := vhost.Get("cluster")
	if cluster == nil {
		return false
	}
	tt := cluster.Get("token_traverse")
	return tt != nil && tt.Arg(0) == "on"
}
