package cluster

import (
	"context"
	"sync/atomic"

	"tidecast/internal/config"
	"tidecast/internal/errtax"
)

// Resolver picks a forward target for an edge-mode vhost. Registry-backed
// origins take precedence; the vhost's own cluster.origin directive args
// (SRS's pre-registry static address list) are the fallback when the
// registry is unset or currently empty for that vhost.
type Resolver struct {
	registry Registry
	counter  uint64
}

// NewResolver builds a Resolver over registry. registry may be nil, in
// which case every vhost falls back to its static cluster.origin list.
func NewResolver(registry Registry) *Resolver {
	return &Resolver{registry: registry}
}

// Resolve returns the next forward target for vhostName, round-robining
// across whichever candidate set is non-empty. It returns
// errtax.RtmpClusterNoOrigin when neither the registry nor the static
// directive list has anything to offer.
func (r *Resolver) Resolve(ctx context.Context, vhostName string, vhost *config.Directive) (Node, error) {
	candidates, err := r.candidates(ctx, vhostName, vhost)
	if err != nil {
		return Node{}, err
	}
	if len(candidates) == 0 {
		return Node{}, errtax.Newf(errtax.RtmpClusterNoOrigin, "", "vhost %s: no origin node available", vhostName)
	}
	idx := atomic.AddUint64(&r.counter, 1) - 1
	return candidates[idx%uint64(len(candidates))], nil
}

func (r *Resolver) candidates(ctx context.Context, vhostName string, vhost *config.Directive) ([]Node, error) {
	if r.registry != nil {
		nodes, err := r.registry.Origins(ctx, vhostName)
		if err != nil {
			return nil, err
		}
		if len(nodes) > 0 {
			return nodes, nil
		}
	}
	return staticOrigins(vhostName, vhost), nil
}

func staticOrigins(vhostName string, vhost *config.Directive) []Node {
	cluster := vhost.Get("cluster")
	if cluster == nil {
		return nil
	}
	origin := cluster.Get("origin")
	if origin == nil {
		return nil
	}
	nodes := make([]Node, 0, len(origin.Args))
	for _, addr := range origin.Args {
		nodes = append(nodes, Node{ID: addr, Addr: addr, Vhost: vhostName})
	}
	return nodes
}
