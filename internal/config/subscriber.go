package config

// Change identifies a subtree that differs between the active and
// candidate configuration on reload. The original source this module is
// derived from dispatches reload through roughly two dozen per-directive
// hook methods; an interface that size is unpleasant to implement and
// impossible to extend without breaking every subscriber. A single
// variant carrying what changed is both easier to implement and matches
// how the acceptor and resource manager actually want to react: by
// scope, not by directive name.
type Change struct {
	// Scope identifies what changed: "listen", "vhost", "vhost.hls",
	// "vhost.dvr", "vhost.ingest", "vhost.transcode", "srs_log_level", "http_api",
	// "https_api", "stream_caster", and so on. Scopes nest by dotted
	// prefix; a subscriber interested in every vhost-level change can
	// match on the "vhost" prefix.
	Scope string
	// VhostName is the vhost the change applies to, or "" for a
	// global-scope change.
	VhostName string
	// Before and After are the relevant subtrees before and after the
	// reload. Either may be nil: nil Before means the directive was
	// added, nil After means it was removed.
	Before *Directive
	After  *Directive
}

// Subscriber reacts to configuration reloads. OnReload is called once per
// detected Change, in the order changes were discovered, on the goroutine
// driving the reload. A non-nil error aborts the remainder of the
// dispatch: later subscribers in the list are not notified. The candidate
// tree was already swapped in as active before dispatch began and stays
// active.
type Subscriber interface {
	OnReload(Change) error
}

// SubscriberFunc adapts a function to a Subscriber.
type SubscriberFunc func(Change) error

func (f SubscriberFunc) OnReload(c Change) error { return f(c) }
