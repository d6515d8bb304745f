package config

import "tidecast/internal/errtax"

// globalScopes lists the top-level directive names compared directly
// between the active and candidate tree. Anything not listed here (and
// not "vhost", which is handled separately) is ignored by Diff: a
// directive absent from both this list and the schema can't reach Diff in
// the first place since Validate would have already rejected it.
var globalScopes = []string{
	"listen", "max_connections", "pithy_print_ms", "srs_log_tank",
	"srs_log_file", "srs_log_level", "heartbeat", "stats", "http_api",
	"https_api", "http_server", "https_server", "stream_caster",
	"exporter", "service_server",
}

// Diff compares the active and candidate configuration trees and returns
// the ordered list of changes a reload would apply. Diff never mutates
// either tree.
//
// A vhost whose cluster mode (edge vs. origin) differs between active and
// candidate is a RtmpEdgeReload condition: switching mode live would leave
// in-flight relays in an inconsistent state, so Diff reports it as an
// error instead of a Change and the caller must abort the reload entirely.
func Diff(active, candidate *Directive) ([]Change, error) {
	var changes []Change

	for _, scope := range globalScopes {
		before, after := active.Get(scope), candidate.Get(scope)
		if !Equal(before, after) {
			changes = append(changes, Change{Scope: scope, Before: before, After: after})
		}
	}

	vhostChanges, err := diffVhosts(active, candidate)
	if err != nil {
		return nil, err
	}
	changes = append(changes, vhostChanges...)
	return changes, nil
}

func diffVhosts(active, candidate *Directive) ([]Change, error) {
	seen := make(map[string]bool)
	var changes []Change

	order := make([]string, 0)
	for _, v := range active.GetAll("vhost") {
		if name := v.Arg(0); !seen[name] {
			seen[name] = true
			order = append(order, name)
		}
	}
	for _, v := range candidate.GetAll("vhost") {
		if name := v.Arg(0); !seen[name] {
			seen[name] = true
			order = append(order, name)
		}
	}

	for _, name := range order {
		before := findVhost(active, name)
		after := findVhost(candidate, name)

		if before != nil && after != nil {
			if clusterMode(before) != clusterMode(after) {
				return nil, errtax.Newf(errtax.RtmpEdgeReload, "", "vhost %s: cluster mode changed from %q to %q", name, clusterMode(before), clusterMode(after))
			}
		}

		if !EqualExcept(before, after, "dvr_apply") {
			changes = append(changes, Change{Scope: "vhost", VhostName: name, Before: before, After: after})
		}

		beforeDvr, afterDvr := before.Get("dvr"), after.Get("dvr")
		if !EqualExcept(beforeDvr, afterDvr, "dvr_apply") {
			changes = append(changes, Change{Scope: "vhost.dvr", VhostName: name, Before: beforeDvr, After: afterDvr})
		}

		beforeHls, afterHls := before.Get("hls"), after.Get("hls")
		if !Equal(beforeHls, afterHls) {
			changes = append(changes, Change{Scope: "vhost.hls", VhostName: name, Before: beforeHls, After: afterHls})
		}

		changes = append(changes, diffIngest(name, before, after)...)
		changes = append(changes, diffTranscode(name, before, after)...)
	}
	return changes, nil
}

// diffIngest computes the set-diff, by id (first argument), of a vhost's
// ingest entries and returns one Change per added, removed, or updated id
// (spec §4.5: ingest fires its add/remove/update hooks separately per
// affected id, unlike transcode's single coalesced hook).
func diffIngest(vhost string, before, after *Directive) []Change {
	beforeByID := indexByID(before.GetAll("ingest"))
	afterByID := indexByID(after.GetAll("ingest"))

	var changes []Change
	for _, id := range unionIDs(beforeByID, afterByID) {
		b, a := beforeByID[id], afterByID[id]
		if !Equal(b, a) {
			changes = append(changes, Change{Scope: "vhost.ingest", VhostName: vhost, Before: b, After: a})
		}
	}
	return changes
}

// diffTranscode computes the same set-diff as diffIngest but coalesces any
// number of added/removed/updated ids into a single Change, matching
// spec §4.5's "single hook per vhost" for transcode.
func diffTranscode(vhost string, before, after *Directive) []Change {
	beforeByID := indexByID(before.GetAll("transcode"))
	afterByID := indexByID(after.GetAll("transcode"))

	for _, id := range unionIDs(beforeByID, afterByID) {
		if !Equal(beforeByID[id], afterByID[id]) {
			return []Change{{Scope: "vhost.transcode", VhostName: vhost, Before: before, After: after}}
		}
	}
	return nil
}

func indexByID(directives []*Directive) map[string]*Directive {
	out := make(map[string]*Directive, len(directives))
	for _, d := range directives {
		out[d.Arg(0)] = d
	}
	return out
}

func unionIDs(a, b map[string]*Directive) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var ids []string
	for id := range a {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for id := range b {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

func findVhost(root *Directive, name string) *Directive {
	for _, v := range root.GetAll("vhost") {
		if v.Arg(0) == name {
			return v
		}
	}
	return nil
}

func clusterMode(vhost *Directive) string {
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

// Dispatch notifies every subscriber of every change, in order, stopping
// at the first subscriber error. It returns that error without having
// notified the remaining subscribers or remaining changes.
func Dispatch(changes []Change, subscribers []Subscriber) error {
	for _, change := range changes {
		for _, sub := range subscribers {
			if err := sub.OnReload(change); err != nil {
				return errtax.Wrap(errtax.SystemConfigInvalid, "", "reload subscriber rejected change to "+change.Scope, err)
			}
		}
	}
	return nil
}
