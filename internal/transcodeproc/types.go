// Package transcodeproc represents the "process spawning for
// transcoders" boundary (spec §1 Non-goal: actual codec work is out of
// scope, specified only at the interface it crosses). It mirrors
// internal/ingestproc's Spawner/Process shape, adapted for
// vhost.transcode's coalesced reload dispatch (spec §4.5: transcode
// fires one Change per vhost regardless of how many of its children
// changed, unlike ingest's per-id Changes).
package transcodeproc

import "tidecast/internal/config"

// Transcode describes one vhost.transcode entry: an engine that takes
// the vhost's incoming stream and produces a rendition.
type Transcode struct {
	ID     string
	Vhost  string
	Engine string
}

func parseTranscodes(vhost string, root *config.Directive) []Transcode {
	if root == nil {
		return nil
	}
	entries := root.GetAll("transcode")
	out := make([]Transcode, 0, len(entries))
	for _, d := range entries {
		t := Transcode{ID: d.Arg(0), Vhost: vhost}
		if engine := d.Get("engine"); engine != nil {
			t.Engine = engine.Arg(0)
		}
		out = append(out, t)
	}
	return out
}
