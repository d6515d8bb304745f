package config

import "log/slog"

// Transform rewrites a parsed directive tree from any recognized legacy
// schema into the current canonical schema, so the rest of the system only
// ever reads one shape. It is idempotent: applying it to an already-
// canonical tree returns an equivalent tree unchanged, since every rule
// below removes its legacy directive once it has moved or rewritten it.
//
// Each rule reproduces one row of the legacy-to-canonical table. Firing a
// rule emits a warning through the process-wide slog logger, except the
// rtc_server cleanup, which the table marks as a silent discard.
func Transform(root *Directive) *Directive {
	out := root.Clone()
	transformGlobal(out)
	for _, caster := range out.GetAll("stream_caster") {
		transformStreamCaster(caster)
	}
	for _, vhost := range out.GetAll("vhost") {
		transformVhost(vhost)
	}
	return out
}

// transformGlobal applies the top-level legacy rewrites: the http_stream
// rename and the rtc_server cleanup.
func transformGlobal(root *Directive) {
	if renameDirective(root, "http_stream", "http_server") {
		slog.Warn("config: renamed legacy directive", "from", "http_stream", "to", "http_server")
	}

	if rtcServer := root.Get("rtc_server"); rtcServer != nil {
		removeChildrenNamed(rtcServer, "perf_stat")
		removeChildrenNamed(rtcServer, "queue_length")
	}
}

// transformStreamCaster applies the stream_caster-local legacy rewrites: the
// unsupported-field cleanup, the sip block cleanup, and the host move.
func transformStreamCaster(caster *Directive) {
	legacyFields := []string{
		"tcp_enable", "rtp_port_min", "rtp_port_max", "wait_keyframe",
		"rtp_idle_timeout", "audio_enable", "auto_create_channel",
	}
	for _, name := range legacyFields {
		if removeChildrenNamed(caster, name) {
			slog.Warn("config: removed unsupported stream_caster field", "field", name)
		}
	}

	if sip := caster.Get("sip"); sip != nil {
		legacySipFields := []string{
			"serial", "realm", "ack_timeout", "keepalive_timeout",
			"invite_port_fixed", "query_catalog_interval", "auto_play",
		}
		for _, name := range legacySipFields {
			if removeChildrenNamed(sip, name) {
				slog.Warn("config: removed unsupported stream_caster.sip field", "field", name)
			}
		}
	}

	if host := caster.Get("host"); host != nil {
		removeChildrenNamed(caster, "host")
		sip := getOrCreateChild(caster, "sip")
		if sip.Get("candidate") == nil {
			sip.Children = append(sip.Children, &Directive{Name: "candidate", Args: host.Args, Line: host.Line})
		}
		slog.Warn("config: moved legacy directive", "from", "stream_caster.host", "to", "stream_caster.sip.candidate")
	}
}

// transformVhost applies every legacy-to-canonical rewrite rule scoped to a
// single vhost block, mutating it in place.
func transformVhost(vhost *Directive) {
	if renameDirective(vhost, "http", "http_static") {
		slog.Warn("config: renamed legacy directive", "from", "vhost.http", "to", "vhost.http_static")
	}

	if remux := vhost.Get("http_remux"); remux != nil {
		if removeChildrenNamed(remux, "hstrs") {
			slog.Warn("config: removed always-on field", "field", "vhost.http_remux.hstrs")
		}
	}

	mergeReferLegacyForms(vhost)
	foldMr(vhost)
	movePublishTimeouts(vhost)
	foldForwardLegacyForm(vhost)

	if foldGroup(vhost, "play", "time_jitter", "mix_correct", "atc", "atc_auto",
		"mw_latency", "gop_cache", "queue_length", "send_min_interval", "reduce_sequence_header") {
		slog.Warn("config: moved legacy play directives under vhost.play", "vhost", vhost.Arg(0))
	}
	if foldGroup(vhost, "cluster", "mode", "origin", "token_traverse", "vhost", "debug_srs_upnode") {
		slog.Warn("config: moved legacy cluster directives under vhost.cluster", "vhost", vhost.Arg(0))
	}

	foldNackTwcc(vhost)
	rewriteRtcLegacyFields(vhost)
}

// mergeReferLegacyForms merges the three legacy leaf-form referer directives
// (refer, refer_play, refer_publish) into the canonical refer block, with
// refer's own arguments landing in the "all" field. A vhost whose refer is
// already in block form is left as-is except for any refer_play/
// refer_publish siblings still needing to be folded in.
func mergeReferLegacyForms(vhost *Directive) {
	var all, play, publish []string
	line := 0
	found := false

	if r := vhost.Get("refer"); r != nil && r.IsLeaf() && len(r.Args) > 0 {
		all, line, found = r.Args, r.Line, true
		if len(all) > 0 && all[0] == "all" {
			all = all[1:]
		}
		removeChildrenNamed(vhost, "refer")
	}
	if rp := vhost.Get("refer_play"); rp != nil {
		play, found = rp.Args, true
		if line == 0 {
			line = rp.Line
		}
		removeChildrenNamed(vhost, "refer_play")
	}
	if rpub := vhost.Get("refer_publish"); rpub != nil {
		publish, found = rpub.Args, true
		if line == 0 {
			line = rpub.Line
		}
		removeChildrenNamed(vhost, "refer_publish")
	}
	if !found {
		return
	}

	block := getOrCreateChild(vhost, "refer")
	if block.Get("enabled") == nil {
		block.Children = append(block.Children, &Directive{Name: "enabled", Args: []string{"on"}, Line: line})
	}
	if len(all) > 0 && block.Get("all") == nil {
		block.Children = append(block.Children, &Directive{Name: "all", Args: all, Line: line})
	}
	if len(play) > 0 && block.Get("play") == nil {
		block.Children = append(block.Children, &Directive{Name: "play", Args: play, Line: line})
	}
	if len(publish) > 0 && block.Get("publish") == nil {
		block.Children = append(block.Children, &Directive{Name: "publish", Args: publish, Line: line})
	}
	slog.Warn("config: merged legacy refer directives", "vhost", vhost.Arg(0))
}

// foldMr folds the legacy vhost.mr block into vhost.publish.mr and
// vhost.publish.mr_latency.
func foldMr(vhost *Directive) {
	mr := vhost.Get("mr")
	if mr == nil {
		return
	}
	removeChildrenNamed(vhost, "mr")

	publish := getOrCreateChild(vhost, "publish")
	if en := mr.Get("enabled"); en != nil && publish.Get("mr") == nil {
		publish.Children = append(publish.Children, &Directive{Name: "mr", Args: en.Args, Line: en.Line})
	}
	if lat := mr.Get("latency"); lat != nil && publish.Get("mr_latency") == nil {
		publish.Children = append(publish.Children, &Directive{Name: "mr_latency", Args: lat.Args, Line: lat.Line})
	}
	slog.Warn("config: folded legacy directive", "from", "vhost.mr", "to", "vhost.publish.mr/mr_latency")
}

// movePublishTimeouts moves the two legacy flat publish timeout directives
// under the canonical publish block, renaming each.
func movePublishTimeouts(vhost *Directive) {
	moveRenameLeaf(vhost, "publish_1stpkt_timeout", "publish", "firstpkt_timeout")
	moveRenameLeaf(vhost, "publish_normal_timeout", "publish", "normal_timeout")
}

func moveRenameLeaf(vhost *Directive, legacyName, targetBlock, newName string) {
	leaf := vhost.Get(legacyName)
	if leaf == nil {
		return
	}
	removeChildrenNamed(vhost, legacyName)
	target := getOrCreateChild(vhost, targetBlock)
	if target.Get(newName) == nil {
		target.Children = append(target.Children, &Directive{Name: newName, Args: leaf.Args, Line: leaf.Line})
	}
	slog.Warn("config: moved legacy directive", "from", "vhost."+legacyName, "to", "vhost."+targetBlock+"."+newName)
}

// foldForwardLegacyForm canonicalizes the legacy leaf form
//
//	forward addr1 addr2;
//
// into the canonical block form
//
//	forward { enabled on; destination addr1; destination addr2; }
func foldForwardLegacyForm(vhost *Directive) {
	fwd := vhost.Get("forward")
	if fwd == nil || !fwd.IsLeaf() || len(fwd.Args) == 0 {
		return
	}
	children := make([]*Directive, 0, len(fwd.Args)+1)
	children = append(children, &Directive{Name: "enabled", Args: []string{"on"}, Line: fwd.Line})
	for _, addr := range fwd.Args {
		children = append(children, &Directive{Name: "destination", Args: []string{addr}, Line: fwd.Line})
	}
	fwd.Args = nil
	fwd.Children = children
	slog.Warn("config: rewrote legacy directive", "from", "vhost.forward <target>", "to", "vhost.forward { destination ... }")
}

// foldNackTwcc folds the legacy nack and twcc blocks into the canonical rtc
// block's nack, nack_no_copy, and twcc fields.
func foldNackTwcc(vhost *Directive) {
	folded := false

	if nack := vhost.Get("nack"); nack != nil {
		removeChildrenNamed(vhost, "nack")
		rtc := getOrCreateChild(vhost, "rtc")
		if en := nack.Get("enabled"); en != nil && rtc.Get("nack") == nil {
			rtc.Children = append(rtc.Children, &Directive{Name: "nack", Args: en.Args, Line: en.Line})
		}
		if nc := nack.Get("no_copy"); nc != nil && rtc.Get("nack_no_copy") == nil {
			rtc.Children = append(rtc.Children, &Directive{Name: "nack_no_copy", Args: nc.Args, Line: nc.Line})
		}
		folded = true
	}
	if twcc := vhost.Get("twcc"); twcc != nil {
		removeChildrenNamed(vhost, "twcc")
		rtc := getOrCreateChild(vhost, "rtc")
		if en := twcc.Get("enabled"); en != nil && rtc.Get("twcc") == nil {
			rtc.Children = append(rtc.Children, &Directive{Name: "twcc", Args: en.Args, Line: en.Line})
		}
		folded = true
	}
	if folded {
		slog.Warn("config: folded legacy nack/twcc directives into vhost.rtc", "vhost", vhost.Arg(0))
	}
}

// rewriteRtcLegacyFields rewrites vhost.rtc.aac and vhost.rtc.bframe into
// their canonical boolean forms.
func rewriteRtcLegacyFields(vhost *Directive) {
	rtc := vhost.Get("rtc")
	if rtc == nil {
		return
	}
	if aac := rtc.Get("aac"); aac != nil {
		removeChildrenNamed(rtc, "aac")
		val := "off"
		if aac.Arg(0) == "transcode" {
			val = "on"
		}
		if rtc.Get("rtmp_to_rtc") == nil {
			rtc.Children = append(rtc.Children, &Directive{Name: "rtmp_to_rtc", Args: []string{val}, Line: aac.Line})
		}
		slog.Warn("config: rewrote legacy directive", "from", "vhost.rtc.aac", "to", "vhost.rtc.rtmp_to_rtc "+val)
	}
	if bframe := rtc.Get("bframe"); bframe != nil {
		removeChildrenNamed(rtc, "bframe")
		val := "off"
		if bframe.Arg(0) == "keep" {
			val = "on"
		}
		if rtc.Get("keep_bframe") == nil {
			rtc.Children = append(rtc.Children, &Directive{Name: "keep_bframe", Args: []string{val}, Line: bframe.Line})
		}
		slog.Warn("config: rewrote legacy directive", "from", "vhost.rtc.bframe", "to", "vhost.rtc.keep_bframe "+val)
	}
}

// renameDirective renames parent's first child named oldName to newName in
// place, leaving its args and children untouched. It reports whether a
// rename happened.
func renameDirective(parent *Directive, oldName, newName string) bool {
	for _, c := range parent.Children {
		if c.Name == oldName {
			c.Name = newName
			return true
		}
	}
	return false
}

// foldGroup moves every child of vhost named in names wholesale under a
// (possibly new) child block named targetName, preserving each moved
// directive's args and children unchanged. It reports whether anything
// moved.
func foldGroup(vhost *Directive, targetName string, names ...string) bool {
	nameSet := set(names...)

	var moved, remaining []*Directive
	for _, c := range vhost.Children {
		if nameSet[c.Name] {
			moved = append(moved, c)
		} else {
			remaining = append(remaining, c)
		}
	}
	if len(moved) == 0 {
		return false
	}
	vhost.Children = remaining

	target := getOrCreateChild(vhost, targetName)
	for _, m := range moved {
		if target.Get(m.Name) == nil {
			target.Children = append(target.Children, m)
		}
	}
	return true
}

// getOrCreateChild returns parent's existing child named name, or appends
// and returns a new empty block directive with that name.
func getOrCreateChild(parent *Directive, name string) *Directive {
	if child := parent.Get(name); child != nil {
		return child
	}
	child := &Directive{Name: name, Line: parent.Line}
	parent.Children = append(parent.Children, child)
	return child
}

// removeChildrenNamed removes every child of parent named name. It reports
// whether anything was removed.
func removeChildrenNamed(parent *Directive, name string) bool {
	var kept []*Directive
	removed := false
	for _, c := range parent.Children {
		if c.Name == name {
			removed = true
			continue
		}
		kept = append(kept, c)
	}
	parent.Children = kept
	return removed
}
