package config

import "testing"

func mustParse(t *testing.T, src string) *Directive {
	t.Helper()
	root, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return root
}

func TestTransformRenamesHttpStream(t *testing.T) {
	root := mustParse(t, `http_stream { enabled on; listen 8080; }`)
	out := Transform(root)
	if out.Get("http_stream") != nil {
		t.Fatal("expected legacy http_stream removed")
	}
	if out.Get("http_server").Get("listen").Arg(0) != "8080" {
		t.Fatalf("expected http_stream renamed to http_server, got %+v", out.Get("http_server"))
	}
}

func TestTransformRemovesRtcServerLegacyFields(t *testing.T) {
	root := mustParse(t, `rtc_server { enabled on; perf_stat on; queue_length on; }`)
	out := Transform(root)
	rtc := out.Get("rtc_server")
	if rtc.Get("perf_stat") != nil || rtc.Get("queue_length") != nil {
		t.Fatalf("expected perf_stat/queue_length silently discarded, got %+v", rtc)
	}
	if rtc.Get("enabled").Arg(0) != "on" {
		t.Fatal("expected unrelated rtc_server fields untouched")
	}
}

func TestTransformRemovesStreamCasterLegacyFields(t *testing.T) {
	root := mustParse(t, `
stream_caster {
    enabled on;
    caster gb28181;
    tcp_enable on;
    rtp_port_min 10000;
    rtp_port_max 20000;
    wait_keyframe on;
    rtp_idle_timeout 5;
    audio_enable on;
    auto_create_channel on;
}
`)
	out := Transform(root)
	caster := out.Get("stream_caster")
	legacy := []string{"tcp_enable", "rtp_port_min", "rtp_port_max", "wait_keyframe", "rtp_idle_timeout", "audio_enable", "auto_create_channel"}
	for _, name := range legacy {
		if caster.Get(name) != nil {
			t.Fatalf("expected stream_caster.%s removed, still present", name)
		}
	}
	if caster.Get("caster").Arg(0) != "gb28181" {
		t.Fatal("expected unrelated stream_caster fields untouched")
	}
}

func TestTransformRemovesStreamCasterSipLegacyFields(t *testing.T) {
	root := mustParse(t, `
stream_caster {
    sip {
        serial 1;
        realm srs;
        ack_timeout 5;
        keepalive_timeout 5;
        invite_port_fixed on;
        query_catalog_interval 60;
        auto_play on;
    }
}
`)
	out := Transform(root)
	sip := out.Get("stream_caster").Get("sip")
	legacy := []string{"serial", "realm", "ack_timeout", "keepalive_timeout", "invite_port_fixed", "query_catalog_interval", "auto_play"}
	for _, name := range legacy {
		if sip.Get(name) != nil {
			t.Fatalf("expected stream_caster.sip.%s removed, still present", name)
		}
	}
}

func TestTransformMovesStreamCasterHostToSipCandidate(t *testing.T) {
	root := mustParse(t, `stream_caster { host 10.0.0.1; }`)
	out := Transform(root)
	caster := out.Get("stream_caster")
	if caster.Get("host") != nil {
		t.Fatal("expected stream_caster.host removed")
	}
	if got := caster.Get("sip").Get("candidate").Arg(0); got != "10.0.0.1" {
		t.Fatalf("expected stream_caster.sip.candidate 10.0.0.1, got %q", got)
	}
}

func TestTransformRenamesVhostHttpToHttpStatic(t *testing.T) {
	root := mustParse(t, `vhost v { http { enabled on; mount /; } }`)
	out := Transform(root)
	v := out.Get("vhost")
	if v.Get("http") != nil {
		t.Fatal("expected legacy vhost.http removed")
	}
	if v.Get("http_static").Get("mount").Arg(0) != "/" {
		t.Fatalf("expected vhost.http renamed to vhost.http_static, got %+v", v.Get("http_static"))
	}
}

func TestTransformRemovesHttpRemuxHstrs(t *testing.T) {
	root := mustParse(t, `vhost v { http_remux { enabled on; hstrs on; } }`)
	out := Transform(root)
	remux := out.Get("vhost").Get("http_remux")
	if remux.Get("hstrs") != nil {
		t.Fatal("expected http_remux.hstrs removed as an always-on feature")
	}
	if remux.Get("enabled").Arg(0) != "on" {
		t.Fatal("expected unrelated http_remux fields untouched")
	}
}

func TestTransformMergesReferLegacyLeafForms(t *testing.T) {
	root := mustParse(t, `
vhost v {
    refer all a.com b.com;
    refer_play c.com;
    refer_publish d.com;
}
`)
	out := Transform(root)
	refer := out.Get("vhost").Get("refer")
	if refer.IsLeaf() {
		t.Fatal("expected refer to become a block")
	}
	if out.Get("vhost").Get("refer_play") != nil || out.Get("vhost").Get("refer_publish") != nil {
		t.Fatal("expected legacy refer_play/refer_publish removed")
	}
	if refer.Get("enabled").Arg(0) != "on" {
		t.Fatal("expected refer.enabled on")
	}
	if all := refer.Get("all"); all == nil || len(all.Args) != 2 {
		t.Fatalf("expected all a.com b.com to survive, got %+v", all)
	}
	if refer.Get("play").Arg(0) != "c.com" {
		t.Fatalf("expected refer.play c.com, got %+v", refer.Get("play"))
	}
	if refer.Get("publish").Arg(0) != "d.com" {
		t.Fatalf("expected refer.publish d.com, got %+v", refer.Get("publish"))
	}
}

func TestTransformRefererBlockFormUntouchedWithoutLegacySiblings(t *testing.T) {
	root := mustParse(t, `vhost v { refer { enabled on; all a.com; } }`)
	out := Transform(root)
	if !Equal(out, root) {
		t.Fatal("expected block-form refer with no legacy siblings to be left untouched")
	}
}

func TestTransformMergesReferPlayIntoExistingBlock(t *testing.T) {
	root := mustParse(t, `vhost v { refer { enabled on; all a.com; } refer_play c.com; }`)
	out := Transform(root)
	refer := out.Get("vhost").Get("refer")
	if refer.Get("play").Arg(0) != "c.com" {
		t.Fatalf("expected refer_play folded into the existing refer block, got %+v", refer)
	}
	if out.Get("vhost").Get("refer_play") != nil {
		t.Fatal("expected legacy refer_play removed")
	}
}

func TestTransformFoldsMrIntoPublish(t *testing.T) {
	root := mustParse(t, `vhost v { mr { enabled on; latency 350; } }`)
	out := Transform(root)
	v := out.Get("vhost")
	if v.Get("mr") != nil {
		t.Fatal("expected legacy vhost.mr removed")
	}
	publish := v.Get("publish")
	if publish.Get("mr").Arg(0) != "on" || publish.Get("mr_latency").Arg(0) != "350" {
		t.Fatalf("expected mr folded into publish.mr/mr_latency, got %+v", publish)
	}
}

func TestTransformMovesPublishTimeouts(t *testing.T) {
	root := mustParse(t, `vhost v { publish_1stpkt_timeout 20000; publish_normal_timeout 5000; }`)
	out := Transform(root)
	v := out.Get("vhost")
	if v.Get("publish_1stpkt_timeout") != nil || v.Get("publish_normal_timeout") != nil {
		t.Fatal("expected legacy publish timeout directives removed")
	}
	publish := v.Get("publish")
	if publish.Get("firstpkt_timeout").Arg(0) != "20000" || publish.Get("normal_timeout").Arg(0) != "5000" {
		t.Fatalf("expected timeouts moved under publish, got %+v", publish)
	}
}

func TestTransformMovesPlayGroupUnderPlayBlock(t *testing.T) {
	root := mustParse(t, `
vhost v {
    time_jitter full;
    mix_correct on;
    atc on;
    atc_auto on;
    mw_latency 350;
    gop_cache on;
    queue_length 10;
    send_min_interval 0;
    reduce_sequence_header on;
}
`)
	out := Transform(root)
	v := out.Get("vhost")
	names := []string{"time_jitter", "mix_correct", "atc", "atc_auto", "mw_latency",
		"gop_cache", "queue_length", "send_min_interval", "reduce_sequence_header"}
	for _, name := range names {
		if v.Get(name) != nil {
			t.Fatalf("expected vhost.%s moved out of vhost level", name)
		}
	}
	play := v.Get("play")
	for _, name := range names {
		if play.Get(name) == nil {
			t.Fatalf("expected vhost.play.%s present, got %+v", name, play)
		}
	}
}

func TestTransformForwardLegacyLeafForm(t *testing.T) {
	root := mustParse(t, `vhost v { forward 127.0.0.1:1936 127.0.0.1:1937; }`)
	out := Transform(root)
	fwd := out.Get("vhost").Get("forward")
	if fwd.IsLeaf() {
		t.Fatal("expected forward to become a block")
	}
	if fwd.Get("enabled").Arg(0) != "on" {
		t.Fatal("expected forward.enabled on")
	}
	dests := fwd.GetAll("destination")
	if len(dests) != 2 || dests[0].Arg(0) != "127.0.0.1:1936" || dests[1].Arg(0) != "127.0.0.1:1937" {
		t.Fatalf("unexpected destinations: %+v", dests)
	}
}

func TestTransformMovesClusterGroupUnderClusterBlock(t *testing.T) {
	root := mustParse(t, `
vhost v {
    mode remote;
    origin 1.2.3.4 1935;
    token_traverse on;
    vhost example.com;
    debug_srs_upnode on;
}
`)
	out := Transform(root)
	v := out.Get("vhost")
	names := []string{"mode", "origin", "token_traverse", "vhost", "debug_srs_upnode"}
	for _, name := range names {
		if v.Get(name) != nil {
			t.Fatalf("expected vhost.%s moved out of vhost level", name)
		}
	}
	cluster := v.Get("cluster")
	for _, name := range names {
		if cluster.Get(name) == nil {
			t.Fatalf("expected vhost.cluster.%s present, got %+v", name, cluster)
		}
	}
}

func TestTransformFoldsNackTwccIntoRtc(t *testing.T) {
	root := mustParse(t, `
vhost v {
    nack { enabled on; no_copy on; }
    twcc { enabled on; }
}
`)
	out := Transform(root)
	v := out.Get("vhost")
	if v.Get("nack") != nil || v.Get("twcc") != nil {
		t.Fatal("expected legacy nack/twcc blocks removed")
	}
	rtc := v.Get("rtc")
	if rtc.Get("nack").Arg(0) != "on" || rtc.Get("nack_no_copy").Arg(0) != "on" || rtc.Get("twcc").Arg(0) != "on" {
		t.Fatalf("expected nack/twcc folded into rtc, got %+v", rtc)
	}
}

func TestTransformRewritesRtcAacToRtmpToRtc(t *testing.T) {
	root := mustParse(t, `vhost v { rtc { enabled on; aac transcode; } }`)
	out := Transform(root)
	rtc := out.Get("vhost").Get("rtc")
	if rtc.Get("aac") != nil {
		t.Fatal("expected legacy rtc.aac removed")
	}
	if rtc.Get("rtmp_to_rtc").Arg(0) != "on" {
		t.Fatalf("expected aac transcode rewritten to rtmp_to_rtc on, got %+v", rtc.Get("rtmp_to_rtc"))
	}

	root2 := mustParse(t, `vhost v { rtc { enabled on; aac off; } }`)
	out2 := Transform(root2)
	if got := out2.Get("vhost").Get("rtc").Get("rtmp_to_rtc").Arg(0); got != "off" {
		t.Fatalf("expected aac off rewritten to rtmp_to_rtc off, got %q", got)
	}
}

func TestTransformRewritesRtcBframeToKeepBframe(t *testing.T) {
	root := mustParse(t, `vhost v { rtc { enabled on; bframe keep; } }`)
	out := Transform(root)
	rtc := out.Get("vhost").Get("rtc")
	if rtc.Get("bframe") != nil {
		t.Fatal("expected legacy rtc.bframe removed")
	}
	if rtc.Get("keep_bframe").Arg(0) != "on" {
		t.Fatalf("expected bframe keep rewritten to keep_bframe on, got %+v", rtc.Get("keep_bframe"))
	}

	root2 := mustParse(t, `vhost v { rtc { enabled on; bframe discard; } }`)
	out2 := Transform(root2)
	if got := out2.Get("vhost").Get("rtc").Get("keep_bframe").Arg(0); got != "off" {
		t.Fatalf("expected non-keep bframe rewritten to keep_bframe off, got %q", got)
	}
}

func TestTransformIsIdempotent(t *testing.T) {
	root := mustParse(t, `
http_stream { enabled on; listen 8080; }
rtc_server { enabled on; perf_stat on; }
stream_caster { host 10.0.0.1; tcp_enable on; sip { serial 1; } }
vhost v {
    http { enabled on; }
    http_remux { enabled on; hstrs on; }
    refer all a.com;
    refer_play b.com;
    mr { enabled on; latency 350; }
    publish_1stpkt_timeout 20000;
    gop_cache on;
    forward 127.0.0.1:1936;
    mode remote;
    origin 1.2.3.4;
    nack { enabled on; }
    twcc { enabled on; }
    rtc { aac transcode; bframe keep; }
}
pithy_print_ms 10000;
`)
	once := Transform(root)
	twice := Transform(once)
	if !Equal(once, twice) {
		t.Fatalf("transform is not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestTransformLeavesPithyPrintMsAtRootLevel(t *testing.T) {
	root := mustParse(t, `pithy_print_ms 5000;`)
	out := Transform(root)
	if out.Get("pithy_print_ms").Arg(0) != "5000" {
		t.Fatalf("expected pithy_print_ms to pass through untouched, got %+v", out.Get("pithy_print_ms"))
	}
}

func TestTransformDoesNotMutateInput(t *testing.T) {
	root := mustParse(t, `vhost v { refer all a.com; }`)
	clone := root.Clone()
	Transform(root)
	if !Equal(root, clone) {
		t.Fatal("Transform must not mutate its input")
	}
}
