package config

import (
	"net"
	"testing"
)

func canonicalConfig() string {
	return `
listen 1935;
max_connections 1000;
heartbeat { enabled on; interval 9; }
stats { network 0; }
vhost __defaultVhost__ {
    refer { enabled on; all a.com; }
    hls { enabled on; hls_path /data/hls; }
    dash { enabled on; dash_path /data/dash; }
    hds { enabled on; hds_path /data/hds; }
    exec { enabled on; publish ./fwd.sh; }
    rtc { enabled on; nack on; twcc on; rtmp_to_rtc on; keep_bframe off; }
    cluster { mode origin; debug_srs_upnode on; }
    play { gop_cache on; queue_length 10; }
}
`
}

// withDeterministicLimits overrides the host-dependent validation seams so
// tests don't depend on the actual machine's network interfaces or file
// descriptor limits.
func withDeterministicLimits(t *testing.T) {
	t.Helper()
	origAddrs, origRlimit := localInterfaceAddrsFunc, rlimitNoFileFunc
	localInterfaceAddrsFunc = func() ([]net.Addr, error) {
		return []net.Addr{&net.IPAddr{}, &net.IPAddr{}, &net.IPAddr{}}, nil
	}
	rlimitNoFileFunc = func() (uint64, error) { return 65536, nil }
	t.Cleanup(func() {
		localInterfaceAddrsFunc = origAddrs
		rlimitNoFileFunc = origRlimit
	})
}

func TestValidateAcceptsCanonicalConfig(t *testing.T) {
	withDeterministicLimits(t)
	root := mustParse(t, canonicalConfig())
	if err := Validate(root, false); err != nil {
		t.Fatalf("expected canonical config to validate, got: %v", err)
	}
}

func TestValidateRejectsUnknownTopLevelDirective(t *testing.T) {
	withDeterministicLimits(t)
	root := mustParse(t, `listen 1935; max_connections 1000; bogus_directive 1;`)
	if err := Validate(root, false); err == nil {
		t.Fatal("expected error for unknown top-level directive")
	}
}

func TestValidateRejectsUnknownVhostDirective(t *testing.T) {
	withDeterministicLimits(t)
	root := mustParse(t, `listen 1935; max_connections 1000; vhost v { bogus_thing on; }`)
	if err := Validate(root, false); err == nil {
		t.Fatal("expected error for unknown vhost directive")
	}
}

func TestValidateRejectsUnknownNestedBlockDirective(t *testing.T) {
	withDeterministicLimits(t)
	root := mustParse(t, `listen 1935; max_connections 1000; vhost v { hls { bogus yes; } }`)
	if err := Validate(root, false); err == nil {
		t.Fatal("expected error for unknown directive inside hls block")
	}
}

func TestValidateRejectsRtcServerNewSchema(t *testing.T) {
	withDeterministicLimits(t)
	root := mustParse(t, `listen 1935; max_connections 1000; rtc_server { enabled on; listen 8000; candidate *; }`)
	if err := Validate(root, false); err != nil {
		t.Fatalf("expected rtc_server to be a recognized top-level block, got: %v", err)
	}
}

func TestValidateRequiresTransformFirst(t *testing.T) {
	withDeterministicLimits(t)
	// refer_play/refer_publish are legacy names that do not exist anywhere
	// in the canonical schema; only Transform folding them into the
	// canonical refer block makes them recognizable.
	root := mustParse(t, `listen 1935; max_connections 1000; vhost v { refer_play a.com; }`)
	if err := Validate(root, false); err == nil {
		t.Fatal("expected legacy refer_play form to fail validation before transform")
	}
	transformed := Transform(root)
	if err := Validate(transformed, false); err != nil {
		t.Fatalf("expected transformed config to validate, got: %v", err)
	}
}

func TestValidateAllowsMissingListenInEnvOnlyMode(t *testing.T) {
	withDeterministicLimits(t)
	root := mustParse(t, `max_connections 1000;`)
	if err := Validate(root, true); err != nil {
		t.Fatalf("expected env-only mode to tolerate a missing listen, got: %v", err)
	}
}

func TestValidateRejectsMissingListenOutsideEnvOnlyMode(t *testing.T) {
	withDeterministicLimits(t)
	root := mustParse(t, `max_connections 1000;`)
	if err := Validate(root, false); err == nil {
		t.Fatal("expected a missing listen to fail validation outside env-only mode")
	}
}

func TestValidateRejectsListenWithInvalidPort(t *testing.T) {
	withDeterministicLimits(t)
	root := mustParse(t, `listen 0; max_connections 1000;`)
	if err := Validate(root, false); err == nil {
		t.Fatal("expected port 0 to fail validation")
	}
}

func TestValidateRejectsListenWithInvalidHost(t *testing.T) {
	withDeterministicLimits(t)
	root := mustParse(t, `listen not-an-ip:1935; max_connections 1000;`)
	if err := Validate(root, false); err == nil {
		t.Fatal("expected a non-IP listen host to fail validation")
	}
}

func TestValidateAcceptsWildcardListenHost(t *testing.T) {
	withDeterministicLimits(t)
	root := mustParse(t, `listen *:1935; max_connections 1000;`)
	if err := Validate(root, false); err != nil {
		t.Fatalf("expected a wildcard listen host to validate, got: %v", err)
	}
}

func TestValidateRejectsNonPositiveHeartbeatInterval(t *testing.T) {
	withDeterministicLimits(t)
	root := mustParse(t, `listen 1935; max_connections 1000; heartbeat { interval 0; }`)
	if err := Validate(root, false); err == nil {
		t.Fatal("expected heartbeat.interval=0 to fail validation")
	}
}

func TestValidateRejectsOutOfRangeStatsNetwork(t *testing.T) {
	withDeterministicLimits(t)
	root := mustParse(t, `listen 1935; max_connections 1000; stats { network 99; }`)
	if err := Validate(root, false); err == nil {
		t.Fatal("expected stats.network beyond the interface count to fail validation")
	}
}

func TestValidateRejectsMismatchedHTTPSPairing(t *testing.T) {
	withDeterministicLimits(t)
	root := mustParse(t, `
listen 1935;
max_connections 1000;
http_api { enabled on; listen 8080; }
http_server { enabled on; listen 8080; }
https_api { enabled on; listen 8443; }
`)
	if err := Validate(root, false); err == nil {
		t.Fatal("expected api/server sharing an HTTP endpoint without matching HTTPS endpoints to fail")
	}
}

func TestValidateRejectsHTTPSApiWithoutHTTPApi(t *testing.T) {
	withDeterministicLimits(t)
	root := mustParse(t, `
listen 1935;
max_connections 1000;
https_api { enabled on; listen 8443; }
`)
	if err := Validate(root, false); err == nil {
		t.Fatal("expected https_api enabled without http_api enabled to fail")
	}
}

func TestValidateRejectsEmptyLogFilePathWhenFileTankEnabled(t *testing.T) {
	withDeterministicLimits(t)
	root := mustParse(t, `listen 1935; max_connections 1000; srs_log_tank file;`)
	if err := Validate(root, false); err == nil {
		t.Fatal("expected a file log tank with no srs_log_file to fail")
	}
}

func TestValidateRejectsDuplicateIngestIDs(t *testing.T) {
	withDeterministicLimits(t)
	root := mustParse(t, `
listen 1935;
max_connections 1000;
vhost v {
    ingest cam1 { enabled on; input { type file; url a.flv; } }
    ingest cam1 { enabled on; input { type file; url b.flv; } }
}
`)
	if err := Validate(root, false); err == nil {
		t.Fatal("expected duplicated ingest ids within a vhost to fail validation")
	}
}

func TestValidateAcceptsOutOfRangeChunkSizeAsWarningOnly(t *testing.T) {
	withDeterministicLimits(t)
	root := mustParse(t, `listen 1935; max_connections 1000; chunk_size 1;`)
	if err := Validate(root, false); err != nil {
		t.Fatalf("expected out-of-range chunk_size to warn, not fail, got: %v", err)
	}
}

func TestValidateRejectsAsprocessWithDaemon(t *testing.T) {
	withDeterministicLimits(t)
	root := mustParse(t, `listen 1935; max_connections 1000; asprocess on; daemon on;`)
	if err := Validate(root, false); err == nil {
		t.Fatal("expected asprocess and daemon together to fail validation")
	}
}

func TestValidateRejectsMaxConnectionsExceedingFDBudget(t *testing.T) {
	withDeterministicLimits(t)
	rlimitNoFileFunc = func() (uint64, error) { return 200, nil }
	root := mustParse(t, `listen 1935; max_connections 1000;`)
	if err := Validate(root, false); err == nil {
		t.Fatal("expected max_connections+128 exceeding OPEN_MAX to fail validation")
	}
}

func TestValidateRejectsNonPositiveMaxConnections(t *testing.T) {
	withDeterministicLimits(t)
	root := mustParse(t, `listen 1935; max_connections 0;`)
	if err := Validate(root, false); err == nil {
		t.Fatal("expected max_connections=0 to fail validation")
	}
}
