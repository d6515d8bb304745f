package errtax

import (
	"errors"
	"strings"
	"testing"
)

func TestSummaryFormat(t *testing.T) {
	err := New(AppExceedConnections, "ctx-1", "max=2, cur=2")
	if got := err.Summary(); !strings.Contains(got, "ExceedConnections") || !strings.Contains(got, "max=2, cur=2") {
		t.Fatalf("unexpected summary: %s", got)
	}
}

func TestWrapPreservesChain(t *testing.T) {
	root := errors.New("dial tcp: connection refused")
	mid := Wrap(SystemConfigInvalid, "ctx-2", "parse listen directive", root)
	top := Wrap(SystemConfigInvalid, "", "reload failed", mid)

	if top.ContextID != "ctx-2" {
		t.Fatalf("expected context id propagated from inner error, got %q", top.ContextID)
	}

	chain := top.Chain()
	if !strings.Contains(chain, "reload failed") || !strings.Contains(chain, "parse listen directive") || !strings.Contains(chain, "connection refused") {
		t.Fatalf("chain missing expected messages: %s", chain)
	}
}

func TestIsMatchesByKind(t *testing.T) {
	a := New(RtmpEdgeReload, "", "vhost mode changed")
	b := New(RtmpEdgeReload, "other-ctx", "different message")
	if !errors.Is(a, b) {
		t.Fatal("expected errors with the same kind to match via errors.Is")
	}

	c := New(SystemKill, "", "kill failed")
	if errors.Is(a, c) {
		t.Fatal("expected errors with different kinds not to match")
	}
}

func TestCodeStability(t *testing.T) {
	cases := map[Kind]int{
		SystemConfigInvalid:     1,
		SystemConfigPersistence: 2,
		SystemKill:              3,
		SystemAssertFailed:      4,
		RtmpEdgeReload:          5,
		AppExceedConnections:    6,
		AppSocketGetPeerIP:      7,
		InotifyCreate:           8,
		RtmpClusterNoOrigin:     9,
	}
	for kind, code := range cases {
		if got := kind.Code(); got != code {
			t.Fatalf("kind %s: expected code %d, got %d", kind, code, got)
		}
	}
}
