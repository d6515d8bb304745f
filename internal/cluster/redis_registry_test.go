package cluster

import (
	"context"
	"testing"
)

func TestRedisRegistryKeyNaming(t *testing.T) {
	if got := nodeKey("example.com", "n1"); got != "tidecast:cluster:origin:example.com:n1" {
		t.Fatalf("unexpected node key: %q", got)
	}
	if got := membersKey("example.com"); got != "tidecast:cluster:origins:example.com" {
		t.Fatalf("unexpected members key: %q", got)
	}
}

func TestRedisRegistryRegisterRejectsEmptyIdentity(t *testing.T) {
	r := NewRedisRegistry(nil)

	if err := r.Register(context.Background(), Node{Vhost: "example.com"}, 0); err == nil {
		t.Fatalf("expected error for missing node id")
	}
	if err := r.Register(context.Background(), Node{ID: "n1"}, 0); err == nil {
		t.Fatalf("expected error for missing vhost")
	}
}
