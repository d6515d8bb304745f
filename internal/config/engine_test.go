package config

import (
	"sync"
	"testing"
)

func TestEngineLoadAndActive(t *testing.T) {
	reader := memFileReader{"srs.conf": []byte("listen 1935; vhost v { refer all a.com; }")}
	e := NewEngine("srs.conf", reader)
	if err := e.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	active := e.Active()
	if active.Get("listen").Arg(0) != "1935" {
		t.Fatalf("expected listen 1935, got %+v", active.Get("listen"))
	}
	// refer should already be in canonical block form post-transform.
	if active.Get("vhost").Get("refer").IsLeaf() {
		t.Fatal("expected active tree to be in canonical (transformed) form")
	}
}

func TestEngineReloadDispatchesChangesAndPromotes(t *testing.T) {
	reader := memFileReader{"srs.conf": []byte("listen 1935;")}
	e := NewEngine("srs.conf", reader)
	if err := e.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	var got []Change
	e.Subscribe(SubscriberFunc(func(c Change) error {
		got = append(got, c)
		return nil
	}))

	reader["srs.conf"] = []byte("listen 1936;")
	changes, err := e.Reload()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(changes) != 1 || changes[0].Scope != "listen" {
		t.Fatalf("expected one listen change, got %+v", changes)
	}
	if len(got) != 1 {
		t.Fatalf("expected subscriber notified once, got %d", len(got))
	}
	if e.Active().Get("listen").Arg(0) != "1936" {
		t.Fatal("expected active tree promoted to new listen value")
	}
}

// TestEngineReloadLeavesSwappedTreeActiveOnSubscriberError exercises
// spec §4.5's documented imperfect-atomicity point: the candidate tree is
// swapped in as active before subscribers are dispatched, so a rejecting
// subscriber aborts the rest of dispatch but does not roll back the swap
// — the server continues serving the already-swapped tree.
func TestEngineReloadLeavesSwappedTreeActiveOnSubscriberError(t *testing.T) {
	reader := memFileReader{"srs.conf": []byte("listen 1935;")}
	e := NewEngine("srs.conf", reader)
	if err := e.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	e.Subscribe(SubscriberFunc(func(c Change) error {
		return errRejected
	}))

	reader["srs.conf"] = []byte("listen 1936;")
	if _, err := e.Reload(); err == nil {
		t.Fatal("expected reload to report the subscriber's rejection")
	}
	if e.Active().Get("listen").Arg(0) != "1936" {
		t.Fatal("expected active tree already promoted despite the rejected dispatch")
	}
}

func TestEngineReloadNoopWhenUnchanged(t *testing.T) {
	reader := memFileReader{"srs.conf": []byte("listen 1935;")}
	e := NewEngine("srs.conf", reader)
	if err := e.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	calls := 0
	e.Subscribe(SubscriberFunc(func(c Change) error {
		calls++
		return nil
	}))
	changes, err := e.Reload()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(changes) != 0 || calls != 0 {
		t.Fatalf("expected no changes and no subscriber calls, got %d changes, %d calls", len(changes), calls)
	}
}

func TestEngineReloadRejectsClusterModeFlip(t *testing.T) {
	reader := memFileReader{"srs.conf": []byte("listen 1935; vhost v { cluster { mode origin; } }")}
	e := NewEngine("srs.conf", reader)
	if err := e.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	reader["srs.conf"] = []byte("listen 1935; vhost v { cluster { mode edge; } }")
	if _, err := e.Reload(); err == nil {
		t.Fatal("expected reload to reject a cluster mode flip")
	}
}

func TestEngineReloadIsSafeForConcurrentReaders(t *testing.T) {
	reader := memFileReader{"srs.conf": []byte("listen 1935;")}
	e := NewEngine("srs.conf", reader)
	if err := e.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.Active()
		}()
	}
	wg.Wait()
}

var errRejected = &rejectedError{}

type rejectedError struct{}

func (e *rejectedError) Error() string { return "subscriber rejected" }
