package acceptor

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"tidecast/internal/resource"
)

func TestAcceptorDispatchesToHandler(t *testing.T) {
	var mu sync.Mutex
	var handled int

	manager := resource.NewManager()
	listener := &Listener{
		Kind:    KindHTTPAPI,
		Addr:    "127.0.0.1:0",
		Manager: manager,
		Handle: func(ctx context.Context, conn net.Conn, res *resource.Connection) {
			mu.Lock()
			handled++
			mu.Unlock()
			conn.Close()
		},
	}

	a := New(nil, listener)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	probe, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("probe listen: %v", err)
	}
	addr := probe.Addr().String()
	probe.Close()
	listener.Addr = addr

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	var conn net.Conn
	for i := 0; i < 50; i++ {
		conn, err = net.DialTimeout("tcp", addr, 20*time.Millisecond)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		got := handled
		mu.Unlock()
		if got == 1 {
			cancel()
			<-done
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	t.Fatal("expected handler to be invoked once")
}

func TestAcceptorAdmissionControlRejectsOverCapacity(t *testing.T) {
	manager := resource.NewManager()
	manager.Add(resource.NewConnection(mustLoopbackConn(t)))

	var handled int
	var mu sync.Mutex
	listener := &Listener{
		Kind:    KindHTTPAPI,
		Manager: manager,
		Admit:   &Admission{MaxConnections: 1},
		Handle: func(ctx context.Context, conn net.Conn, res *resource.Connection) {
			mu.Lock()
			handled++
			mu.Unlock()
			conn.Close()
		},
	}
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("probe listen: %v", err)
	}
	addr := probe.Addr().String()
	probe.Close()
	listener.Addr = addr

	a := New(nil, listener)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	var conn net.Conn
	for i := 0; i < 50; i++ {
		conn, err = net.DialTimeout("tcp", addr, 20*time.Millisecond)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()

	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	got := handled
	mu.Unlock()
	if got != 0 {
		t.Fatalf("expected connection rejected by admission control, handler called %d times", got)
	}
}

func mustLoopbackConn(t *testing.T) net.Conn {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}
