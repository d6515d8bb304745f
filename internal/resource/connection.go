package resource

import (
	"net"
	"sync"
	"time"
)

// Connection is the Resource implementation for an accepted network
// connection. Its state transitions are driven by the protocol handler
// goroutine (via MarkRunning/MarkExpired/MarkPeerClosed/MarkErrored) and
// read by the sweeper goroutine; both sides only ever touch state through
// the accessor methods below, which hold the same mutex.
type Connection struct {
	id       string
	conn     net.Conn
	acceptAt time.Time

	mu          sync.Mutex
	state       State
	handlerDone bool
	closeErr    error
}

// NewConnection wraps conn as a trackable Resource in StateAccepted.
func NewConnection(conn net.Conn) *Connection {
	return &Connection{id: NewID(), conn: conn, acceptAt: time.Now(), state: StateAccepted}
}

func (c *Connection) ID() string { return c.id }

// RemoteIP returns the peer's IP address without the port, or "" if the
// underlying connection has no meaningful remote address (e.g. already
// closed).
func (c *Connection) RemoteIP() string {
	addr := c.conn.RemoteAddr()
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// MarkRunning transitions the connection into StateRunning once its
// protocol handler goroutine has started serving it.
func (c *Connection) MarkRunning() {
	c.setState(StateRunning)
}

// MarkExpired transitions the connection to StateExpired and marks the
// handler done: used when shutdown (context cancellation) or a read
// timeout ends the connection rather than the peer or an error.
func (c *Connection) MarkExpired() {
	c.finish(StateExpired, nil)
}

// MarkPeerClosed transitions the connection to StatePeerClosed: the peer
// closed its side first.
func (c *Connection) MarkPeerClosed() {
	c.finish(StatePeerClosed, nil)
}

// MarkErrored transitions the connection to StateErrored, recording err
// for diagnostics.
func (c *Connection) MarkErrored(err error) {
	c.finish(StateErrored, err)
}

func (c *Connection) finish(state State, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
	c.handlerDone = true
	c.closeErr = err
}

func (c *Connection) setState(state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

// DisposalEligible reports whether the handler has finished and the
// connection reached a terminal state.
func (c *Connection) DisposalEligible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.handlerDone {
		return false
	}
	switch c.state {
	case StateExpired, StatePeerClosed, StateErrored:
		return true
	default:
		return false
	}
}

// Dispose closes the underlying network connection and transitions to
// StateDestroyed. Safe to call at most once; the sweeper enforces that.
func (c *Connection) Dispose() error {
	err := c.conn.Close()
	c.setState(StateDestroyed)
	return err
}

// Err returns the error recorded by MarkErrored, if any.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// Age reports how long the connection has been tracked.
func (c *Connection) Age() time.Duration {
	return time.Since(c.acceptAt)
}
