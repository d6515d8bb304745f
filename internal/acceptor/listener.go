// Package acceptor implements the connection acceptor: a set of listener
// sockets, one per configured service, each demultiplexed to the
// protocol handler that owns it. The WebRTC-over-TCP listener additionally
// demultiplexes at the connection level, since it shares one socket
// between STUN binding requests and plain HTTP signaling.
package acceptor

import (
	"context"
	"log/slog"
	"net"

	"golang.org/x/sync/errgroup"

	"tidecast/internal/errtax"
	"tidecast/internal/resource"
)

// Kind names the service a Listener serves, matching the configuration
// directives that enable it.
type Kind int

const (
	KindRTMP Kind = iota
	KindInternalService
	KindHTTPAPI
	KindHTTPSAPI
	KindHTTPServer
	KindHTTPSServer
	KindWebRTCTCP
	KindStreamCaster
	KindExporter
)

func (k Kind) String() string {
	switch k {
	case KindRTMP:
		return "rtmp"
	case KindInternalService:
		return "internal_service"
	case KindHTTPAPI:
		return "http_api"
	case KindHTTPSAPI:
		return "https_api"
	case KindHTTPServer:
		return "http_server"
	case KindHTTPSServer:
		return "https_server"
	case KindWebRTCTCP:
		return "webrtc_tcp"
	case KindStreamCaster:
		return "stream_caster"
	case KindExporter:
		return "exporter"
	default:
		return "unknown"
	}
}

// Handler serves one accepted connection. res is the same resource already
// registered with the listener's Manager; the handler must call one of its
// Mark* methods before returning so the sweeper can reclaim it.
type Handler func(ctx context.Context, conn net.Conn, res *resource.Connection)

// Listener binds one address for one Kind and dispatches every accepted
// connection to Handle.
type Listener struct {
	Kind    Kind
	Addr    string
	Handle  Handler
	Manager *resource.Manager
	Admit   *Admission
	Logger  *slog.Logger
}

// Acceptor owns the full set of configured listeners and runs their
// accept loops concurrently, stopping all of them if any one fails
// irrecoverably.
type Acceptor struct {
	listeners []*Listener
	logger    *slog.Logger
}

// New constructs an Acceptor over the given listeners.
func New(logger *slog.Logger, listeners ...*Listener) *Acceptor {
	return &Acceptor{listeners: listeners, logger: logger}
}

// Run binds every listener and serves until ctx is canceled or one
// listener's accept loop returns a non-recoverable error, at which point
// every other listener is stopped too.
func (a *Acceptor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	var ln []net.Listener
	for _, l := range a.listeners {
		bound, err := net.Listen("tcp", l.Addr)
		if err != nil {
			for _, prior := range ln {
				prior.Close()
			}
			return errtax.Wrap(errtax.SystemConfigInvalid, "", "bind "+l.Kind.String()+" listener on "+l.Addr, err)
		}
		ln = append(ln, bound)
	}

	for i, l := range a.listeners {
		l := l
		bound := ln[i]
		g.Go(func() error {
			return a.acceptLoop(ctx, l, bound)
		})
		g.Go(func() error {
			<-ctx.Done()
			return bound.Close()
		})
	}
	return g.Wait()
}

func (a *Acceptor) acceptLoop(ctx context.Context, l *Listener, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if a.logger != nil {
				a.logger.Warn("accept failed", "listener", l.Kind.String(), "error", err)
			}
			return err
		}

		if l.Admit != nil {
			if err := l.Admit.Check(conn, l.Manager); err != nil {
				if a.logger != nil {
					a.logger.Info("connection rejected by admission control", "listener", l.Kind.String(), "error", err)
				}
				conn.Close()
				continue
			}
		}

		res := resource.NewConnection(conn)
		if l.Manager != nil {
			l.Manager.Add(res)
		}
		res.MarkRunning()
		go l.Handle(ctx, conn, res)
	}
}
