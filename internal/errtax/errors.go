// Package errtax implements the error taxonomy shared across the
// configuration engine, acceptor, and resource manager: a flat enumeration
// of error kinds partitioned by subsystem, each error carrying a context id,
// a source location, and an optional wrapped cause.
package errtax

import (
	"errors"
	"fmt"
	"runtime"
)

// Kind enumerates the error codes the core subsystems raise. Values are
// stable and partitioned by subsystem prefix (System, Rtmp, App, Http, User)
// to mirror the source taxonomy this module is derived from.
type Kind int

const (
	// KindUnknown is the zero value; Error values should never carry it.
	KindUnknown Kind = iota

	// SystemConfigInvalid reports a parse/transform/validate failure. Fatal
	// at startup; reload-scoped at runtime (the reload aborts, the server
	// continues serving the previously active tree).
	SystemConfigInvalid
	// SystemConfigPersistence reports an I/O error while persisting the
	// active configuration tree. The temp file is unlinked on failure.
	SystemConfigPersistence
	// SystemKill reports a process-control failure during child teardown.
	// Logged, best effort, non-fatal.
	SystemKill
	// SystemAssertFailed reports a broken invariant (e.g. asprocess with
	// ppid == 1). Fatal.
	SystemAssertFailed
	// RtmpEdgeReload reports a vhost mode (edge/origin) flip detected
	// during reload diffing. The reload aborts.
	RtmpEdgeReload
	// AppExceedConnections reports that admission control denied a new
	// connection because max_connections was reached. The connection is
	// closed; not fatal.
	AppExceedConnections
	// AppSocketGetPeerIP reports an empty peer IP when policy disallows it.
	// The connection is closed.
	AppSocketGetPeerIP
	// InotifyCreate reports failure to create the filesystem watcher.
	// Non-fatal: the server runs without auto-reload.
	InotifyCreate
	// InotifyWatch reports failure to register a watch on the config
	// directory. Non-fatal.
	InotifyWatch
	// InotifyOpenfd reports failure to obtain a watcher file descriptor.
	// Non-fatal.
	InotifyOpenfd
	// RtmpClusterNoOrigin reports that an edge-mode vhost has no reachable
	// origin node to forward to. The publish/play request is refused.
	RtmpClusterNoOrigin
)

func (k Kind) String() string {
	switch k {
	case SystemConfigInvalid:
		return "SystemConfigInvalid"
	case SystemConfigPersistence:
		return "SystemConfigPersistence"
	case SystemKill:
		return "SystemKill"
	case SystemAssertFailed:
		return "SystemAssertFailed"
	case RtmpEdgeReload:
		return "RtmpEdgeReload"
	case AppExceedConnections:
		return "ExceedConnections"
	case AppSocketGetPeerIP:
		return "SocketGetPeerIp"
	case InotifyCreate:
		return "InotifyCreate"
	case InotifyWatch:
		return "InotifyWatch"
	case InotifyOpenfd:
		return "InotifyOpenfd"
	case RtmpClusterNoOrigin:
		return "RtmpClusterNoOrigin"
	default:
		return "Unknown"
	}
}

// Code returns the numeric process-exit code associated with a Kind. Codes
// are stable across releases so operators can script against them.
func (k Kind) Code() int {
	switch k {
	case SystemConfigInvalid:
		return 1
	case SystemConfigPersistence:
		return 2
	case SystemKill:
		return 3
	case SystemAssertFailed:
		return 4
	case RtmpEdgeReload:
		return 5
	case AppExceedConnections:
		return 6
	case AppSocketGetPeerIP:
		return 7
	case InotifyCreate, InotifyWatch, InotifyOpenfd:
		return 8
	case RtmpClusterNoOrigin:
		return 9
	default:
		return 255
	}
}

// Location is the source position an Error was raised at.
type Location struct {
	File string
	Line int
	Func string
}

func (l Location) String() string {
	if l.File == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d (%s)", l.File, l.Line, l.Func)
}

// Error is the chained error type returned across subsystem boundaries. It
// carries a Kind, a human message, the context id of the fiber/goroutine
// that raised it, a source Location, and an optional wrapped cause.
type Error struct {
	Kind      Kind
	Message   string
	ContextID string
	Location  Location
	Cause     error
}

// New constructs an Error at the caller's source location. ctxID may be
// empty when no context id is available (e.g. during early startup before
// any fiber/goroutine has been assigned one).
func New(kind Kind, ctxID, message string) *Error {
	return &Error{Kind: kind, Message: message, ContextID: ctxID, Location: caller(2)}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(kind Kind, ctxID, format string, args ...interface{}) *Error {
	e := New(kind, ctxID, fmt.Sprintf(format, args...))
	e.Location = caller(2)
	return e
}

// Wrap attaches cause as the inner error of a new Error, preserving the
// chain for diagnosis. If cause is already an *Error, its context id is
// reused when ctxID is empty.
func Wrap(kind Kind, ctxID, message string, cause error) *Error {
	if ctxID == "" {
		var inner *Error
		if errors.As(cause, &inner) {
			ctxID = inner.ContextID
		}
	}
	e := New(kind, ctxID, message)
	e.Cause = cause
	e.Location = caller(2)
	return e
}

func caller(skip int) Location {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return Location{}
	}
	fn := runtime.FuncForPC(pc)
	name := "unknown"
	if fn != nil {
		name = fn.Name()
	}
	return Location{File: file, Line: line, Func: name}
}

// Error implements the error interface, printing the summary: top message
// plus code.
func (e *Error) Error() string {
	return e.Summary()
}

// Summary prints only the top message plus code, e.g. "ExceedConnections:
// max=2, cur=2 (code 6)".
func (e *Error) Summary() string {
	return fmt.Sprintf("%s: %s (code %d)", e.Kind, e.Message, e.Kind.Code())
}

// Chain prints the full error chain, deepest cause last, one per line,
// prefixed with the source location when known.
func (e *Error) Chain() string {
	var out string
	cur := error(e)
	depth := 0
	for cur != nil {
		if te, ok := cur.(*Error); ok {
			loc := te.Location.String()
			if loc != "" {
				out += fmt.Sprintf("%*s[%s] %s (%s)\n", depth*2, "", te.Kind, te.Message, loc)
			} else {
				out += fmt.Sprintf("%*s[%s] %s\n", depth*2, "", te.Kind, te.Message)
			}
			cur = te.Cause
		} else {
			out += fmt.Sprintf("%*scaused by: %s\n", depth*2, "", cur.Error())
			cur = errors.Unwrap(cur)
		}
		depth++
	}
	return out
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target shares the same Kind, allowing
// errors.Is(err, errtax.New(errtax.AppExceedConnections, "", "")) style checks
// via a sentinel built from the kind alone.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
