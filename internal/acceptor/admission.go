package acceptor

import (
	"net"

	"tidecast/internal/errtax"
	"tidecast/internal/resource"
)

// Admission implements connection admission control: a new connection is
// rejected if accepting it would exceed MaxConnections, or if its peer IP
// cannot be determined and RequirePeerIP is set.
type Admission struct {
	MaxConnections int
	RequirePeerIP  bool
}

// Check returns a non-nil error if conn should be rejected. The caller is
// responsible for closing conn and not registering it with a resource
// manager when Check errors.
func (a *Admission) Check(conn net.Conn, manager *resource.Manager) error {
	if a.MaxConnections > 0 && manager != nil && manager.Size() >= a.MaxConnections {
		return errtax.Newf(errtax.AppExceedConnections, "", "max=%d, cur=%d", a.MaxConnections, manager.Size())
	}
	if a.RequirePeerIP {
		host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
		if err != nil || host == "" {
			return errtax.New(errtax.AppSocketGetPeerIP, "", "unable to determine peer ip")
		}
	}
	return nil
}
