// pkg/preflight/network.go
package preflight

import (
	"context"
	"net"
	"time"

	"github.com/CodeMonkeyCybersecurity/kiln/pkg/kiln_err"
)

// ProbeTCP dials addr and closes the connection.
func ProbeTCP(ctx context.Context, addr string, timeout time.Duration) error {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return kiln_err.NewNetworkError("cannot reach "+addr, err)
	}
	return conn.Close()
}

// Connectivity checks that the package mirrors are reachable. It is advisory:
// the controller switches to offline mode when it fails.
func Connectivity(addr string, timeout time.Duration) Check {
	return Check{
		Name:        CheckConnectivity,
		Description: "network reachable",
		Check: func(ctx context.Context) error {
			return ProbeTCP(ctx, addr, timeout)
		},
	}
}
