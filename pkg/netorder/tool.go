// pkg/netorder/tool.go

package netorder

import (
	"context"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/kiln/pkg/execute"
	"go.uber.org/zap"
)

// Tool is the network configuration backend.
type Tool interface {
	ListServices(ctx context.Context) ([]string, error)
	SetOrder(ctx context.Context, services []string) error
}

// NetworkSetup drives macOS networksetup.
type NetworkSetup struct {
	Runner execute.Runner
	Logger *zap.Logger
}

// ListServices returns every service in current priority order, disabled
// ones included.
func (n NetworkSetup) ListServices(ctx context.Context) ([]string, error) {
	out, err := n.Runner.Run(ctx, execute.Options{
		Command: "networksetup",
		Args:    []string{"-listallnetworkservices"},
		Capture: true,
		Timeout: 30 * time.Second,
		Logger:  n.Logger,
	})
	if err != nil {
		return nil, err
	}
	return ParseServiceList(out), nil
}

// SetOrder applies a new priority order through the privileged session.
func (n NetworkSetup) SetOrder(ctx context.Context, services []string) error {
	_, err := n.Runner.Run(ctx, execute.Options{
		Command: "networksetup",
		Args:    append([]string{"-ordernetworkservices"}, services...),
		Sudo:    true,
		Timeout: time.Minute,
		Logger:  n.Logger,
	})
	return err
}

// ParseServiceList parses -listallnetworkservices output. The first line is
// an explanatory header and a leading '*' marks a disabled service.
func ParseServiceList(out string) []string {
	var services []string
	for i, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if i == 0 && strings.Contains(strings.ToLower(line), "asterisk") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "*"))
		if line == "" {
			continue
		}
		services = append(services, line)
	}
	return services
}
