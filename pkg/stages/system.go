// pkg/stages/system.go

package stages

import (
	"bufio"
	"context"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/kiln/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/kiln_err"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/stage"
	"go.uber.org/zap"
)

var sleepSettings = []string{"sleep", "displaysleep", "disksleep"}

// ParsePMSet reads `pmset -g` output into setting -> value.
func ParsePMSet(out string) map[string]string {
	settings := make(map[string]string)
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) >= 2 {
			settings[fields[0]] = fields[1]
		}
	}
	return settings
}

func (d Deps) sleepDisabled(ctx context.Context) (bool, error) {
	out, err := d.Runner.Run(ctx, execute.Options{Command: "pmset", Args: []string{"-g"}, Capture: true, Timeout: 30 * time.Second, Logger: d.log(Power)})
	if err != nil {
		return false, nil
	}
	settings := ParsePMSet(out)
	for _, k := range sleepSettings {
		if settings[k] != "0" {
			return false, nil
		}
	}
	return true, nil
}

func (d Deps) disableSleep(ctx context.Context) error {
	args := []string{"-a"}
	for _, k := range sleepSettings {
		args = append(args, k, "0")
	}
	if _, err := d.Runner.Run(ctx, execute.Options{Command: "pmset", Args: args, Sudo: true, Timeout: 30 * time.Second, Logger: d.log(Power)}); err != nil {
		return kiln_err.NewAdvisoryError("could not disable sleep", err)
	}
	return nil
}

func (d Deps) remoteLoginEnabled(ctx context.Context) (bool, error) {
	out, err := d.Runner.Run(ctx, execute.Options{
		Command: "systemsetup", Args: []string{"-getremotelogin"},
		Sudo: true, Capture: true, Timeout: 30 * time.Second, Logger: d.log(RemoteAccess),
	})
	if err != nil {
		return false, nil
	}
	return strings.Contains(strings.ToLower(out), ": on"), nil
}

func (d Deps) enableRemoteLogin(ctx context.Context) error {
	out, err := d.Runner.Run(ctx, execute.Options{
		Command: "systemsetup", Args: []string{"-setremotelogin", "on"},
		Sudo: true, Capture: true, Timeout: time.Minute, Logger: d.log(RemoteAccess),
	})
	if err == nil && !strings.Contains(out, "Full Disk Access") {
		return nil
	}
	if strings.Contains(out, "Full Disk Access") {
		return kiln_err.NewAdvisoryError("remote login needs Full Disk Access", err,
			"Grant your terminal Full Disk Access in System Settings > Privacy & Security, then rerun kiln.")
	}
	return kiln_err.NewAdvisoryError("could not enable remote login", err)
}

func (d Deps) networkOrdered(ctx context.Context) (bool, error) {
	if d.Network == nil {
		return false, stage.Skip("network safety net not configured")
	}
	ok, err := d.Network.InDesiredOrder(ctx)
	if err != nil {
		d.log(Network).Warn("Could not read network service order", zap.Error(err))
		return false, nil
	}
	return ok, nil
}

func (d Deps) reorderNetwork(ctx context.Context) error {
	if d.Network == nil {
		return stage.Skip("network safety net not configured")
	}
	return d.Network.Apply(ctx)
}
