// pkg/stages/toolchain.go

package stages

import (
	"context"
	"encoding/json"
	"time"

	"github.com/CodeMonkeyCybersecurity/kiln/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/installer"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/kiln_err"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/stage"
	"go.uber.org/zap"
)

func (d Deps) installToolchain(ctx context.Context) error {
	if d.Config.OfflineMode {
		return stage.Skip(offlineReason)
	}
	log := d.log(Toolchain)

	if _, err := d.Runner.Run(ctx, execute.Options{Command: "xcode-select", Args: []string{"-p"}, Timeout: 30 * time.Second, Logger: log}); err != nil {
		log.Warn("Xcode command line tools missing; starting installer")
		if _, ierr := d.Runner.Run(ctx, execute.Options{Command: "xcode-select", Args: []string{"--install"}, Timeout: time.Minute, Logger: log}); ierr != nil {
			err = ierr
		}
		return kiln_err.NewDependencyError("xcode-select", "command line tools", err,
			"Finish the Command Line Tools installer dialog, then rerun kiln.")
	}

	n, err := d.Installer.EnsureAll(ctx, installer.Formulae(d.Config.Packages.Toolchain...)...)
	if err != nil {
		return err
	}
	log.Info("Toolchain ready", zap.Int("installed", n))
	return nil
}

func (d Deps) appiumInstalled(ctx context.Context) bool {
	_, err := d.Runner.Run(ctx, execute.Options{Command: "appium", Args: []string{"--version"}, Timeout: 30 * time.Second, Logger: d.log(Automation)})
	return err == nil
}

// installedDrivers parses `appium driver list --installed --json`, which
// prints an object keyed by driver name.
func (d Deps) installedDrivers(ctx context.Context) (map[string]bool, error) {
	out, err := d.Runner.Run(ctx, execute.Options{
		Command: "appium",
		Args:    []string{"driver", "list", "--installed", "--json"},
		Capture: true,
		Timeout: time.Minute,
		Logger:  d.log(Automation),
	})
	if err != nil {
		return nil, err
	}
	var drivers map[string]json.RawMessage
	if err := json.Unmarshal([]byte(out), &drivers); err != nil {
		return nil, kiln_err.NewDependencyError("appium", "parse driver list", err)
	}
	have := make(map[string]bool, len(drivers))
	for name := range drivers {
		have[name] = true
	}
	return have, nil
}

func (d Deps) automationPresent(ctx context.Context) (bool, error) {
	if !d.appiumInstalled(ctx) {
		return false, nil
	}
	have, err := d.installedDrivers(ctx)
	if err != nil {
		return false, nil
	}
	for _, drv := range d.Config.AppiumDrivers {
		if !have[drv] {
			return false, nil
		}
	}
	return true, nil
}

func (d Deps) installAutomation(ctx context.Context) error {
	if d.Config.OfflineMode {
		return stage.Skip(offlineReason)
	}
	log := d.log(Automation)

	if _, err := d.Installer.EnsureAll(ctx, installer.Formulae(d.Config.Packages.Automation...)...); err != nil {
		return err
	}

	retry := d.retryPolicy()
	if !d.appiumInstalled(ctx) {
		_, err := execute.Retry(ctx, log, retry, "npm install appium", func(int) error {
			_, err := d.Runner.Run(ctx, execute.Options{Command: "npm", Args: []string{"install", "-g", "appium"}, Timeout: 20 * time.Minute, Logger: log})
			return err
		})
		if err != nil {
			return kiln_err.NewDependencyError("appium", "npm install", err)
		}
	}

	have, err := d.installedDrivers(ctx)
	if err != nil {
		have = map[string]bool{}
	}
	for _, drv := range d.Config.AppiumDrivers {
		if have[drv] {
			continue
		}
		_, err := execute.Retry(ctx, log, retry, "appium driver install "+drv, func(int) error {
			_, err := d.Runner.Run(ctx, execute.Options{Command: "appium", Args: []string{"driver", "install", drv}, Timeout: 20 * time.Minute, Logger: log})
			return err
		})
		if err != nil {
			return kiln_err.NewDependencyError("appium driver "+drv, "install", err)
		}
		log.Info("Appium driver installed", zap.String("driver", drv))
	}
	return nil
}
