// pkg/stages/android.go

package stages

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/kiln/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/installer"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/kiln_err"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/stage"
	"go.uber.org/zap"
)

// licenseAnswers accepts every license prompt sdkmanager raises.
var licenseAnswers = strings.Repeat("y\n", 64)

// ComponentPath maps an sdkmanager package path ("platforms;android-34")
// to its install directory under root.
func ComponentPath(root, component string) string {
	return filepath.Join(root, filepath.Join(strings.Split(component, ";")...))
}

// MissingComponents returns the components with no install directory.
func MissingComponents(root string, components []string) []string {
	var missing []string
	for _, c := range components {
		if _, err := os.Stat(ComponentPath(root, c)); errors.Is(err, fs.ErrNotExist) {
			missing = append(missing, c)
		}
	}
	return missing
}

func (d Deps) androidComponentsPresent(context.Context) (bool, error) {
	a := d.Config.Android
	missing := MissingComponents(a.SDKRoot, a.Components)
	if len(missing) > 0 {
		d.log(AndroidSDK).Info("Android components missing", zap.Strings("missing", missing))
		return false, nil
	}
	return true, nil
}

func (d Deps) sdkmanager() string {
	p := filepath.Join(d.Config.Android.SDKRoot, "cmdline-tools", "latest", "bin", "sdkmanager")
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return "sdkmanager"
}

func (d Deps) installAndroidSDK(ctx context.Context) error {
	if d.Config.OfflineMode {
		return stage.Skip(offlineReason)
	}
	log := d.log(AndroidSDK)
	a := d.Config.Android

	if _, err := d.Installer.EnsureAll(ctx, installer.Casks(a.Casks...)...); err != nil {
		return err
	}
	if err := os.MkdirAll(a.SDKRoot, 0o755); err != nil {
		return kiln_err.NewDependencyError("android-sdk", "create sdk root", err)
	}

	missing := MissingComponents(a.SDKRoot, a.Components)
	root := "--sdk_root=" + a.SDKRoot
	env := []string{"ANDROID_HOME=" + a.SDKRoot, "ANDROID_SDK_ROOT=" + a.SDKRoot}

	if _, err := d.Runner.Run(ctx, execute.Options{
		Command: d.sdkmanager(),
		Args:    []string{root, "--licenses"},
		Stdin:   licenseAnswers,
		Env:     env,
		Timeout: 5 * time.Minute,
		Logger:  log,
	}); err != nil {
		return kiln_err.NewDependencyError("sdkmanager", "accept licenses", err)
	}

	log.Info("Installing Android components", zap.Strings("components", missing))
	_, err := execute.Retry(ctx, log, d.retryPolicy(), "sdkmanager", func(int) error {
		_, err := d.Runner.Run(ctx, execute.Options{
			Command: d.sdkmanager(),
			Args:    append([]string{root}, missing...),
			Stdin:   licenseAnswers,
			Env:     env,
			Timeout: time.Hour,
			Logger:  log,
		})
		return err
	})
	if err != nil {
		return kiln_err.NewDependencyError("sdkmanager", "install "+strings.Join(missing, " "), err,
			"Run `sdkmanager --list_installed` to inspect the SDK.")
	}
	return nil
}
