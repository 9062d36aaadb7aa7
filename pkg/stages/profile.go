// pkg/stages/profile.go

package stages

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/CodeMonkeyCybersecurity/kiln/pkg/kiln_err"
	"go.uber.org/zap"
)

const (
	profileBegin = "# >>> kiln android >>>"
	profileEnd   = "# <<< kiln android <<<"
)

// ProfileBlock is the marked block appended to the shell profile.
func ProfileBlock(sdkRoot string) string {
	return fmt.Sprintf(`%s
export ANDROID_HOME=%q
export ANDROID_SDK_ROOT="$ANDROID_HOME"
export PATH="$ANDROID_HOME/platform-tools:$ANDROID_HOME/emulator:$ANDROID_HOME/cmdline-tools/latest/bin:$PATH"
%s
`, profileBegin, sdkRoot, profileEnd)
}

func (d Deps) shellProfilePatched(context.Context) (bool, error) {
	data, err := os.ReadFile(d.Config.ShellProfilePath)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, kiln_err.NewAdvisoryError("cannot read shell profile", err)
	}
	return strings.Contains(string(data), profileBegin), nil
}

func (d Deps) patchShellProfile(context.Context) error {
	path := d.Config.ShellProfilePath
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return kiln_err.NewAdvisoryError("cannot create shell profile directory", err)
	}

	existing, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return kiln_err.NewAdvisoryError("cannot read shell profile", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return kiln_err.NewAdvisoryError("cannot open shell profile", err)
	}
	defer f.Close()

	block := ProfileBlock(d.Config.Android.SDKRoot)
	if len(existing) > 0 && !strings.HasSuffix(string(existing), "\n") {
		block = "\n" + block
	}
	if _, err := f.WriteString(block); err != nil {
		return kiln_err.NewAdvisoryError("cannot write shell profile", err)
	}
	d.log(ShellProfile).Info("Shell profile updated", zap.String("path", path))
	return nil
}
