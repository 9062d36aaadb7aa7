// pkg/installer/homebrew.go
package installer

import (
	"context"
	"sync"
	"time"

	"github.com/CodeMonkeyCybersecurity/kiln/pkg/execute"
	"go.uber.org/zap"
)

const homebrewInstallScript = `/bin/bash -c "$(curl -fsSL https://raw.githubusercontent.com/Homebrew/install/HEAD/install.sh)"`

// Homebrew is the Backend for brew. Installs are serialized because brew
// holds a global lock while installing.
type Homebrew struct {
	Runner  execute.Runner
	Logger  *zap.Logger
	Timeout time.Duration

	mu sync.Mutex
}

// NewHomebrew returns a Homebrew backend running commands through r.
func NewHomebrew(r execute.Runner, logger *zap.Logger) *Homebrew {
	return &Homebrew{Runner: r, Logger: logger, Timeout: 30 * time.Minute}
}

var brewEnv = []string{
	"HOMEBREW_NO_AUTO_UPDATE=1",
	"HOMEBREW_NO_INSTALL_CLEANUP=1",
	"HOMEBREW_NO_ENV_HINTS=1",
	"NONINTERACTIVE=1",
}

// IsInstalled runs `brew list --formula|--cask <name>`; a non-zero exit
// means absent.
func (h *Homebrew) IsInstalled(ctx context.Context, pkg Package) (bool, error) {
	_, err := h.Runner.Run(ctx, execute.Options{
		Command: "brew",
		Args:    []string{"list", "--" + pkg.Kind.String(), pkg.Name},
		Env:     brewEnv,
		Timeout: time.Minute,
		Logger:  h.Logger,
	})
	return err == nil, nil
}

// Install runs `brew install [--cask] <name>`.
func (h *Homebrew) Install(ctx context.Context, pkg Package) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	args := []string{"install"}
	if pkg.Kind == Cask {
		args = append(args, "--cask")
	}
	_, err := h.Runner.Run(ctx, execute.Options{
		Command: "brew",
		Args:    append(args, pkg.Name),
		Env:     brewEnv,
		Timeout: h.Timeout,
		Logger:  h.Logger,
	})
	return err
}

// Present reports whether brew answers --version.
func (h *Homebrew) Present(ctx context.Context) bool {
	_, err := h.Runner.Run(ctx, execute.Options{
		Command: "brew",
		Args:    []string{"--version"},
		Timeout: 30 * time.Second,
		Logger:  h.Logger,
	})
	return err == nil
}

// Bootstrap runs the official install script non-interactively.
func (h *Homebrew) Bootstrap(ctx context.Context) error {
	_, err := h.Runner.Run(ctx, execute.Options{
		Command: "/bin/bash",
		Args:    []string{"-c", homebrewInstallScript},
		Env:     []string{"NONINTERACTIVE=1"},
		Timeout: h.Timeout,
		Logger:  h.Logger,
	})
	return err
}
