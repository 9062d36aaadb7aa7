// pkg/execute/types.go

package execute

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Options describes one external command invocation.
type Options struct {
	Command string
	Args    []string
	Dir     string
	// Stdin is fed to the process verbatim, e.g. "y\n" answers for license prompts.
	Stdin string
	// Env entries (KEY=VALUE) are appended to the inherited environment.
	Env     []string
	Timeout time.Duration
	// Sudo runs the command through non-interactive sudo (sudo -n). Commands
	// never prompt; the session guard owns the credential.
	Sudo bool
	// Capture returns combined output to the caller on success.
	Capture bool
	Logger  *zap.Logger
}

// Runner executes external commands. Stages and backends depend on this
// interface so tests can script results with FakeRunner.
type Runner interface {
	Run(ctx context.Context, opts Options) (string, error)
}
