// pkg/execute/execute.go

package execute

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/kiln/pkg/kiln_err"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/telemetry"
	cerr "github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// ExecRunner runs commands with os/exec. Arguments are passed without a
// shell so nothing in Args is interpreted.
type ExecRunner struct{}

// New returns the production Runner.
func New() Runner { return ExecRunner{} }

// Run executes a command with structured logging and a telemetry span.
func (ExecRunner) Run(ctx context.Context, opts Options) (string, error) {
	return Run(ctx, opts)
}

// Run executes a command with structured logging and proper error handling.
func Run(ctx context.Context, opts Options) (string, error) {
	cmdStr := CommandLine(opts)

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	rc, cancel := context.WithTimeout(ctx, defaultTimeout(opts.Timeout))
	defer cancel()

	rc, span := telemetry.Start(rc, "execute.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("command", opts.Command),
		attribute.String("args", telemetry.TruncateArgs(opts.Args)),
		attribute.Bool("sudo", opts.Sudo),
	)

	logger.Debug("Starting execution", zap.String("command", cmdStr))
	start := time.Now()

	name, args := argv(opts)
	cmd := exec.CommandContext(rc, name, args...)
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	if opts.Stdin != "" {
		cmd.Stdin = strings.NewReader(opts.Stdin)
	}

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	output := buf.String()

	if err != nil {
		if rc.Err() == context.DeadlineExceeded {
			err = cerr.Wrapf(err, "timed out after %s", defaultTimeout(opts.Timeout))
		}
		summary := kiln_err.ExtractSummary(output, 2)
		span.RecordError(err)
		span.SetStatus(codes.Error, summary)
		logger.Debug("Execution failed",
			zap.String("command", cmdStr),
			zap.Duration("duration", time.Since(start)),
			zap.String("summary", summary),
			zap.Error(err))
		return output, cerr.WithDetail(cerr.Wrapf(err, "%s", cmdStr), summary)
	}

	logger.Debug("Execution succeeded",
		zap.String("command", cmdStr),
		zap.Duration("duration", time.Since(start)))

	if opts.Capture {
		return output, nil
	}
	return "", nil
}
