/* cmd/provision.go */

package cmd

import (
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/config"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/kiln_cli"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/kiln_err"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/kiln_io"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/logger"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/provision"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ProvisionCmd runs every enabled stage.
var ProvisionCmd = &cobra.Command{
	Use:     "provision",
	Aliases: []string{"run", "up"},
	Short:   "Provision this machine",
	Long: `Runs the preflight checks, opens a privileged session and executes every
enabled stage. Stages that are already satisfied are skipped.

Exit status is 0 when every required stage succeeded, 1 when a required stage
failed, and the precondition's code (77 for privilege problems) when the run
could not start. Optional stage failures only produce warnings.`,
	Args: cobra.NoArgs,
	RunE: kiln_cli.Wrap(runProvision),
}

func init() {
	config.AddRunFlags(ProvisionCmd)
}

func runProvision(rc *kiln_io.RuntimeContext, cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	runLog, logPath := logger.New(logger.Options{
		Level:   string(cfg.LogLevel),
		File:    cfg.LogFile,
		Console: cmd.OutOrStdout(),
	})
	logger.Install(runLog)
	cfg.LogFile = logPath

	rc.Log = runLog.With(zap.String("trace_id", rc.Span.SpanContext().TraceID().String()))
	rc.Attributes["run_id"] = cfg.RunID
	rc.Log.Info("Run log", zap.String("path", logPath), zap.String("run_id", cfg.RunID))

	ctrl := provision.New(cfg,
		provision.WithLogger(rc.Log),
		provision.WithOutput(cmd.OutOrStdout()),
	)
	code := ctrl.Run(rc.Ctx)
	return kiln_err.WithExitCode(ctrl.Err(), code)
}
