/* cmd/root.go */

package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/CodeMonkeyCybersecurity/kiln/pkg/config"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/kiln_cli"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/kiln_err"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/kiln_io"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/logger"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/telemetry"
	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// RootCmd is the base command for kiln.
var RootCmd = &cobra.Command{
	Use:   "kiln",
	Short: "Provision a macOS build host for Android and mobile automation work",
	Long: `kiln turns a fresh macOS machine into a build and test host: Homebrew,
base packages, the Android SDK, a native toolchain, the mobile automation
framework, shell profile, power and remote access settings, and an optional
network service reorder with a restore safety net.

Every stage is idempotent; re-running kiln skips what is already in place.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       kiln_io.Version,
	RunE: kiln_cli.Wrap(func(rc *kiln_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		rc.Log.Info("No subcommand provided")
		return cmd.Help()
	}),
}

// HelpCmd wraps help so that it can be invoked like a normal command.
var HelpCmd = &cobra.Command{
	Use:   "help",
	Short: "Help about any command",
	Long:  "Displays help for kiln or a specific subcommand.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return RootCmd.Help()
		}
		c, _, err := RootCmd.Find(args)
		if err != nil || c == nil {
			return kiln_err.NewValidationError(fmt.Sprintf("command not found: %s", strings.Join(args, " ")), err)
		}
		return c.Help()
	},
}

var registered bool

// RegisterCommands adds all subcommands to the root command.
func RegisterCommands() {
	if registered {
		return
	}
	registered = true

	RootCmd.SetHelpCommand(HelpCmd)
	for _, subCmd := range []*cobra.Command{
		ProvisionCmd,
		PlanCmd,
		NetworkCmd,
	} {
		RootCmd.AddCommand(subCmd)
	}
}

// loadConfig builds the run configuration from cmd's flags, KILN_*
// variables and the optional config file.
func loadConfig(cmd *cobra.Command) (*config.RunConfig, error) {
	v := viper.New()
	if err := config.BindFlagsToViper(cmd, v); err != nil {
		return nil, kiln_err.NewValidationError("cannot bind flags", err)
	}
	return config.Load(v)
}

// stateDir holds the restore point and the opt-in telemetry file.
func stateDir() string {
	return filepath.Dir(config.DefaultRestorePointPath())
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	defer func() {
		if err := logger.Sync(); err != nil && !isIgnorableSyncError(err) {
			fmt.Fprintf(os.Stderr, "Failed to flush logs: %v\n", err)
		}
	}()

	shutdown, err := telemetry.Init("kiln", stateDir())
	if err != nil {
		logger.L().Warn("Telemetry disabled", zap.Error(err))
	} else {
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.L().Debug("Telemetry shutdown failed", zap.Error(err))
			}
		}()
	}

	RegisterCommands()

	err = RootCmd.ExecuteContext(context.Background())
	code := kiln_err.GetExitCode(err)
	switch {
	case err == nil:
	case code == 0:
		logger.L().Warn("kiln completed with warnings", zap.Error(err))
	default:
		var status *kiln_err.ExitStatus
		if !cerr.As(err, &status) {
			// Provision already logged its own outcome.
			logger.L().Error("kiln failed", zap.Error(err), zap.Int("exit_code", code))
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
	return code
}

// Syncing a console core on a terminal returns EINVAL or ENOTTY.
func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "invalid argument") || strings.Contains(msg, "inappropriate ioctl")
}
