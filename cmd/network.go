/* cmd/network.go */

package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/CodeMonkeyCybersecurity/kiln/pkg/config"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/kiln_cli"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/kiln_io"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/netorder"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NetworkCmd groups network safety net commands.
var NetworkCmd = &cobra.Command{
	Use:   "network",
	Short: "Inspect the network service order safety net",
	RunE: kiln_cli.Wrap(func(rc *kiln_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		rc.Log.Info("No subcommand provided for network", zap.String("command", cmd.Use))
		return cmd.Help()
	}),
}

// NetworkStatusCmd shows a restore point left by an interrupted run.
var NetworkStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a leftover network restore point",
	Long: `A restore point only exists while a provision run is reordering network
services. If one is still present, the run that wrote it was interrupted
before its exit handler ran. The saved order and the command to restore it
by hand are printed; kiln never replays it automatically.`,
	Args: cobra.NoArgs,
	RunE: kiln_cli.Wrap(runNetworkStatus),
}

func init() {
	NetworkStatusCmd.Flags().String(config.KeyRestorePoint, "", "network restore point file")
	NetworkCmd.AddCommand(NetworkStatusCmd)
}

func runNetworkStatus(rc *kiln_io.RuntimeContext, cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString(config.KeyRestorePoint)
	if path == "" {
		path = config.DefaultRestorePointPath()
	}

	rp, err := netorder.Store{Path: path}.Load()
	out := cmd.OutOrStdout()
	switch {
	case errors.Is(err, netorder.ErrNoRestorePoint):
		fmt.Fprintln(out, "No leftover network restore point.")
		return nil
	case err != nil:
		return err
	}

	rc.Log.Warn("Leftover network restore point found",
		zap.String("path", path),
		zap.String("run_id", rp.RunID),
		zap.Strings("saved_order", rp.Services))

	fmt.Fprintf(out, "Restore point from run %s (taken %s)\n", rp.RunID, rp.TakenAt.Format(time.RFC3339))
	for i, s := range rp.Services {
		fmt.Fprintf(out, "  %d. %s\n", i+1, s)
	}
	fmt.Fprintf(out, "Restore manually with:\n  %s\n", netorder.ManualCommand(rp.Services))
	fmt.Fprintf(out, "Then remove %s\n", path)
	return nil
}
