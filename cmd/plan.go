/* cmd/plan.go */

package cmd

import (
	"fmt"
	"strings"

	"github.com/CodeMonkeyCybersecurity/kiln/pkg/config"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/installer"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/kiln_cli"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/kiln_io"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/scheduler"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/stage"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/stages"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

// PlanCmd prints the stage table without touching the machine.
var PlanCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the stages a provision run would execute",
	Long: `Prints every stage in execution order with its concurrency group,
dependencies and whether the current configuration enables it. Nothing is
installed and no privileged session is opened.`,
	Args: cobra.NoArgs,
	RunE: kiln_cli.Wrap(runPlan),
}

func init() {
	config.AddRunFlags(PlanCmd)
}

func runPlan(rc *kiln_io.RuntimeContext, cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Stage actions are never invoked here; only the table shape is used.
	runner := execute.New()
	plan, err := stages.Pipeline(stages.Deps{
		Config:    cfg,
		Runner:    runner,
		Installer: installer.NewAdapter(installer.NewHomebrew(runner, rc.Log), cfg.OfflineMode),
		Logger:    rc.Log,
	})
	if err != nil {
		return err
	}
	if err := scheduler.Validate(plan); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), RenderPlan(plan, cfg))
	return nil
}

// RenderPlan formats plan as a table.
func RenderPlan(plan []stage.Stage, cfg *config.RunConfig) string {
	rows := make([][]string, 0, len(plan))
	for i, st := range plan {
		enabled := st.Enabled == nil || st.Enabled(cfg)
		kind := "required"
		if st.Optional {
			kind = "optional"
		}
		deps := strings.Join(st.DependsOn, ", ")
		if deps == "" {
			deps = "-"
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			st.Name,
			st.Group.String(),
			kind,
			yesNo(enabled),
			deps,
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("#", "STAGE", "GROUP", "KIND", "ENABLED", "DEPENDS ON").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})

	mode := "online"
	if cfg.OfflineMode {
		mode = "offline"
	}
	return lipgloss.JoinVertical(lipgloss.Left, t.String(), fmt.Sprintf("mode: %s", mode))
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
