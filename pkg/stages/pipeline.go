// Package stages holds the provisioning pipeline: the static stage table
// and the functions behind each stage.
package stages

import (
	"fmt"

	"github.com/CodeMonkeyCybersecurity/kiln/pkg/config"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/installer"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/kiln_err"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/netorder"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/stage"
	"go.uber.org/zap"
)

// Stage names.
const (
	Homebrew     = "homebrew"
	BasePackages = "base-packages"
	AndroidSDK   = "android-sdk"
	Toolchain    = "toolchain"
	Automation   = "automation"
	ShellProfile = "shell-profile"
	Power        = "power"
	RemoteAccess = "remote-access"
	Network      = "network"
)

// heavyStages move to PARALLEL_GROUP_A when ParallelHeavy is set.
var heavyStages = []string{AndroidSDK, Toolchain}

// Deps are the collaborators stage functions close over.
type Deps struct {
	Config    *config.RunConfig
	Runner    execute.Runner
	Installer *installer.Adapter
	// Network is nil when the network stage is disabled.
	Network *netorder.SafetyNet
	Logger  *zap.Logger
	// Sleep is the retry backoff; nil means a real timer.
	Sleep execute.SleepFunc
}

// retryPolicy is the tool-install schedule. Unlike package installs it
// gives up early on errors another attempt cannot fix.
func (d Deps) retryPolicy() execute.RetryPolicy {
	return execute.RetryPolicy{
		Attempts:  installer.DefaultAttempts,
		Delay:     installer.DefaultDelay,
		Sleep:     d.Sleep,
		Retryable: kiln_err.IsRetryable,
	}
}

func (d Deps) log(stageName string) *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger.With(zap.String("stage", stageName))
}

// Pipeline returns the stage table in declared order with the run's
// scheduling policy applied.
func Pipeline(d Deps) ([]stage.Stage, error) {
	cfg := d.Config
	plan := []stage.Stage{
		{
			Name:        Homebrew,
			Description: "Homebrew package manager",
			Action:      d.ensureHomebrew,
		},
		{
			Name:        BasePackages,
			Description: "base formulae and casks",
			DependsOn:   []string{Homebrew},
			Action:      d.ensureBasePackages,
		},
		{
			Name:        AndroidSDK,
			Description: "Android SDK components",
			DependsOn:   []string{BasePackages},
			Enabled:     func(c *config.RunConfig) bool { return c.InstallAndroid },
			Probe:       d.androidComponentsPresent,
			Action:      d.installAndroidSDK,
		},
		{
			Name:        Toolchain,
			Description: "native compiler toolchain",
			DependsOn:   []string{BasePackages},
			Enabled:     func(c *config.RunConfig) bool { return c.InstallToolchain },
			Action:      d.installToolchain,
		},
		{
			Name:        Automation,
			Description: "mobile automation framework",
			DependsOn:   []string{Toolchain},
			Enabled:     func(c *config.RunConfig) bool { return c.InstallAutomation },
			Probe:       d.automationPresent,
			Action:      d.installAutomation,
		},
		{
			Name:        ShellProfile,
			Description: "Android environment in the login shell profile",
			DependsOn:   []string{AndroidSDK},
			Optional:    true,
			Enabled:     func(c *config.RunConfig) bool { return c.InstallAndroid },
			Probe:       d.shellProfilePatched,
			Action:      d.patchShellProfile,
		},
		{
			Name:        Power,
			Description: "disable sleep",
			Optional:    true,
			Enabled:     func(c *config.RunConfig) bool { return c.ConfigurePower },
			Probe:       d.sleepDisabled,
			Action:      d.disableSleep,
		},
		{
			Name:        RemoteAccess,
			Description: "enable remote login",
			Optional:    true,
			Enabled:     func(c *config.RunConfig) bool { return c.ConfigureSSH },
			Probe:       d.remoteLoginEnabled,
			Action:      d.enableRemoteLogin,
		},
		{
			Name:        Network,
			Description: "network service order",
			Optional:    true,
			Enabled:     func(c *config.RunConfig) bool { return c.ConfigureNetwork },
			Probe:       d.networkOrdered,
			Action:      d.reorderNetwork,
		},
	}

	if err := ApplyPolicies(plan, cfg); err != nil {
		return nil, err
	}
	return plan, nil
}

// ApplyPolicies sets concurrency groups and optionality from the run
// config. ParallelHeavy applies first so explicit per-stage policies win.
func ApplyPolicies(plan []stage.Stage, cfg *config.RunConfig) error {
	byName := make(map[string]*stage.Stage, len(plan))
	for i := range plan {
		byName[plan[i].Name] = &plan[i]
	}

	if cfg.ParallelHeavy {
		for _, name := range heavyStages {
			if st, ok := byName[name]; ok {
				st.Group = stage.ParallelGroupA
			}
		}
	}

	for name, policy := range cfg.StagePolicies {
		st, ok := byName[name]
		if !ok {
			return kiln_err.NewValidationError(fmt.Sprintf("policy for unknown stage %q", name), nil)
		}
		if policy.Group != "" {
			g, err := stage.ParseGroup(policy.Group)
			if err != nil {
				return kiln_err.NewValidationError("stage policy "+name, err)
			}
			st.Group = g
		}
		if policy.Optional != nil {
			st.Optional = *policy.Optional
		}
	}
	return nil
}

// Names lists the stage names in declared order.
func Names(plan []stage.Stage) []string {
	out := make([]string, 0, len(plan))
	for _, st := range plan {
		out = append(out, st.Name)
	}
	return out
}
