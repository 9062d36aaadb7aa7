// pkg/config/flags.go

package config

import (
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Flag and viper keys.
const (
	KeyConfigFile        = "config"
	KeyEnvFile           = "env-file"
	KeyInstallAndroid    = "install-android"
	KeyInstallToolchain  = "install-toolchain"
	KeyInstallAutomation = "install-automation"
	KeyConfigureSSH      = "configure-ssh"
	KeyConfigurePower    = "configure-power"
	KeyConfigureNetwork  = "configure-network"
	KeyOffline           = "offline"
	KeyLogLevel          = "log-level"
	KeyLogFile           = "log-file"
	KeyInteractive       = "interactive"
	KeyParallelHeavy     = "parallel-heavy"
	KeyAndroidSDKRoot    = "android-sdk-root"
	KeyHeartbeat         = "heartbeat-interval"
	KeyRestorePoint      = "restore-point"
	KeyProbeAddress      = "probe-address"
)

// EnvPrefix is prepended to every environment variable kiln reads.
const EnvPrefix = "KILN"

// AddRunFlags registers every RunConfig toggle on cmd. Defaults live in
// SetDefaults; the flag defaults only matter for --help output.
func AddRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String(KeyConfigFile, "", "YAML config file (stage policies, package sets)")
	f.String(KeyEnvFile, "", "dotenv file loaded before KILN_* variables are read")
	f.Bool(KeyInstallAndroid, true, "install the Android SDK")
	f.Bool(KeyInstallToolchain, true, "install the native compiler toolchain")
	f.Bool(KeyInstallAutomation, true, "install the mobile automation framework")
	f.Bool(KeyConfigureSSH, true, "enable remote login")
	f.Bool(KeyConfigurePower, true, "disable sleep for unattended use")
	f.Bool(KeyConfigureNetwork, false, "reorder network services (internal uplink first)")
	f.Bool(KeyOffline, false, "skip every step that needs the network")
	f.String(KeyLogLevel, string(LogLevelInfo), "log level: DEBUG, INFO, WARN or ERROR")
	f.String(KeyLogFile, "", "structured log file path")
	f.Bool(KeyInteractive, false, "prompt for choices instead of auto-detecting")
	f.Bool(KeyParallelHeavy, false, "run the Android SDK and toolchain stages concurrently")
	f.String(KeyAndroidSDKRoot, "", "Android SDK root")
	f.Duration(KeyHeartbeat, 0, "sudo keep-alive interval")
	f.String(KeyRestorePoint, "", "network restore point file")
	f.String(KeyProbeAddress, "", "host:port used for connectivity probes")
}

// BindFlagsToViper binds all flags on a command to a Viper instance.
func BindFlagsToViper(cmd *cobra.Command, v *viper.Viper) error {
	var result error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if err := v.BindPFlag(f.Name, f); err != nil {
			result = multierror.Append(result, err)
		}
	})
	return result
}

// SetViperEnvPrefix lets Viper read env with prefix, dashes mapped to underscores.
func SetViperEnvPrefix(v *viper.Viper, prefix string) {
	v.SetEnvPrefix(prefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
}
