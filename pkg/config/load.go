// pkg/config/load.go

package config

import (
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/CodeMonkeyCybersecurity/kiln/pkg/kiln_err"
	cerr "github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// isTerminal is swapped in tests.
var isTerminal = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// SetDefaults installs kiln's defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyInstallAndroid, true)
	v.SetDefault(KeyInstallToolchain, true)
	v.SetDefault(KeyInstallAutomation, true)
	v.SetDefault(KeyConfigureSSH, true)
	v.SetDefault(KeyConfigurePower, true)
	v.SetDefault(KeyConfigureNetwork, false)
	v.SetDefault(KeyOffline, false)
	v.SetDefault(KeyLogLevel, string(LogLevelInfo))
	v.SetDefault(KeyLogFile, DefaultLogPath())
	v.SetDefault(KeyInteractive, isTerminal())
	v.SetDefault(KeyParallelHeavy, false)
	v.SetDefault(KeyAndroidSDKRoot, filepath.Join(homeDir(), "Library", "Android", "sdk"))
	v.SetDefault(KeyHeartbeat, 60*time.Second)
	v.SetDefault(KeyRestorePoint, DefaultRestorePointPath())
	v.SetDefault(KeyProbeAddress, "captive.apple.com:443")

	v.SetDefault("android.components", []string{
		"platform-tools",
		"platforms;android-34",
		"build-tools;34.0.0",
		"emulator",
	})
	v.SetDefault("android.casks", []string{"temurin@17", "android-commandlinetools"})
	v.SetDefault("packages.base", []string{"git", "jq", "wget", "coreutils"})
	v.SetDefault("packages.base-casks", []string{})
	v.SetDefault("packages.toolchain", []string{"cmake", "ninja", "llvm"})
	v.SetDefault("packages.automation", []string{"node"})
	v.SetDefault("appium.drivers", []string{"uiautomator2", "xcuitest"})
	v.SetDefault("shell-profile", filepath.Join(homeDir(), ".zprofile"))
	v.SetDefault("session.drop-on-release", true)
	v.SetDefault("network.probe-timeout", 5*time.Second)
	v.SetDefault("network.internet-pattern", `(?i)wi-?fi|airport|wireless|wlan`)
	v.SetDefault("network.internal-pattern", `(?i)ethernet|thunderbolt|\blan\b|usb.*lan`)
}

// Load builds the RunConfig from defaults, an optional dotenv file, KILN_*
// environment variables, an optional config file and bound flags, in
// ascending order of precedence.
func Load(v *viper.Viper) (*RunConfig, error) {
	SetDefaults(v)
	SetViperEnvPrefix(v, EnvPrefix)

	if envFile := v.GetString(KeyEnvFile); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, kiln_err.NewValidationError("cannot load env file "+envFile, err,
				"check the --env-file path")
		}
	}

	if cfgFile := v.GetString(KeyConfigFile); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, kiln_err.NewValidationError("cannot read config file "+cfgFile, err,
				"check the --config path and YAML syntax")
		}
	}

	policies := map[string]StagePolicy{}
	if err := v.UnmarshalKey("stages", &policies); err != nil {
		return nil, kiln_err.NewValidationError("invalid stages section", err)
	}

	cfg := &RunConfig{
		RunID:             uuid.NewString(),
		InstallAndroid:    v.GetBool(KeyInstallAndroid),
		InstallToolchain:  v.GetBool(KeyInstallToolchain),
		InstallAutomation: v.GetBool(KeyInstallAutomation),
		ConfigureSSH:      v.GetBool(KeyConfigureSSH),
		ConfigurePower:    v.GetBool(KeyConfigurePower),
		ConfigureNetwork:  v.GetBool(KeyConfigureNetwork),
		OfflineMode:       v.GetBool(KeyOffline),
		LogLevel:          LogLevel(v.GetString(KeyLogLevel)),
		LogFile:           v.GetString(KeyLogFile),
		Interactive:       v.GetBool(KeyInteractive),
		ParallelHeavy:     v.GetBool(KeyParallelHeavy),
		StagePolicies:     policies,
		Android: AndroidConfig{
			SDKRoot:    v.GetString(KeyAndroidSDKRoot),
			Components: v.GetStringSlice("android.components"),
			Casks:      v.GetStringSlice("android.casks"),
		},
		Packages: PackageSets{
			Base:       v.GetStringSlice("packages.base"),
			BaseCasks:  v.GetStringSlice("packages.base-casks"),
			Toolchain:  v.GetStringSlice("packages.toolchain"),
			Automation: v.GetStringSlice("packages.automation"),
		},
		AppiumDrivers:    v.GetStringSlice("appium.drivers"),
		ShellProfilePath: v.GetString("shell-profile"),
		Session: SessionConfig{
			HeartbeatInterval: v.GetDuration(KeyHeartbeat),
			DropOnRelease:     v.GetBool("session.drop-on-release"),
		},
		Network: NetworkConfig{
			RestorePointPath: v.GetString(KeyRestorePoint),
			ProbeAddress:     v.GetString(KeyProbeAddress),
			ProbeTimeout:     v.GetDuration("network.probe-timeout"),
			InternetPattern:  v.GetString("network.internet-pattern"),
			InternalPattern:  v.GetString("network.internal-pattern"),
		},
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate runs struct-tag validation and compiles the service patterns.
func Validate(cfg *RunConfig) error {
	if err := validator.New().Struct(cfg); err != nil {
		return kiln_err.WrapValidationError(
			kiln_err.NewValidationError("invalid run configuration", err))
	}
	for name, pattern := range map[string]string{
		"network.internet-pattern": cfg.Network.InternetPattern,
		"network.internal-pattern": cfg.Network.InternalPattern,
	} {
		if _, err := regexp.Compile(pattern); err != nil {
			return kiln_err.WrapValidationError(
				kiln_err.NewValidationError(name+" is not a valid regular expression", err))
		}
	}
	return nil
}

// MustDefault returns the default configuration. Tests and the plan command
// use it; provisioning always goes through Load.
func MustDefault() *RunConfig {
	cfg, err := Load(viper.New())
	if err != nil {
		panic(cerr.Wrap(err, "default configuration is invalid"))
	}
	return cfg
}
