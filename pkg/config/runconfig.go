// pkg/config/runconfig.go

package config

import (
	"os"
	"path/filepath"
	"time"
)

// LogLevel is the verbosity selector exposed to operators.
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// Concurrency group names accepted in stage policies.
const (
	GroupSequential = "sequential"
	GroupParallelA  = "parallel-a"
	GroupParallelB  = "parallel-b"
)

// StagePolicy overrides the scheduling attributes of one stage.
type StagePolicy struct {
	Group    string `mapstructure:"group" yaml:"group" validate:"omitempty,oneof=sequential parallel-a parallel-b"`
	Optional *bool  `mapstructure:"optional" yaml:"optional"`
}

// AndroidConfig describes the SDK root and the components sdkmanager installs.
type AndroidConfig struct {
	SDKRoot    string   `validate:"required"`
	Components []string `validate:"min=1,dive,required"`
	Casks      []string `validate:"dive,required"`
}

// PackageSets lists the Homebrew formulae and casks per stage.
type PackageSets struct {
	Base       []string `validate:"dive,required"`
	BaseCasks  []string `validate:"dive,required"`
	Toolchain  []string `validate:"dive,required"`
	Automation []string `validate:"dive,required"`
}

// SessionConfig tunes the elevated-privilege session.
type SessionConfig struct {
	HeartbeatInterval time.Duration `validate:"min=1s"`
	DropOnRelease     bool
}

// NetworkConfig tunes the network reorder stage and the connectivity probe.
type NetworkConfig struct {
	RestorePointPath string        `validate:"required"`
	ProbeAddress     string        `validate:"required,hostname_port"`
	ProbeTimeout     time.Duration `validate:"min=100ms"`
	InternetPattern  string        `validate:"required"`
	InternalPattern  string        `validate:"required"`
}

// RunConfig is the immutable configuration for one invocation. It is built
// once by Load and handed to every stage by pointer; nothing downstream
// reads flags or environment variables directly.
type RunConfig struct {
	RunID string `validate:"required"`

	InstallAndroid    bool
	InstallToolchain  bool
	InstallAutomation bool
	ConfigureSSH      bool
	ConfigurePower    bool
	ConfigureNetwork  bool
	OfflineMode       bool

	LogLevel LogLevel `validate:"oneof=DEBUG INFO WARN ERROR"`
	LogFile  string

	Interactive   bool
	ParallelHeavy bool
	StagePolicies map[string]StagePolicy `validate:"dive"`

	Android          AndroidConfig
	Packages         PackageSets
	AppiumDrivers    []string `validate:"dive,required"`
	ShellProfilePath string   `validate:"required"`
	Session          SessionConfig
	Network          NetworkConfig
}

// WithOffline returns a copy of the config with OfflineMode forced on. The
// receiver is left untouched.
func (c *RunConfig) WithOffline() *RunConfig {
	cp := *c
	cp.OfflineMode = true
	return &cp
}

func homeDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return h
	}
	return "."
}

// stateDir mirrors the XDG state layout used for logs and restore points.
func stateDir() string {
	if d := os.Getenv("XDG_STATE_HOME"); d != "" {
		return filepath.Join(d, "kiln")
	}
	return filepath.Join(homeDir(), ".local", "state", "kiln")
}

// DefaultRestorePointPath is where the network stage persists the service order.
func DefaultRestorePointPath() string {
	return filepath.Join(stateDir(), "network-restore.yaml")
}

// DefaultLogPath is the preferred structured log location.
func DefaultLogPath() string {
	return filepath.Join(stateDir(), "kiln.log")
}
