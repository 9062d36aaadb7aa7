package provision

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/kiln/pkg/config"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/kiln_cli"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/netorder"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/stage"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/stages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func noSleep(context.Context, time.Duration) error { return nil }

// reachable returns an address that accepts TCP connections.
func reachable(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	return ln.Addr().String()
}

// unreachable returns an address nothing listens on.
func unreachable(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func testConfig(t *testing.T) *config.RunConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := config.MustDefault()
	cfg.RunID = "run-test"
	cfg.Interactive = false
	cfg.LogFile = filepath.Join(dir, "kiln.log")
	cfg.Android.SDKRoot = filepath.Join(dir, "sdk")
	cfg.ShellProfilePath = filepath.Join(dir, "home", ".zprofile")
	cfg.Network.RestorePointPath = filepath.Join(dir, "state", "network-restore.yaml")
	cfg.Network.ProbeAddress = reachable(t)
	cfg.Network.ProbeTimeout = 500 * time.Millisecond
	cfg.StagePolicies = nil
	cfg.ParallelHeavy = false
	cfg.ConfigureNetwork = false
	cfg.ConfigurePower = false
	cfg.ConfigureSSH = false
	return cfg
}

func installAndroidComponents(t *testing.T, cfg *config.RunConfig) {
	t.Helper()
	for _, c := range cfg.Android.Components {
		require.NoError(t, os.MkdirAll(stages.ComponentPath(cfg.Android.SDKRoot, c), 0o755))
	}
}

type harness struct {
	runner *execute.FakeRunner
	logs   *observer.ObservedLogs
	out    *bytes.Buffer
	euid   int
}

func newHarness() *harness {
	return &harness{runner: execute.NewFakeRunner(), out: &bytes.Buffer{}, euid: 501}
}

func (h *harness) controller(t *testing.T, cfg *config.RunConfig, extra ...Option) *Controller {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	h.logs = logs
	opts := []Option{
		WithRunner(h.runner),
		WithLogger(zap.New(core)),
		WithOutput(h.out),
		WithEUID(func() int { return h.euid }),
		WithTCCPath(filepath.Join(t.TempDir(), "TCC.db")),
		WithSleep(noSleep),
		WithSignalOptions(kiln_cli.WithSignalChannel(make(chan os.Signal, 1))),
	}
	return New(cfg, append(opts, extra...)...)
}

func result(t *testing.T, c *Controller, name string) stage.Result {
	t.Helper()
	require.NotNil(t, c.Report())
	res, ok := c.Report().Get(name)
	require.True(t, ok, "no result for %s", name)
	return res
}

func TestRunAndroidAlreadyPresent(t *testing.T) {
	cfg := testConfig(t)
	cfg.InstallToolchain = false
	cfg.InstallAutomation = false
	installAndroidComponents(t, cfg)

	h := newHarness()
	c := h.controller(t, cfg)

	code := c.Run(context.Background())
	require.Equal(t, 0, code, h.out.String())

	android := result(t, c, stages.AndroidSDK)
	assert.Equal(t, stage.Succeeded, android.Status)
	assert.Equal(t, "already satisfied", android.Reason)
	assert.Equal(t, stage.Skipped, result(t, c, stages.Toolchain).Status)
	assert.Equal(t, stage.Skipped, result(t, c, stages.Network).Status)

	assert.Zero(t, h.runner.Count("brew install"), "nothing may be installed")
	assert.Zero(t, h.runner.Count("sudo -n networksetup"), "network order untouched")
	assert.Equal(t, 1, h.runner.Count("sudo -v"))

	assert.Zero(t, h.logs.FilterLevelExact(zapcore.FatalLevel).Len())
	assert.Equal(t, 1, h.logs.FilterMessage("Provisioning run complete").Len())
	assert.Contains(t, h.out.String(), stages.AndroidSDK)
	assert.Contains(t, h.out.String(), "SUCCEEDED")
	assert.NoError(t, c.Err())
}

func TestRunSessionRefused(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness()
	h.runner.On("sudo -v", execute.FakeResult{Err: errors.New("exit status 1")})
	c := h.controller(t, cfg)

	code := c.Run(context.Background())

	assert.NotZero(t, code)
	assert.Nil(t, c.Report(), "no stage may run without a session")
	assert.Zero(t, h.runner.Count("brew"))
	assert.Equal(t, 1, h.logs.FilterLevelExact(zapcore.FatalLevel).Len(), "exactly one FATAL entry")
	require.Error(t, c.Err())
	assert.Contains(t, c.Err().Error(), "elevated session refused")
}

func TestRunRefusesRoot(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness()
	h.euid = 0
	c := h.controller(t, cfg)

	code := c.Run(context.Background())

	assert.Equal(t, 77, code)
	assert.Empty(t, h.runner.Calls(), "no command runs as root")
	assert.Equal(t, 1, h.logs.FilterLevelExact(zapcore.FatalLevel).Len())
}

func TestRunGoesOfflineWhenUnreachable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Network.ProbeAddress = unreachable(t)
	cfg.InstallAutomation = false

	h := newHarness()
	c := h.controller(t, cfg)

	code := c.Run(context.Background())
	require.Equal(t, 0, code, h.out.String())

	for _, name := range []string{stages.BasePackages, stages.AndroidSDK, stages.Toolchain} {
		res := result(t, c, name)
		assert.Equal(t, stage.Skipped, res.Status, name)
		assert.Equal(t, "offline mode", res.Reason, name)
	}
	assert.Zero(t, h.runner.Count("brew install"))
	assert.Zero(t, h.runner.Count("brew list"))
	assert.Equal(t, 1, h.logs.FilterMessage("Network unreachable, continuing in offline mode").Len())
	assert.False(t, cfg.OfflineMode, "the caller's config is never mutated")
}

func TestRunRequiredFailureExitsOne(t *testing.T) {
	cfg := testConfig(t)
	cfg.InstallAutomation = false
	cfg.InstallToolchain = false

	h := newHarness()
	h.runner.
		On("brew list", execute.FakeResult{Err: errors.New("Error: No such keg")}).
		On("brew install", execute.FakeResult{Err: errors.New("Error: Download failed")})
	c := h.controller(t, cfg)

	code := c.Run(context.Background())

	assert.Equal(t, 1, code)
	assert.Equal(t, stage.Failed, result(t, c, stages.BasePackages).Status)
	assert.Equal(t, stage.Skipped, result(t, c, stages.AndroidSDK).Status)
	assert.Contains(t, h.out.String(), "FAILED")
	assert.Contains(t, h.out.String(), "required stage(s) failed")
	assert.Equal(t, 1, h.logs.FilterMessage("Provisioning run failed").Len())
	assert.Zero(t, h.logs.FilterLevelExact(zapcore.FatalLevel).Len(), "stage failures are not fatal")
	assert.Error(t, c.Err())
}

func TestRunOptionalFailureKeepsExitZero(t *testing.T) {
	cfg := testConfig(t)
	cfg.InstallAndroid = false
	cfg.InstallToolchain = false
	cfg.InstallAutomation = false
	cfg.ConfigurePower = true

	h := newHarness()
	h.runner.On("sudo -n pmset", execute.FakeResult{Err: errors.New("pmset: permission denied")})
	c := h.controller(t, cfg)

	code := c.Run(context.Background())

	assert.Equal(t, 0, code)
	assert.Equal(t, stage.Failed, result(t, c, stages.Power).Status)
	assert.Contains(t, h.out.String(), "FAILED (optional)")
}

func TestRunCleansLeftoverRestorePoint(t *testing.T) {
	cfg := testConfig(t)
	cfg.InstallAndroid = false
	cfg.InstallToolchain = false
	cfg.InstallAutomation = false

	store := netorder.Store{Path: cfg.Network.RestorePointPath}
	require.NoError(t, store.Save(netorder.RestorePoint{
		RunID:    "earlier-run",
		TakenAt:  time.Now().Add(-time.Hour),
		Services: []string{"Wi-Fi", "Ethernet"},
	}))

	probed := 0
	h := newHarness()
	c := h.controller(t, cfg, WithNetworkProbe(func(context.Context) error {
		probed++
		return nil
	}))

	require.Equal(t, 0, c.Run(context.Background()))
	assert.False(t, store.Exists(), "leftover restore point is removed")
	assert.Equal(t, 1, probed)
}

func TestRunDropsCredentialLast(t *testing.T) {
	cfg := testConfig(t)
	cfg.InstallAndroid = false
	cfg.InstallToolchain = false
	cfg.InstallAutomation = false
	cfg.Session.DropOnRelease = true

	h := newHarness()
	c := h.controller(t, cfg)
	require.Equal(t, 0, c.Run(context.Background()))

	calls := h.runner.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, "sudo -k", calls[len(calls)-1], "credential dropped last")
	assert.Equal(t, 1, h.runner.Count("sudo -k"))
}

func TestRunRepeatsFullDiskAccessWarning(t *testing.T) {
	cfg := testConfig(t)
	cfg.InstallAndroid = false
	cfg.InstallToolchain = false
	cfg.InstallAutomation = false

	// A path under a regular file fails with ENOTDIR, even for root.
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	h := newHarness()
	c := h.controller(t, cfg, WithTCCPath(filepath.Join(blocker, "TCC.db")))

	require.Equal(t, 0, c.Run(context.Background()), h.out.String())
	warns := h.logs.FilterLevelExact(zapcore.WarnLevel).FilterMessageSnippet("Full Disk Access not granted")
	assert.Equal(t, 2, warns.Len(), "warned at start and at end")
	assert.Zero(t, h.logs.FilterLevelExact(zapcore.FatalLevel).Len())
}

// blockingRunner parks the network reorder until release is closed.
type blockingRunner struct {
	*execute.FakeRunner
	reordering chan struct{}
	release    chan struct{}
}

func (b *blockingRunner) Run(ctx context.Context, opts execute.Options) (string, error) {
	if strings.HasPrefix(execute.CommandLine(opts), "sudo -n networksetup -ordernetworkservices") {
		close(b.reordering)
		select {
		case <-b.release:
		case <-ctx.Done():
		}
	}
	return b.FakeRunner.Run(ctx, opts)
}

func TestRunInterruptedDuringNetworkStage(t *testing.T) {
	cfg := testConfig(t)
	cfg.InstallAndroid = false
	cfg.InstallToolchain = false
	cfg.InstallAutomation = false
	cfg.ConfigureNetwork = true
	cfg.Session.DropOnRelease = true

	h := newHarness()
	h.runner.On("networksetup -listallnetworkservices", execute.FakeResult{Output: "Wi-Fi\nThunderbolt Bridge\n"})
	runner := &blockingRunner{FakeRunner: h.runner, reordering: make(chan struct{}), release: make(chan struct{})}

	sig := make(chan os.Signal, 2)
	exits := make(chan int, 2)
	c := h.controller(t, cfg,
		WithRunner(runner),
		WithNetworkProbe(func(context.Context) error { return nil }),
		WithSignalOptions(
			kiln_cli.WithSignalChannel(sig),
			kiln_cli.WithExit(func(code int) { exits <- code }),
			kiln_cli.WithOutput(&bytes.Buffer{}),
			kiln_cli.WithCleanupTimeout(2*time.Second)))

	finished := make(chan int, 1)
	go func() { finished <- c.Run(context.Background()) }()

	select {
	case <-runner.reordering:
	case <-time.After(5 * time.Second):
		t.Fatal("network stage never started the reorder")
	}
	store := netorder.Store{Path: cfg.Network.RestorePointPath}
	require.True(t, store.Exists(), "restore point saved before the reorder")

	sig <- syscall.SIGINT
	select {
	case code := <-exits:
		assert.Equal(t, 130, code)
	case <-time.After(5 * time.Second):
		t.Fatal("interrupt never finished the exit handlers")
	}
	assert.Equal(t, 1, h.runner.Count("sudo -k"), "session released on interrupt")
	assert.False(t, store.Exists(), "restore point removed on interrupt")

	close(runner.release)
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("run never returned")
	}
	assert.Equal(t, 1, h.runner.Count("sudo -k"), "exit handlers run once")
}
