// pkg/provision/controller.go

package provision

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/CodeMonkeyCybersecurity/kiln/pkg/config"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/installer"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/interaction"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/kiln_cli"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/kiln_err"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/logger"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/netorder"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/preflight"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/scheduler"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/session"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/stage"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/stages"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Controller owns one provisioning run from preconditions to summary.
type Controller struct {
	cfg        *config.RunConfig
	runner     execute.Runner
	logger     *zap.Logger
	out        io.Writer
	geteuid    func() int
	tccPath    string
	sleep      execute.SleepFunc
	selector   netorder.Selector
	probe      netorder.ProbeFunc
	signalOpts []kiln_cli.SignalOption

	report   *stage.Report
	fatalErr error
}

// Option configures a Controller.
type Option func(*Controller)

// WithRunner replaces the command runner.
func WithRunner(r execute.Runner) Option {
	return func(c *Controller) { c.runner = r }
}

// WithLogger sets the run logger. Fatal entries on it never terminate the
// process.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithOutput sets where the summary table is printed.
func WithOutput(w io.Writer) Option {
	return func(c *Controller) { c.out = w }
}

// WithEUID replaces the effective uid lookup.
func WithEUID(f func() int) Option {
	return func(c *Controller) { c.geteuid = f }
}

// WithTCCPath points the Full Disk Access probe at another database.
func WithTCCPath(p string) Option {
	return func(c *Controller) { c.tccPath = p }
}

// WithSleep replaces the retry backoff.
func WithSleep(s execute.SleepFunc) Option {
	return func(c *Controller) { c.sleep = s }
}

// WithSelector sets the operator prompt used to classify network services.
func WithSelector(s netorder.Selector) Option {
	return func(c *Controller) { c.selector = s }
}

// WithNetworkProbe replaces the reachability probe run by the network exit
// handler.
func WithNetworkProbe(p netorder.ProbeFunc) Option {
	return func(c *Controller) { c.probe = p }
}

// WithSignalOptions passes options to the run's signal handler.
func WithSignalOptions(opts ...kiln_cli.SignalOption) Option {
	return func(c *Controller) { c.signalOpts = append(c.signalOpts, opts...) }
}

// New returns a Controller for cfg.
func New(cfg *config.RunConfig, opts ...Option) *Controller {
	c := &Controller{
		cfg:    cfg,
		runner: execute.New(),
		logger: logger.L(),
		out:    os.Stdout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithOptions(zap.WithFatalHook(logger.DeferredExit)).
		With(zap.String("run_id", cfg.RunID))
	return c
}

// Report returns the stage report of the last run, nil if no stage ran.
func (c *Controller) Report() *stage.Report { return c.report }

// Err returns the error that decided the last run's exit code.
func (c *Controller) Err() error {
	if c.fatalErr != nil {
		return c.fatalErr
	}
	if c.report != nil {
		return c.report.Err()
	}
	return nil
}

// Run executes the run and returns the process exit code.
func (c *Controller) Run(ctx context.Context) int {
	ctx, span := telemetry.Start(ctx, "provision.Run", attribute.String("run_id", c.cfg.RunID))
	defer span.End()

	log := c.logger
	started := time.Now()
	c.report, c.fatalErr = nil, nil
	log.Info("Provisioning run starting",
		zap.Bool("offline", c.cfg.OfflineMode),
		zap.Bool("interactive", c.cfg.Interactive),
		zap.Bool("parallel_heavy", c.cfg.ParallelHeavy))

	cfg, fdaErr, err := c.preflight(ctx)
	if err != nil {
		return c.fatal(err)
	}

	handler := kiln_cli.NewSignalHandler(ctx,
		append([]kiln_cli.SignalOption{kiln_cli.WithSignalLogger(log)}, c.signalOpts...)...)
	defer handler.Stop()

	sessionOpts := []session.Option{session.WithLogger(log)}
	if c.geteuid != nil {
		sessionOpts = append(sessionOpts, session.WithEUID(c.geteuid))
	}
	guard := session.New(c.runner, cfg.Session, sessionOpts...)
	if err := guard.Acquire(handler.Context()); err != nil {
		return c.fatal(err)
	}
	// LIFO: the network handler runs first, while the session is still valid.
	handler.RegisterCleanup("session", func(context.Context) error {
		guard.Release()
		return nil
	})

	safety := c.safetyNet(cfg)
	if safety != nil {
		handler.RegisterCleanup("network", func(ctx context.Context) error {
			safety.Finalize(ctx, guard.Valid())
			return nil
		})
	}

	deps := stages.Deps{
		Config: cfg,
		Runner: c.runner,
		Installer: installer.NewAdapter(installer.NewHomebrew(c.runner, log), cfg.OfflineMode,
			installer.WithLogger(log), installer.WithSleep(c.sleep)),
		Logger: log,
		Sleep:  c.sleep,
	}
	if cfg.ConfigureNetwork {
		deps.Network = safety
	}

	plan, err := stages.Pipeline(deps)
	if err != nil {
		_ = handler.RunCleanup()
		return c.fatal(err)
	}

	report, err := scheduler.New(cfg, log).Run(ctx, plan)
	if err != nil {
		_ = handler.RunCleanup()
		return c.fatal(err)
	}
	c.report = report

	if err := handler.RunCleanup(); err != nil {
		log.Warn("Exit handlers reported errors", zap.Error(err))
	}

	if fdaErr != nil {
		c.warnFullDiskAccess(fdaErr)
	}

	code := report.ExitCode()
	c.printSummary(report)
	span.SetAttributes(attribute.Int("exit_code", code))

	fields := []zap.Field{
		zap.Int("exit_code", code),
		zap.Int("succeeded", report.Count(stage.Succeeded)),
		zap.Int("skipped", report.Count(stage.Skipped)),
		zap.Int("failed", report.Count(stage.Failed)),
		zap.Duration("duration", time.Since(started)),
	}
	if code != 0 {
		log.Error("Provisioning run failed", append(fields, zap.Error(report.Err()))...)
	} else {
		log.Info("Provisioning run complete", fields...)
	}
	return code
}

// preflight runs the run-level checks. It returns the effective config
// (offline when connectivity failed) and the Full Disk Access warning, if
// any, so it can be repeated at the end.
func (c *Controller) preflight(ctx context.Context) (cfg *config.RunConfig, fdaErr error, err error) {
	checks := []preflight.Check{
		preflight.NotRoot(c.geteuid),
		preflight.FullDiskAccess(c.tccPath),
	}
	if !c.cfg.OfflineMode {
		checks = append(checks, preflight.Connectivity(c.cfg.Network.ProbeAddress, c.cfg.Network.ProbeTimeout))
	}

	results, err := preflight.RunChecks(ctx, checks)
	if err != nil {
		return nil, nil, err
	}

	for _, r := range results {
		if r.Name == preflight.CheckFullDiskAccess && !r.Passed {
			fdaErr = r.Error
			c.warnFullDiskAccess(fdaErr)
		}
	}

	cfg = c.cfg
	if !cfg.OfflineMode && !preflight.Passed(results, preflight.CheckConnectivity) {
		c.logger.Warn("Network unreachable, continuing in offline mode",
			zap.String("probe", cfg.Network.ProbeAddress))
		cfg = cfg.WithOffline()
	}
	return cfg, fdaErr, nil
}

func (c *Controller) warnFullDiskAccess(err error) {
	fields := []zap.Field{zap.Error(err)}
	var classified *kiln_err.ClassifiedError
	if errors.As(err, &classified) {
		fields = append(fields, zap.Strings("remediation", classified.Remediation))
	}
	c.logger.Warn("Full Disk Access not granted; remote login may not be configurable", fields...)
}

// safetyNet always builds the network safety net so a restore point left
// by an interrupted run is cleaned up, even when the network stage is off.
func (c *Controller) safetyNet(cfg *config.RunConfig) *netorder.SafetyNet {
	opts := []netorder.Option{netorder.WithLogger(c.logger)}
	switch {
	case c.selector != nil:
		opts = append(opts, netorder.WithSelector(c.selector))
	case cfg.Interactive && interaction.IsInteractive():
		opts = append(opts, netorder.WithSelector(interaction.Stdio()))
	}
	if c.probe != nil {
		opts = append(opts, netorder.WithProbe(c.probe))
	}

	tool := netorder.NetworkSetup{Runner: c.runner, Logger: c.logger}
	safety, err := netorder.New(tool, cfg.Network, cfg.RunID, opts...)
	if err != nil {
		c.logger.Warn("Network safety net unavailable; network stage will be skipped", zap.Error(err))
		return nil
	}
	return safety
}

// fatal logs exactly one FATAL entry and returns the error's exit code. The
// logger's fatal hook does not exit, so deferred releases still run.
func (c *Controller) fatal(err error) int {
	c.fatalErr = err
	fields := []zap.Field{zap.Error(err)}
	var classified *kiln_err.ClassifiedError
	if errors.As(err, &classified) && len(classified.Remediation) > 0 {
		fields = append(fields, zap.Strings("remediation", classified.Remediation))
	}
	c.logger.Fatal("Provisioning aborted", fields...)

	code := kiln_err.GetExitCode(err)
	if code == 0 {
		code = 1
	}
	return code
}
