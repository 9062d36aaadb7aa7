// pkg/installer/adapter.go

package installer

import (
	"context"
	"fmt"
	"time"

	"github.com/CodeMonkeyCybersecurity/kiln/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/kiln_err"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/telemetry"
	cerr "github.com/cockroachdb/errors"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	DefaultAttempts = 3
	DefaultDelay    = 2 * time.Second
	// breakerThreshold is the number of consecutive failed packages that
	// opens the circuit.
	breakerThreshold = 3
)

// Adapter puts probe, retry and offline semantics in front of a Backend.
type Adapter struct {
	backend Backend
	offline bool
	logger  *zap.Logger
	retry   execute.RetryPolicy
	breaker *gobreaker.CircuitBreaker
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the adapter logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// WithSleep replaces the backoff sleep, mainly for tests.
func WithSleep(s execute.SleepFunc) Option {
	return func(a *Adapter) { a.retry.Sleep = s }
}

// WithRetry overrides the attempt count and backoff delay.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(a *Adapter) {
		a.retry.Attempts = attempts
		a.retry.Delay = delay
	}
}

// NewAdapter returns an Adapter. In offline mode the backend is never called.
func NewAdapter(backend Backend, offline bool, opts ...Option) *Adapter {
	a := &Adapter{
		backend: backend,
		offline: offline,
		logger:  zap.NewNop(),
		retry: execute.RetryPolicy{
			Attempts: DefaultAttempts,
			Delay:    DefaultDelay,
			Sleep:    execute.ContextSleep,
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	a.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "installer",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= breakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			a.logger.Warn("Installer circuit state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return a
}

// Offline reports whether the adapter short-circuits every call.
func (a *Adapter) Offline() bool { return a.offline }

// Ensure makes sure a formula is installed.
func (a *Adapter) Ensure(ctx context.Context, name string) (Outcome, error) {
	return a.EnsurePackage(ctx, Package{Name: name, Kind: Formula})
}

// EnsureCask makes sure a cask is installed.
func (a *Adapter) EnsureCask(ctx context.Context, name string) (Outcome, error) {
	return a.EnsurePackage(ctx, Package{Name: name, Kind: Cask})
}

// EnsurePackage probes for pkg and installs it when absent, retrying with a
// fixed backoff. An already-present package causes no side effect.
func (a *Adapter) EnsurePackage(ctx context.Context, pkg Package) (Outcome, error) {
	log := a.logger.With(zap.String("package", pkg.Name), zap.Stringer("kind", pkg.Kind))

	if a.offline {
		log.Debug("Offline mode, package not checked")
		return Skipped, nil
	}

	ctx, span := telemetry.Start(ctx, "installer.Ensure",
		attribute.String("package", pkg.Name),
		attribute.String("kind", pkg.Kind.String()))
	defer span.End()

	present, err := a.backend.IsInstalled(ctx, pkg)
	if err != nil {
		span.RecordError(err)
		return 0, kiln_err.NewDependencyError(pkg.Name, "probe", err)
	}
	if present {
		log.Debug("Package already present")
		span.SetAttributes(attribute.String("outcome", AlreadyPresent.String()))
		return AlreadyPresent, nil
	}

	log.Info("Installing package")
	attempts := 0
	_, err = a.breaker.Execute(func() (interface{}, error) {
		n, rerr := execute.Retry(ctx, log, a.retry, "install "+pkg.Name, func(int) error {
			return a.backend.Install(ctx, pkg)
		})
		attempts = n
		return nil, rerr
	})
	if err != nil {
		span.RecordError(err)
		if cerr.Is(err, gobreaker.ErrOpenState) || cerr.Is(err, gobreaker.ErrTooManyRequests) {
			return 0, kiln_err.NewDependencyError(pkg.Name, "install", err,
				"Several packages failed in a row; check connectivity and run `brew doctor`.")
		}
		return 0, kiln_err.NewDependencyError(pkg.Name, fmt.Sprintf("install after %d attempts", attempts), err,
			fmt.Sprintf("Run `brew install %s` manually to see the full output.", caskFlag(pkg)+pkg.Name))
	}

	log.Info("Package installed", zap.Int("attempts", attempts))
	span.SetAttributes(attribute.String("outcome", Installed.String()))
	return Installed, nil
}

// EnsureAll ensures every package in order and stops at the first failure.
// It returns the number of packages actually installed.
func (a *Adapter) EnsureAll(ctx context.Context, pkgs ...Package) (int, error) {
	installed := 0
	for _, p := range pkgs {
		out, err := a.EnsurePackage(ctx, p)
		if err != nil {
			return installed, err
		}
		if out == Installed {
			installed++
		}
	}
	return installed, nil
}

// EnsureBackend installs the package manager itself when the backend
// supports bootstrapping.
func (a *Adapter) EnsureBackend(ctx context.Context) (Outcome, error) {
	b, ok := a.backend.(Bootstrapper)
	if !ok {
		return AlreadyPresent, nil
	}
	if b.Present(ctx) {
		a.logger.Info("Package manager already installed")
		return AlreadyPresent, nil
	}
	if a.offline {
		a.logger.Warn("Package manager missing but offline mode is on")
		return Skipped, nil
	}

	a.logger.Info("Bootstrapping package manager")
	if _, err := execute.Retry(ctx, a.logger, a.retry, "bootstrap", func(int) error {
		return b.Bootstrap(ctx)
	}); err != nil {
		return 0, cerr.WithHint(
			kiln_err.NewDependencyError("homebrew", "bootstrap", err),
			"please install manually from https://brew.sh",
		)
	}
	return Installed, nil
}

// Formulae builds formula packages from names.
func Formulae(names ...string) []Package {
	out := make([]Package, 0, len(names))
	for _, n := range names {
		out = append(out, Package{Name: n, Kind: Formula})
	}
	return out
}

// Casks builds cask packages from names.
func Casks(names ...string) []Package {
	out := make([]Package, 0, len(names))
	for _, n := range names {
		out = append(out, Package{Name: n, Kind: Cask})
	}
	return out
}

func caskFlag(p Package) string {
	if p.Kind == Cask {
		return "--cask "
	}
	return ""
}
