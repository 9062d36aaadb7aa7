// pkg/session/guard.go
//
// Elevated-privilege session for a provisioning run. The guard owns the
// sudo credential: it prompts once, keeps the cached credential fresh while
// stages run, and drops it when the run ends. Stages only ever run
// non-interactive `sudo -n` commands.

package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CodeMonkeyCybersecurity/kiln/pkg/config"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/kiln_err"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	DefaultHeartbeatInterval = 60 * time.Second
	acquireTimeout           = 2 * time.Minute
	refreshTimeout           = 15 * time.Second
)

// Guard is the acquire, heartbeat, release lifecycle. One per run.
type Guard struct {
	runner        execute.Runner
	logger        *zap.Logger
	interval      time.Duration
	dropOnRelease bool
	geteuid       func() int

	valid    atomic.Bool
	released atomic.Bool
	acquired atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets the guard logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

// WithEUID replaces the effective uid lookup.
func WithEUID(f func() int) Option {
	return func(g *Guard) { g.geteuid = f }
}

// New returns an unacquired Guard.
func New(r execute.Runner, cfg config.SessionConfig, opts ...Option) *Guard {
	g := &Guard{
		runner:        r,
		logger:        zap.NewNop(),
		interval:      cfg.HeartbeatInterval,
		dropOnRelease: cfg.DropOnRelease,
		geteuid:       unix.Geteuid,
	}
	if g.interval <= 0 {
		g.interval = DefaultHeartbeatInterval
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Acquire prompts for the credential and starts the heartbeat. The
// heartbeat stops when ctx is cancelled or Release is called.
func (g *Guard) Acquire(ctx context.Context) error {
	ctx, span := telemetry.Start(ctx, "session.Acquire")
	defer span.End()

	if g.geteuid() == 0 {
		return kiln_err.NewFatalError(kiln_err.CategoryPermission,
			"refusing to open a privileged session as root", nil,
			"Run kiln as a regular administrator account.")
	}

	g.logger.Info("Requesting administrator credentials")
	if _, err := g.runner.Run(ctx, execute.Options{
		Command: "sudo",
		Args:    []string{"-v"},
		Timeout: acquireTimeout,
		Logger:  g.logger,
	}); err != nil {
		span.RecordError(err)
		return kiln_err.NewFatalError(kiln_err.CategoryPermission,
			"elevated session refused", err,
			"Make sure your account is an administrator and enter your password when prompted.")
	}

	g.valid.Store(true)
	g.acquired.Store(true)
	span.SetAttributes(attribute.String("heartbeat", g.interval.String()))

	hbCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.done = make(chan struct{})
	go g.heartbeat(hbCtx)

	g.logger.Info("Privileged session acquired", zap.Duration("heartbeat_interval", g.interval))
	return nil
}

func (g *Guard) heartbeat(ctx context.Context) {
	defer close(g.done)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := g.runner.Run(ctx, execute.Options{
				Command: "sudo",
				Args:    []string{"-n", "-v"},
				Timeout: refreshTimeout,
				Logger:  g.logger,
			})
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				if g.valid.Swap(false) {
					g.logger.Warn("Privileged session refresh failed; later privileged steps may fail", zap.Error(err))
				}
				continue
			}
			if !g.valid.Swap(true) {
				g.logger.Info("Privileged session refreshed again")
			}
		}
	}
}

// Valid reports whether the last acquisition or refresh succeeded and the
// guard has not been released.
func (g *Guard) Valid() bool {
	return g.valid.Load() && !g.released.Load()
}

// Release stops the heartbeat and optionally drops the cached credential.
// It is safe to call from any path and runs exactly once.
func (g *Guard) Release() {
	g.once.Do(func() {
		g.released.Store(true)
		if g.cancel != nil {
			g.cancel()
			<-g.done
		}
		if !g.acquired.Load() {
			return
		}
		if g.dropOnRelease {
			ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
			defer cancel()
			if _, err := g.runner.Run(ctx, execute.Options{
				Command: "sudo",
				Args:    []string{"-k"},
				Logger:  g.logger,
			}); err != nil {
				g.logger.Warn("Failed to drop cached credentials", zap.Error(err))
			}
		}
		g.logger.Info("Privileged session released")
	})
}
