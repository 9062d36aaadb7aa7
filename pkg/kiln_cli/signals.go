// pkg/kiln_cli/signals.go
//
// Signal handling and exit handlers for a provisioning run.
// Cleanups registered here run exactly once, whether the run ends normally,
// with failed stages, or on Ctrl-C.

package kiln_cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// DefaultCleanupTimeout bounds each exit handler.
const DefaultCleanupTimeout = 30 * time.Second

// CleanupFunc is a function that performs cleanup operations
type CleanupFunc func(ctx context.Context) error

type namedCleanup struct {
	name string
	fn   CleanupFunc
}

// SignalHandler manages graceful shutdown on signals
type SignalHandler struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	out    io.Writer

	mu           sync.Mutex
	cleanupFuncs []namedCleanup

	sigChan  chan os.Signal
	notified bool
	doneChan chan struct{}
	stopOnce sync.Once

	cleanupOnce sync.Once
	cleanupErr  error
	timeout     time.Duration
	exit        func(int)
}

// SignalOption configures a SignalHandler.
type SignalOption func(*SignalHandler)

// WithSignalLogger sets the logger used for signal and cleanup events.
func WithSignalLogger(l *zap.Logger) SignalOption {
	return func(h *SignalHandler) { h.logger = l }
}

// WithExit replaces os.Exit.
func WithExit(exit func(int)) SignalOption {
	return func(h *SignalHandler) { h.exit = exit }
}

// WithSignalChannel feeds signals from ch instead of the process.
func WithSignalChannel(ch chan os.Signal) SignalOption {
	return func(h *SignalHandler) { h.sigChan = ch }
}

// WithCleanupTimeout bounds each exit handler run by RunCleanup.
func WithCleanupTimeout(d time.Duration) SignalOption {
	return func(h *SignalHandler) { h.timeout = d }
}

// WithOutput sets where operator notices are printed.
func WithOutput(w io.Writer) SignalOption {
	return func(h *SignalHandler) { h.out = w }
}

// NewSignalHandler creates a new signal handler
func NewSignalHandler(ctx context.Context, opts ...SignalOption) *SignalHandler {
	ctx, cancel := context.WithCancel(ctx)

	handler := &SignalHandler{
		ctx:      ctx,
		cancel:   cancel,
		logger:   zap.NewNop(),
		out:      os.Stderr,
		doneChan: make(chan struct{}),
		timeout:  DefaultCleanupTimeout,
		exit:     os.Exit,
	}
	for _, opt := range opts {
		opt(handler)
	}

	if handler.sigChan == nil {
		handler.sigChan = make(chan os.Signal, 2)
		signal.Notify(handler.sigChan, os.Interrupt, syscall.SIGTERM)
		handler.notified = true
	}

	go handler.handleSignals()

	return handler
}

// RegisterCleanup adds a cleanup function to be called on shutdown
// Cleanup functions are called in REVERSE order (LIFO)
func (h *SignalHandler) RegisterCleanup(name string, cleanup CleanupFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleanupFuncs = append(h.cleanupFuncs, namedCleanup{name: name, fn: cleanup})
}

// Context returns the cancellable context. It is cancelled on the first
// signal; only the heartbeat and exit handlers should watch it.
func (h *SignalHandler) Context() context.Context {
	return h.ctx
}

// handleSignals waits for signals and initiates cleanup
func (h *SignalHandler) handleSignals() {
	var sig os.Signal
	select {
	case s, ok := <-h.sigChan:
		if !ok {
			return
		}
		sig = s
	case <-h.doneChan:
		return
	}

	h.logger.Warn("Received signal, initiating cleanup", zap.String("signal", sig.String()))
	fmt.Fprintf(h.out, "\nReceived %v, cleaning up...\n", sig)
	h.cancel()

	// A second signal while cleanup runs forces the exit.
	go func() {
		select {
		case s, ok := <-h.sigChan:
			if !ok {
				return
			}
			h.logger.Error("Received second signal, forcing exit", zap.String("signal", s.String()))
			fmt.Fprintln(h.out, "Received second interrupt, forcing exit!")
			h.exit(1)
		case <-h.doneChan:
		}
	}()

	if err := h.RunCleanup(); err != nil {
		fmt.Fprintf(h.out, "Cleanup completed with errors: %v\n", err)
		h.exit(1)
		return
	}
	fmt.Fprintln(h.out, "Cleanup complete")
	h.exit(130)
}

// RunCleanup executes the registered cleanups in LIFO order. Only the first
// call does any work; later calls return the first call's result.
func (h *SignalHandler) RunCleanup() error {
	h.cleanupOnce.Do(func() {
		h.cleanupErr = h.runCleanup()
	})
	return h.cleanupErr
}

func (h *SignalHandler) runCleanup() error {
	h.mu.Lock()
	funcs := make([]namedCleanup, len(h.cleanupFuncs))
	copy(funcs, h.cleanupFuncs)
	h.mu.Unlock()

	var result *multierror.Error
	for i := len(funcs) - 1; i >= 0; i-- {
		c := funcs[i]
		h.logger.Debug("Running exit handler", zap.String("handler", c.name))
		if err := h.runOne(c); err != nil {
			h.logger.Warn("Exit handler failed", zap.String("handler", c.name), zap.Error(err))
			result = multierror.Append(result, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	return result.ErrorOrNil()
}

// runOne runs a single handler under its own deadline. A handler that
// overruns is abandoned and the chain moves on.
func (h *SignalHandler) runOne(c namedCleanup) error {
	// Exit handlers must still run after an interrupt cancelled h.ctx.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(h.ctx), h.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.fn(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		h.logger.Error("Exit handler timed out", zap.String("handler", c.name), zap.Duration("timeout", h.timeout))
		return fmt.Errorf("timed out after %s", h.timeout)
	}
}

// Stop detaches the handler from process signals. Safe to call repeatedly.
func (h *SignalHandler) Stop() {
	h.stopOnce.Do(func() {
		if h.notified {
			signal.Stop(h.sigChan)
		}
		close(h.doneChan)
		h.cancel()
	})
}
