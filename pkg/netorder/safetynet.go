// pkg/netorder/safetynet.go
//
// The network stage reorders service priority and can strand the operator.
// The safety net snapshots the order to disk once a reorder is decided and
// before touching anything. At exit it checks reachability instead of
// replaying the snapshot blindly.

package netorder

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/CodeMonkeyCybersecurity/kiln/pkg/config"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/kiln_err"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/preflight"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// State of the safety net.
type State int

const (
	Idle State = iota
	SnapshotTaken
	ReorderApplied
	RestoreAttempted
	CleanedUp
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case SnapshotTaken:
		return "SNAPSHOT_TAKEN"
	case ReorderApplied:
		return "REORDER_APPLIED"
	case RestoreAttempted:
		return "RESTORE_ATTEMPTED"
	case CleanedUp:
		return "CLEANED_UP"
	default:
		return "UNKNOWN"
	}
}

var errShuttingDown = kiln_err.NewAdvisoryError("run is shutting down; network order unchanged", nil)

// ProbeFunc checks that the machine can still reach the outside world.
type ProbeFunc func(ctx context.Context) error

// SafetyNet guards one network reorder per run.
type SafetyNet struct {
	tool       Tool
	store      Store
	classifier Classifier
	selector   Selector
	probe      ProbeFunc
	runID      string
	logger     *zap.Logger
	now        func() time.Time

	// mu guards the fields below. It is never held across a prompt or an
	// external command.
	mu        sync.Mutex
	state     State
	attempted bool
	finalized bool
}

// Option configures a SafetyNet.
type Option func(*SafetyNet)

// WithSelector makes classification interactive.
func WithSelector(s Selector) Option {
	return func(n *SafetyNet) { n.selector = s }
}

// WithProbe replaces the reachability probe.
func WithProbe(p ProbeFunc) Option {
	return func(n *SafetyNet) { n.probe = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(n *SafetyNet) { n.logger = l }
}

// New builds a SafetyNet from the network config.
func New(tool Tool, cfg config.NetworkConfig, runID string, opts ...Option) (*SafetyNet, error) {
	c, err := NewClassifier(cfg.InternetPattern, cfg.InternalPattern)
	if err != nil {
		return nil, kiln_err.NewValidationError("network classification patterns", err)
	}
	n := &SafetyNet{
		tool:       tool,
		store:      Store{Path: cfg.RestorePointPath},
		classifier: c,
		runID:      runID,
		logger:     zap.NewNop(),
		now:        time.Now,
		probe: func(ctx context.Context) error {
			return preflight.ProbeTCP(ctx, cfg.ProbeAddress, cfg.ProbeTimeout)
		},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// State returns the current state.
func (n *SafetyNet) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Store returns the restore point store.
func (n *SafetyNet) Store() Store { return n.store }

// InDesiredOrder reports whether the classified services already lead the
// priority list. Unclassifiable lists count as done: there is nothing safe
// to change.
func (n *SafetyNet) InDesiredOrder(ctx context.Context) (bool, error) {
	services, err := n.tool.ListServices(ctx)
	if err != nil {
		return false, err
	}
	if n.selector != nil {
		return false, nil
	}
	internet, internal, ok := n.classifier.Classify(services)
	if !ok {
		return false, nil
	}
	return slices.Equal(services, Order(services, internal, internet)), nil
}

// Apply resolves the new order, persists a restore point and applies the
// order. Every failure is advisory. Nothing is written to disk unless a
// reorder is about to be attempted.
func (n *SafetyNet) Apply(ctx context.Context) error {
	ctx, span := telemetry.Start(ctx, "netorder.Apply")
	defer span.End()

	n.mu.Lock()
	switch {
	case n.finalized:
		n.mu.Unlock()
		return errShuttingDown
	case n.attempted:
		n.mu.Unlock()
		return kiln_err.NewAdvisoryError("network reorder already attempted in this run", nil)
	}
	n.attempted = true
	n.mu.Unlock()

	services, err := n.tool.ListServices(ctx)
	if err != nil {
		return kiln_err.NewAdvisoryError("could not list network services; order unchanged", err)
	}
	if len(services) < 2 {
		n.logger.Info("Fewer than two network services; nothing to reorder", zap.Strings("services", services))
		return nil
	}

	internet, internal, err := n.choose(ctx, services)
	if err != nil {
		return err
	}
	desired := Order(services, internal, internet)
	span.SetAttributes(attribute.String("internal", internal), attribute.String("internet", internet))

	if err := n.snapshot(services); err != nil {
		return err
	}
	n.setState(ReorderApplied)

	if err := n.tool.SetOrder(ctx, desired); err != nil {
		n.logger.Warn("Network reorder failed; continuing without it",
			zap.Strings("attempted_order", desired),
			zap.Error(err))
		return kiln_err.NewAdvisoryError("network reorder failed", err)
	}

	n.logger.Info("Network services reordered",
		zap.String("internal", internal),
		zap.String("internet", internet),
		zap.Strings("order", desired))
	return nil
}

// snapshot persists the restore point. It refuses once Finalize has
// started so no restore point outlives the run.
func (n *SafetyNet) snapshot(services []string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.finalized {
		return errShuttingDown
	}
	if err := n.store.Save(RestorePoint{RunID: n.runID, TakenAt: n.now().UTC(), Services: services}); err != nil {
		return kiln_err.NewAdvisoryError("could not persist restore point; order unchanged", err,
			"Check that "+n.store.Path+" is writable.")
	}
	n.state = SnapshotTaken
	n.logger.Info("Network restore point saved",
		zap.String("path", n.store.Path),
		zap.Strings("services", services))
	return nil
}

// setState moves to s unless the net is already CleanedUp.
func (n *SafetyNet) setState(s State) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != CleanedUp {
		n.state = s
	}
}

func (n *SafetyNet) choose(ctx context.Context, services []string) (internet, internal string, err error) {
	if n.selector == nil {
		internet, internal, ok := n.classifier.Classify(services)
		if !ok {
			return "", "", kiln_err.NewAdvisoryError("could not identify internet and internal services; order unchanged", nil,
				"Set network.internet-pattern and network.internal-pattern, or run with --interactive.")
		}
		return internet, internal, nil
	}

	internet, err = n.selector.PromptSelect(ctx, "Which network service reaches the internet?", services)
	if err != nil {
		return "", "", kiln_err.NewAdvisoryError("network service selection cancelled; order unchanged", err)
	}
	rest := slices.DeleteFunc(slices.Clone(services), func(s string) bool { return s == internet })
	internal, err = n.selector.PromptSelect(ctx, "Which network service is the internal network?", rest)
	if err != nil {
		return "", "", kiln_err.NewAdvisoryError("network service selection cancelled; order unchanged", err)
	}
	return internet, internal, nil
}

// Finalize is the exit handler. It works from the persisted restore point,
// so it never waits on an Apply in flight. When a restore point exists and
// the session is still valid it checks reachability and warns the operator
// with the saved order if the machine is cut off. The restore point is
// deleted in every case. Safe to call more than once.
func (n *SafetyNet) Finalize(ctx context.Context, sessionValid bool) {
	n.mu.Lock()
	if n.finalized {
		n.mu.Unlock()
		return
	}
	n.finalized = true
	n.mu.Unlock()
	defer n.setState(CleanedUp)

	rp, err := n.store.Load()
	if errors.Is(err, ErrNoRestorePoint) {
		return
	}
	if err != nil {
		n.logger.Warn("Unreadable network restore point; removing it", zap.Error(err))
		n.remove()
		return
	}

	switch {
	case !sessionValid:
		n.logger.Warn("Privileged session no longer valid; skipping network reachability check",
			zap.Strings("saved_order", rp.Services),
			zap.String("manual_restore", ManualCommand(rp.Services)))
	default:
		n.setState(RestoreAttempted)
		ctx, span := telemetry.Start(ctx, "netorder.Finalize")
		if err := n.probe(ctx); err != nil {
			span.RecordError(err)
			n.logger.Warn("Network unreachable after reorder. Restore the previous service order manually.",
				zap.Strings("saved_order", rp.Services),
				zap.String("manual_restore", ManualCommand(rp.Services)),
				zap.Error(err))
		} else {
			n.logger.Info("Network reachable after reorder")
		}
		span.End()
	}

	n.remove()
}

func (n *SafetyNet) remove() {
	if err := n.store.Remove(); err != nil {
		n.logger.Warn("Failed to remove network restore point", zap.String("path", n.store.Path), zap.Error(err))
		return
	}
	n.logger.Debug("Network restore point removed", zap.String("path", n.store.Path))
}
