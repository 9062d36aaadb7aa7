// Package stage defines the unit of work the scheduler runs and the
// per-run report it produces.
package stage

import (
	"context"
	"errors"
	"fmt"

	"github.com/CodeMonkeyCybersecurity/kiln/pkg/config"
)

// Group is a concurrency group. Members of one non-sequential group run
// together and are joined before the scheduler moves on.
type Group int

const (
	Sequential Group = iota
	ParallelGroupA
	ParallelGroupB
)

func (g Group) String() string {
	switch g {
	case Sequential:
		return "SEQUENTIAL"
	case ParallelGroupA:
		return "PARALLEL_GROUP_A"
	case ParallelGroupB:
		return "PARALLEL_GROUP_B"
	default:
		return fmt.Sprintf("GROUP(%d)", int(g))
	}
}

// ParseGroup maps a config group name onto a Group.
func ParseGroup(name string) (Group, error) {
	switch name {
	case config.GroupSequential, "":
		return Sequential, nil
	case config.GroupParallelA:
		return ParallelGroupA, nil
	case config.GroupParallelB:
		return ParallelGroupB, nil
	}
	return Sequential, fmt.Errorf("unknown concurrency group %q", name)
}

// Stage is one named, idempotent step of the pipeline.
type Stage struct {
	Name        string
	Description string
	DependsOn   []string
	Group       Group
	// Optional stages never affect the exit code.
	Optional bool
	// Enabled gates the stage on the run config. Nil means always.
	Enabled func(*config.RunConfig) bool
	// Probe reports whether the desired state already holds. Nil means
	// the action always runs.
	Probe func(ctx context.Context) (bool, error)
	// Action converges the machine. It must be safe to repeat.
	Action func(ctx context.Context) error
}

// SkipError makes a stage report SKIPPED instead of FAILED.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string { return "skipped: " + e.Reason }

// Skip returns a SkipError with the given reason.
func Skip(reason string) error {
	return &SkipError{Reason: reason}
}

// IsSkip reports whether err asks for a SKIPPED result and returns the reason.
func IsSkip(err error) (string, bool) {
	var s *SkipError
	if errors.As(err, &s) {
		return s.Reason, true
	}
	return "", false
}
