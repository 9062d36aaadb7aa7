// pkg/installer/types.go

package installer

import "context"

// Kind distinguishes Homebrew formulae from casks.
type Kind int

const (
	Formula Kind = iota
	Cask
)

func (k Kind) String() string {
	if k == Cask {
		return "cask"
	}
	return "formula"
}

// Package names one installable unit.
type Package struct {
	Name string
	Kind Kind
}

// Outcome is the result of a successful Ensure.
type Outcome int

const (
	AlreadyPresent Outcome = iota
	Installed
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case AlreadyPresent:
		return "already-present"
	case Installed:
		return "installed"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Backend is the opaque package manager. It has no uninstall path.
type Backend interface {
	IsInstalled(ctx context.Context, pkg Package) (bool, error)
	Install(ctx context.Context, pkg Package) error
}

// Bootstrapper is implemented by backends that can install themselves.
type Bootstrapper interface {
	Present(ctx context.Context) bool
	Bootstrap(ctx context.Context) error
}
