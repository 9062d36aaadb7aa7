// Package preflight runs the run-level preconditions before any stage
// starts: privilege level, Full Disk Access and connectivity.
package preflight

import (
	"context"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Check represents a single preflight check
type Check struct {
	Name        string
	Description string
	Check       func(context.Context) error
	// Required checks abort the run on failure; the rest only warn.
	Required bool
}

// CheckResult contains the result of running preflight checks
type CheckResult struct {
	Name    string
	Passed  bool
	Error   error
	Warning string
}

// DefaultCheckTimeout bounds each check.
const DefaultCheckTimeout = 10 * time.Second

// RunChecks executes checks in order. It stops at the first failed required
// check and returns that check's error unchanged so its classification
// survives.
func RunChecks(ctx context.Context, checks []Check) ([]CheckResult, error) {
	logger := otelzap.Ctx(ctx)

	logger.Debug("Running preflight checks", zap.Int("total_checks", len(checks)))

	results := make([]CheckResult, 0, len(checks))
	for _, check := range checks {
		result := CheckResult{Name: check.Name}

		checkCtx, cancel := context.WithTimeout(ctx, DefaultCheckTimeout)
		err := check.Check(checkCtx)
		cancel()

		if err == nil {
			result.Passed = true
			logger.Debug("Check passed", zap.String("check", check.Name))
			results = append(results, result)
			continue
		}

		result.Error = err
		if check.Required {
			results = append(results, result)
			return results, err
		}

		logger.Warn("Check failed (advisory)", zap.String("check", check.Name), zap.Error(err))
		result.Warning = err.Error()
		results = append(results, result)
	}

	return results, nil
}

// Passed reports whether the named check ran and passed.
func Passed(results []CheckResult, name string) bool {
	for _, r := range results {
		if r.Name == name {
			return r.Passed
		}
	}
	return false
}
