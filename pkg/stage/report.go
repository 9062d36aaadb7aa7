// pkg/stage/report.go

package stage

import (
	"time"

	"github.com/CodeMonkeyCybersecurity/kiln/pkg/kiln_err"
	"github.com/hashicorp/go-multierror"
)

// Status is the terminal state of a stage.
type Status int

const (
	Skipped Status = iota
	Succeeded
	Failed
)

func (s Status) String() string {
	switch s {
	case Skipped:
		return "SKIPPED"
	case Succeeded:
		return "SUCCEEDED"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Result is the outcome of one stage.
type Result struct {
	Stage    string
	Status   Status
	Err      error
	Reason   string
	Optional bool
	Group    Group
	Started  time.Time
	Duration time.Duration
}

// Blocking reports whether r counts against the exit code: failed,
// required and not advisory.
func (r Result) Blocking() bool {
	return r.Status == Failed && !r.Optional && !kiln_err.IsAdvisory(r.Err)
}

// Report holds every stage result in declared order.
type Report struct {
	RunID    string
	Results  []Result
	Started  time.Time
	Duration time.Duration
}

// Get returns the result for a stage.
func (r *Report) Get(name string) (Result, bool) {
	for _, res := range r.Results {
		if res.Stage == name {
			return res, true
		}
	}
	return Result{}, false
}

// Failed returns every FAILED result, optional ones included.
func (r *Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Status == Failed {
			out = append(out, res)
		}
	}
	return out
}

// RequiredFailures returns the failures that make the run fail.
func (r *Report) RequiredFailures() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Blocking() {
			out = append(out, res)
		}
	}
	return out
}

// Count returns how many results have status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

// ExitCode is 1 when any required stage failed, else 0.
func (r *Report) ExitCode() int {
	if len(r.RequiredFailures()) > 0 {
		return 1
	}
	return 0
}

// Err aggregates every stage failure.
func (r *Report) Err() error {
	var merr *multierror.Error
	for _, res := range r.Failed() {
		merr = multierror.Append(merr, &StageError{Stage: res.Stage, Err: res.Err})
	}
	return merr.ErrorOrNil()
}

// StageError ties a failure to its stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return e.Stage + ": failed"
	}
	return e.Stage + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error { return e.Err }
