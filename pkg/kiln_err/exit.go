package kiln_err

import "fmt"

// ExitStatus carries an exit code that was already decided by the caller,
// e.g. a run that finished with failed stages.
type ExitStatus struct {
	Code int
	Err  error
}

func (e *ExitStatus) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitStatus) Unwrap() error { return e.Err }

// WithExitCode pins the exit code for err. A zero code returns nil.
func WithExitCode(err error, code int) error {
	if code == 0 {
		return nil
	}
	return &ExitStatus{Code: code, Err: err}
}
