// pkg/execute/helpers.go

package execute

import (
	"strings"
	"time"
)

func defaultTimeout(t time.Duration) time.Duration {
	if t > 0 {
		return t
	}
	return 10 * time.Minute
}

// argv returns the program and arguments actually executed.
func argv(opts Options) (string, []string) {
	if !opts.Sudo {
		return opts.Command, opts.Args
	}
	return "sudo", append([]string{"-n", opts.Command}, opts.Args...)
}

// CommandLine renders the invocation for logs and fake matching.
func CommandLine(opts Options) string {
	name, args := argv(opts)
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}
