// pkg/kiln_cli/wrap.go

package kiln_cli

import (
	"context"

	"github.com/CodeMonkeyCybersecurity/kiln/pkg/kiln_err"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/kiln_io"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/logger"
	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

// Wrap ensures panic recovery, telemetry and command lifecycle logging.
func Wrap(fn func(rc *kiln_io.RuntimeContext, cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		parent := cmd.Context()
		if parent == nil {
			parent = context.Background()
		}
		rc := kiln_io.NewContext(parent, cmd.Name())
		defer rc.End(&err)
		defer logger.LogCommandLifecycle(rc.Log)(&err)
		defer rc.HandlePanic(&err)

		rc.LogRuntimeExecutionContext()

		err = fn(rc, cmd, args)
		var classified *kiln_err.ClassifiedError
		var status *kiln_err.ExitStatus
		if err != nil && !cerr.As(err, &classified) && !cerr.As(err, &status) {
			err = cerr.WithStack(err)
		}
		return err
	}
}
