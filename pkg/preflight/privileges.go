// pkg/preflight/privileges.go
package preflight

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/CodeMonkeyCybersecurity/kiln/pkg/kiln_err"
	"golang.org/x/sys/unix"
)

const (
	CheckNotRoot        = "not-root"
	CheckFullDiskAccess = "full-disk-access"
	CheckConnectivity   = "connectivity"
)

// TCCDatabase is readable only by processes holding Full Disk Access.
const TCCDatabase = "/Library/Application Support/com.apple.TCC/TCC.db"

// NotRoot refuses to run as root: every elevated command goes through the
// session guard instead. A nil geteuid uses the process's effective uid.
func NotRoot(geteuid func() int) Check {
	if geteuid == nil {
		geteuid = unix.Geteuid
	}
	return Check{
		Name:        CheckNotRoot,
		Description: "kiln must run as a regular user",
		Required:    true,
		Check: func(context.Context) error {
			if geteuid() == 0 {
				return kiln_err.NewFatalError(kiln_err.CategoryPermission,
					"refusing to run as root", nil,
					"Run kiln as the user who will own the toolchains; it asks for sudo itself.")
			}
			return nil
		},
	}
}

// FullDiskAccess probes whether the terminal has Full Disk Access by
// opening the TCC database. Missing files (non-macOS hosts) pass.
func FullDiskAccess(path string) Check {
	if path == "" {
		path = TCCDatabase
	}
	return Check{
		Name:        CheckFullDiskAccess,
		Description: "terminal has Full Disk Access",
		Check: func(context.Context) error {
			f, err := os.Open(path)
			if err == nil {
				return f.Close()
			}
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return kiln_err.NewAdvisoryError("Full Disk Access is not granted", err,
				"Open System Settings > Privacy & Security > Full Disk Access and enable your terminal.",
				"Remote login configuration needs this grant.")
		},
	}
}
