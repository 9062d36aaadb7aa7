/* pkg/logger/paths.go */

package logger

import (
	"os"
	"path/filepath"
)

// PlatformLogPaths returns fallback log paths in order of priority.
func PlatformLogPaths() []string {
	paths := []string{}
	if d := os.Getenv("XDG_STATE_HOME"); d != "" {
		paths = append(paths, filepath.Join(d, "kiln", "kiln.log"))
	}
	if h, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(h, ".local", "state", "kiln", "kiln.log"))
	}
	return append(paths,
		"./kiln.log",
		filepath.Join(os.TempDir(), "kiln", "kiln.log"),
	)
}

// ResolveLogPath returns preferred if it is writable, else the first
// writable platform path, else "".
func ResolveLogPath(preferred string) string {
	candidates := PlatformLogPaths()
	if preferred != "" {
		candidates = append([]string{preferred}, candidates...)
	}
	for _, path := range candidates {
		if err := EnsureLogPermissions(path); err == nil {
			return path
		}
	}
	return ""
}
