// pkg/logger/fatal.go

package logger

import (
	"go.uber.org/zap/zapcore"
)

type deferredExit struct{}

// OnWrite intentionally returns: the run controller owns process
// termination so that the session guard and exit handlers still run after a
// FATAL entry is written.
func (deferredExit) OnWrite(*zapcore.CheckedEntry, []zapcore.Field) {}

// DeferredExit is the fatal hook installed on every kiln logger.
var DeferredExit zapcore.CheckWriteHook = deferredExit{}
