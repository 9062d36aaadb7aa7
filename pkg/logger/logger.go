// pkg/logger/logger.go

package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu  sync.RWMutex
	log *zap.Logger
)

// Options selects the verbosity and the destinations of the run log.
type Options struct {
	// Level is one of DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string
	// File is the preferred structured log path. Empty means the platform default.
	File string
	// Console receives the human-readable stream. Defaults to stdout.
	Console io.Writer
}

// New builds the run logger: a colored console core teed with a JSON file
// core, both at the configured level. Fatal entries never terminate the
// process; see DeferredExit. The returned path is the file actually used,
// empty when file logging was not possible.
func New(opts Options) (*zap.Logger, string) {
	level := ParseLogLevel(opts.Level)

	console := opts.Console
	if console == nil {
		console = os.Stdout
	}

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(DefaultConsoleEncoderConfig()), zapcore.Lock(zapcore.AddSync(console)), level),
	}

	path := ResolveLogPath(opts.File)
	if path != "" {
		writer, err := GetLogFileWriter(path)
		if err == nil {
			cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(FileEncoderConfig()), writer, level))
		} else {
			path = ""
		}
	}

	l := zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.WithFatalHook(DeferredExit),
	)
	return l, path
}

// Install makes l the process-wide logger for zap and otelzap.
func Install(l *zap.Logger) {
	mu.Lock()
	log = l
	mu.Unlock()
	zap.ReplaceGlobals(l)
	otelzap.ReplaceGlobals(otelzap.New(l, otelzap.WithMinLevel(zapcore.DebugLevel)))
}

// L returns the global logger, falling back to a console logger.
func L() *zap.Logger {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l == nil {
		l = NewFallbackLogger()
		Install(l)
	}
	return l
}

// Sync flushes any buffered log entries. Should be called before the application exits.
func Sync() error {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l == nil {
		return nil
	}
	err := l.Sync()
	// stdout/stderr return EINVAL/ENOTTY on Sync under some terminals
	if err != nil && (strings.Contains(err.Error(), "invalid argument") ||
		strings.Contains(err.Error(), "inappropriate ioctl")) {
		return nil
	}
	return err
}

// ParseLogLevel maps the operator-facing level names onto zap levels.
func ParseLogLevel(level string) zapcore.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "TRACE", "DEBUG":
		return zapcore.DebugLevel
	case "WARN", "WARNING":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// DefaultConsoleEncoderConfig is the console layout: short keys, colored levels.
func DefaultConsoleEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "T"
	cfg.LevelKey = "L"
	cfg.NameKey = "N"
	cfg.CallerKey = "C"
	cfg.MessageKey = "M"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return cfg
}

// FileEncoderConfig is the structured file layout: timestamped, leveled JSON lines.
func FileEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}
