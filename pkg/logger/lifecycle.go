/* pkg/logger/lifecycle.go */

package logger

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// GenerateInvocationID returns a short 8-char id for one command invocation.
func GenerateInvocationID() string {
	return uuid.New().String()[:8]
}

// LogCommandLifecycle logs the command start and returns a deferred function
// that logs how it ended. log is expected to carry the command name.
func LogCommandLifecycle(log *zap.Logger) func(err *error) {
	start := time.Now()
	log = log.With(zap.String("invocation_id", GenerateInvocationID()))
	log.Info("Command started", zap.Time("start_time", start))

	return func(err *error) {
		duration := time.Since(start)
		if err != nil && *err != nil {
			log.Error("Command failed", zap.Duration("duration", duration), zap.Error(*err))
			return
		}
		log.Info("Command completed", zap.Duration("duration", duration))
	}
}
