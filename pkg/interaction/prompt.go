// pkg/interaction/prompt.go

package interaction

import (
	"context"
	"fmt"
	"strconv"

	"github.com/CodeMonkeyCybersecurity/kiln/pkg/kiln_err"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// PromptSelect displays numbered options and returns the selected value.
func (p *Prompter) PromptSelect(ctx context.Context, prompt string, options []string) (string, error) {
	logger := otelzap.Ctx(ctx)
	if len(options) == 0 {
		return "", kiln_err.NewValidationError("nothing to select", nil)
	}
	logger.Info("Prompting selection", zap.String("prompt", prompt), zap.Int("num_options", len(options)))

	_, _ = fmt.Fprintln(p.Out, prompt)
	for i, option := range options {
		_, _ = fmt.Fprintf(p.Out, "  %d) %s\n", i+1, option)
	}

	for attempt := 0; attempt < maxSelectAttempts; attempt++ {
		choice, err := p.ReadLine(ctx, EnterChoicePrompt)
		if err != nil {
			return "", kiln_err.NewUserCancelledError(prompt)
		}

		idx, err := strconv.Atoi(choice)
		if err == nil && idx >= 1 && idx <= len(options) {
			logger.Info("User selected option", zap.Int("index", idx), zap.String("value", options[idx-1]))
			return options[idx-1], nil
		}

		logger.Warn("Invalid selection", zap.String("input", choice))
		_, _ = fmt.Fprintln(p.Out, "Invalid selection. Please try again.")
	}
	return "", kiln_err.NewUserCancelledError(prompt)
}
