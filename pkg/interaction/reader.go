// pkg/interaction/reader.go

package interaction

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/term"
)

// Prompter reads operator answers from In and writes prompts to Out.
type Prompter struct {
	In  *bufio.Reader
	Out io.Writer
}

// NewPrompter binds a Prompter to the given streams.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{In: bufio.NewReader(in), Out: out}
}

// Stdio returns a Prompter on stdin, writing prompts to stderr so stdout
// stays clean for automation.
func Stdio() *Prompter {
	return NewPrompter(os.Stdin, os.Stderr)
}

// IsInteractive reports whether stdin is a terminal.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// ReadLine prompts the user with a label and returns a trimmed line of input.
func (p *Prompter) ReadLine(ctx context.Context, label string) (string, error) {
	logger := otelzap.Ctx(ctx)
	logger.Debug("Prompting user for input", zap.String("label", label))

	_, _ = fmt.Fprint(p.Out, label+": ")

	text, err := p.In.ReadString('\n')
	if err != nil && !(err == io.EOF && text != "") {
		logger.Error("Failed to read user input", zap.Error(err))
		return "", err
	}

	value := strings.TrimSpace(text)
	logger.Debug("User input received", zap.String("value", value))
	return value, nil
}
