// pkg/netorder/classify.go

package netorder

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	cerr "github.com/cockroachdb/errors"
)

// Selector asks the operator to pick one option.
type Selector interface {
	PromptSelect(ctx context.Context, prompt string, options []string) (string, error)
}

// Classifier picks the internet-facing and the internal service by name.
type Classifier struct {
	Internet *regexp.Regexp
	Internal *regexp.Regexp
}

// NewClassifier compiles both patterns.
func NewClassifier(internet, internal string) (Classifier, error) {
	in, err := regexp.Compile(internet)
	if err != nil {
		return Classifier{}, cerr.Wrap(err, "invalid internet service pattern")
	}
	lan, err := regexp.Compile(internal)
	if err != nil {
		return Classifier{}, cerr.Wrap(err, "invalid internal service pattern")
	}
	return Classifier{Internet: in, Internal: lan}, nil
}

// Classify returns the first service matching each pattern. A service is
// never both.
func (c Classifier) Classify(services []string) (internet, internal string, ok bool) {
	for _, s := range services {
		if internet == "" && c.Internet.MatchString(s) {
			internet = s
			continue
		}
		if internal == "" && c.Internal.MatchString(s) {
			internal = s
		}
	}
	return internet, internal, internet != "" && internal != ""
}

// Order puts internal first, internet second and keeps the relative order
// of everything else.
func Order(services []string, internal, internet string) []string {
	out := make([]string, 0, len(services))
	out = append(out, internal, internet)
	for _, s := range services {
		if s != internal && s != internet {
			out = append(out, s)
		}
	}
	return out
}

// ManualCommand is the command an operator can run to put services back.
func ManualCommand(services []string) string {
	quoted := make([]string, 0, len(services))
	for _, s := range services {
		quoted = append(quoted, strconv.Quote(s))
	}
	return "sudo networksetup -ordernetworkservices " + strings.Join(quoted, " ")
}
