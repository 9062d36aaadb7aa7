// pkg/execute/fake.go

package execute

import (
	"context"
	"strings"
	"sync"
)

// FakeResult is one scripted outcome.
type FakeResult struct {
	Output string
	Err    error
}

// FakeRunner records invocations and answers from scripted results. A
// script registered with On matches a command line by prefix, longest
// prefix first. Results for a prefix are consumed in order and the last
// one repeats. Unmatched commands succeed with empty output.
type FakeRunner struct {
	mu      sync.Mutex
	scripts map[string][]FakeResult
	calls   []Options
}

// NewFakeRunner returns an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{scripts: make(map[string][]FakeResult)}
}

// On appends results for command lines starting with prefix.
func (f *FakeRunner) On(prefix string, results ...FakeResult) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[prefix] = append(f.scripts[prefix], results...)
	return f
}

// Run implements Runner.
func (f *FakeRunner) Run(_ context.Context, opts Options) (string, error) {
	line := CommandLine(opts)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)

	best := ""
	found := false
	for prefix := range f.scripts {
		if strings.HasPrefix(line, prefix) && (!found || len(prefix) > len(best)) {
			best, found = prefix, true
		}
	}
	if !found {
		return "", nil
	}

	queue := f.scripts[best]
	res := queue[0]
	if len(queue) > 1 {
		f.scripts[best] = queue[1:]
	}
	return res.Output, res.Err
}

// Calls returns the command lines run so far, in order.
func (f *FakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, CommandLine(c))
	}
	return out
}

// Invocations returns the raw options of every call.
func (f *FakeRunner) Invocations() []Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Options(nil), f.calls...)
}

// Count returns how many calls started with prefix.
func (f *FakeRunner) Count(prefix string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}
