package execute

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRunCapture(t *testing.T) {
	t.Parallel()
	out, err := Run(context.Background(), Options{
		Command: "echo",
		Args:    []string{"hello", "kiln"},
		Capture: true,
		Logger:  zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	assert.Equal(t, "hello kiln\n", out)
}

func TestRunWithoutCaptureDiscardsOutput(t *testing.T) {
	t.Parallel()
	out, err := Run(context.Background(), Options{Command: "echo", Args: []string{"x"}})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRunArgsAreNotShellInterpreted(t *testing.T) {
	t.Parallel()
	args := [][]string{
		{";", "rm", "-rf", "/"},
		{"$(whoami)"},
		{"`whoami`"},
		{"a", "|", "nc", "host", "4444"},
	}
	for _, a := range args {
		out, err := Run(context.Background(), Options{Command: "echo", Args: a, Capture: true})
		require.NoError(t, err)
		assert.Equal(t, strings.Join(a, " ")+"\n", out)
	}
}

func TestRunStdinAndEnv(t *testing.T) {
	t.Parallel()
	out, err := Run(context.Background(), Options{Command: "cat", Stdin: "y\ny\n", Capture: true})
	require.NoError(t, err)
	assert.Equal(t, "y\ny\n", out)

	out, err = Run(context.Background(), Options{
		Command: "sh", Args: []string{"-c", "printf %s \"$KILN_PROBE\""},
		Env: []string{"KILN_PROBE=ok"}, Capture: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestRunFailureReturnsOutput(t *testing.T) {
	t.Parallel()
	out, err := Run(context.Background(), Options{
		Command: "sh", Args: []string{"-c", "echo boom error; exit 3"},
	})
	require.Error(t, err)
	assert.Contains(t, out, "boom error")
	assert.Contains(t, err.Error(), "sh -c")
}

func TestRunTimeout(t *testing.T) {
	t.Parallel()
	start := time.Now()
	_, err := Run(context.Background(), Options{Command: "sleep", Args: []string{"5"}, Timeout: 100 * time.Millisecond})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestCommandLine(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "brew list --formula git", CommandLine(Options{Command: "brew", Args: []string{"list", "--formula", "git"}}))
	assert.Equal(t, "sudo -n pmset -a sleep 0", CommandLine(Options{Command: "pmset", Args: []string{"-a", "sleep", "0"}, Sudo: true}))
	assert.Equal(t, "true", CommandLine(Options{Command: "true"}))
}

func TestRetry(t *testing.T) {
	t.Parallel()
	noSleep := func(context.Context, time.Duration) error { return nil }

	t.Run("succeeds on second attempt", func(t *testing.T) {
		t.Parallel()
		n, err := Retry(context.Background(), nil, RetryPolicy{Attempts: 3, Sleep: noSleep}, "op", func(i int) error {
			if i < 2 {
				return errors.New("transient")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("exhausts attempts", func(t *testing.T) {
		t.Parallel()
		var slept []time.Duration
		sleep := func(_ context.Context, d time.Duration) error { slept = append(slept, d); return nil }
		calls := 0
		n, err := Retry(context.Background(), nil, RetryPolicy{Attempts: 3, Delay: 2 * time.Second, Sleep: sleep}, "install git", func(int) error {
			calls++
			return errors.New("mirror down")
		})
		require.Error(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, 3, calls)
		assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, slept)
		assert.Contains(t, err.Error(), "all 3 attempts failed")
	})

	t.Run("interrupted sleep stops early", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		n, err := Retry(ctx, nil, RetryPolicy{Attempts: 3, Delay: time.Hour}, "op", func(int) error {
			return errors.New("fail")
		})
		require.Error(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("non-retryable error stops early", func(t *testing.T) {
		t.Parallel()
		policy := RetryPolicy{
			Attempts:  3,
			Sleep:     noSleep,
			Retryable: func(err error) bool { return !strings.Contains(err.Error(), "not found") },
		}
		n, err := Retry(context.Background(), nil, policy, "npm install appium", func(int) error {
			return errors.New(`exec: "npm": executable file not found in $PATH`)
		})
		require.Error(t, err)
		assert.Equal(t, 1, n)
		assert.Contains(t, err.Error(), "not retryable")
	})
}

func TestFakeRunner(t *testing.T) {
	t.Parallel()
	f := NewFakeRunner().
		On("brew list", FakeResult{Err: errors.New("not installed")}).
		On("brew list --formula git", FakeResult{Output: "git"}).
		On("brew install", FakeResult{Err: errors.New("e1")}, FakeResult{})

	ctx := context.Background()
	out, err := f.Run(ctx, Options{Command: "brew", Args: []string{"list", "--formula", "git"}})
	require.NoError(t, err)
	assert.Equal(t, "git", out)

	_, err = f.Run(ctx, Options{Command: "brew", Args: []string{"list", "--formula", "jq"}})
	assert.Error(t, err)

	_, err = f.Run(ctx, Options{Command: "brew", Args: []string{"install", "jq"}})
	assert.Error(t, err)
	_, err = f.Run(ctx, Options{Command: "brew", Args: []string{"install", "jq"}})
	assert.NoError(t, err)
	_, err = f.Run(ctx, Options{Command: "brew", Args: []string{"install", "jq"}})
	assert.NoError(t, err)

	_, err = f.Run(ctx, Options{Command: "unscripted"})
	assert.NoError(t, err)

	assert.Equal(t, 3, f.Count("brew install"))
	assert.Len(t, f.Calls(), 6)
}
