package kiln_cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/kiln/pkg/kiln_err"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/kiln_io"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type exitRecorder struct {
	mu    sync.Mutex
	codes []int
	ch    chan int
}

func newExitRecorder() *exitRecorder {
	return &exitRecorder{ch: make(chan int, 4)}
}

func (e *exitRecorder) exit(code int) {
	e.mu.Lock()
	e.codes = append(e.codes, code)
	e.mu.Unlock()
	e.ch <- code
}

func TestRunCleanupIsLIFOAndOnce(t *testing.T) {
	sig := make(chan os.Signal, 2)
	h := NewSignalHandler(context.Background(), WithSignalChannel(sig), WithOutput(&bytes.Buffer{}))
	defer h.Stop()

	var order []string
	h.RegisterCleanup("session", func(context.Context) error {
		order = append(order, "session")
		return nil
	})
	h.RegisterCleanup("network", func(context.Context) error {
		order = append(order, "network")
		return nil
	})

	require.NoError(t, h.RunCleanup())
	require.NoError(t, h.RunCleanup())
	assert.Equal(t, []string{"network", "session"}, order)
}

func TestRunCleanupAggregatesErrors(t *testing.T) {
	h := NewSignalHandler(context.Background(), WithSignalChannel(make(chan os.Signal, 1)), WithOutput(&bytes.Buffer{}))
	defer h.Stop()

	ran := false
	h.RegisterCleanup("first", func(context.Context) error {
		ran = true
		return nil
	})
	h.RegisterCleanup("second", func(context.Context) error { return errors.New("restore point busy") })

	err := h.RunCleanup()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "second: restore point busy")
	assert.True(t, ran, "a failing handler must not stop the chain")
}

func TestRunCleanupTimesOut(t *testing.T) {
	h := NewSignalHandler(context.Background(),
		WithSignalChannel(make(chan os.Signal, 1)),
		WithCleanupTimeout(20*time.Millisecond),
		WithOutput(&bytes.Buffer{}))
	defer h.Stop()

	h.RegisterCleanup("stuck", func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	err := h.RunCleanup()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestStuckHandlerDoesNotStarveTheRest(t *testing.T) {
	h := NewSignalHandler(context.Background(),
		WithSignalChannel(make(chan os.Signal, 1)),
		WithCleanupTimeout(20*time.Millisecond),
		WithOutput(&bytes.Buffer{}))
	defer h.Stop()

	released := make(chan struct{})
	h.RegisterCleanup("session", func(context.Context) error {
		close(released)
		return nil
	})
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	h.RegisterCleanup("network", func(context.Context) error {
		<-block
		return nil
	})

	err := h.RunCleanup()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network: timed out")
	select {
	case <-released:
	default:
		t.Fatal("session handler never ran")
	}
}

func TestSignalRunsCleanupThenExits(t *testing.T) {
	sig := make(chan os.Signal, 2)
	rec := newExitRecorder()
	h := NewSignalHandler(context.Background(), WithSignalChannel(sig), WithExit(rec.exit), WithOutput(&bytes.Buffer{}))
	defer h.Stop()

	var mu sync.Mutex
	calls := 0
	h.RegisterCleanup("session", func(ctx context.Context) error {
		assert.NoError(t, ctx.Err(), "exit handlers get a live context after interrupt")
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})

	sig <- syscall.SIGINT

	select {
	case code := <-rec.ch:
		assert.Equal(t, 130, code)
	case <-time.After(2 * time.Second):
		t.Fatal("signal handler never exited")
	}
	assert.Error(t, h.Context().Err(), "interrupt cancels the handler context")

	// The controller's normal-path cleanup after the interrupt is a no-op.
	require.NoError(t, h.RunCleanup())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestStopWithoutSignal(t *testing.T) {
	rec := newExitRecorder()
	h := NewSignalHandler(context.Background(), WithSignalChannel(make(chan os.Signal, 1)), WithExit(rec.exit))
	h.Stop()
	h.Stop()

	select {
	case code := <-rec.ch:
		t.Fatalf("unexpected exit %d", code)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestWrapRecoversPanic(t *testing.T) {
	cmd := &cobra.Command{Use: "provision"}
	run := Wrap(func(*kiln_io.RuntimeContext, *cobra.Command, []string) error {
		panic("boom")
	})

	err := run(cmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic: boom")
}

func TestWrapLogsLifecycle(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	cmd := &cobra.Command{Use: "plan"}
	run := Wrap(func(*kiln_io.RuntimeContext, *cobra.Command, []string) error {
		panic("stage table corrupted")
	})
	require.Error(t, run(cmd, nil))

	assert.Equal(t, 1, logs.FilterMessage("Command started").Len())
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
	failed := logs.FilterMessage("Command failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "plan", failed[0].ContextMap()["command"])
}

func TestWrapKeepsExitStatus(t *testing.T) {
	cmd := &cobra.Command{Use: "provision"}
	run := Wrap(func(*kiln_io.RuntimeContext, *cobra.Command, []string) error {
		return kiln_err.WithExitCode(errors.New("1 required stage failed"), 1)
	})

	err := run(cmd, nil)
	assert.Equal(t, 1, kiln_err.GetExitCode(err))
}
