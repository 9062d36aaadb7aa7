package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/kiln/pkg/config"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/stage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type trace struct {
	mu    sync.Mutex
	order []string
}

func (tr *trace) add(s string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.order = append(tr.order, s)
}

func (tr *trace) get() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.order...)
}

func action(tr *trace, name string, err error) func(context.Context) error {
	return func(context.Context) error {
		tr.add(name)
		return err
	}
}

func newScheduler(t *testing.T) (*Scheduler, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	return New(&config.RunConfig{RunID: "test-run"}, zap.New(core)), logs
}

func status(t *testing.T, r *stage.Report, name string) stage.Result {
	t.Helper()
	res, ok := r.Get(name)
	require.True(t, ok, name)
	return res
}

func TestSequentialOrder(t *testing.T) {
	t.Parallel()
	tr := &trace{}
	s, _ := newScheduler(t)

	report, err := s.Run(context.Background(), []stage.Stage{
		{Name: "a", Action: action(tr, "a", nil)},
		{Name: "b", Action: action(tr, "b", nil), DependsOn: []string{"a"}},
		{Name: "c", Action: action(tr, "c", nil)},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, tr.get())
	assert.Equal(t, "test-run", report.RunID)
	assert.Equal(t, 3, report.Count(stage.Succeeded))
	assert.Equal(t, 0, report.ExitCode())
}

func TestDisabledStageSkipped(t *testing.T) {
	t.Parallel()
	tr := &trace{}
	s, _ := newScheduler(t)

	report, err := s.Run(context.Background(), []stage.Stage{
		{Name: "a", Action: action(tr, "a", nil), Enabled: func(*config.RunConfig) bool { return false }},
		{Name: "b", Action: action(tr, "b", nil), DependsOn: []string{"a"}},
	})
	require.NoError(t, err)
	assert.Equal(t, stage.Skipped, status(t, report, "a").Status)
	assert.Equal(t, "disabled", status(t, report, "a").Reason)
	assert.Equal(t, stage.Succeeded, status(t, report, "b").Status, "a skipped dependency does not block")
	assert.Equal(t, []string{"b"}, tr.get())
}

func TestDependencySkip(t *testing.T) {
	t.Parallel()
	tr := &trace{}
	s, logs := newScheduler(t)

	report, err := s.Run(context.Background(), []stage.Stage{
		{Name: "toolchain", Action: action(tr, "toolchain", errors.New("cmake failed"))},
		{Name: "automation", Action: action(tr, "automation", nil), DependsOn: []string{"toolchain"}},
		{Name: "power", Action: action(tr, "power", nil)},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"toolchain", "power"}, tr.get())

	auto := status(t, report, "automation")
	assert.Equal(t, stage.Skipped, auto.Status)
	assert.Equal(t, "dependency toolchain failed", auto.Reason)
	assert.Equal(t, stage.Failed, status(t, report, "toolchain").Status)
	assert.Equal(t, 1, report.ExitCode())

	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
	assert.Equal(t, 1, logs.FilterMessage("Stage skipped").FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestProbeSatisfiedSkipsAction(t *testing.T) {
	t.Parallel()
	tr := &trace{}
	s, _ := newScheduler(t)

	report, err := s.Run(context.Background(), []stage.Stage{
		{Name: "a", Action: action(tr, "a", nil), Probe: func(context.Context) (bool, error) { return true, nil }},
		{Name: "b", Action: action(tr, "b", nil), Probe: func(context.Context) (bool, error) { return false, nil }},
		{Name: "c", Action: action(tr, "c", nil), Probe: func(context.Context) (bool, error) { return false, errors.New("probe broke") }},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, tr.get())
	assert.Equal(t, stage.Succeeded, status(t, report, "a").Status)
	assert.Equal(t, "already satisfied", status(t, report, "a").Reason)
	assert.Equal(t, stage.Failed, status(t, report, "c").Status)
}

func TestSkipErrorReportsSkipped(t *testing.T) {
	t.Parallel()
	s, _ := newScheduler(t)
	report, err := s.Run(context.Background(), []stage.Stage{
		{Name: "a", Action: func(context.Context) error { return stage.Skip("offline mode") }},
	})
	require.NoError(t, err)
	res := status(t, report, "a")
	assert.Equal(t, stage.Skipped, res.Status)
	assert.Equal(t, "offline mode", res.Reason)
}

func TestParallelGroupRunsConcurrentlyAndJoinsFailSoft(t *testing.T) {
	t.Parallel()
	tr := &trace{}
	s, _ := newScheduler(t)

	var inFlight, peak atomic.Int32
	barrier := make(chan struct{})
	var arrived atomic.Int32
	member := func(name string, err error) func(context.Context) error {
		return func(ctx context.Context) error {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			if arrived.Add(1) == 2 {
				close(barrier)
			}
			select {
			case <-barrier:
			case <-time.After(2 * time.Second):
				return errors.New("sibling never started")
			}
			// the failing member returns first; the sibling must not be cancelled
			if err == nil {
				time.Sleep(20 * time.Millisecond)
				if ctx.Err() != nil {
					return ctx.Err()
				}
			}
			tr.add(name)
			inFlight.Add(-1)
			return err
		}
	}

	report, err := s.Run(context.Background(), []stage.Stage{
		{Name: "base", Action: action(tr, "base", nil)},
		{Name: "android", Group: stage.ParallelGroupA, DependsOn: []string{"base"}, Action: member("android", errors.New("sdkmanager failed"))},
		{Name: "toolchain", Group: stage.ParallelGroupA, DependsOn: []string{"base"}, Action: member("toolchain", nil)},
		{Name: "after", Action: action(tr, "after", nil), DependsOn: []string{"toolchain"}},
	})
	require.NoError(t, err)

	assert.Equal(t, int32(2), peak.Load())
	order := tr.get()
	require.Len(t, order, 4)
	assert.Equal(t, "base", order[0])
	assert.Equal(t, "after", order[3], "group joined before next stage")
	assert.Equal(t, stage.Failed, status(t, report, "android").Status)
	assert.Equal(t, stage.Succeeded, status(t, report, "toolchain").Status)
	assert.Equal(t, stage.Succeeded, status(t, report, "after").Status)
	assert.Equal(t, []string{"base", "android", "toolchain", "after"}, stageNames(report))
}

func stageNames(r *stage.Report) []string {
	var out []string
	for _, res := range r.Results {
		out = append(out, res.Stage)
	}
	return out
}

func TestPanicBecomesFailed(t *testing.T) {
	t.Parallel()
	s, _ := newScheduler(t)
	report, err := s.Run(context.Background(), []stage.Stage{
		{Name: "boom", Action: func(context.Context) error { panic("nil map") }},
		{Name: "next", Action: func(context.Context) error { return nil }},
	})
	require.NoError(t, err)
	res := status(t, report, "boom")
	assert.Equal(t, stage.Failed, res.Status)
	assert.Contains(t, res.Err.Error(), "nil map")
	assert.Equal(t, stage.Succeeded, status(t, report, "next").Status)
}

func TestOptionalFailureLogsWarn(t *testing.T) {
	t.Parallel()
	s, logs := newScheduler(t)
	report, err := s.Run(context.Background(), []stage.Stage{
		{Name: "power", Optional: true, Action: func(context.Context) error { return errors.New("pmset denied") }},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, report.ExitCode())
	assert.Equal(t, 0, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
	assert.Equal(t, 1, logs.FilterMessage("Stage failed (advisory)").Len())
}

func TestStageContextIgnoresInterrupt(t *testing.T) {
	t.Parallel()
	s, _ := newScheduler(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var seen error
	_, err := s.Run(ctx, []stage.Stage{
		{Name: "a", Action: func(c context.Context) error { seen = c.Err(); return nil }},
	})
	require.NoError(t, err)
	assert.NoError(t, seen)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	noop := func(context.Context) error { return nil }
	tests := []struct {
		name    string
		plan    []stage.Stage
		wantErr string
	}{
		{"ok", []stage.Stage{{Name: "a", Action: noop}, {Name: "b", Action: noop, DependsOn: []string{"a"}}}, ""},
		{"duplicate", []stage.Stage{{Name: "a", Action: noop}, {Name: "a", Action: noop}}, "duplicate"},
		{"forward dependency", []stage.Stage{{Name: "a", Action: noop, DependsOn: []string{"b"}}, {Name: "b", Action: noop}}, "not declared before"},
		{"unknown dependency", []stage.Stage{{Name: "a", Action: noop, DependsOn: []string{"zz"}}}, "not declared before"},
		{"same group", []stage.Stage{
			{Name: "a", Action: noop, Group: stage.ParallelGroupA},
			{Name: "b", Action: noop, Group: stage.ParallelGroupA, DependsOn: []string{"a"}},
		}, "own concurrency group"},
		{"dependency inside group span", []stage.Stage{
			{Name: "a", Action: noop, Group: stage.ParallelGroupB},
			{Name: "s", Action: noop},
			{Name: "b", Action: noop, Group: stage.ParallelGroupB, DependsOn: []string{"s"}},
		}, "after PARALLEL_GROUP_B starts"},
		{"no action", []stage.Stage{{Name: "a"}}, "no action"},
		{"no name", []stage.Stage{{Action: noop}}, "no name"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(tt.plan)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRunRejectsInvalidPlan(t *testing.T) {
	t.Parallel()
	s, _ := newScheduler(t)
	report, err := s.Run(context.Background(), []stage.Stage{{Name: "a"}})
	require.Error(t, err)
	assert.Nil(t, report)
}
