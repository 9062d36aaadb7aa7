package stage

import (
	"errors"
	"testing"

	"github.com/CodeMonkeyCybersecurity/kiln/pkg/config"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/kiln_err"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportExitCode(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	tests := []struct {
		name    string
		results []Result
		want    int
	}{
		{"empty", nil, 0},
		{"all succeeded", []Result{{Stage: "a", Status: Succeeded}, {Stage: "b", Status: Skipped}}, 0},
		{"optional failure", []Result{{Stage: "power", Status: Failed, Optional: true, Err: boom}}, 0},
		{"advisory failure on required stage", []Result{{Stage: "x", Status: Failed, Err: kiln_err.NewAdvisoryError("fda", nil)}}, 0},
		{"required failure", []Result{{Stage: "a", Status: Succeeded}, {Stage: "toolchain", Status: Failed, Err: boom}}, 1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := &Report{Results: tt.results}
			assert.Equal(t, tt.want, r.ExitCode())
		})
	}
}

func TestReportErrAggregates(t *testing.T) {
	t.Parallel()
	r := &Report{Results: []Result{
		{Stage: "a", Status: Failed, Err: errors.New("one")},
		{Stage: "b", Status: Succeeded},
		{Stage: "c", Status: Failed, Optional: true, Err: errors.New("two")},
	}}
	err := r.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a: one")
	assert.Contains(t, err.Error(), "c: two")
	assert.Len(t, r.Failed(), 2)
	assert.Len(t, r.RequiredFailures(), 1)
	assert.Equal(t, 1, r.Count(Succeeded))

	res, ok := r.Get("b")
	require.True(t, ok)
	assert.Equal(t, Succeeded, res.Status)

	assert.NoError(t, (&Report{}).Err())
}

func TestParseGroup(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]Group{
		"":                     Sequential,
		config.GroupSequential: Sequential,
		config.GroupParallelA:  ParallelGroupA,
		config.GroupParallelB:  ParallelGroupB,
	} {
		got, err := ParseGroup(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseGroup("parallel-z")
	assert.Error(t, err)
}

func TestSkip(t *testing.T) {
	t.Parallel()
	reason, ok := IsSkip(Skip("offline mode"))
	assert.True(t, ok)
	assert.Equal(t, "offline mode", reason)

	_, ok = IsSkip(errors.New("x"))
	assert.False(t, ok)
}
