// Package scheduler runs a stage plan: sequential stages in declared
// order, each non-sequential group launched together at its first member
// and joined before the next stage.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/CodeMonkeyCybersecurity/kiln/pkg/config"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/kiln_err"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/stage"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/telemetry"
	cerr "github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Scheduler executes stage plans for one run config.
type Scheduler struct {
	cfg    *config.RunConfig
	logger *zap.Logger
	now    func() time.Time
}

// New returns a Scheduler. A nil logger discards output.
func New(cfg *config.RunConfig, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{cfg: cfg, logger: logger, now: time.Now}
}

// Validate checks the static shape of a plan: unique names, dependencies
// declared earlier, and no dependency on a member of the stage's own
// group. Dependencies of a group member must also precede the group's first
// member, since the whole group launches there.
func Validate(plan []stage.Stage) error {
	index := make(map[string]int, len(plan))
	firstOfGroup := make(map[stage.Group]int)

	for i, st := range plan {
		if st.Name == "" {
			return kiln_err.NewValidationError(fmt.Sprintf("stage %d has no name", i), nil)
		}
		if _, dup := index[st.Name]; dup {
			return kiln_err.NewValidationError(fmt.Sprintf("duplicate stage %q", st.Name), nil)
		}
		if st.Action == nil {
			return kiln_err.NewValidationError(fmt.Sprintf("stage %q has no action", st.Name), nil)
		}
		if st.Group != stage.Sequential {
			if _, ok := firstOfGroup[st.Group]; !ok {
				firstOfGroup[st.Group] = i
			}
		}

		for _, dep := range st.DependsOn {
			di, ok := index[dep]
			if !ok {
				return kiln_err.NewValidationError(
					fmt.Sprintf("stage %q depends on %q, which is not declared before it", st.Name, dep), nil)
			}
			if st.Group == stage.Sequential {
				continue
			}
			if plan[di].Group == st.Group {
				return kiln_err.NewValidationError(
					fmt.Sprintf("stage %q depends on %q in its own concurrency group %s", st.Name, dep, st.Group), nil)
			}
			if di >= firstOfGroup[st.Group] {
				return kiln_err.NewValidationError(
					fmt.Sprintf("stage %q depends on %q, which is declared after %s starts", st.Name, dep, st.Group), nil)
			}
		}
		index[st.Name] = i
	}
	return nil
}

// Run executes the plan and returns one result per stage in declared order.
// Stage failures never abort the run; only an invalid plan returns an error.
func (s *Scheduler) Run(ctx context.Context, plan []stage.Stage) (*stage.Report, error) {
	if err := Validate(plan); err != nil {
		return nil, err
	}

	ctx, span := telemetry.Start(ctx, "scheduler.Run", attribute.Int("stages", len(plan)))
	defer span.End()

	report := &stage.Report{
		RunID:   s.cfg.RunID,
		Results: make([]stage.Result, len(plan)),
		Started: s.now(),
	}
	done := make([]bool, len(plan))
	index := make(map[string]int, len(plan))
	for i, st := range plan {
		index[st.Name] = i
	}

	for i, st := range plan {
		if done[i] {
			continue
		}

		if st.Group == stage.Sequential {
			report.Results[i] = s.runStage(ctx, st, report, index)
			done[i] = true
			continue
		}

		var members []int
		for j := i; j < len(plan); j++ {
			if plan[j].Group == st.Group && !done[j] {
				members = append(members, j)
			}
		}
		s.logger.Info("Launching concurrency group",
			zap.Stringer("group", st.Group),
			zap.Int("members", len(members)))

		// Plain Group: a failing member must not cancel its siblings.
		var g errgroup.Group
		g.SetLimit(len(members))
		for _, j := range members {
			j := j
			g.Go(func() error {
				report.Results[j] = s.runStage(ctx, plan[j], report, index)
				return nil
			})
		}
		_ = g.Wait()
		for _, j := range members {
			done[j] = true
		}
	}

	report.Duration = s.now().Sub(report.Started)
	span.SetAttributes(
		attribute.Int("succeeded", report.Count(stage.Succeeded)),
		attribute.Int("failed", report.Count(stage.Failed)),
		attribute.Int("skipped", report.Count(stage.Skipped)),
	)
	return report, nil
}

// runStage reads only results of stages declared before st, all of which
// are final by the time st starts.
func (s *Scheduler) runStage(ctx context.Context, st stage.Stage, report *stage.Report, index map[string]int) stage.Result {
	log := s.logger.With(zap.String("stage", st.Name), zap.Stringer("group", st.Group))
	res := stage.Result{Stage: st.Name, Optional: st.Optional, Group: st.Group, Started: s.now()}

	ctx, span := telemetry.Start(ctx, "stage."+st.Name,
		attribute.String("group", st.Group.String()),
		attribute.Bool("optional", st.Optional))
	defer span.End()

	finish := func(status stage.Status, reason string, err error) stage.Result {
		res.Status, res.Reason, res.Err = status, reason, err
		res.Duration = s.now().Sub(res.Started)
		span.SetAttributes(attribute.String("status", status.String()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return res
	}

	if st.Enabled != nil && !st.Enabled(s.cfg) {
		log.Debug("Stage disabled")
		return finish(stage.Skipped, "disabled", nil)
	}

	for _, dep := range st.DependsOn {
		if report.Results[index[dep]].Status == stage.Failed {
			reason := fmt.Sprintf("dependency %s failed", dep)
			log.Warn("Stage skipped", zap.String("reason", reason))
			return finish(stage.Skipped, reason, nil)
		}
	}

	log.Info("Stage started")
	// Stages run to completion; interrupts only reach the exit handlers.
	stageCtx := context.WithoutCancel(ctx)

	if st.Probe != nil {
		satisfied, err := protect(func() (bool, error) { return st.Probe(stageCtx) })
		if reason, ok := stage.IsSkip(err); ok {
			log.Info("Stage skipped", zap.String("reason", reason))
			return finish(stage.Skipped, reason, nil)
		}
		if err != nil {
			s.logFailure(log, st, err)
			return finish(stage.Failed, "probe failed", err)
		}
		if satisfied {
			log.Info("Stage already satisfied", zap.Duration("duration", s.now().Sub(res.Started)))
			return finish(stage.Succeeded, "already satisfied", nil)
		}
	}

	_, err := protect(func() (bool, error) { return false, st.Action(stageCtx) })
	if reason, ok := stage.IsSkip(err); ok {
		log.Info("Stage skipped", zap.String("reason", reason))
		return finish(stage.Skipped, reason, nil)
	}
	if err != nil {
		s.logFailure(log, st, err)
		return finish(stage.Failed, "", err)
	}

	log.Info("Stage succeeded", zap.Duration("duration", s.now().Sub(res.Started)))
	return finish(stage.Succeeded, "", nil)
}

func (s *Scheduler) logFailure(log *zap.Logger, st stage.Stage, err error) {
	if st.Optional || kiln_err.IsAdvisory(err) {
		log.Warn("Stage failed (advisory)", zap.Error(err))
		return
	}
	log.Error("Stage failed", zap.Error(err))
}

// protect turns a panic in stage code into an error.
func protect(fn func() (bool, error)) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = cerr.AssertionFailedf("stage panicked: %v", r)
		}
	}()
	return fn()
}
