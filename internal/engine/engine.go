// Package engine drives one run end to end: it plans staging for every unit,
// submits the resulting tasks, polls the execution framework for terminal
// results and applies the memory-escalation retry policy until every unit is
// terminal.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/vk/gridfan/internal/ctxlog"
	"github.com/vk/gridfan/internal/discover"
	"github.com/vk/gridfan/internal/lifecycle"
	"github.com/vk/gridfan/internal/scheduler"
	"github.com/vk/gridfan/internal/session"
	"github.com/vk/gridfan/internal/staging"
	"github.com/vk/gridfan/internal/task"
)

// defaultPollInterval paces the sequential poll sweep.
const defaultPollInterval = 500 * time.Millisecond

// Engine owns the submit/poll/escalate loop. It is single-threaded by design:
// all submission and state tracking happens on the caller's goroutine, so no
// locking is needed around the tracker.
type Engine struct {
	planner *staging.Planner
	builder *task.Builder
	tracker *lifecycle.Tracker
	sched   scheduler.Scheduler
	store   *session.Store

	// PollInterval overrides defaultPollInterval when positive.
	PollInterval time.Duration
}

// New assembles an engine. store may be nil when the run is not persisted.
func New(planner *staging.Planner, builder *task.Builder, tracker *lifecycle.Tracker, sched scheduler.Scheduler, store *session.Store) *Engine {
	return &Engine{
		planner: planner,
		builder: builder,
		tracker: tracker,
		sched:   sched,
		store:   store,
	}
}

// UnitOutcome is the final word on one unit.
type UnitOutcome struct {
	Unit      string
	State     lifecycle.State
	ExitCode  int
	OutputDir string
	Attempts  int
	Err       error
}

// Report summarizes a finished (or aborted) run.
type Report struct {
	Outcomes []UnitOutcome
}

// Succeeded returns the outcomes of units that completed successfully, in
// submission order.
func (r *Report) Succeeded() []UnitOutcome {
	var out []UnitOutcome
	for _, o := range r.Outcomes {
		if o.State == lifecycle.Succeeded {
			out = append(out, o)
		}
	}
	return out
}

// Failed returns the outcomes of units that failed permanently.
func (r *Report) Failed() []UnitOutcome {
	var out []UnitOutcome
	for _, o := range r.Outcomes {
		if o.State == lifecycle.PermanentlyFailed {
			out = append(out, o)
		}
	}
	return out
}

// inflight is one outstanding submission awaiting a terminal result.
type inflight struct {
	spec     *task.Spec
	attempts int
}

// Run executes all units to completion. Planning happens up front so staging
// collisions abort the run before anything is submitted. Once submission
// starts, per-unit failures are recorded in the report and never abort the
// other units; only cancellation stops the loop early.
func (e *Engine) Run(ctx context.Context, units []discover.Unit) (*Report, error) {
	logger := ctxlog.FromContext(ctx)

	type planned struct {
		unit discover.Unit
		spec *task.Spec
	}
	queue := make([]planned, 0, len(units))
	for _, unit := range units {
		plan, argv, err := e.planner.Plan(ctx, unit)
		if err != nil {
			return nil, err
		}
		spec := e.builder.Build(unit, plan, argv)
		if err := e.tracker.Add(unit.Name, spec.MemoryBytes); err != nil {
			return nil, err
		}
		e.warnStore(ctx, "unit", e.store.RecordUnit(ctx, unit.Name, spec.MemoryBytes))
		queue = append(queue, planned{unit: unit, spec: spec})
	}
	logger.Info("All units planned.", "units", len(queue))

	report := &Report{}
	outstanding := make(map[scheduler.Handle]*inflight, len(queue))
	order := make([]string, 0, len(queue))

	for _, p := range queue {
		order = append(order, p.unit.Name)
		handle, err := e.submit(ctx, p.spec, 1)
		if err != nil {
			logger.Error("Submission failed.", "unit", p.unit.Name, "error", err)
			e.tracker.MarkFailed(p.unit.Name)
			report.Outcomes = append(report.Outcomes, UnitOutcome{
				Unit: p.unit.Name, State: lifecycle.PermanentlyFailed, Attempts: 1, Err: err,
			})
			continue
		}
		outstanding[handle] = &inflight{spec: p.spec, attempts: 1}
	}

	interval := e.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	for len(outstanding) > 0 {
		progressed, err := e.sweep(ctx, outstanding, report)
		if err != nil {
			e.abort(ctx, outstanding, report)
			return sortReport(report, order), err
		}
		if len(outstanding) == 0 {
			break
		}
		if progressed {
			continue
		}
		select {
		case <-ctx.Done():
			e.abort(ctx, outstanding, report)
			return sortReport(report, order), ctx.Err()
		case <-time.After(interval):
		}
	}

	return sortReport(report, order), nil
}

// sweep polls every outstanding handle once, applying outcomes and
// resubmitting escalated units. It reports whether any unit terminated.
func (e *Engine) sweep(ctx context.Context, outstanding map[scheduler.Handle]*inflight, report *Report) (bool, error) {
	logger := ctxlog.FromContext(ctx)
	progressed := false

	for handle, f := range outstanding {
		result, err := e.sched.Poll(ctx, handle)
		if err != nil {
			if errors.Is(err, scheduler.ErrPending) {
				continue
			}
			// The framework lost or rejected this task; the unit fails
			// permanently without consuming a retry.
			logger.Error("Scheduler reported failure.", "unit", f.spec.Unit, "error", err)
			e.tracker.MarkFailed(f.spec.Unit)
			e.warnStore(ctx, "state", e.store.RecordState(ctx, f.spec.Unit, lifecycle.PermanentlyFailed, -1))
			report.Outcomes = append(report.Outcomes, UnitOutcome{
				Unit: f.spec.Unit, State: lifecycle.PermanentlyFailed,
				Attempts: f.attempts, Err: err,
			})
			delete(outstanding, handle)
			progressed = true
			continue
		}

		outcome, err := e.tracker.Observe(result.Unit, result.Attempt, result.ExitCode)
		if err != nil {
			return progressed, err
		}
		e.warnStore(ctx, "state", e.store.RecordState(ctx, result.Unit, outcome.State, result.ExitCode))
		delete(outstanding, handle)
		progressed = true

		if outcome.Retry {
			logger.Info("Escalating memory and resubmitting.",
				"unit", result.Unit, "next_memory", outcome.NextMemory)
			next := e.builder.Rebuild(f.spec, outcome.NextMemory)
			nextHandle, err := e.submit(ctx, next, f.attempts+1)
			if err != nil {
				logger.Error("Resubmission failed.", "unit", result.Unit, "error", err)
				e.tracker.MarkFailed(result.Unit)
				report.Outcomes = append(report.Outcomes, UnitOutcome{
					Unit: result.Unit, State: lifecycle.PermanentlyFailed,
					Attempts: f.attempts + 1, Err: err,
				})
				continue
			}
			outstanding[nextHandle] = &inflight{spec: next, attempts: f.attempts + 1}
			continue
		}

		logger.Info("Unit reached terminal state.",
			"unit", result.Unit, "state", string(outcome.State), "exit_code", result.ExitCode)
		report.Outcomes = append(report.Outcomes, UnitOutcome{
			Unit:      result.Unit,
			State:     outcome.State,
			ExitCode:  result.ExitCode,
			OutputDir: result.OutputDir,
			Attempts:  f.attempts,
			Err:       outcome.Err,
		})
	}
	return progressed, nil
}

func (e *Engine) submit(ctx context.Context, spec *task.Spec, attempt int) (scheduler.Handle, error) {
	handle, err := e.sched.Submit(ctx, spec)
	if err != nil {
		return "", err
	}
	if err := e.tracker.MarkSubmitted(spec.Unit); err != nil {
		return "", err
	}
	e.warnStore(ctx, "attempt", e.store.RecordAttempt(ctx, spec.Unit, spec.Attempt, spec.MemoryBytes))
	ctxlog.FromContext(ctx).Debug("Task submitted.",
		"unit", spec.Unit, "attempt", spec.Attempt, "try", attempt, "memory_bytes", spec.MemoryBytes)
	return handle, nil
}

// warnStore reports a failed session write. Store trouble is surfaced in the
// log but never changes unit accounting.
func (e *Engine) warnStore(ctx context.Context, op string, err error) {
	if err != nil {
		ctxlog.FromContext(ctx).Warn("Session write failed.", "op", op, "error", err)
	}
}

// abort fails every still-outstanding unit, recording the interruption.
func (e *Engine) abort(ctx context.Context, outstanding map[scheduler.Handle]*inflight, report *Report) {
	for handle, f := range outstanding {
		e.tracker.MarkFailed(f.spec.Unit)
		e.warnStore(ctx, "state", e.store.RecordState(ctx, f.spec.Unit, lifecycle.PermanentlyFailed, -1))
		report.Outcomes = append(report.Outcomes, UnitOutcome{
			Unit: f.spec.Unit, State: lifecycle.PermanentlyFailed,
			Attempts: f.attempts, Err: ctx.Err(),
		})
		delete(outstanding, handle)
	}
}

// sortReport restores submission order; map iteration during the poll sweep
// scrambles it.
func sortReport(report *Report, order []string) *Report {
	byUnit := make(map[string]UnitOutcome, len(report.Outcomes))
	for _, o := range report.Outcomes {
		byUnit[o.Unit] = o
	}
	sorted := make([]UnitOutcome, 0, len(report.Outcomes))
	for _, unit := range order {
		if o, ok := byUnit[unit]; ok {
			sorted = append(sorted, o)
		}
	}
	report.Outcomes = sorted
	return report
}
