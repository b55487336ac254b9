// Package runner drives a measurement run: one shared power cycle per
// iteration followed by one capture worker per ECU, joined before the next
// iteration starts.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/looplab/fsm"
	"golang.org/x/sync/errgroup"

	fsmutil "github.com/autopeer-io/ecukpi/internal/pkg/util/fsm"
	"github.com/autopeer-io/ecukpi/internal/startuptime/core"
	"github.com/autopeer-io/ecukpi/internal/startuptime/metrics"
	"github.com/autopeer-io/ecukpi/internal/startuptime/order"
	"github.com/autopeer-io/ecukpi/internal/startuptime/trace"
)

const (
	StateInit       = "init"
	StatePowerCycle = "power_cycle"
	StateCapture    = "capture"
	StateFinalize   = "finalize"
	StateAborted    = "aborted"
)

const (
	// EventPowerCycle (Active) starts the next iteration.
	EventPowerCycle = "event_power_cycle"
	// EventCapture runs the per-ECU workers of the current iteration.
	EventCapture = "event_capture"
	// EventFinalize closes a run whose iterations are all done.
	EventFinalize = "event_finalize"
	// EventAbort stops the run after a fatal error.
	EventAbort = "event_abort"
)

// Deps are the collaborators of a run. Notifier and Metrics are optional.
type Deps struct {
	Relay    core.Relay
	Capturer core.Capturer
	Notifier core.Notifier
	Metrics  *metrics.Metrics
}

// WorkerResult is what one (ECU, iteration) worker hands back to the coordinator.
type WorkerResult struct {
	ECU       core.ECUType
	Iteration int
	Record    *core.IterationRecord
	Err       error
}

// Runner owns the aggregates of one run. It is not reusable.
type Runner struct {
	*fsm.FSM

	rc         *core.RunContext
	deps       Deps
	iteration  int
	aggregates map[core.ECUType]*core.Aggregates
}

func New(rc *core.RunContext, deps Deps) *Runner {
	if deps.Notifier == nil {
		deps.Notifier = core.NopNotifier{}
	}
	r := &Runner{
		rc:         rc,
		deps:       deps,
		aggregates: make(map[core.ECUType]*core.Aggregates, len(rc.ECUs)),
	}
	for _, ecu := range rc.ECUs {
		r.aggregates[ecu.Type] = core.NewAggregates(ecu.Type)
	}

	events := fsm.Events{
		{Name: EventPowerCycle, Src: []string{StateInit, StateCapture}, Dst: StatePowerCycle},
		{Name: EventCapture, Src: []string{StatePowerCycle}, Dst: StateCapture},
		{Name: EventFinalize, Src: []string{StateInit, StateCapture}, Dst: StateFinalize},
		{Name: EventAbort, Src: []string{StateInit, StatePowerCycle, StateCapture}, Dst: StateAborted},
	}
	callbacks := fsmutil.OnEnter(map[string]fsmutil.Handler{
		StatePowerCycle: r.enterPowerCycle,
		StateCapture:    r.enterCapture,
		StateFinalize:   r.enterFinalize,
		StateAborted:    r.enterAborted,
	})
	r.FSM = fsm.NewFSM(StateInit, events, callbacks)
	return r
}

// Run executes every iteration and returns the per-ECU aggregates in the
// order of the run's ECUs. An error means the run was aborted and nothing
// should be reported.
func (r *Runner) Run(ctx context.Context) ([]*core.Aggregates, error) {
	r.notify(ctx, core.Event{Type: core.EventRunStarted, Message: fmt.Sprintf("%d iterations", r.rc.Iterations)})

	for r.iteration < r.rc.Iterations {
		// Cancellation is honoured between iterations only. A started
		// iteration always power cycles, captures and joins.
		if err := ctx.Err(); err != nil {
			return nil, r.abort(ctx, err)
		}
		r.iteration++
		iterCtx := context.WithoutCancel(ctx)
		if err := r.Event(iterCtx, EventPowerCycle); err != nil {
			return nil, r.abort(ctx, err)
		}
		if err := r.Event(iterCtx, EventCapture); err != nil {
			return nil, r.abort(ctx, err)
		}
	}
	if err := r.Event(context.WithoutCancel(ctx), EventFinalize); err != nil {
		return nil, r.abort(ctx, err)
	}

	out := make([]*core.Aggregates, 0, len(r.rc.ECUs))
	for _, ecu := range r.rc.ECUs {
		out = append(out, r.aggregates[ecu.Type])
	}
	return out, nil
}

func (r *Runner) abort(ctx context.Context, cause error) error {
	if r.Can(EventAbort) {
		// The abort callback never fails.
		_ = r.Event(context.WithoutCancel(ctx), EventAbort, cause)
	}
	return cause
}

func (r *Runner) enterPowerCycle(ctx context.Context, e *fsm.Event) error {
	logger := r.rc.Logger.WithValues("iteration", r.iteration)
	logger.Info("Power cycling ECUs", "total", r.rc.Iterations)

	start := time.Now()
	if err := r.deps.Relay.PowerCycle(ctx); err != nil {
		return fmt.Errorf("iteration %d: power cycle: %w", r.iteration, err)
	}
	r.deps.Metrics.ObservePowerCycle(time.Since(start))
	return nil
}

func (r *Runner) enterCapture(ctx context.Context, e *fsm.Event) error {
	results := r.RunIteration(ctx, r.iteration)

	// Workers have joined, so the aggregates are only touched from here.
	for _, res := range results {
		agg := r.aggregates[res.ECU]
		logger := r.rc.Logger.WithValues("ecu", res.ECU, "iteration", res.Iteration)

		if res.Err != nil {
			var se *core.StageError
			stage := core.StageCapture
			if errors.As(res.Err, &se) {
				stage = se.Stage
			}
			agg.AddFailure(core.IterationFailure{Iteration: res.Iteration, Stage: stage, Err: res.Err})
			logger.Error(res.Err, "Iteration produced no data")
			r.deps.Metrics.ObserveFailure(res.ECU)
			r.notify(ctx, core.Event{Type: core.EventIterationFailed, ECU: res.ECU, Iteration: res.Iteration, Message: res.Err.Error()})
			continue
		}

		agg.Add(res.Record)
		result := res.Record.Result
		logger.Info("Iteration processed",
			"apps", res.Record.Timestamps.Len(),
			"total", result.TotalFromPowerOn,
			"passed", result.Passed,
			"orderPassed", result.OrderPassed)
		r.deps.Metrics.ObserveIteration(res.ECU, res.Record)
		r.notify(ctx, core.Event{
			Type:      core.EventIterationDone,
			ECU:       res.ECU,
			Iteration: res.Iteration,
			Passed:    result.Passed && result.OrderPassed,
			Message:   fmt.Sprintf("%.3fs from IG ON", result.TotalFromPowerOn),
		})
	}

	return nil
}

func (r *Runner) enterFinalize(ctx context.Context, e *fsm.Event) error {
	for _, ecu := range r.rc.ECUs {
		agg := r.aggregates[ecu.Type]
		if !agg.Succeeded() {
			r.rc.Logger.Warn("No iteration succeeded", "ecu", ecu.Type, "failures", len(agg.Failures))
			continue
		}
		r.rc.Logger.Info("ECU measured", "ecu", ecu.Type, "succeeded", len(agg.Records), "failed", len(agg.Failures))
	}
	return nil
}

func (r *Runner) enterAborted(ctx context.Context, e *fsm.Event) error {
	var cause error
	if len(e.Args) > 0 {
		cause, _ = e.Args[0].(error)
	}
	r.rc.Logger.Error(cause, "Run aborted", "iteration", r.iteration, "from", e.Src)
	msg := "aborted"
	if cause != nil {
		msg = cause.Error()
	}
	r.notify(ctx, core.Event{Type: core.EventRunFinished, Iteration: r.iteration, Message: msg})
	return nil
}

// RunIteration starts one worker per ECU and waits for all of them. A
// failing or panicking worker never affects the others.
func (r *Runner) RunIteration(ctx context.Context, iteration int) []WorkerResult {
	results := make([]WorkerResult, len(r.rc.ECUs))

	var g errgroup.Group
	for i, ecu := range r.rc.ECUs {
		g.Go(func() error {
			results[i] = r.work(ctx, ecu, iteration)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *Runner) work(ctx context.Context, ecu core.ECUConfig, iteration int) (res WorkerResult) {
	res = WorkerResult{ECU: ecu.Type, Iteration: iteration}
	logger := r.rc.Logger.WithValues("ecu", ecu.Type, "iteration", iteration)

	stage := core.StageCapture
	fail := func(err error) WorkerResult {
		res.Record = nil
		res.Err = &core.StageError{ECU: ecu.Type, Iteration: iteration, Stage: stage, Err: err}
		return res
	}
	defer func() {
		if p := recover(); p != nil {
			res = fail(fmt.Errorf("worker panic: %v", p))
		}
	}()

	logger.Debug("Worker started")
	capture, err := r.deps.Capturer.Capture(ctx, ecu, iteration)
	if err != nil {
		return fail(err)
	}

	stage = core.StageParse
	x := &trace.Extractor{Logger: logger}
	parsed, err := x.Extract(capture.Lines)
	if err != nil {
		return fail(err)
	}

	stage = core.StageValidate
	rec := &core.IterationRecord{
		Iteration:  iteration,
		LogPath:    capture.LogPath,
		TracePath:  capture.TracePath,
		Welcome:    parsed.Welcome,
		Timestamps: parsed.Timestamps,
		Timings:    parsed.Timings,
		Order:      order.Assess(parsed.Timestamps, ecu.Order, r.rc.ValidateOrder),
	}
	rec.Result = rec.Evaluate(ecu.Thresholds, order.Passed(rec.Order))
	res.Record = rec
	return res
}

func (r *Runner) notify(ctx context.Context, ev core.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if err := r.deps.Notifier.Notify(ctx, ev); err != nil {
		r.rc.Logger.Warn("Status event not delivered", "type", ev.Type, "error", err)
	}
}
