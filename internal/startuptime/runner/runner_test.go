package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/autopeer-io/ecukpi/internal/startuptime/core"
	"github.com/autopeer-io/ecukpi/internal/startuptime/metrics"
	"github.com/autopeer-io/ecukpi/internal/startuptime/trace"
)

var fixedNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func header(ts float64) string {
	return fmt.Sprintf("7 2024/05/01 10:00:00.000001 %.4f 3 ECU1 EM EM log info V 1", ts)
}

func scenarioLog() []string {
	return []string{
		header(99.0) + " kernel ready",
		header(100.0) + " " + trace.WelcomeMarker + " Platform is up",
		header(101.5) + " Application: app1 - Init(Up) Time: 1500 us",
		header(103.0) + " Application: app2 - Init(Up) Time: 2500 us",
	}
}

type fakeRelay struct {
	calls int
	err   error
	hook  func()
}

func (f *fakeRelay) PowerCycle(context.Context) error {
	f.calls++
	if f.hook != nil {
		f.hook()
	}
	return f.err
}

type key struct {
	ecu       core.ECUType
	iteration int
}

// fakeCapturer serves canned lines per (ECU, iteration), falling back to
// the ECU's iteration 0 entry.
type fakeCapturer struct {
	mu     sync.Mutex
	calls  int
	lines  map[key][]string
	errs   map[key]error
	panics map[key]bool
}

func (f *fakeCapturer) Capture(_ context.Context, ecu core.ECUConfig, iteration int) (*core.Capture, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	k := key{ecu.Type, iteration}
	if f.panics[k] {
		panic("capture tool crashed")
	}
	if err := f.errs[k]; err != nil {
		return nil, err
	}
	lines, ok := f.lines[k]
	if !ok {
		lines = f.lines[key{ecu.Type, 0}]
	}
	return &core.Capture{
		ECU:       ecu.Type,
		Iteration: iteration,
		LogPath:   fmt.Sprintf("/logs/%s_N%d.log", ecu.Type, iteration),
		Lines:     lines,
	}, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []core.Event
}

func (n *recordingNotifier) Notify(_ context.Context, ev core.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) types() []core.EventType {
	var out []core.EventType
	for _, ev := range n.events {
		out = append(out, ev.Type)
	}
	return out
}

func ecu(t core.ECUType, groups ...core.OrderGroup) core.ECUConfig {
	return core.ECUConfig{
		Type:       t,
		Address:    "10.0.0.1",
		Order:      groups,
		Thresholds: core.Thresholds{Default: 5, PerApp: map[string]float64{}},
	}
}

func seq(apps ...string) core.OrderGroup {
	return core.OrderGroup{Type: core.Sequential, Apps: apps}
}

func runContext(iterations int, ecus ...core.ECUConfig) *core.RunContext {
	rc := core.NewRunContext("/reports", fixedNow)
	rc.Iterations = iterations
	rc.ValidateOrder = true
	rc.ECUs = ecus
	return rc
}

func TestScenarios(t *testing.T) {
	tests := []struct {
		name  string
		order []core.OrderGroup
		want  core.IterationResult
	}{
		{
			name:  "in order within threshold",
			order: []core.OrderGroup{seq("app1", "app2")},
			want:  core.IterationResult{Iteration: 1, CompletionTimestamp: 103.0, TotalFromPowerOn: 4.5, Passed: true, OrderPassed: true},
		},
		{
			name:  "reversed order",
			order: []core.OrderGroup{seq("app2", "app1")},
			want:  core.IterationResult{Iteration: 1, CompletionTimestamp: 103.0, TotalFromPowerOn: 4.5, Passed: true, Mismatch: 2},
		},
		{
			name:  "configured app never started",
			order: []core.OrderGroup{seq("app1", "app2", "app3")},
			want:  core.IterationResult{Iteration: 1, CompletionTimestamp: 103.0, TotalFromPowerOn: 4.5, Passed: true, NotFound: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := runContext(1, ecu(core.ECURCAR, tt.order...))
			relay := &fakeRelay{}
			capt := &fakeCapturer{lines: map[key][]string{{core.ECURCAR, 0}: scenarioLog()}}

			aggs, err := New(rc, Deps{Relay: relay, Capturer: capt}).Run(context.Background())
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if len(aggs) != 1 || len(aggs[0].Records) != 1 {
				t.Fatalf("aggregates = %+v", aggs)
			}
			if diff := cmp.Diff(tt.want, aggs[0].Records[0].Result); diff != "" {
				t.Errorf("result mismatch (-want +got):\n%s", diff)
			}
			if relay.calls != 1 {
				t.Errorf("relay calls = %d, want 1", relay.calls)
			}
		})
	}
}

func TestMissingAppIsListedOnce(t *testing.T) {
	rc := runContext(1, ecu(core.ECURCAR, seq("app1", "app2", "app3")))
	capt := &fakeCapturer{lines: map[key][]string{{core.ECURCAR, 0}: scenarioLog()}}

	aggs, err := New(rc, Deps{Relay: &fakeRelay{}, Capturer: capt}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"app3"}, aggs[0].Records[0].Order.Missing); diff != "" {
		t.Errorf("Missing mismatch (-want +got):\n%s", diff)
	}
	if _, ok := aggs[0].StartupTimes["app3"]; ok {
		t.Error("missing app must not contribute startup times")
	}
}

func TestEmptyCaptureFailsOnlyThatPair(t *testing.T) {
	rc := runContext(2, ecu(core.ECUSoC0, seq("app1", "app2")), ecu(core.ECUSoC1, seq("app1", "app2")))
	rc.Setup = core.SetupElite
	empty := errors.New("empty capture")
	capt := &fakeCapturer{
		lines: map[key][]string{
			{core.ECUSoC0, 0}: scenarioLog(),
			{core.ECUSoC1, 0}: scenarioLog(),
		},
		errs: map[key]error{{core.ECUSoC0, 1}: empty},
	}
	relay := &fakeRelay{}
	notifier := &recordingNotifier{}
	m := metrics.New()

	r := New(rc, Deps{Relay: relay, Capturer: capt, Notifier: notifier, Metrics: m})
	aggs, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if r.Current() != StateFinalize {
		t.Errorf("state = %s, want %s", r.Current(), StateFinalize)
	}
	if relay.calls != 2 || capt.calls != 4 {
		t.Errorf("relay calls = %d, captures = %d, want 2 and 4", relay.calls, capt.calls)
	}

	soc0, soc1 := aggs[0], aggs[1]
	if soc0.ECU != core.ECUSoC0 || soc1.ECU != core.ECUSoC1 {
		t.Fatalf("aggregates out of order: %s, %s", soc0.ECU, soc1.ECU)
	}
	if len(soc0.Records) != 1 || soc0.Records[0].Iteration != 2 {
		t.Errorf("SoC0 records = %+v, want only iteration 2", soc0.Records)
	}
	if len(soc0.Failures) != 1 || soc0.Failures[0].Stage != core.StageCapture || !errors.Is(soc0.Failures[0].Err, empty) {
		t.Errorf("SoC0 failures = %+v", soc0.Failures)
	}
	if len(soc1.Records) != 2 || len(soc1.Failures) != 0 {
		t.Errorf("SoC1 records = %d, failures = %d, want 2 and 0", len(soc1.Records), len(soc1.Failures))
	}
	if got := soc0.StartupTimes["app1"]; len(got) != 1 {
		t.Errorf("SoC0 app1 samples = %v, want one", got)
	}

	types := notifier.types()
	if types[0] != core.EventRunStarted {
		t.Errorf("first event = %s", types[0])
	}
	failed := 0
	for _, ty := range types {
		if ty == core.EventIterationFailed {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("iteration-failed events = %d, want 1", failed)
	}
}

func TestParseFailures(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		want  error
	}{
		{"no welcome", scenarioLog()[2:], trace.ErrWelcomeNotFound},
		{"no applications", scenarioLog()[:2], trace.ErrNoTimestamps},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := runContext(1, ecu(core.ECURCAR, seq("app1", "app2")))
			capt := &fakeCapturer{lines: map[key][]string{{core.ECURCAR, 0}: tt.lines}}

			aggs, err := New(rc, Deps{Relay: &fakeRelay{}, Capturer: capt}).Run(context.Background())
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			agg := aggs[0]
			if agg.Succeeded() {
				t.Fatal("Succeeded() = true for an unparsable capture")
			}
			f := agg.Failures[0]
			if f.Stage != core.StageParse || !errors.Is(f.Err, tt.want) {
				t.Errorf("failure = %+v, want parse stage wrapping %v", f, tt.want)
			}
		})
	}
}

func TestWorkerPanicIsContained(t *testing.T) {
	rc := runContext(1, ecu(core.ECUSoC0), ecu(core.ECUSoC1))
	capt := &fakeCapturer{
		lines:  map[key][]string{{core.ECUSoC1, 0}: scenarioLog()},
		panics: map[key]bool{{core.ECUSoC0, 1}: true},
	}

	aggs, err := New(rc, Deps{Relay: &fakeRelay{}, Capturer: capt}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(aggs[0].Failures) != 1 || !strings.Contains(aggs[0].Failures[0].Err.Error(), "worker panic") {
		t.Errorf("SoC0 failures = %+v", aggs[0].Failures)
	}
	if !aggs[1].Succeeded() {
		t.Error("SoC1 should not be affected by the SoC0 panic")
	}
}

func TestRelayFailureAbortsRun(t *testing.T) {
	rc := runContext(3, ecu(core.ECURCAR))
	boom := errors.New("relay unplugged")
	capt := &fakeCapturer{}
	notifier := &recordingNotifier{}

	r := New(rc, Deps{Relay: &fakeRelay{err: boom}, Capturer: capt, Notifier: notifier})
	aggs, err := r.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want %v", err, boom)
	}
	if aggs != nil {
		t.Error("aborted run must not return aggregates")
	}
	if capt.calls != 0 {
		t.Errorf("captures = %d after a relay failure", capt.calls)
	}
	if r.Current() != StateAborted {
		t.Errorf("state = %s, want %s", r.Current(), StateAborted)
	}
	if diff := cmp.Diff([]core.EventType{core.EventRunStarted, core.EventRunFinished}, notifier.types()); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestCancelStopsAfterJoinedIteration(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rc := runContext(3, ecu(core.ECURCAR))
	relay := &fakeRelay{hook: cancel}
	capt := &fakeCapturer{lines: map[key][]string{{core.ECURCAR, 0}: scenarioLog()}}

	_, err := New(rc, Deps{Relay: relay, Capturer: capt}).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if relay.calls != 1 || capt.calls != 1 {
		t.Errorf("relay calls = %d, captures = %d, want 1 and 1", relay.calls, capt.calls)
	}
}

func TestCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rc := runContext(2, ecu(core.ECURCAR))
	relay := &fakeRelay{}
	capt := &fakeCapturer{lines: map[key][]string{{core.ECURCAR, 0}: scenarioLog()}}

	r := New(rc, Deps{Relay: relay, Capturer: capt})
	if _, err := r.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if relay.calls != 0 || capt.calls != 0 {
		t.Errorf("relay calls = %d, captures = %d, want none", relay.calls, capt.calls)
	}
	if r.Current() != StateAborted {
		t.Errorf("state = %q, want %q", r.Current(), StateAborted)
	}
}
