// Package testing provides testing utilities for stage machines.
//
//nolint:varnamelen // short names idiomatic
package testing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/amp-labs/stage-engine/statemachine"
	"github.com/jonboulle/clockwork"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"
)

const (
	// WaitFor bounds how long TestEngine waits for timer-driven work.
	WaitFor = time.Second
	// Tick is the polling interval used while waiting.
	Tick = 5 * time.Millisecond
)

// TestEngine wraps Engine with a fake clock, a recorder and assertions.
type TestEngine struct {
	*statemachine.Engine

	t          *testing.T
	clock      *clockwork.FakeClock
	recorder   *Recorder
	assertions []Assertion
}

// Assertion represents a test assertion.
type Assertion struct {
	Name   string
	Passed bool
	Error  error
}

// NewTestEngine creates an engine on a fake clock with logs routed to t.
// Extra options are applied after the defaults, so they can replace the logger or name.
func NewTestEngine(t *testing.T, config *statemachine.Config, opts ...statemachine.Option) *TestEngine {
	t.Helper()

	clock := clockwork.NewFakeClock()
	recorder := NewRecorder()

	defaults := []statemachine.Option{
		statemachine.WithName(t.Name()),
		statemachine.WithClock(clock),
		statemachine.WithSlogLogger(slogt.New(t)),
		statemachine.WithPlugins(recorder.Plugin()),
	}

	engine, err := statemachine.New(config, append(defaults, opts...)...)
	require.NoError(t, err, "failed to create engine")

	engine.Subscribe(recorder.Listen)

	return &TestEngine{
		Engine:   engine,
		t:        t,
		clock:    clock,
		recorder: recorder,
	}
}

// StartTestEngine creates and starts a test engine and stops it when the test ends.
func StartTestEngine(t *testing.T, config *statemachine.Config, opts ...statemachine.Option) *TestEngine {
	t.Helper()

	te := NewTestEngine(t, config, opts...)
	te.Start()

	return te
}

// Start starts the engine and registers a cleanup that stops it.
func (te *TestEngine) Start() {
	te.t.Helper()

	require.NoError(te.t, te.Engine.Start(context.Background()), "failed to start engine")

	te.t.Cleanup(func() {
		_ = te.Engine.Stop(context.Background())
	})
}

// Clock returns the fake clock driving the engine's timers.
func (te *TestEngine) Clock() *clockwork.FakeClock {
	return te.clock
}

// Recorder returns the recorder attached to the engine.
func (te *TestEngine) Recorder() *Recorder {
	return te.recorder
}

// Send fires event and fails the test on error.
func (te *TestEngine) Send(event string, payload ...any) statemachine.Result {
	te.t.Helper()

	result, err := te.Engine.Send(context.Background(), event, payload...)
	require.NoError(te.t, err, "send %q from %q", event, result.From)

	return result
}

// TrySend fires event and returns the error instead of failing the test.
func (te *TestEngine) TrySend(event string, payload ...any) (statemachine.Result, error) {
	result, err := te.Engine.Send(context.Background(), event, payload...)
	if err != nil {
		te.recorder.fail(err)
	}

	return result, err //nolint:wrapcheck // Passed through for assertions
}

// GoTo moves directly to stage and fails the test on error.
func (te *TestEngine) GoTo(stage string, data ...any) statemachine.Result {
	te.t.Helper()

	result, err := te.Engine.GoTo(context.Background(), stage, data...)
	require.NoError(te.t, err, "goto %q", stage)

	return result
}

// Advance moves the fake clock forward. Timers that fire are processed asynchronously;
// use WaitForStage or AdvanceTo to observe their effect.
func (te *TestEngine) Advance(d time.Duration) {
	te.clock.Advance(d)
}

// AdvanceTo moves the fake clock forward and waits for the engine to enter stage.
func (te *TestEngine) AdvanceTo(d time.Duration, stage string) {
	te.t.Helper()

	te.WaitForTimers()
	te.clock.Advance(d)
	te.WaitForStage(stage)
}

// WaitForTimers waits until the current stage's timers are armed.
// A stage entered by a timer becomes current before its own timers are scheduled.
func (te *TestEngine) WaitForTimers() {
	te.t.Helper()

	stage, ok := te.Config().Stage(te.CurrentStage())
	if !ok || len(stage.Timers) == 0 {
		return
	}

	require.Eventually(te.t, func() bool {
		return te.ActiveTimers() > 0 || te.TimersPaused()
	}, WaitFor, Tick, "timers of %q never armed", stage.Name)
}

// WaitForStage waits until the engine is in stage.
func (te *TestEngine) WaitForStage(stage string) {
	te.t.Helper()

	require.Eventually(te.t, func() bool {
		return te.CurrentStage() == stage
	}, WaitFor, Tick, "engine never entered %q (current %q)", stage, te.CurrentStage())
}

// AssertStageVisited checks if a stage was entered since the engine started.
func (te *TestEngine) AssertStageVisited(stage string) {
	te.t.Helper()

	te.record(StageWasVisited(stage))
}

// AssertTransitionTaken checks if a specific transition was committed.
func (te *TestEngine) AssertTransitionTaken(from, to string) {
	te.t.Helper()

	te.record(TransitionWasTaken(from, to))
}

// AssertCurrentStage checks the current stage matches expected.
func (te *TestEngine) AssertCurrentStage(expected string) {
	te.t.Helper()

	te.record(CurrentStageIs(expected))
}

// AssertData checks the current stage data.
func (te *TestEngine) AssertData(expected any) {
	te.t.Helper()

	te.record(DataEquals(expected))
}

// AssertHistory checks the stages entered since Start or the last Reset.
func (te *TestEngine) AssertHistory(expected ...string) {
	te.t.Helper()

	te.record(HistoryIs(expected...))
}

// Expect checks every matcher and fails the test on the first mismatch.
func (te *TestEngine) Expect(matchers ...Matcher) {
	te.t.Helper()

	for _, matcher := range matchers {
		te.record(matcher)
	}
}

func (te *TestEngine) record(matcher Matcher) {
	te.t.Helper()

	passed, err := matcher.Match(te)

	te.assertions = append(te.assertions, Assertion{
		Name:   matcher.Description(),
		Passed: passed,
		Error:  err,
	})

	require.True(te.t, passed, "%s: %v", matcher.Description(), err)
}

// GetAssertions returns all assertions made.
func (te *TestEngine) GetAssertions() []Assertion {
	return te.assertions
}

// String summarizes the engine for failure messages.
func (te *TestEngine) String() string {
	return fmt.Sprintf("%s in %q (history %v)", te.Name(), te.CurrentStage(), te.History())
}
