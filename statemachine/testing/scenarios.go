package testing

import (
	"testing"
	"time"

	"github.com/amp-labs/stage-engine/statemachine"
	"github.com/stretchr/testify/require"
)

// Step is one action of a scenario. Exactly one of Send, GoTo or Advance is set.
type Step struct {
	Send    string
	GoTo    string
	Advance time.Duration
	Payload any

	// ExpectStage is checked after the step; timer steps wait for it.
	ExpectStage string
	// ExpectErr makes a Send step expect a failure matching it.
	ExpectErr error
}

// TestScenario represents a complete test scenario for a stage machine.
type TestScenario struct {
	Name    string
	Config  *statemachine.Config
	Options []statemachine.Option
	Steps   []Step
	Expect  []Matcher
}

// RunScenario executes a scenario in a subtest and checks its expectations.
func RunScenario(t *testing.T, scenario TestScenario) {
	t.Helper()
	t.Run(scenario.Name, func(t *testing.T) {
		t.Helper()

		engine := StartTestEngine(t, scenario.Config, scenario.Options...)

		for i, step := range scenario.Steps {
			runStep(t, engine, i, step)
		}

		engine.Expect(scenario.Expect...)
	})
}

func runStep(t *testing.T, engine *TestEngine, index int, step Step) {
	t.Helper()

	var payload []any
	if step.Payload != nil {
		payload = []any{step.Payload}
	}

	switch {
	case step.Send != "" && step.ExpectErr != nil:
		_, err := engine.TrySend(step.Send, payload...)
		require.ErrorIs(t, err, step.ExpectErr, "step %d", index)
	case step.Send != "":
		engine.Send(step.Send, payload...)
	case step.GoTo != "":
		engine.GoTo(step.GoTo, payload...)
	case step.Advance > 0:
		if step.ExpectStage != "" {
			engine.AdvanceTo(step.Advance, step.ExpectStage)
		} else {
			engine.WaitForTimers()
			engine.Advance(step.Advance)
		}
	}

	if step.ExpectStage != "" {
		require.Equal(t, step.ExpectStage, engine.CurrentStage(), "step %d", index)
	}
}

// LinearScenario walks the linear fixture to its end.
func LinearScenario() TestScenario {
	return TestScenario{
		Name:   "Linear",
		Config: CommonTestConfigs.Linear(),
		Steps: []Step{
			{Send: "next", ExpectStage: "middle"},
			{Send: "next", ExpectStage: "end"},
			{Send: "next", ExpectErr: statemachine.ErrInvalidTransition},
		},
		Expect: []Matcher{
			HistoryIs("start", "middle", "end"),
			FailedWith(statemachine.ErrInvalidTransition),
		},
	}
}

// BranchingScenario checks that the guarded branch wins when its guard passes.
func BranchingScenario() TestScenario {
	return TestScenario{
		Name:   "Branching",
		Config: CommonTestConfigs.Branching(),
		Steps: []Step{
			{Send: "decide", Payload: "nope", ExpectStage: "failure"},
			{Send: "retry", ExpectStage: "start"},
			{Send: "decide", Payload: "ok", ExpectStage: "success"},
		},
		Expect: []Matcher{
			TransitionWasTaken("start", "failure"),
			TransitionWasTaken("start", "success"),
			DataEquals("ok"),
		},
	}
}

// TimeoutScenario drives the timed fixture purely through the fake clock.
func TimeoutScenario() TestScenario {
	return TestScenario{
		Name:   "Timeout",
		Config: CommonTestConfigs.Timed(),
		Steps: []Step{
			{Advance: 2 * time.Second, ExpectStage: "home"},
			{Advance: time.Minute, ExpectStage: "screensaver"},
			{Send: "touch", ExpectStage: "home"},
		},
		Expect: []Matcher{
			EventWasHandled("skip"),
			EventWasHandled("idle"),
			HistoryIs("splash", "home", "screensaver", "home"),
		},
	}
}
