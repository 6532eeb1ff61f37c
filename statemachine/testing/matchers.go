package testing

import (
	"errors"
	"fmt"
	"slices"

	"github.com/stretchr/testify/assert"
)

// Matcher errors.
var (
	ErrStageNotVisited      = errors.New("stage was not visited")
	ErrTransitionNotTaken   = errors.New("transition was not taken")
	ErrEventNotHandled      = errors.New("event was not handled")
	ErrStageMismatch        = errors.New("current stage mismatch")
	ErrDataMismatch         = errors.New("stage data mismatch")
	ErrHistoryMismatch      = errors.New("history mismatch")
	ErrNoFailureRecorded    = errors.New("no failed request recorded")
	ErrFailureMismatch      = errors.New("recorded failure does not match")
	ErrNoMatchersPassed     = errors.New("no matchers passed")
	ErrUnexpectedTransition = errors.New("unexpected transition")
)

// Matcher defines an assertion matcher interface.
type Matcher interface {
	Match(engine *TestEngine) (bool, error)
	Description() string
}

// StageWasVisited creates a matcher that checks if a stage was entered.
func StageWasVisited(name string) Matcher {
	return &stageVisitedMatcher{stage: name}
}

type stageVisitedMatcher struct {
	stage string
}

func (m *stageVisitedMatcher) Match(engine *TestEngine) (bool, error) {
	if slices.Contains(engine.recorder.Stages(), m.stage) {
		return true, nil
	}

	return false, fmt.Errorf("%w: '%s'", ErrStageNotVisited, m.stage)
}

func (m *stageVisitedMatcher) Description() string {
	return fmt.Sprintf("stage '%s' should be visited", m.stage)
}

// TransitionWasTaken creates a matcher that checks if a transition was committed.
func TransitionWasTaken(from, to string) Matcher {
	return &transitionTakenMatcher{from: from, to: to}
}

type transitionTakenMatcher struct {
	from string
	to   string
}

func (m *transitionTakenMatcher) Match(engine *TestEngine) (bool, error) {
	for _, change := range engine.recorder.Changes() {
		if change.From == m.from && change.To == m.to {
			return true, nil
		}
	}

	return false, fmt.Errorf("%w: from '%s' to '%s'", ErrTransitionNotTaken, m.from, m.to)
}

func (m *transitionTakenMatcher) Description() string {
	return fmt.Sprintf("transition from '%s' to '%s' should be taken", m.from, m.to)
}

// NoTransitions creates a matcher that passes when nothing was committed.
func NoTransitions() Matcher {
	return &noTransitionsMatcher{}
}

type noTransitionsMatcher struct{}

func (m *noTransitionsMatcher) Match(engine *TestEngine) (bool, error) {
	changes := engine.recorder.Changes()
	if len(changes) == 0 {
		return true, nil
	}

	return false, fmt.Errorf("%w: from '%s' to '%s'", ErrUnexpectedTransition, changes[0].From, changes[0].To)
}

func (m *noTransitionsMatcher) Description() string {
	return "no transition should be committed"
}

// EventWasHandled creates a matcher that checks if event led to a commit.
func EventWasHandled(event string) Matcher {
	return &eventHandledMatcher{event: event}
}

type eventHandledMatcher struct {
	event string
}

func (m *eventHandledMatcher) Match(engine *TestEngine) (bool, error) {
	for _, info := range engine.recorder.Events() {
		if info.Name == m.event {
			return true, nil
		}
	}

	return false, fmt.Errorf("%w: '%s'", ErrEventNotHandled, m.event)
}

func (m *eventHandledMatcher) Description() string {
	return fmt.Sprintf("event '%s' should be handled", m.event)
}

// CurrentStageIs creates a matcher that checks the current stage.
func CurrentStageIs(stage string) Matcher {
	return &currentStageMatcher{stage: stage}
}

type currentStageMatcher struct {
	stage string
}

func (m *currentStageMatcher) Match(engine *TestEngine) (bool, error) {
	actual := engine.CurrentStage()
	if actual == m.stage {
		return true, nil
	}

	return false, fmt.Errorf("%w: expected '%s', got '%s'", ErrStageMismatch, m.stage, actual)
}

func (m *currentStageMatcher) Description() string {
	return fmt.Sprintf("current stage should be '%s'", m.stage)
}

// DataEquals creates a matcher that compares the current data with testify's equality.
func DataEquals(expected any) Matcher {
	return &dataMatcher{expected: expected}
}

type dataMatcher struct {
	expected any
}

func (m *dataMatcher) Match(engine *TestEngine) (bool, error) {
	actual := engine.CurrentData()
	if assert.ObjectsAreEqual(m.expected, actual) {
		return true, nil
	}

	return false, fmt.Errorf("%w: expected %v, got %v", ErrDataMismatch, m.expected, actual)
}

func (m *dataMatcher) Description() string {
	return fmt.Sprintf("stage data should equal %v", m.expected)
}

// HistoryIs creates a matcher that checks the full history.
func HistoryIs(stages ...string) Matcher {
	return &historyMatcher{stages: stages}
}

type historyMatcher struct {
	stages []string
}

func (m *historyMatcher) Match(engine *TestEngine) (bool, error) {
	actual := engine.History()
	if slices.Equal(actual, m.stages) {
		return true, nil
	}

	return false, fmt.Errorf("%w: expected %v, got %v", ErrHistoryMismatch, m.stages, actual)
}

func (m *historyMatcher) Description() string {
	return fmt.Sprintf("history should be %v", m.stages)
}

// FailedWith creates a matcher that checks a TrySend failure matched target.
func FailedWith(target error) Matcher {
	return &failedWithMatcher{target: target}
}

type failedWithMatcher struct {
	target error
}

func (m *failedWithMatcher) Match(engine *TestEngine) (bool, error) {
	failures := engine.recorder.Failures()
	if len(failures) == 0 {
		return false, ErrNoFailureRecorded
	}

	for _, err := range failures {
		if errors.Is(err, m.target) {
			return true, nil
		}
	}

	return false, fmt.Errorf("%w: %v", ErrFailureMismatch, failures)
}

func (m *failedWithMatcher) Description() string {
	return fmt.Sprintf("a request should fail with %v", m.target)
}

// All creates a matcher that requires all sub-matchers to pass.
func All(matchers ...Matcher) Matcher {
	return &allMatcher{matchers: matchers}
}

type allMatcher struct {
	matchers []Matcher
}

func (m *allMatcher) Match(engine *TestEngine) (bool, error) {
	for _, matcher := range m.matchers {
		matched, err := matcher.Match(engine)
		if !matched || err != nil {
			return false, err
		}
	}

	return true, nil
}

func (m *allMatcher) Description() string {
	return "all matchers should pass"
}

// Any creates a matcher that requires at least one sub-matcher to pass.
func Any(matchers ...Matcher) Matcher {
	return &anyMatcher{matchers: matchers}
}

type anyMatcher struct {
	matchers []Matcher
}

func (m *anyMatcher) Match(engine *TestEngine) (bool, error) {
	for _, matcher := range m.matchers {
		matched, err := matcher.Match(engine)
		if matched && err == nil {
			return true, nil
		}
	}

	return false, ErrNoMatchersPassed
}

func (m *anyMatcher) Description() string {
	return "at least one matcher should pass"
}
