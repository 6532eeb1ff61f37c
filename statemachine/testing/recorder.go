package testing

import (
	"context"
	"slices"
	"sync"

	"github.com/amp-labs/stage-engine/statemachine"
)

// RecorderPluginName is the name the Recorder plugin installs under.
const RecorderPluginName = "test-recorder"

// Recorder captures everything an engine reports: committed transitions through its plugin
// hooks and entered stages through a subscription. It is safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	changes  []statemachine.StageChange
	events   []statemachine.EventInfo
	stages   []string
	data     []any
	starts   int
	failures []error
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Plugin returns the plugin that feeds the recorder.
func (r *Recorder) Plugin() statemachine.Plugin {
	return statemachine.Plugin{
		Name: RecorderPluginName,
		OnStart: func(context.Context, *statemachine.Engine) error {
			r.mu.Lock()
			defer r.mu.Unlock()

			r.starts++

			return nil
		},
		OnStageChange: func(_ context.Context, change statemachine.StageChange) error {
			r.mu.Lock()
			defer r.mu.Unlock()

			r.changes = append(r.changes, change)

			return nil
		},
		OnEvent: func(_ context.Context, info statemachine.EventInfo) error {
			r.mu.Lock()
			defer r.mu.Unlock()

			r.events = append(r.events, info)

			return nil
		},
	}
}

// Listen is a statemachine.Listener recording every entered stage.
func (r *Recorder) Listen(_ context.Context, stage string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stages = append(r.stages, stage)
	r.data = append(r.data, data)
}

func (r *Recorder) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.failures = append(r.failures, err)
}

// Changes returns the committed transitions, oldest first.
func (r *Recorder) Changes() []statemachine.StageChange {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.changes)
}

// Events returns the events that led to a commit, oldest first.
func (r *Recorder) Events() []statemachine.EventInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.events)
}

// Stages returns every stage subscribers were notified about, including the initial stage.
func (r *Recorder) Stages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.stages)
}

// LastData returns the data of the latest notification.
func (r *Recorder) LastData() (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.data) == 0 {
		return nil, false
	}

	return r.data[len(r.data)-1], true
}

// Starts returns how many times OnStart ran.
func (r *Recorder) Starts() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.starts
}

// Failures returns the errors of rejected requests made through a TestEngine.
func (r *Recorder) Failures() []error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.failures)
}
