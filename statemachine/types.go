// Package statemachine provides a stage engine: a finite state machine runtime that drives UI flows
// through named stages, event-triggered transitions, per-stage timers and a plugin/middleware pipeline.
package statemachine

import "time"

// Guard decides whether a transition applies, given the current stage data and the event payload.
type Guard func(data, payload any) bool

// Stage is a named state of the machine. The name is its identity.
type Stage struct {
	Name        string         `json:"name"                  yaml:"name"`
	Transitions []Transition   `json:"transitions,omitempty" yaml:"transitions,omitempty"`
	Effect      string         `json:"effect,omitempty"      yaml:"effect,omitempty"`
	Timers      []TimerSpec    `json:"timers,omitempty"      yaml:"timers,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"    yaml:"metadata,omitempty"`
}

// Transition maps an event to a target stage. Transitions sharing an event are evaluated in
// declaration order and the first one whose guard is nil or satisfied wins.
type Transition struct {
	Event  string `json:"event"           yaml:"event"`
	Target string `json:"target"          yaml:"target"`
	// GuardName refers to a guard registered with WithGuards. It is how YAML configs attach guards.
	GuardName string `json:"guard,omitempty" yaml:"guard,omitempty"`
	Guard     Guard  `json:"-"               yaml:"-"`
}

// TimerSpec describes an event fired automatically if the stage is not exited first.
type TimerSpec struct {
	Duration time.Duration `json:"duration"          yaml:"duration"`
	Event    string        `json:"event"             yaml:"event"`
	// Payload becomes the event data when the timer fires. A nil payload carries the data over.
	Payload any `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// Status is the lifecycle state of an Engine.
type Status int

const (
	StatusUninitialized Status = iota
	StatusIdle
	StatusTransitioning
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusIdle:
		return "idle"
	case StatusTransitioning:
		return "transitioning"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Origin identifies what requested a transition.
type Origin string

const (
	OriginSend  Origin = "send"
	OriginGoTo  Origin = "goto"
	OriginTimer Origin = "timer"
)

// TransitionContext is the pending transition handed to middleware and plugins.
// Middleware may rewrite To and Data; the rewritten values are what gets committed.
type TransitionContext struct {
	From    string
	To      string
	Event   string // empty for goto
	Origin  Origin
	Data    any
	Payload any
}

// StageChange describes a committed transition.
type StageChange struct {
	From   string
	To     string
	Event  string
	Origin Origin
	Data   any
}

// EventInfo is delivered to OnEvent hooks for commits that originated from an event.
type EventInfo struct {
	Name    string
	Payload any
	Origin  Origin
	Stage   string
}

// Result reports the outcome of a Send or GoTo call.
type Result struct {
	From   string
	To     string
	Event  string
	Origin Origin

	// Cancelled is set when a middleware withheld the commit.
	Cancelled   bool
	CancelledBy string
	Reason      string

	// Queued is set when the call was made from inside a hook and was only enqueued.
	Queued bool
}
