package statemachine

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric definitions. Every series carries the engine name so several engines can share a registry.
var (
	// transitionsTotal tracks committed transitions.
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statemachine_transitions_total",
		Help: "Total number of committed stage transitions by engine, from stage, to stage and origin",
	}, []string{"engine", "from", "to", "origin"})

	// transitionFailuresTotal tracks requests that failed before commit.
	transitionFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statemachine_transition_failures_total",
		Help: "Total number of failed transition requests by engine and reason",
	}, []string{"engine", "reason"})

	// transitionsCancelledTotal tracks transitions withheld by middleware.
	transitionsCancelledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statemachine_transitions_cancelled_total",
		Help: "Total number of transitions cancelled by middleware",
	}, []string{"engine", "middleware"})

	timerFiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statemachine_timer_fired_total",
		Help: "Total number of stage timers that fired",
	}, []string{"engine", "stage", "event"})

	hookFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statemachine_hook_failures_total",
		Help: "Total number of plugin hooks that returned an error or panicked",
	}, []string{"engine", "plugin", "hook"})

	listenerFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statemachine_listener_failures_total",
		Help: "Total number of subscriber callbacks that panicked",
	}, []string{"engine"})

	// queueDepth is the number of requests waiting for the processing loop.
	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "statemachine_queue_depth",
		Help: "Number of requests waiting to be processed",
	}, []string{"engine"})

	// transitionDuration tracks time spent processing one request.
	transitionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "statemachine_transition_duration_seconds",
		Help:    "Duration of request processing by engine and kind",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"engine", "kind"})
)

// failureReason maps an error to a bounded metric label.
func failureReason(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrUnknownStage):
		return "unknown_stage"
	case errors.Is(err, ErrGuardPanic):
		return "guard_panic"
	case errors.Is(err, ErrMiddlewarePanic):
		return "middleware_panic"
	case errors.Is(err, ErrTransitionCancelled):
		return "cancelled"
	case errors.Is(err, ErrEngineStopped):
		return "engine_stopped"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "context"
	default:
		return "other"
	}
}
