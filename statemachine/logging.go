package statemachine

import (
	"context"
	"log/slog"
)

// Logger provides logging hooks for engine execution.
type Logger interface {
	StageEntered(ctx context.Context, change StageChange)
	TransitionRejected(ctx context.Context, from, event string, err error)
	TransitionCancelled(ctx context.Context, tc TransitionContext, middleware, reason string)
	TimerFired(ctx context.Context, stage string, timer TimerSpec)
	HookFailed(ctx context.Context, plugin, hook string, err error)
	ListenerFailed(ctx context.Context, subscription string, err error)
}

// DefaultLogger implements Logger using slog.
type DefaultLogger struct {
	logger *slog.Logger
}

// NewDefaultLogger creates a logger writing to slog.Default().
func NewDefaultLogger() *DefaultLogger {
	return NewSlogLogger(slog.Default())
}

// NewSlogLogger creates a logger writing to the given slog logger.
func NewSlogLogger(logger *slog.Logger) *DefaultLogger {
	if logger == nil {
		logger = slog.Default()
	}

	return &DefaultLogger{logger: logger}
}

// With returns a logger that adds the given attributes to every record.
func (l *DefaultLogger) With(args ...any) *DefaultLogger {
	return &DefaultLogger{logger: l.logger.With(args...)}
}

func (l *DefaultLogger) StageEntered(ctx context.Context, change StageChange) {
	fields := []any{
		"from", change.From,
		"to", change.To,
	}

	if change.Event != "" {
		fields = append(fields, "event", change.Event)
	}

	if change.Origin != "" {
		fields = append(fields, "origin", string(change.Origin))
	}

	if traceID, spanID := extractTraceContext(ctx); traceID != "" {
		fields = append(fields, "trace_id", traceID, "span_id", spanID)
	}

	l.logger.InfoContext(ctx, "Stage entered", fields...)
}

func (l *DefaultLogger) TransitionRejected(ctx context.Context, from, event string, err error) {
	l.logger.WarnContext(ctx, "Transition rejected",
		"stage", from,
		"event", event,
		"error", err,
	)
}

func (l *DefaultLogger) TransitionCancelled(ctx context.Context, tc TransitionContext, middleware, reason string) {
	l.logger.InfoContext(ctx, "Transition cancelled",
		"from", tc.From,
		"to", tc.To,
		"event", tc.Event,
		"origin", string(tc.Origin),
		"middleware", middleware,
		"reason", reason,
	)
}

func (l *DefaultLogger) TimerFired(ctx context.Context, stage string, timer TimerSpec) {
	l.logger.DebugContext(ctx, "Timer fired",
		"stage", stage,
		"event", timer.Event,
		"duration_ms", timer.Duration.Milliseconds(),
	)
}

func (l *DefaultLogger) HookFailed(ctx context.Context, plugin, hook string, err error) {
	l.logger.ErrorContext(ctx, "Plugin hook failed",
		"plugin", plugin,
		"hook", hook,
		"error", err,
	)
}

func (l *DefaultLogger) ListenerFailed(ctx context.Context, subscription string, err error) {
	l.logger.ErrorContext(ctx, "Subscriber failed",
		"subscription", subscription,
		"error", err,
	)
}
