package statemachine

import (
	"log/slog"
	"maps"

	"github.com/jonboulle/clockwork"
)

const defaultHistoryLimit = 100

type options struct {
	name          string
	logger        Logger
	slogLogger    *slog.Logger
	clock         clockwork.Clock
	guards        map[string]Guard
	cancelAsError bool
	historyLimit  int
	plugins       []Plugin
	middleware    []Middleware
}

// Option configures an Engine.
type Option func(*options)

func defaultOptions() options {
	return options{
		clock:        clockwork.NewRealClock(),
		guards:       map[string]Guard{},
		historyLimit: defaultHistoryLimit,
	}
}

// WithName sets the engine name used in logs, metrics and spans. It defaults to Config.Name.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithLogger replaces the engine logger.
func WithLogger(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithSlogLogger makes the default logger write to the given slog logger.
func WithSlogLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.slogLogger = logger
	}
}

// WithClock sets the clock timers run on.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithGuards registers named guards that transitions reference through GuardName.
func WithGuards(guards map[string]Guard) Option {
	return func(o *options) {
		maps.Copy(o.guards, guards)
	}
}

// WithCancelAsError makes a plain middleware Cancel fail the caller with a *CancelledError.
func WithCancelAsError(enabled bool) Option {
	return func(o *options) {
		o.cancelAsError = enabled
	}
}

// WithHistoryLimit bounds the stage history kept by the engine. Zero keeps everything.
func WithHistoryLimit(limit int) Option {
	return func(o *options) {
		o.historyLimit = max(limit, 0)
	}
}

// WithPlugins installs plugins at construction, in order.
func WithPlugins(plugins ...Plugin) Option {
	return func(o *options) {
		o.plugins = append(o.plugins, plugins...)
	}
}

// WithMiddleware registers middleware at construction, in order.
func WithMiddleware(middleware ...Middleware) Option {
	return func(o *options) {
		o.middleware = append(o.middleware, middleware...)
	}
}
