package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Name of the program producing the logs. Set by ConfigureLoggingWithOptions.
var subsystem atomic.Value //nolint:gochecknoglobals

// configMutex serializes changes to slog.Default and log.Default.
var configMutex sync.Mutex //nolint:gochecknoglobals

type contextKey string

var (
	// ErrInvalidLogOutput is returned when LOG_OUTPUT names an unknown destination.
	ErrInvalidLogOutput = errors.New("invalid log output")
	// ErrInvalidLogLevel is returned when a level variable cannot be parsed.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidLogFormat is returned when LOG_JSON is not a boolean.
	ErrInvalidLogFormat = errors.New("invalid log format")
)

// Options is used to configure logging.
type Options struct {
	Subsystem   string
	JSON        bool
	MinLevel    slog.Level
	LegacyLevel slog.Level
	Output      io.Writer

	// Handlers receive every record in addition to Output, for example
	// an OpenTelemetry log bridge.
	Handlers []slog.Handler
}

// ConfigureLoggingWithOptions configures logging for the application and
// returns the new default logger. Annotated errors (see AnnotateError) have
// their attributes expanded by every handler.
func ConfigureLoggingWithOptions(opts Options) *slog.Logger {
	configMutex.Lock()
	defer configMutex.Unlock()

	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{Level: opts.MinLevel}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(opts.Output, handlerOpts)
	} else {
		handler = slog.NewTextHandler(opts.Output, handlerOpts)
	}

	if len(opts.Handlers) > 0 {
		handler = Fanout(append([]slog.Handler{handler}, opts.Handlers...)...)
	}

	handler = &slogErrorLogger{inner: handler}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	// Third party packages may still write through the log package.
	def := log.Default()
	*def = *slog.NewLogLogger(handler, opts.LegacyLevel) //nolint:govet

	subsystem.Store(opts.Subsystem)

	return logger
}

// Option is a functional option for configuring logging via ConfigureLogging.
type Option func(*Options)

// WithJSON switches between JSON and text output.
func WithJSON(enabled bool) Option {
	return func(o *Options) {
		o.JSON = enabled
	}
}

// WithLevel sets the minimum level written.
func WithLevel(level slog.Level) Option {
	return func(o *Options) {
		o.MinLevel = level
	}
}

// WithOutput sets the destination of the primary handler.
func WithOutput(w io.Writer) Option {
	return func(o *Options) {
		o.Output = w
	}
}

// WithHandler adds a handler that receives every record.
func WithHandler(handler slog.Handler) Option {
	return func(o *Options) {
		if handler != nil {
			o.Handlers = append(o.Handlers, handler)
		}
	}
}

// ConfigureLogging configures logging for app from the environment, then
// applies opts on top.
//
//	LOG_JSON          true/false (default false)
//	LOG_LEVEL         debug, info, warn, error (default info)
//	LEGACY_LOG_LEVEL  level used for the log package (default info)
//	LOG_OUTPUT        stdout or stderr (default stderr)
func ConfigureLogging(app string, opts ...Option) (*slog.Logger, error) {
	options, err := optionsFromEnv(app)
	if err != nil {
		return nil, err
	}

	for _, o := range opts {
		o(&options)
	}

	return ConfigureLoggingWithOptions(options), nil
}

func optionsFromEnv(app string) (Options, error) {
	options := Options{
		Subsystem:   app,
		MinLevel:    slog.LevelInfo,
		LegacyLevel: slog.LevelInfo,
		Output:      os.Stderr,
	}

	if value, ok := lookupEnv("LOG_JSON"); ok {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return options, fmt.Errorf("%w: LOG_JSON=%q", ErrInvalidLogFormat, value)
		}

		options.JSON = enabled
	}

	for name, target := range map[string]*slog.Level{
		"LOG_LEVEL":        &options.MinLevel,
		"LEGACY_LOG_LEVEL": &options.LegacyLevel,
	} {
		value, ok := lookupEnv(name)
		if !ok {
			continue
		}

		level, err := ParseLevel(value)
		if err != nil {
			return options, fmt.Errorf("%s: %w", name, err)
		}

		*target = level
	}

	if value, ok := lookupEnv("LOG_OUTPUT"); ok {
		switch strings.ToLower(value) {
		case "stdout":
			options.Output = os.Stdout
		case "stderr":
			options.Output = os.Stderr
		default:
			return options, fmt.Errorf("%w: %q", ErrInvalidLogOutput, value)
		}
	}

	return options, nil
}

// lookupEnv treats an empty variable as unset.
func lookupEnv(name string) (string, bool) {
	value, ok := os.LookupEnv(name)

	return value, ok && strings.TrimSpace(value) != ""
}

// ParseLevel parses a level name such as "debug" or "WARN+2".
func ParseLevel(value string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return slog.LevelInfo, fmt.Errorf("%w: %q", ErrInvalidLogLevel, value)
	}

	return level, nil
}

// WithMuted marks ctx so that loggers obtained through Get discard all output.
func WithMuted(ctx context.Context, muted bool) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, contextKey("mute"), muted)
}

func isMuted(ctx context.Context) bool {
	if ctx == nil {
		return false
	}

	muted, ok := ctx.Value(contextKey("mute")).(bool)

	return ok && muted
}

// WithSubsystem overrides the subsystem reported by loggers obtained from ctx.
func WithSubsystem(ctx context.Context, subsystem string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, contextKey("subsystem"), subsystem)
}

// GetSubsystem returns the subsystem from the context, falling back to the
// one given to ConfigureLoggingWithOptions.
func GetSubsystem(ctx context.Context) string { //nolint:contextcheck
	if ctx == nil {
		ctx = context.Background()
	}

	if sub, ok := ctx.Value(contextKey("subsystem")).(string); ok {
		return sub
	}

	if defaultSub, ok := subsystem.Load().(string); ok {
		return defaultSub
	}

	return ""
}

// nullHandler discards everything. It backs muted loggers.
type nullHandler struct{}

func (n *nullHandler) Enabled(context.Context, slog.Level) bool {
	return false
}

func (n *nullHandler) Handle(context.Context, slog.Record) error {
	return nil
}

func (n *nullHandler) WithAttrs([]slog.Attr) slog.Handler {
	return n
}

func (n *nullHandler) WithGroup(string) slog.Handler {
	return n
}

var nullLogger = slog.New(&nullHandler{}) //nolint:gochecknoglobals

// Get returns the default logger decorated with the subsystem and any values
// attached to ctx with With. Only the first non-nil context is used.
//
//nolint:contextcheck
func Get(ctx ...context.Context) *slog.Logger {
	realCtx := context.Background()

	for _, c := range ctx {
		if c != nil {
			realCtx = c //nolint:fatcontext

			break
		}
	}

	if isMuted(realCtx) {
		return nullLogger
	}

	logger := slog.Default()

	if sub := GetSubsystem(realCtx); sub != "" {
		logger = logger.With("subsystem", sub)
	}

	if vals := getValues(realCtx); vals != nil {
		logger = logger.With(vals...)
	}

	return logger
}

// With returns a new context carrying values that Get adds to its logger.
func With(ctx context.Context, values ...any) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	if len(values) == 0 {
		return ctx
	}

	existing := getValues(ctx)
	vals := make([]any, 0, len(existing)+len(values))
	vals = append(vals, existing...)
	vals = append(vals, values...)

	return context.WithValue(ctx, contextKey("loggerValues"), vals)
}

func getValues(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}

	vals, _ := ctx.Value(contextKey("loggerValues")).([]any)

	return vals
}
