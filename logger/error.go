package logger

import (
	"context"
	"log/slog"
	"time"
)

// AnnotateError wraps err with slog key-value pairs. When the returned error
// (or anything wrapping it) is logged through a handler installed by
// ConfigureLoggingWithOptions, the pairs are added to the record.
//
//	return logger.AnnotateError(err, "stage", stage, "event", event)
//
// Returns nil if err is nil.
func AnnotateError(err error, args ...any) error {
	if err == nil {
		return nil
	}

	r := slog.NewRecord(time.Now(), slog.LevelDebug, "", 0)
	r.Add(args...)

	attrs := make([]slog.Attr, 0, r.NumAttrs())

	r.Attrs(func(attr slog.Attr) bool {
		attrs = append(attrs, attr)

		return true
	})

	return &slogError{err: err, attrs: attrs}
}

// ErrorAttrs returns every attribute attached to err's chain by AnnotateError,
// outermost first. Joined errors are walked in order.
func ErrorAttrs(err error) []slog.Attr {
	var attrs []slog.Attr

	walk(err, func(se *slogError) {
		attrs = append(attrs, se.attrs...)
	})

	return attrs
}

func walk(err error, visit func(*slogError)) {
	if err == nil {
		return
	}

	if se, ok := err.(*slogError); ok { //nolint:errorlint
		visit(se)
	}

	switch unwrapped := err.(type) { //nolint:errorlint
	case interface{ Unwrap() []error }:
		for _, inner := range unwrapped.Unwrap() {
			walk(inner, visit)
		}
	case interface{ Unwrap() error }:
		walk(unwrapped.Unwrap(), visit)
	}
}

type slogError struct {
	err   error
	attrs []slog.Attr
}

func (s *slogError) Error() string {
	return s.err.Error()
}

func (s *slogError) Unwrap() error {
	return s.err
}

var _ error = (*slogError)(nil)

// slogErrorLogger decorates a handler so annotated errors have their
// attributes written next to the error.
type slogErrorLogger struct {
	inner slog.Handler
}

var _ slog.Handler = (*slogErrorLogger)(nil)

func (s *slogErrorLogger) Enabled(ctx context.Context, level slog.Level) bool {
	return s.inner.Enabled(ctx, level)
}

func (s *slogErrorLogger) Handle(ctx context.Context, record slog.Record) error {
	var (
		baseAttrs []slog.Attr
		errAttrs  []slog.Attr
	)

	record.Attrs(func(attr slog.Attr) bool {
		if err, ok := attr.Value.Any().(error); ok {
			if extra := ErrorAttrs(err); len(extra) > 0 {
				errAttrs = append(errAttrs, extra...)

				if se, ok := err.(*slogError); ok { //nolint:errorlint
					attr = slog.Any(attr.Key, se.err)
				}
			}
		}

		baseAttrs = append(baseAttrs, attr)

		return true
	})

	if len(errAttrs) == 0 {
		return s.inner.Handle(ctx, record)
	}

	r := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	r.AddAttrs(baseAttrs...)
	r.AddAttrs(errAttrs...)

	return s.inner.Handle(ctx, r)
}

func (s *slogErrorLogger) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &slogErrorLogger{inner: s.inner.WithAttrs(attrs)}
}

func (s *slogErrorLogger) WithGroup(name string) slog.Handler {
	return &slogErrorLogger{inner: s.inner.WithGroup(name)}
}
