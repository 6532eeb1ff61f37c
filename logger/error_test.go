//nolint:err113 // Test file uses errors.New() for creating test errors
package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnnotateError(t *testing.T) {
	t.Parallel()

	assert.NoError(t, AnnotateError(nil, "key", "value"))

	base := errors.New("guard panicked")
	annotated := AnnotateError(base, "stage", "cart", "attempt", 3)

	assert.Equal(t, "guard panicked", annotated.Error())
	require.ErrorIs(t, annotated, base)
	assert.Equal(t, base, errors.Unwrap(annotated))

	var se *slogError
	require.ErrorAs(t, annotated, &se)
	require.Len(t, se.attrs, 2)
	assert.Equal(t, "stage", se.attrs[0].Key)
	assert.Equal(t, int64(3), se.attrs[1].Value.Int64())

	assert.Empty(t, AnnotateError(base).(*slogError).attrs) //nolint:errorlint,forcetypeassert
}

func TestErrorAttrs(t *testing.T) {
	t.Parallel()

	inner := AnnotateError(errors.New("boom"), "stage", "payment")
	outer := AnnotateError(fmt.Errorf("send: %w", inner), "event", "pay")
	other := AnnotateError(errors.New("other"), "plugin", "audit")

	keys := func(attrs []slog.Attr) []string {
		out := make([]string, 0, len(attrs))
		for _, attr := range attrs {
			out = append(out, attr.Key)
		}

		return out
	}

	assert.Equal(t, []string{"event", "stage"}, keys(ErrorAttrs(outer)))
	assert.Equal(t, []string{"event", "stage", "plugin"}, keys(ErrorAttrs(errors.Join(outer, other))))
	assert.Empty(t, ErrorAttrs(errors.New("plain")))
	assert.Empty(t, ErrorAttrs(nil))
}

func handleOne(t *testing.T, attrs ...slog.Attr) map[string]any {
	t.Helper()

	var buf bytes.Buffer

	handler := &slogErrorLogger{inner: slog.NewJSONHandler(&buf, nil)}

	record := slog.NewRecord(time.Now(), slog.LevelError, "transition failed", 0)
	record.AddAttrs(attrs...)

	require.NoError(t, handler.Handle(context.Background(), record))

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))

	return out
}

func TestSlogErrorLoggerHandle(t *testing.T) {
	t.Parallel()

	t.Run("plain error", func(t *testing.T) {
		t.Parallel()

		out := handleOne(t, slog.Any("error", errors.New("plain")), slog.String("engine", "kiosk"))
		assert.Equal(t, "plain", out["error"])
		assert.Equal(t, "kiosk", out["engine"])
	})

	t.Run("annotated error", func(t *testing.T) {
		t.Parallel()

		out := handleOne(t,
			slog.String("engine", "kiosk"),
			slog.Any("error", AnnotateError(errors.New("no route"), "stage", "menu", "event", "pick")),
		)
		assert.Equal(t, "no route", out["error"])
		assert.Equal(t, "kiosk", out["engine"])
		assert.Equal(t, "menu", out["stage"])
		assert.Equal(t, "pick", out["event"])
	})

	t.Run("wrapped annotated error", func(t *testing.T) {
		t.Parallel()

		err := fmt.Errorf("stagectl: %w", AnnotateError(errors.New("no route"), "stage", "menu"))
		out := handleOne(t, slog.Any("error", err))
		assert.Equal(t, "stagectl: no route", out["error"])
		assert.Equal(t, "menu", out["stage"])
	})

	t.Run("joined errors", func(t *testing.T) {
		t.Parallel()

		err := errors.Join(
			AnnotateError(errors.New("first"), "plugin", "audit"),
			AnnotateError(errors.New("second"), "middleware", "auth"),
		)
		out := handleOne(t, slog.Any("error", err))
		assert.Equal(t, "first\nsecond", out["error"])
		assert.Equal(t, "audit", out["plugin"])
		assert.Equal(t, "auth", out["middleware"])
	})
}

func TestSlogErrorLoggerDerived(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	base := &slogErrorLogger{inner: slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})}

	assert.False(t, base.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, base.Enabled(context.Background(), slog.LevelError))

	logger := slog.New(base).With("engine", "kiosk").WithGroup("request")
	assert.IsType(t, &slogErrorLogger{}, logger.Handler())

	logger.Error("failed", "error", AnnotateError(errors.New("boom"), "stage", "menu"))

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "kiosk", out["engine"])
	assert.Equal(t, map[string]any{"error": "boom", "stage": "menu"}, out["request"])
}
