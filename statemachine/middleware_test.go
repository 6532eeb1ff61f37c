package statemachine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func continueWith(name string, log *hookLog) Middleware {
	return Middleware{
		Name: name,
		Handle: func(context.Context, *TransitionContext) Outcome {
			log.add(name)

			return Continue()
		},
	}
}

func alwaysCancel(reason string) Middleware {
	return Middleware{
		Name: "deny",
		Handle: func(context.Context, *TransitionContext) Outcome {
			return Cancel(reason)
		},
	}
}

func TestMiddlewareOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	var log hookLog

	engine, _ := startEngine(t, scenarioConfig(), WithMiddleware(continueWith("first", &log)))
	require.NoError(t, engine.AddMiddleware(continueWith("second", &log)))
	require.NoError(t, engine.AddMiddleware(continueWith("third", &log)))

	_, err := engine.Send(ctx, "start")
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, log.all())
	assert.Equal(t, []string{"first", "second", "third"}, engine.Middleware())

	require.NoError(t, engine.RemoveMiddleware("second"))
	assert.Equal(t, []string{"first", "third"}, engine.Middleware())
}

func TestMiddlewareRewrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	var seen []string

	engine, _ := startEngine(t, scenarioConfig(),
		WithMiddleware(
			Middleware{
				Name: "redirect",
				Handle: func(_ context.Context, tc *TransitionContext) Outcome {
					if tc.To == "success" {
						tc.To = "error"
						tc.Data = "redirected"
					}

					return Continue()
				},
			},
			Middleware{
				Name: "observe",
				Handle: func(_ context.Context, tc *TransitionContext) Outcome {
					seen = append(seen, tc.To)

					return Continue()
				},
			},
		),
	)

	_, err := engine.Send(ctx, "start")
	require.NoError(t, err)

	result, err := engine.Send(ctx, "complete")
	require.NoError(t, err)
	assert.Equal(t, "error", result.To)
	assert.Equal(t, "error", engine.CurrentStage())
	assert.Equal(t, "redirected", engine.CurrentData())
	assert.Equal(t, []string{"loading", "error"}, seen)
}

func TestMiddlewareRewriteToUnknownStage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, _ := startEngine(t, scenarioConfig(), WithMiddleware(Middleware{
		Name: "broken",
		Handle: func(_ context.Context, tc *TransitionContext) Outcome {
			tc.To = "nowhere"

			return Continue()
		},
	}))

	_, err := engine.Send(ctx, "start")
	require.ErrorIs(t, err, ErrUnknownStage)
	assert.Equal(t, "idle", engine.CurrentStage())
}

func TestMiddlewareAlwaysCancels(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	var (
		log hookLog
		rec recorder
	)

	engine, _ := startEngine(t, scenarioConfig(),
		WithMiddleware(alwaysCancel("closed"), continueWith("after", &log)),
		WithPlugins(Plugin{
			Name: "audit",
			OnBeforeTransition: func(context.Context, TransitionContext) error {
				log.add("before")

				return nil
			},
		}),
	)
	engine.Subscribe(rec.listen)

	for range 3 {
		result, err := engine.Send(ctx, "start", "ignored")
		require.NoError(t, err)
		assert.True(t, result.Cancelled)
		assert.Equal(t, "deny", result.CancelledBy)
		assert.Equal(t, "closed", result.Reason)

		_, err = engine.GoTo(ctx, "success")
		require.NoError(t, err)
	}

	assert.Equal(t, "idle", engine.CurrentStage())
	assert.Nil(t, engine.CurrentData())
	assert.Zero(t, rec.count())
	assert.Empty(t, log.all(), "no later middleware or plugin hook runs")
}

func TestMiddlewareCancelAsError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, _ := startEngine(t, scenarioConfig(),
		WithMiddleware(alwaysCancel("closed")),
		WithCancelAsError(true),
	)

	result, err := engine.Send(ctx, "start")
	require.ErrorIs(t, err, ErrTransitionCancelled)
	assert.True(t, result.Cancelled)

	var cancelled *CancelledError
	require.ErrorAs(t, err, &cancelled)
	assert.Equal(t, "deny", cancelled.Middleware)
	assert.Equal(t, "closed", cancelled.Reason)
	assert.Equal(t, "idle", engine.CurrentStage())
}

func TestMiddlewareCancelWithError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	errForbidden := errors.New("forbidden")

	engine, _ := startEngine(t, scenarioConfig(), WithMiddleware(Middleware{
		Name: "auth",
		Handle: func(context.Context, *TransitionContext) Outcome {
			return CancelWithError("not signed in", errForbidden)
		},
	}))

	_, err := engine.Send(ctx, "start")
	require.ErrorIs(t, err, ErrTransitionCancelled)
	require.ErrorIs(t, err, errForbidden)
	assert.Equal(t, "transition cancelled by auth: not signed in (forbidden)", err.Error())
}

func TestMiddlewarePanic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, _ := startEngine(t, scenarioConfig(), WithMiddleware(Middleware{
		Name: "explode",
		Handle: func(context.Context, *TransitionContext) Outcome {
			panic("boom")
		},
	}))

	_, err := engine.Send(ctx, "start")
	require.ErrorIs(t, err, ErrMiddlewarePanic)
	assert.Equal(t, "idle", engine.CurrentStage())

	// The loop survives the panic.
	require.NoError(t, engine.RemoveMiddleware("explode"))

	_, err = engine.Send(ctx, "start")
	require.NoError(t, err)
}

func TestMiddlewareRegistry(t *testing.T) {
	t.Parallel()

	engine, _ := newEngine(t, scenarioConfig())
	noop := func(context.Context, *TransitionContext) Outcome { return Continue() }

	require.NoError(t, engine.AddMiddleware(Middleware{Name: "a", Handle: noop}))
	require.ErrorIs(t, engine.AddMiddleware(Middleware{Name: "a", Handle: noop}), ErrDuplicateMiddleware)
	require.ErrorIs(t, engine.AddMiddleware(Middleware{Handle: noop}), ErrMiddlewareNameRequired)
	require.ErrorIs(t, engine.AddMiddleware(Middleware{Name: "b"}), ErrMiddlewareHandlerRequired)
	require.ErrorIs(t, engine.RemoveMiddleware("missing"), ErrUnknownMiddleware)
	require.NoError(t, engine.RemoveMiddleware("a"))
	require.ErrorIs(t, engine.RemoveMiddleware("a"), ErrUnknownMiddleware)
}

func TestOutcome(t *testing.T) {
	t.Parallel()

	assert.False(t, Continue().Cancelled())

	outcome := CancelWithError("why", context.Canceled)
	assert.True(t, outcome.Cancelled())
	assert.Equal(t, "why", outcome.Reason())
	assert.Equal(t, context.Canceled, outcome.Err())
}
