package statemachine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenario(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, _ := newEngine(t, scenarioConfig())

	var rec recorder

	engine.Subscribe(rec.listen)

	require.NoError(t, engine.Start(ctx))
	assert.Equal(t, "idle", engine.CurrentStage())
	assert.Equal(t, StatusIdle, engine.Status())

	result, err := engine.Send(ctx, "start")
	require.NoError(t, err)
	assert.Equal(t, Result{From: "idle", To: "loading", Event: "start", Origin: OriginSend}, result)
	assert.Equal(t, "loading", engine.CurrentStage())

	_, err = engine.Send(ctx, "complete")
	require.NoError(t, err)
	assert.Equal(t, "success", engine.CurrentStage())

	_, err = engine.Send(ctx, "bogus")
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, "success", engine.CurrentStage())

	var transitionErr *TransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, "success", transitionErr.From)
	assert.Equal(t, "bogus", transitionErr.Event)

	assert.Equal(t, []notification{
		{Stage: "idle"},
		{Stage: "loading"},
		{Stage: "success"},
	}, rec.all())
	assert.Equal(t, []string{"idle", "loading", "success"}, engine.History())

	require.NoError(t, engine.Stop(ctx))
	assert.Equal(t, StatusStopped, engine.Status())
}

func TestSendDeclaredTransitions(t *testing.T) {
	t.Parallel()

	cfg := scenarioConfig()

	for _, stage := range cfg.Stages {
		for _, transition := range stage.Transitions {
			t.Run(stage.Name+"/"+transition.Event, func(t *testing.T) {
				t.Parallel()

				ctx := context.Background()
				engine, _ := startEngine(t, scenarioConfig())

				if stage.Name != engine.CurrentStage() {
					_, err := engine.GoTo(ctx, stage.Name)
					require.NoError(t, err)
				}

				var rec recorder

				engine.Subscribe(rec.listen)

				result, err := engine.Send(ctx, transition.Event)
				require.NoError(t, err)
				assert.Equal(t, transition.Target, result.To)
				assert.Equal(t, transition.Target, engine.CurrentStage())
				assert.Equal(t, 1, rec.count())
			})
		}
	}
}

func TestSendInvalidTransitionChangesNothing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := scenarioConfig()
	cfg.InitialData = map[string]any{"attempt": 1}

	engine, _ := startEngine(t, cfg)

	var rec recorder

	engine.Subscribe(rec.listen)

	_, err := engine.Send(ctx, "complete", map[string]any{"attempt": 2})
	require.ErrorIs(t, err, ErrInvalidTransition)

	assert.Equal(t, "idle", engine.CurrentStage())
	assert.Equal(t, map[string]any{"attempt": 1}, engine.CurrentData())
	assert.Equal(t, []string{"idle"}, engine.History())
	assert.Zero(t, rec.count())
}

func TestSendData(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := scenarioConfig()
	cfg.InitialData = "initial"

	engine, _ := startEngine(t, cfg)

	_, err := engine.Send(ctx, "start")
	require.NoError(t, err)
	assert.Equal(t, "initial", engine.CurrentData(), "omitted data carries over")

	_, err = engine.Send(ctx, "complete", "done")
	require.NoError(t, err)
	assert.Equal(t, "done", engine.CurrentData())
}

func TestReadsAreIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, _ := startEngine(t, scenarioConfig())

	_, err := engine.Send(ctx, "start", map[string]any{"id": 7})
	require.NoError(t, err)

	for range 5 {
		assert.Equal(t, "loading", engine.CurrentStage())
		assert.Equal(t, map[string]any{"id": 7}, engine.CurrentData())
	}
}

func TestLifecycleErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, _ := newEngine(t, scenarioConfig())

	_, err := engine.Send(ctx, "start")
	require.ErrorIs(t, err, ErrEngineNotStarted)
	require.ErrorIs(t, engine.Stop(ctx), ErrEngineNotStarted)
	require.ErrorIs(t, engine.Reset(ctx), ErrEngineNotStarted)
	require.ErrorIs(t, engine.SetStageData(ctx, 1), ErrEngineNotStarted)
	_, err = engine.GoTo(ctx, "nowhere")
	require.ErrorIs(t, err, ErrEngineNotStarted)
	assert.NotErrorIs(t, err, ErrUnknownStage)
	assert.Empty(t, engine.CurrentStage())

	require.NoError(t, engine.Start(ctx))
	require.ErrorIs(t, engine.Start(ctx), ErrAlreadyStarted)

	require.NoError(t, engine.Stop(ctx))
	require.ErrorIs(t, engine.Stop(ctx), ErrEngineStopped)

	err = engine.Start(ctx)
	require.ErrorIs(t, err, ErrAlreadyStarted)
	require.ErrorIs(t, err, ErrEngineStopped)

	_, err = engine.Send(ctx, "start")
	require.ErrorIs(t, err, ErrEngineStopped)
	_, err = engine.GoTo(ctx, "success")
	require.ErrorIs(t, err, ErrEngineStopped)
	_, err = engine.GoTo(ctx, "nowhere")
	require.ErrorIs(t, err, ErrEngineStopped)
	assert.NotErrorIs(t, err, ErrUnknownStage)
	require.ErrorIs(t, engine.SetStageData(ctx, 1), ErrEngineStopped)
	require.ErrorIs(t, engine.Reset(ctx), ErrEngineStopped)
	require.ErrorIs(t, engine.InstallPlugin(Plugin{Name: "late"}), ErrEngineStopped)
	require.ErrorIs(t, engine.AddMiddleware(Middleware{Name: "late", Handle: func(context.Context, *TransitionContext) Outcome {
		return Continue()
	}}), ErrEngineStopped)
}

func TestStop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	var (
		log hookLog
		rec recorder
	)

	engine, _ := startEngine(t, timerConfig(),
		WithPlugins(Plugin{
			Name: "audit",
			OnStop: func(context.Context, *Engine) error {
				log.add("stop")

				return nil
			},
			OnUninstall: func(context.Context, *Engine) error {
				log.add("uninstall")

				return nil
			},
		}),
	)
	engine.Subscribe(rec.listen)

	assert.Equal(t, 1, engine.ActiveTimers())
	require.NoError(t, engine.Stop(ctx))

	assert.Equal(t, []string{"stop"}, log.all())
	assert.Zero(t, engine.ActiveTimers())
	assert.Empty(t, engine.Plugins())
	assert.Empty(t, engine.Middleware())
	assert.Zero(t, rec.count())

	_, ok := engine.TimerRemainingTime()
	assert.False(t, ok)
}

func TestStopWaitsForInFlightRequest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	block := make(chan struct{})
	entered := make(chan struct{})

	engine, _ := startEngine(t, scenarioConfig(), WithMiddleware(Middleware{
		Name: "gate",
		Handle: func(context.Context, *TransitionContext) Outcome {
			close(entered)
			<-block

			return Continue()
		},
	}))

	var rec recorder

	engine.Subscribe(rec.listen)

	sendErr := make(chan error, 1)

	go func() {
		_, err := engine.Send(ctx, "start")
		sendErr <- err
	}()

	<-entered

	stopDone := make(chan error, 1)

	go func() {
		stopDone <- engine.Stop(ctx)
	}()

	require.Eventually(t, func() bool { return engine.Status() == StatusStopped }, waitFor, tick)

	select {
	case <-stopDone:
		t.Fatal("Stop returned before the in-flight request finished")
	case <-time.After(quiet):
	}

	close(block)

	require.NoError(t, <-stopDone)
	require.ErrorIs(t, <-sendErr, ErrEngineStopped)
	assert.Equal(t, "idle", engine.CurrentStage())
	assert.Zero(t, rec.count())
}

func TestStopFailsQueuedRequests(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	block := make(chan struct{})
	entered := make(chan struct{}, 1)

	engine, _ := startEngine(t, scenarioConfig(), WithMiddleware(Middleware{
		Name: "gate",
		Handle: func(_ context.Context, tc *TransitionContext) Outcome {
			if tc.To == "loading" {
				entered <- struct{}{}
				<-block
			}

			return Continue()
		},
	}))

	go func() {
		_, _ = engine.Send(ctx, "start")
	}()

	<-entered

	queued := make(chan error, 1)

	go func() {
		_, err := engine.GoTo(ctx, "error")
		queued <- err
	}()

	require.Eventually(t, func() bool { return engine.mailbox.len() == 1 }, waitFor, tick)

	go func() {
		_ = engine.Stop(ctx)
	}()

	require.ErrorIs(t, <-queued, ErrEngineStopped)
	close(block)
}

func TestStopFromHook(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, _ := startEngine(t, scenarioConfig())

	var rec recorder

	stopErr := make(chan error, 1)

	require.NoError(t, engine.InstallPlugin(Plugin{
		Name: "stopper",
		OnStageChange: func(ctx context.Context, change StageChange) error {
			if change.To == "loading" {
				stopErr <- engine.Stop(ctx)
			}

			return nil
		},
	}))
	engine.Subscribe(rec.listen)

	_, err := engine.Send(ctx, "start")
	require.NoError(t, err)
	require.NoError(t, <-stopErr)

	assert.Equal(t, StatusStopped, engine.Status())
	assert.Equal(t, "loading", engine.CurrentStage())
	assert.Zero(t, rec.count(), "no notification after stop")
}

func TestGoTo(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	var log hookLog

	engine, _ := startEngine(t, scenarioConfig(), WithPlugins(Plugin{
		Name: "audit",
		OnBeforeTransition: func(_ context.Context, tc TransitionContext) error {
			log.add("before:" + tc.To)

			return nil
		},
		OnStageChange: func(_ context.Context, change StageChange) error {
			log.add("change:" + change.To)

			return nil
		},
		OnEvent: func(_ context.Context, info EventInfo) error {
			log.add("event:" + info.Name)

			return nil
		},
	}))

	result, err := engine.GoTo(ctx, "error", "boom")
	require.NoError(t, err)
	assert.Equal(t, Result{From: "idle", To: "error", Origin: OriginGoTo}, result)
	assert.Equal(t, "error", engine.CurrentStage())
	assert.Equal(t, "boom", engine.CurrentData())
	assert.Equal(t, []string{"before:error", "change:error"}, log.all())

	_, err = engine.GoTo(ctx, "nowhere")
	require.ErrorIs(t, err, ErrUnknownStage)
	assert.Equal(t, "error", engine.CurrentStage())
}

func TestSetStageData(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, _ := startEngine(t, timerConfig())

	var rec recorder

	engine.Subscribe(rec.listen)

	before, _ := engine.TimerRemainingTime()

	require.NoError(t, engine.SetStageData(ctx, "fresh"))
	assert.Equal(t, "waiting", engine.CurrentStage())
	assert.Equal(t, "fresh", engine.CurrentData())
	assert.Equal(t, []notification{{Stage: "waiting", Data: "fresh"}}, rec.all())

	after, _ := engine.TimerRemainingTime()
	assert.Equal(t, before, after)
	assert.Equal(t, []string{"waiting"}, engine.History())
}

func TestReset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := timerConfig()
	cfg.InitialData = "initial"

	var starts int

	engine, clock := startEngine(t, cfg, WithPlugins(Plugin{
		Name: "counter",
		OnStart: func(context.Context, *Engine) error {
			starts++

			return nil
		},
	}))

	_, err := engine.Send(ctx, "other", "changed")
	require.NoError(t, err)

	clock.Advance(time.Second)

	var rec recorder

	engine.Subscribe(rec.listen)

	require.NoError(t, engine.Reset(ctx))
	assert.Equal(t, "waiting", engine.CurrentStage())
	assert.Equal(t, "initial", engine.CurrentData())
	assert.Equal(t, []string{"waiting"}, engine.History())
	assert.Equal(t, []notification{{Stage: "waiting", Data: "initial"}}, rec.all())
	assert.Equal(t, 1, starts)
	assert.Equal(t, []string{"counter"}, engine.Plugins())

	remaining, ok := engine.TimerRemainingTime()
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, remaining)
}

func TestHistoryLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, _ := startEngine(t, timerConfig(), WithHistoryLimit(3))

	for _, event := range []string{"other", "back", "other", "back"} {
		_, err := engine.Send(ctx, event)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"waiting", "other", "waiting"}, engine.History())
}

func TestConcurrentSendsAreSerialized(t *testing.T) {
	t.Parallel()

	const senders = 20

	ctx := context.Background()

	var (
		mu       sync.Mutex
		inFlight int
		maxSeen  int
	)

	engine, _ := startEngine(t, timerConfig(), WithMiddleware(Middleware{
		Name: "probe",
		Handle: func(context.Context, *TransitionContext) Outcome {
			mu.Lock()
			inFlight++
			maxSeen = max(maxSeen, inFlight)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inFlight--
			mu.Unlock()

			return Continue()
		},
	}))

	var wg sync.WaitGroup

	for range senders {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := engine.Send(ctx, "stay")
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Len(t, engine.History(), senders+1)
}

func TestFIFOOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	block := make(chan struct{})
	entered := make(chan struct{}, 1)

	engine, _ := startEngine(t, timerConfig(), WithMiddleware(Middleware{
		Name: "gate",
		Handle: func(_ context.Context, tc *TransitionContext) Outcome {
			if tc.Event == "other" {
				entered <- struct{}{}
				<-block
			}

			return Continue()
		},
	}))

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		_, _ = engine.Send(ctx, "other")
	}()

	<-entered

	// "stay" is only declared on waiting, so it succeeds only if "back" ran first.
	for i, event := range []string{"back", "stay"} {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := engine.Send(ctx, event)
			assert.NoError(t, err)
		}()

		require.Eventually(t, func() bool { return engine.mailbox.len() == i+1 }, waitFor, tick)
	}

	close(block)
	wg.Wait()

	assert.Equal(t, []string{"waiting", "other", "waiting", "waiting"}, engine.History())
}

func TestSendFromListenerIsQueued(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, _ := startEngine(t, scenarioConfig())

	results := make(chan Result, 1)

	engine.Subscribe(func(ctx context.Context, stage string, _ any) {
		if stage != "loading" {
			return
		}

		result, err := engine.Send(ctx, "complete")
		assert.NoError(t, err)

		results <- result
	})

	_, err := engine.Send(ctx, "start")
	require.NoError(t, err)

	result := <-results
	assert.True(t, result.Queued)
	require.Eventually(t, func() bool { return engine.CurrentStage() == "success" }, waitFor, tick)
}

func TestCancelledContextSkipsQueuedRequest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	block := make(chan struct{})
	entered := make(chan struct{}, 1)

	engine, _ := startEngine(t, scenarioConfig(), WithMiddleware(Middleware{
		Name: "gate",
		Handle: func(_ context.Context, tc *TransitionContext) Outcome {
			if tc.To == "loading" {
				entered <- struct{}{}
				<-block
			}

			return Continue()
		},
	}))

	done := make(chan struct{})

	go func() {
		defer close(done)

		_, _ = engine.Send(ctx, "start")
	}()

	<-entered

	cctx, cancel := context.WithCancel(ctx)
	queued := make(chan error, 1)

	go func() {
		_, err := engine.GoTo(cctx, "error")
		queued <- err
	}()

	require.Eventually(t, func() bool { return engine.mailbox.len() == 1 }, waitFor, tick)
	cancel()
	require.ErrorIs(t, <-queued, context.Canceled)

	close(block)
	<-done

	require.Eventually(t, func() bool { return engine.mailbox.len() == 0 }, waitFor, tick)
	assert.Never(t, func() bool { return engine.CurrentStage() == "error" }, quiet, tick)
	assert.Equal(t, "loading", engine.CurrentStage())
}

func TestStageEffect(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, _ := startEngine(t, scenarioConfig())

	_, ok := engine.CurrentStageEffect()
	assert.False(t, ok)

	effect, ok := engine.StageEffect("success")
	assert.True(t, ok)
	assert.Equal(t, "fade", effect)

	_, ok = engine.StageEffect("missing")
	assert.False(t, ok)

	_, err := engine.GoTo(ctx, "success")
	require.NoError(t, err)

	effect, ok = engine.CurrentStageEffect()
	assert.True(t, ok)
	assert.Equal(t, "fade", effect)
}

func TestAvailableEventsAndCanSend(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := &Config{
		Initial: "form",
		Stages: []Stage{
			{Name: "form", Transitions: []Transition{
				{Event: "submit", Target: "done", GuardName: "valid"},
				{Event: "cancel", Target: "done"},
				{Event: "submit", Target: "form"},
			}},
			{Name: "done"},
		},
	}

	engine, _ := startEngine(t, cfg, WithGuards(map[string]Guard{
		"valid": func(_, payload any) bool { return payload == "ok" },
	}))

	assert.Equal(t, []string{"submit", "cancel"}, engine.AvailableEvents())
	assert.True(t, engine.CanSend("submit"))
	assert.True(t, engine.CanSend("submit", "ok"))
	assert.False(t, engine.CanSend("missing"))

	result, err := engine.Send(ctx, "submit", "ok")
	require.NoError(t, err)
	assert.Equal(t, "done", result.To)
	assert.Empty(t, engine.AvailableEvents())
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		config   *Config
		opts     []Option
		expected error
	}{
		{
			name:     "nil config",
			expected: ErrConfigNil,
		},
		{
			name:     "unknown initial",
			config:   &Config{Initial: "missing", Stages: []Stage{{Name: "idle"}}},
			expected: ErrInitialStageNotFound,
		},
		{
			name:     "duplicate stage",
			config:   &Config{Initial: "idle", Stages: []Stage{{Name: "idle"}, {Name: "idle"}}},
			expected: ErrDuplicateStageName,
		},
		{
			name: "unknown target",
			config: &Config{Initial: "idle", Stages: []Stage{
				{Name: "idle", Transitions: []Transition{{Event: "go", Target: "missing"}}},
			}},
			expected: ErrTransitionTargetNotFound,
		},
		{
			name: "unknown guard",
			config: &Config{Initial: "idle", Stages: []Stage{
				{Name: "idle", Transitions: []Transition{{Event: "go", Target: "idle", GuardName: "nope"}}},
			}},
			expected: ErrUnknownGuard,
		},
		{
			name:     "duplicate plugin",
			config:   scenarioConfig(),
			opts:     []Option{WithPlugins(Plugin{Name: "a"}, Plugin{Name: "a"})},
			expected: ErrDuplicatePlugin,
		},
		{
			name:   "middleware without handler",
			config: scenarioConfig(),
			opts:   []Option{WithMiddleware(Middleware{Name: "a"})},

			expected: ErrMiddlewareHandlerRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := New(tt.config, tt.opts...)
			require.ErrorIs(t, err, ErrInvalidConfiguration)
			require.ErrorIs(t, err, tt.expected)
		})
	}
}

func TestNewCopiesConfig(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := scenarioConfig()
	engine, _ := startEngine(t, cfg)

	cfg.Stages[0].Transitions[0].Target = "error"

	result, err := engine.Send(ctx, "start")
	require.NoError(t, err)
	assert.Equal(t, "loading", result.To)
	assert.Equal(t, "scenario", engine.Config().Name)
	assert.True(t, strings.HasPrefix(engine.Name(), t.Name()+"-"), engine.Name())
	assert.NotEmpty(t, engine.ID())
}

func TestEngineErrorsMatchSentinels(t *testing.T) {
	t.Parallel()

	err := WrapTransitionError("a", "go", "", ErrInvalidTransition)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, `transition from a on "go": no matching transition`, err.Error())

	assert.Nil(t, WrapStageError("a", nil))
	assert.NoError(t, WrapTransitionError("a", "", "b", nil))
}
