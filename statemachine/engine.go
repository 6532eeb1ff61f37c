package statemachine

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
)

// loopKey marks contexts handed to hooks, middleware and listeners running on an engine's loop.
type loopKey struct{}

// Engine runs one stage machine. Send, GoTo, SetStageData and Reset are serialized through a
// FIFO mailbox drained by a single goroutine, so at most one transition is in flight. Reads
// never wait for that goroutine.
type Engine struct {
	id            string
	name          string
	fingerprint   string
	config        *Config
	stages        map[string]*Stage
	logger        Logger
	cancelAsError bool
	historyLimit  int

	mu      sync.RWMutex
	status  Status
	current string
	data    any
	history []string
	baseCtx context.Context //nolint:containedctx // Detached Start context used for timer-driven work

	started *atomic.Bool
	stopped *atomic.Bool

	plugins    *pluginRegistry
	middleware *middlewareChain
	notifier   *notifier
	timers     *timerManager
	mailbox    *mailbox
	loopDone   chan struct{}
}

// New validates cfg and creates an engine. The configuration is copied, so later changes to
// cfg do not affect the engine. Every configuration problem is returned wrapped in
// ErrInvalidConfiguration.
func New(cfg *Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, configError(ErrConfigNil)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	config := cfg.Clone()
	bindGuards(config, o.guards)

	err := config.validate(o.guards)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		id:            uuid.NewString(),
		config:        config,
		fingerprint:   config.Fingerprint(),
		stages:        make(map[string]*Stage, len(config.Stages)),
		cancelAsError: o.cancelAsError,
		historyLimit:  o.historyLimit,
		status:        StatusUninitialized,
		started:       atomic.NewBool(false),
		stopped:       atomic.NewBool(false),
		plugins:       &pluginRegistry{},
		middleware:    &middlewareChain{},
		mailbox:       newMailbox(),
		loopDone:      make(chan struct{}),
	}

	e.name = firstNonEmpty(o.name, config.Name, "engine")

	for i := range config.Stages {
		e.stages[config.Stages[i].Name] = &config.Stages[i]
	}

	e.logger = o.logger
	if e.logger == nil {
		e.logger = NewSlogLogger(o.slogLogger).With(
			"engine", e.name,
			"engine_id", e.id,
			"config_fingerprint", e.fingerprint,
		)
	}

	e.notifier = newNotifier(e.listenerFailed)
	e.timers = newTimerManager(o.clock, e.timerExpired)

	for _, mw := range o.middleware {
		err = e.middleware.add(mw)
		if err != nil {
			return nil, configError(err)
		}
	}

	for _, plugin := range o.plugins {
		err = e.InstallPlugin(plugin)
		if err != nil {
			return nil, configError(err)
		}
	}

	queueDepth.WithLabelValues(e.name).Set(0)

	return e, nil
}

func bindGuards(config *Config, guards map[string]Guard) {
	for i := range config.Stages {
		for j := range config.Stages[i].Transitions {
			transition := &config.Stages[i].Transitions[j]
			if transition.Guard == nil && transition.GuardName != "" {
				transition.Guard = guards[transition.GuardName]
			}
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}

// Start enters the initial stage, runs every OnStart hook, arms the initial timers and notifies
// subscribers once. An engine can be started only once.
func (e *Engine) Start(ctx context.Context) error {
	if e.stopped.Load() {
		return fmt.Errorf("%w: %w", ErrAlreadyStarted, ErrEngineStopped)
	}

	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	detached := context.WithoutCancel(ctx)
	req := &request{
		ctx:   detached,
		kind:  "start",
		run:   e.start,
		reply: make(chan response, 1),
	}

	// Enqueued before the status changes, so no other request can run ahead of it.
	e.mailbox.enqueue(req)

	e.mu.Lock()
	e.status = StatusTransitioning
	e.baseCtx = detached
	e.mu.Unlock()

	go e.loop()

	_, err := e.await(ctx, req, "")

	return err
}

func (e *Engine) start(ctx context.Context) (Result, error) {
	initial := e.stages[e.config.Initial]
	data := e.config.InitialData

	e.mu.Lock()
	if e.status == StatusStopped {
		e.mu.Unlock()

		return Result{}, ErrEngineStopped
	}

	e.timers.enter(initial.Name)
	e.current = initial.Name
	e.data = data
	e.history = []string{initial.Name}
	e.mu.Unlock()

	e.runLifecycleHooks(ctx, HookOnStart)
	e.timers.schedule(initial.Name, initial.Timers)
	e.logger.StageEntered(ctx, StageChange{To: initial.Name, Data: data})
	e.notify(ctx, initial.Name, data)

	return Result{To: initial.Name}, nil
}

// Stop cancels every timer, fails queued requests with ErrEngineStopped, waits for the
// request in flight, runs every OnStop hook and releases plugins and middleware. Called from
// inside a hook, it does not wait for the request that is running that hook.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	switch e.status {
	case StatusUninitialized:
		e.mu.Unlock()

		return ErrEngineNotStarted
	case StatusStopped:
		e.mu.Unlock()

		return ErrEngineStopped
	case StatusIdle, StatusTransitioning:
	}

	e.status = StatusStopped
	e.stopped.Store(true)
	e.mu.Unlock()

	e.timers.close()

	for _, req := range e.mailbox.close() {
		req.respond(Result{}, ErrEngineStopped)
	}

	queueDepth.WithLabelValues(e.name).Set(0)

	if !e.inLoop(ctx) {
		select {
		case <-e.loopDone:
		case <-ctx.Done():
		}
	}

	e.runLifecycleHooks(ctx, HookOnStop)
	e.plugins.clear()
	e.middleware.clear()

	return nil
}

// Reset returns to the initial stage and data, clears the history and rearms the initial
// timers. OnStart is not run and plugins and middleware stay registered.
func (e *Engine) Reset(ctx context.Context) error {
	_, err := e.submit(ctx, "reset", "", func(ctx context.Context) (Result, error) {
		initial := e.stages[e.config.Initial]
		data := e.config.InitialData

		e.mu.Lock()
		if e.status == StatusStopped {
			e.mu.Unlock()

			return Result{}, ErrEngineStopped
		}

		from := e.current
		e.timers.enter(initial.Name)
		e.current = initial.Name
		e.data = data
		e.history = []string{initial.Name}
		e.mu.Unlock()

		e.timers.schedule(initial.Name, initial.Timers)
		e.logger.StageEntered(ctx, StageChange{From: from, To: initial.Name, Data: data})
		e.notify(ctx, initial.Name, data)

		return Result{From: from, To: initial.Name}, nil
	})

	return err
}

// Send fires event from the current stage. When data is omitted the current data carries over.
// An event with no matching transition fails with ErrInvalidTransition and changes nothing.
func (e *Engine) Send(ctx context.Context, event string, data ...any) (Result, error) {
	payload, hasData := optionalData(data)

	return e.submit(ctx, string(OriginSend), OriginSend, func(ctx context.Context) (Result, error) {
		return e.processEvent(ctx, OriginSend, event, payload, hasData)
	})
}

// GoTo moves to stage directly, bypassing the transition table but not middleware or plugins.
func (e *Engine) GoTo(ctx context.Context, stage string, data ...any) (Result, error) {
	if err := e.checkRunning(); err != nil {
		return Result{Origin: OriginGoTo}, err
	}

	if _, ok := e.stages[stage]; !ok {
		from := e.CurrentStage()

		return Result{From: from, To: stage, Origin: OriginGoTo},
			e.reject(ctx, from, "", WrapTransitionError(from, "", stage, ErrUnknownStage))
	}

	payload, hasData := optionalData(data)

	return e.submit(ctx, string(OriginGoTo), OriginGoTo, func(ctx context.Context) (Result, error) {
		from, current := e.snapshot()

		tc := TransitionContext{From: from, To: stage, Origin: OriginGoTo, Data: current, Payload: payload}
		if hasData {
			tc.Data = payload
		}

		return e.transition(ctx, tc)
	})
}

// SetStageData replaces the current data and notifies subscribers. Middleware and timers are not involved.
func (e *Engine) SetStageData(ctx context.Context, data any) error {
	_, err := e.submit(ctx, "set_data", "", func(ctx context.Context) (Result, error) {
		e.mu.Lock()
		if e.status == StatusStopped {
			e.mu.Unlock()

			return Result{}, ErrEngineStopped
		}

		stage := e.current
		e.data = data
		e.mu.Unlock()

		e.notify(ctx, stage, data)

		return Result{From: stage, To: stage}, nil
	})

	return err
}

func optionalData(data []any) (any, bool) {
	if len(data) == 0 {
		return nil, false
	}

	return data[0], true
}

// checkRunning fails with ErrEngineNotStarted before Start and ErrEngineStopped after Stop.
func (e *Engine) checkRunning() error {
	switch e.Status() {
	case StatusUninitialized:
		return ErrEngineNotStarted
	case StatusStopped:
		return ErrEngineStopped
	case StatusIdle, StatusTransitioning:
	}

	return nil
}

// submit queues work for the loop. From inside the loop it only enqueues and reports Queued;
// anywhere else it blocks until the work is done or ctx is done.
func (e *Engine) submit(
	ctx context.Context,
	kind string,
	origin Origin,
	run func(ctx context.Context) (Result, error),
) (Result, error) {
	if err := e.checkRunning(); err != nil {
		return Result{Origin: origin}, err
	}

	req := &request{ctx: ctx, kind: kind, run: run}

	if e.inLoop(ctx) {
		req.ctx = context.WithoutCancel(ctx)

		if !e.mailbox.enqueue(req) {
			return Result{Origin: origin}, ErrEngineStopped
		}

		queueDepth.WithLabelValues(e.name).Set(float64(e.mailbox.len()))

		return Result{Origin: origin, Queued: true}, nil
	}

	req.reply = make(chan response, 1)

	if !e.mailbox.enqueue(req) {
		return Result{Origin: origin}, ErrEngineStopped
	}

	queueDepth.WithLabelValues(e.name).Set(float64(e.mailbox.len()))

	return e.await(ctx, req, origin)
}

func (e *Engine) await(ctx context.Context, req *request, origin Origin) (Result, error) {
	select {
	case rsp := <-req.reply:
		return rsp.result, rsp.err
	case <-ctx.Done():
		return Result{Origin: origin}, ctx.Err()
	}
}

func (e *Engine) inLoop(ctx context.Context) bool {
	if ctx == nil {
		return false
	}

	owner, ok := ctx.Value(loopKey{}).(*Engine)

	return ok && owner == e
}

// loop is the single goroutine that mutates engine state.
func (e *Engine) loop() {
	defer close(e.loopDone)

	for {
		req, ok := e.mailbox.tryDequeue()
		if ok {
			e.process(req)

			continue
		}

		if !e.mailbox.wait() {
			return
		}
	}
}

func (e *Engine) process(req *request) {
	queueDepth.WithLabelValues(e.name).Set(float64(e.mailbox.len()))

	err := req.ctx.Err()
	if err != nil {
		req.respond(Result{}, err)

		return
	}

	if !e.setStatus(StatusTransitioning) {
		req.respond(Result{}, ErrEngineStopped)

		return
	}

	ctx := context.WithValue(req.ctx, loopKey{}, e)
	ctx, span := startRequestSpan(ctx, e, req.kind)
	started := time.Now()

	result, err := req.run(ctx)

	transitionDuration.WithLabelValues(e.name, req.kind).Observe(time.Since(started).Seconds())
	endRequestSpan(span, result, err)
	e.setStatus(StatusIdle)
	req.respond(result, err)
}

// setStatus changes the status unless the engine is stopped.
func (e *Engine) setStatus(status Status) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status == StatusStopped {
		return false
	}

	e.status = status

	return true
}

func (e *Engine) processEvent(ctx context.Context, origin Origin, event string, payload any, hasData bool) (Result, error) {
	from, current := e.snapshot()
	result := Result{From: from, Event: event, Origin: origin}

	transition, err := Resolve(e.stages[from], event, current, payload)
	if err != nil {
		return result, e.reject(ctx, from, event, err)
	}

	tc := TransitionContext{
		From:    from,
		To:      transition.Target,
		Event:   event,
		Origin:  origin,
		Data:    current,
		Payload: payload,
	}
	if hasData {
		tc.Data = payload
	}

	return e.transition(ctx, tc)
}

// transition runs a resolved transition through middleware, hooks, commit, timers and notification.
func (e *Engine) transition(ctx context.Context, tc TransitionContext) (Result, error) {
	result := Result{From: tc.From, To: tc.To, Event: tc.Event, Origin: tc.Origin}

	cancelled, err := e.middleware.run(ctx, &tc)
	result.To = tc.To

	if err != nil {
		return result, e.reject(ctx, tc.From, tc.Event, WrapTransitionError(tc.From, tc.Event, tc.To, err))
	}

	if cancelled != nil {
		return e.cancelled(ctx, tc, result, cancelled)
	}

	target, ok := e.stages[tc.To]
	if !ok {
		return result, e.reject(ctx, tc.From, tc.Event, WrapTransitionError(tc.From, tc.Event, tc.To, ErrUnknownStage))
	}

	e.runBeforeTransition(ctx, tc)

	change := StageChange{From: tc.From, To: tc.To, Event: tc.Event, Origin: tc.Origin, Data: tc.Data}

	err = e.commit(change)
	if err != nil {
		return result, e.reject(ctx, tc.From, tc.Event, WrapTransitionError(tc.From, tc.Event, tc.To, err))
	}

	transitionsTotal.WithLabelValues(e.name, change.From, change.To, string(change.Origin)).Inc()
	e.logger.StageEntered(ctx, change)

	e.runStageChange(ctx, change)

	if tc.Origin != OriginGoTo {
		e.runEvent(ctx, EventInfo{Name: tc.Event, Payload: tc.Payload, Origin: tc.Origin, Stage: tc.To})
	}

	e.timers.schedule(target.Name, target.Timers)
	e.notify(ctx, change.To, change.Data)

	return result, nil
}

// commit applies a transition atomically. A stopped engine takes no commits.
func (e *Engine) commit(change StageChange) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status == StatusStopped {
		return ErrEngineStopped
	}

	e.timers.enter(change.To)
	e.current = change.To
	e.data = change.Data
	e.history = append(e.history, change.To)

	if e.historyLimit > 0 && len(e.history) > e.historyLimit {
		e.history = slices.Delete(e.history, 0, len(e.history)-e.historyLimit)
	}

	return nil
}

func (e *Engine) cancelled(ctx context.Context, tc TransitionContext, result Result, c *cancellation) (Result, error) {
	result.Cancelled = true
	result.CancelledBy = c.middleware
	result.Reason = c.outcome.reason

	transitionsCancelledTotal.WithLabelValues(e.name, c.middleware).Inc()
	e.logger.TransitionCancelled(ctx, tc, c.middleware, c.outcome.reason)

	if c.outcome.err != nil || e.cancelAsError {
		return result, &CancelledError{Middleware: c.middleware, Reason: c.outcome.reason, Err: c.outcome.err}
	}

	return result, nil
}

func (e *Engine) reject(ctx context.Context, from, event string, err error) error {
	transitionFailuresTotal.WithLabelValues(e.name, failureReason(err)).Inc()
	e.logger.TransitionRejected(ctx, from, event, err)

	return err
}

func (e *Engine) notify(ctx context.Context, stage string, data any) {
	if e.stopped.Load() {
		return
	}

	e.notifier.notify(ctx, stage, data)
}

func (e *Engine) listenerFailed(ctx context.Context, id string, err error) {
	listenerFailuresTotal.WithLabelValues(e.name).Inc()
	e.logger.ListenerFailed(ctx, id, err)
}

// timerExpired runs on the clock's goroutine and queues the fire; the loop decides if it still counts.
func (e *Engine) timerExpired(token uint64) {
	req := &request{
		ctx:  e.context(),
		kind: string(OriginTimer),
		run: func(ctx context.Context) (Result, error) {
			stage, spec, ok := e.timers.claim(token)
			if !ok {
				return Result{Origin: OriginTimer}, nil
			}

			timerFiredTotal.WithLabelValues(e.name, stage, spec.Event).Inc()
			e.logger.TimerFired(ctx, stage, spec)

			return e.processEvent(ctx, OriginTimer, spec.Event, spec.Payload, spec.Payload != nil)
		},
	}

	if e.mailbox.enqueue(req) {
		queueDepth.WithLabelValues(e.name).Set(float64(e.mailbox.len()))
	}
}

func (e *Engine) context() context.Context {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.baseCtx == nil {
		return context.Background()
	}

	return e.baseCtx
}

func (e *Engine) snapshot() (string, any) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.current, e.data
}

// Subscribe registers a listener for committed changes. The returned function unsubscribes
// and is safe to call more than once.
func (e *Engine) Subscribe(listener Listener) func() {
	_, unsubscribe := e.notifier.subscribe(listener)

	return unsubscribe
}

// InstallPlugin registers a plugin and runs its OnInstall hook.
func (e *Engine) InstallPlugin(plugin Plugin) error {
	if e.stopped.Load() {
		return ErrEngineStopped
	}

	err := e.plugins.add(plugin)
	if err != nil {
		return err
	}

	if plugin.OnInstall != nil {
		ctx := e.context()
		e.invokeHook(ctx, plugin.Name, HookOnInstall, func() error { return plugin.OnInstall(ctx, e) })
	}

	return nil
}

// UninstallPlugin removes a plugin and runs its OnUninstall hook.
func (e *Engine) UninstallPlugin(name string) error {
	plugin, err := e.plugins.remove(name)
	if err != nil {
		return err
	}

	if plugin.OnUninstall != nil {
		ctx := e.context()
		e.invokeHook(ctx, plugin.Name, HookOnUninstall, func() error { return plugin.OnUninstall(ctx, e) })
	}

	return nil
}

// AddMiddleware appends a middleware to the chain.
func (e *Engine) AddMiddleware(mw Middleware) error {
	if e.stopped.Load() {
		return ErrEngineStopped
	}

	return e.middleware.add(mw)
}

// RemoveMiddleware removes a middleware from the chain.
func (e *Engine) RemoveMiddleware(name string) error {
	return e.middleware.remove(name)
}

// Plugins returns the installed plugin names in installation order.
func (e *Engine) Plugins() []string {
	return e.plugins.names()
}

// Middleware returns the registered middleware names in execution order.
func (e *Engine) Middleware() []string {
	return e.middleware.names()
}

// CurrentStage returns the current stage name, or "" before Start.
func (e *Engine) CurrentStage() string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.current
}

// CurrentData returns the current stage data.
func (e *Engine) CurrentData() any {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.data
}

// Status returns the lifecycle status.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.status
}

// History returns the stages entered since Start or the last Reset, oldest first.
func (e *Engine) History() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return slices.Clone(e.history)
}

// CurrentStageEffect returns the effect name of the current stage.
func (e *Engine) CurrentStageEffect() (string, bool) {
	return e.StageEffect(e.CurrentStage())
}

// StageEffect returns the effect name configured for a stage.
func (e *Engine) StageEffect(name string) (string, bool) {
	stage, ok := e.stages[name]
	if !ok || stage.Effect == "" {
		return "", false
	}

	return stage.Effect, true
}

// AvailableEvents lists the events declared on the current stage, guards not considered.
func (e *Engine) AvailableEvents() []string {
	return AvailableEvents(e.stages[e.CurrentStage()])
}

// CanSend reports whether event would resolve to a transition right now. It does not run middleware.
func (e *Engine) CanSend(event string, payload ...any) bool {
	stage, data := e.snapshot()
	p, _ := optionalData(payload)

	_, err := Resolve(e.stages[stage], event, data, p)

	return err == nil
}

// PauseTimers freezes the current stage's timers.
func (e *Engine) PauseTimers() {
	e.timers.pause()
}

// ResumeTimers rearms paused timers for exactly their remaining time.
func (e *Engine) ResumeTimers() {
	e.timers.resume()
}

// ResetTimers rearms the current stage's pending timers with their full duration.
func (e *Engine) ResetTimers() {
	e.timers.reset()
}

// TimerRemainingTime returns the time until the soonest pending timer fires.
func (e *Engine) TimerRemainingTime() (time.Duration, bool) {
	return e.timers.remaining()
}

// TimersPaused reports whether a pause is in effect.
func (e *Engine) TimersPaused() bool {
	return e.timers.isPaused()
}

// ActiveTimers returns the number of timers of the current stage that have not fired.
func (e *Engine) ActiveTimers() int {
	return e.timers.active()
}

// ID returns the unique identifier of this engine instance.
func (e *Engine) ID() string {
	return e.id
}

// Name returns the name used in logs, metrics and spans.
func (e *Engine) Name() string {
	return e.name
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() *Config {
	return e.config.Clone()
}
