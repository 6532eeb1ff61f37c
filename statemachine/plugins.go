package statemachine

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
)

// Plugin observes and extends an engine through optional hooks. A nil hook is skipped.
// Hook errors and panics are logged and counted but never affect the transition or other plugins.
type Plugin struct {
	Name string

	OnInstall   func(ctx context.Context, engine *Engine) error
	OnUninstall func(ctx context.Context, engine *Engine) error
	OnStart     func(ctx context.Context, engine *Engine) error
	OnStop      func(ctx context.Context, engine *Engine) error

	// OnBeforeTransition observes a transition that passed every middleware. It cannot cancel it.
	OnBeforeTransition func(ctx context.Context, tc TransitionContext) error
	OnStageChange      func(ctx context.Context, change StageChange) error
	// OnEvent runs after commits caused by Send or a timer, not by GoTo.
	OnEvent func(ctx context.Context, event EventInfo) error
}

// Hook names used in logs and the hook failure metric.
const (
	HookOnInstall          = "OnInstall"
	HookOnUninstall        = "OnUninstall"
	HookOnStart            = "OnStart"
	HookOnStop             = "OnStop"
	HookOnBeforeTransition = "OnBeforeTransition"
	HookOnStageChange      = "OnStageChange"
	HookOnEvent            = "OnEvent"
)

type pluginRegistry struct {
	mu    sync.RWMutex
	items []Plugin
}

func (r *pluginRegistry) add(plugin Plugin) error {
	if plugin.Name == "" {
		return ErrPluginNameRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if slices.ContainsFunc(r.items, func(p Plugin) bool { return p.Name == plugin.Name }) {
		return fmt.Errorf("%w: %s", ErrDuplicatePlugin, plugin.Name)
	}

	r.items = append(r.items, plugin)

	return nil
}

func (r *pluginRegistry) remove(name string) (Plugin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := slices.IndexFunc(r.items, func(p Plugin) bool { return p.Name == name })
	if idx < 0 {
		return Plugin{}, fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
	}

	plugin := r.items[idx]
	r.items = slices.Delete(r.items, idx, idx+1)

	return plugin, nil
}

func (r *pluginRegistry) snapshot() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.items)
}

func (r *pluginRegistry) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.items))
	for _, p := range r.items {
		names = append(names, p.Name)
	}

	return names
}

func (r *pluginRegistry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items = nil
}

// invokeHook runs one plugin hook in isolation.
func (e *Engine) invokeHook(ctx context.Context, plugin, hook string, fn func() error) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w %s.%s: %v\nstack trace:\n%s", ErrHookPanic, plugin, hook, r, debug.Stack())
			}
		}()

		return fn()
	}()
	if err == nil {
		return
	}

	hookFailuresTotal.WithLabelValues(e.name, plugin, hook).Inc()
	e.logger.HookFailed(ctx, plugin, hook, err)
}

func (e *Engine) runLifecycleHooks(ctx context.Context, hook string) {
	for _, plugin := range e.plugins.snapshot() {
		var fn func(context.Context, *Engine) error

		switch hook {
		case HookOnStart:
			fn = plugin.OnStart
		case HookOnStop:
			fn = plugin.OnStop
		}

		if fn == nil {
			continue
		}

		e.invokeHook(ctx, plugin.Name, hook, func() error { return fn(ctx, e) })
	}
}

func (e *Engine) runBeforeTransition(ctx context.Context, tc TransitionContext) {
	for _, plugin := range e.plugins.snapshot() {
		if plugin.OnBeforeTransition == nil {
			continue
		}

		e.invokeHook(ctx, plugin.Name, HookOnBeforeTransition, func() error {
			return plugin.OnBeforeTransition(ctx, tc)
		})
	}
}

func (e *Engine) runStageChange(ctx context.Context, change StageChange) {
	for _, plugin := range e.plugins.snapshot() {
		if plugin.OnStageChange == nil {
			continue
		}

		e.invokeHook(ctx, plugin.Name, HookOnStageChange, func() error {
			return plugin.OnStageChange(ctx, change)
		})
	}
}

func (e *Engine) runEvent(ctx context.Context, info EventInfo) {
	for _, plugin := range e.plugins.snapshot() {
		if plugin.OnEvent == nil {
			continue
		}

		e.invokeHook(ctx, plugin.Name, HookOnEvent, func() error {
			return plugin.OnEvent(ctx, info)
		})
	}
}
