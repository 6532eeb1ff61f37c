package statemachine

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Middleware intercepts a pending transition. Handle may rewrite tc.To and tc.Data, which the
// next middleware sees, or cancel the transition.
type Middleware struct {
	Name   string
	Handle func(ctx context.Context, tc *TransitionContext) Outcome
}

// Outcome is the verdict of a middleware.
type Outcome struct {
	cancel bool
	reason string
	err    error
}

// Continue lets the transition proceed to the next middleware.
func Continue() Outcome {
	return Outcome{}
}

// Cancel withholds the commit. The caller sees a successful, cancelled Result.
func Cancel(reason string) Outcome {
	return Outcome{cancel: true, reason: reason}
}

// CancelWithError withholds the commit and fails the caller with a *CancelledError wrapping err.
func CancelWithError(reason string, err error) Outcome {
	return Outcome{cancel: true, reason: reason, err: err}
}

// Cancelled reports whether the outcome withholds the commit.
func (o Outcome) Cancelled() bool {
	return o.cancel
}

// Reason returns the cancellation reason.
func (o Outcome) Reason() string {
	return o.reason
}

// Err returns the error attached with CancelWithError.
func (o Outcome) Err() error {
	return o.err
}

// cancellation records which middleware stopped a transition.
type cancellation struct {
	middleware string
	outcome    Outcome
}

type middlewareChain struct {
	mu    sync.RWMutex
	items []Middleware
}

func (c *middlewareChain) add(mw Middleware) error {
	if mw.Name == "" {
		return ErrMiddlewareNameRequired
	}

	if mw.Handle == nil {
		return fmt.Errorf("%w: %s", ErrMiddlewareHandlerRequired, mw.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if slices.ContainsFunc(c.items, func(m Middleware) bool { return m.Name == mw.Name }) {
		return fmt.Errorf("%w: %s", ErrDuplicateMiddleware, mw.Name)
	}

	c.items = append(c.items, mw)

	return nil
}

func (c *middlewareChain) remove(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := slices.IndexFunc(c.items, func(m Middleware) bool { return m.Name == name })
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownMiddleware, name)
	}

	c.items = slices.Delete(c.items, idx, idx+1)

	return nil
}

func (c *middlewareChain) snapshot() []Middleware {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return slices.Clone(c.items)
}

func (c *middlewareChain) names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.items))
	for _, mw := range c.items {
		names = append(names, mw.Name)
	}

	return names
}

func (c *middlewareChain) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = nil
}

// run executes the chain in registration order, stopping at the first cancellation.
// The chain is snapshotted first, so registry changes made by a middleware apply to the next transition.
func (c *middlewareChain) run(ctx context.Context, tc *TransitionContext) (*cancellation, error) {
	for _, mw := range c.snapshot() {
		outcome, err := handleMiddleware(ctx, mw, tc)
		if err != nil {
			return nil, err
		}

		if outcome.cancel {
			return &cancellation{middleware: mw.Name, outcome: outcome}, nil
		}
	}

	return nil, nil //nolint:nilnil // No cancellation and no error
}

func handleMiddleware(ctx context.Context, mw Middleware, tc *TransitionContext) (outcome Outcome, err error) {
	ctx, span := startMiddlewareSpan(ctx, mw.Name, tc)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w %s: %v", ErrMiddlewarePanic, mw.Name, r)
		}

		endMiddlewareSpan(span, outcome, err)
	}()

	return mw.Handle(ctx, tc), nil
}
