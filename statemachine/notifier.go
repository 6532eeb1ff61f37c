package statemachine

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Listener receives every committed stage and data.
type Listener func(ctx context.Context, stage string, data any)

type subscription struct {
	id       string
	listener Listener
}

// notifier is an engine-owned, ordered listener registry.
type notifier struct {
	mu     sync.RWMutex
	subs   []subscription
	failed func(ctx context.Context, id string, err error)
}

func newNotifier(failed func(ctx context.Context, id string, err error)) *notifier {
	return &notifier{failed: failed}
}

// subscribe registers a listener and returns a function that removes it.
// The returned function may be called any number of times.
func (n *notifier) subscribe(listener Listener) (string, func()) {
	if listener == nil {
		return "", func() {}
	}

	id := uuid.NewString()

	n.mu.Lock()
	n.subs = append(n.subs, subscription{id: id, listener: listener})
	n.mu.Unlock()

	var once sync.Once

	return id, func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()

			n.subs = slices.DeleteFunc(n.subs, func(s subscription) bool { return s.id == id })
		})
	}
}

func (n *notifier) len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return len(n.subs)
}

// notify calls every listener registered when the pass starts, in registration order.
// Listeners removed during the pass are still called for it.
func (n *notifier) notify(ctx context.Context, stage string, data any) {
	n.mu.RLock()
	subs := slices.Clone(n.subs)
	n.mu.RUnlock()

	for _, sub := range subs {
		n.deliver(ctx, sub, stage, data)
	}
}

func (n *notifier) deliver(ctx context.Context, sub subscription, stage string, data any) {
	defer func() {
		if r := recover(); r != nil && n.failed != nil {
			n.failed(ctx, sub.id, fmt.Errorf("%w: %v", ErrListenerPanic, r))
		}
	}()

	sub.listener(ctx, stage, data)
}
