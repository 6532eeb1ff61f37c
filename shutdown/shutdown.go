// Package shutdown cancels a context on SIGINT or SIGTERM and runs cleanup
// hooks before the cancellation is visible.
package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Handler owns the signal subscription for one process run.
type Handler struct {
	mut    sync.Mutex
	hooks  []func()
	signal chan os.Signal
	done   chan struct{}
	once   sync.Once
	cancel context.CancelFunc
}

// SetupHandler subscribes to SIGINT and SIGTERM and returns a context that is
// cancelled on the first signal, on Shutdown, or when parent is done.
func SetupHandler(parent context.Context) (context.Context, *Handler) {
	ctx, cancel := context.WithCancel(parent)

	h := &Handler{
		signal: make(chan os.Signal, 1),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	signal.Notify(h.signal, syscall.SIGINT, syscall.SIGTERM)

	go h.wait(ctx)

	return ctx, h
}

func (h *Handler) wait(ctx context.Context) {
	select {
	case sig := <-h.signal:
		slog.Warn("Received " + sig.String() + ", shutting down...")
	case <-h.done:
	case <-ctx.Done():
	}

	h.Release()
}

// BeforeShutdown registers a hook. Hooks run in registration order while the
// returned context is still alive.
func (h *Handler) BeforeShutdown(hook func()) {
	h.mut.Lock()
	defer h.mut.Unlock()

	h.hooks = append(h.hooks, hook)
}

// Shutdown triggers the shutdown programmatically.
func (h *Handler) Shutdown() {
	select {
	case h.signal <- os.Interrupt:
	default:
	}
}

// Release stops listening for signals, runs the hooks and cancels the
// context. It is safe to call more than once.
func (h *Handler) Release() {
	h.once.Do(func() {
		signal.Stop(h.signal)
		close(h.done)

		h.mut.Lock()
		hooks := h.hooks
		h.hooks = nil
		h.mut.Unlock()

		for _, hook := range hooks {
			hook()
		}

		h.cancel()
	})
}
