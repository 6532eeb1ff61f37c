package statemachine

import (
	"context"
	"sync"
)

// request is one unit of serialized work for the processing loop.
type request struct {
	ctx  context.Context //nolint:containedctx // Carried across the queue to the loop goroutine
	kind string
	run  func(ctx context.Context) (Result, error)

	// reply is nil for requests enqueued from inside the loop or by timers; nobody waits on those.
	reply chan response
}

type response struct {
	result Result
	err    error
}

func (r *request) respond(result Result, err error) {
	if r.reply == nil {
		return
	}

	// Buffered with capacity 1, so this never blocks even if the caller gave up.
	r.reply <- response{result: result, err: err}
}

// mailbox is an unbounded FIFO of requests drained by a single goroutine.
// Enqueue never blocks, so hooks running on the loop can queue follow-up work.
type mailbox struct {
	mu       sync.Mutex
	requests []*request
	closed   bool
	signal   chan struct{} // buffered, size 1; coalesces wakeups
	done     chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{
		requests: make([]*request, 0, 8),
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// enqueue appends a request. It returns false once the mailbox is closed.
func (m *mailbox) enqueue(req *request) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}

	m.requests = append(m.requests, req)

	select {
	case m.signal <- struct{}{}:
	default:
	}

	return true
}

// tryDequeue pops the oldest request without blocking.
func (m *mailbox) tryDequeue() (*request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.requests) == 0 {
		return nil, false
	}

	req := m.requests[0]
	m.requests[0] = nil

	if len(m.requests) == 1 {
		m.requests = m.requests[:0]
	} else {
		m.requests = m.requests[1:]
	}

	return req, true
}

// wait blocks until a request may be available or the mailbox is closed.
// It returns false when the mailbox is closed.
func (m *mailbox) wait() bool {
	select {
	case <-m.signal:
		return true
	case <-m.done:
		return false
	}
}

// close rejects further requests and returns whatever was still pending.
func (m *mailbox) close() []*request {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.closed = true
	pending := m.requests
	m.requests = nil

	close(m.done)

	return pending
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.requests)
}
