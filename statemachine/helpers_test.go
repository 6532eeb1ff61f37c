package statemachine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
	quiet   = 50 * time.Millisecond
)

// scenarioConfig is the idle → loading → success/error flow.
func scenarioConfig() *Config {
	return &Config{
		Name:    "scenario",
		Initial: "idle",
		Stages: []Stage{
			{Name: "idle", Transitions: []Transition{{Event: "start", Target: "loading"}}},
			{Name: "loading", Transitions: []Transition{
				{Event: "complete", Target: "success"},
				{Event: "error", Target: "error"},
			}},
			{Name: "success", Effect: "fade"},
			{Name: "error"},
		},
	}
}

// timerConfig has a stage that times out after five seconds.
func timerConfig() *Config {
	return &Config{
		Name:    "timers",
		Initial: "waiting",
		Stages: []Stage{
			{
				Name: "waiting",
				Transitions: []Transition{
					{Event: "timeout", Target: "expired"},
					{Event: "stay", Target: "waiting"},
					{Event: "other", Target: "other"},
				},
				Timers: []TimerSpec{{Duration: 5 * time.Second, Event: "timeout"}},
			},
			{Name: "expired", Transitions: []Transition{{Event: "again", Target: "waiting"}}},
			{Name: "other", Transitions: []Transition{{Event: "back", Target: "waiting"}}},
		},
	}
}

func newEngine(t *testing.T, cfg *Config, opts ...Option) (*Engine, *clockwork.FakeClock) {
	t.Helper()

	clock := clockwork.NewFakeClock()
	base := []Option{
		WithClock(clock),
		WithSlogLogger(slogt.New(t)),
		// Metrics are process-wide, so every run gets its own label.
		WithName(t.Name() + "-" + uuid.NewString()),
	}

	engine, err := New(cfg, append(base, opts...)...)
	require.NoError(t, err)

	return engine, clock
}

func startEngine(t *testing.T, cfg *Config, opts ...Option) (*Engine, *clockwork.FakeClock) {
	t.Helper()

	engine, clock := newEngine(t, cfg, opts...)
	require.NoError(t, engine.Start(context.Background()))

	t.Cleanup(func() {
		_ = engine.Stop(context.Background())
	})

	return engine, clock
}

// notification is one listener call.
type notification struct {
	Stage string
	Data  any
}

// recorder collects listener calls.
type recorder struct {
	mu    sync.Mutex
	calls []notification
}

func (r *recorder) listen(_ context.Context, stage string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, notification{Stage: stage, Data: data})
}

func (r *recorder) all() []notification {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]notification, len(r.calls))
	copy(out, r.calls)

	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.calls)
}

// hookLog records hook invocations in order.
type hookLog struct {
	mu      sync.Mutex
	entries []string
}

func (h *hookLog) add(entry string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, entry)
}

func (h *hookLog) all() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]string, len(h.entries))
	copy(out, h.entries)

	return out
}
