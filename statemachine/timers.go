package statemachine

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// timerEntry is one scheduled TimerSpec of the current stage.
type timerEntry struct {
	spec             TimerSpec
	scheduledAt      time.Time
	duration         time.Duration // length of the current leg
	remainingAtPause time.Duration
	timer            clockwork.Timer
	token            uint64 // zero when no leg is armed
	fired            bool
}

func (t *timerEntry) disarm() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}

	t.token = 0
}

// timerManager owns the timers of the current stage. Expiries are not acted on directly:
// they hand a token to expire, and the processing loop later claims it. A token that was
// superseded by a cancel, pause or reset is stale and its claim fails.
type timerManager struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	expire  func(token uint64)
	stage   string
	entries []*timerEntry
	paused  bool
	closed  bool
	tokens  uint64
}

func newTimerManager(clock clockwork.Clock, expire func(token uint64)) *timerManager {
	return &timerManager{
		clock:  clock,
		expire: expire,
	}
}

// enter cancels every timer of the departed stage and clears any pause.
// Timers of the new stage are armed separately by schedule.
func (m *timerManager) enter(stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelLocked()
	m.stage = stage
	m.paused = false
}

// schedule arms the given specs in declaration order for the stage last passed to enter.
// If a pause was requested in between, the entries start out paused with their full duration.
func (m *timerManager) schedule(stage string, specs []TimerSpec) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || stage != m.stage {
		return
	}

	for _, spec := range specs {
		entry := &timerEntry{spec: spec, duration: spec.Duration}
		m.entries = append(m.entries, entry)

		if m.paused {
			entry.remainingAtPause = spec.Duration

			continue
		}

		m.armLocked(entry, spec.Duration)
	}
}

func (m *timerManager) armLocked(entry *timerEntry, d time.Duration) {
	m.tokens++
	token := m.tokens

	entry.token = token
	entry.duration = d
	entry.scheduledAt = m.clock.Now()
	entry.timer = m.clock.AfterFunc(d, func() {
		m.expire(token)
	})
}

// claim marks the entry armed with token as fired and returns its spec.
// It fails for stale tokens, so every entry fires at most once per stage entry.
func (m *timerManager) claim(token uint64) (string, TimerSpec, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.paused || token == 0 {
		return "", TimerSpec{}, false
	}

	for _, entry := range m.entries {
		if entry.token != token || entry.fired {
			continue
		}

		entry.fired = true
		entry.timer = nil
		entry.token = 0

		return m.stage, entry.spec, true
	}

	return "", TimerSpec{}, false
}

func (m *timerManager) pause() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.paused || m.closed {
		return
	}

	m.paused = true
	now := m.clock.Now()

	for _, entry := range m.entries {
		if entry.fired {
			continue
		}

		entry.remainingAtPause = max(entry.duration-now.Sub(entry.scheduledAt), 0)
		entry.disarm()
	}
}

func (m *timerManager) resume() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.paused || m.closed {
		return
	}

	m.paused = false

	for _, entry := range m.entries {
		if entry.fired {
			continue
		}

		m.armLocked(entry, entry.remainingAtPause)
		entry.remainingAtPause = 0
	}
}

// reset rearms every pending entry with its full duration. While paused, entries stay paused
// and resume later with the full duration.
func (m *timerManager) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	for _, entry := range m.entries {
		if entry.fired {
			continue
		}

		entry.disarm()

		if m.paused {
			entry.duration = entry.spec.Duration
			entry.remainingAtPause = entry.spec.Duration

			continue
		}

		m.armLocked(entry, entry.spec.Duration)
	}
}

// remaining returns the soonest-firing remaining duration among pending entries.
func (m *timerManager) remaining() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		soonest time.Duration
		found   bool
	)

	now := m.clock.Now()

	for _, entry := range m.entries {
		if entry.fired {
			continue
		}

		left := entry.remainingAtPause
		if !m.paused {
			left = max(entry.duration-now.Sub(entry.scheduledAt), 0)
		}

		if !found || left < soonest {
			soonest = left
			found = true
		}
	}

	return soonest, found
}

func (m *timerManager) isPaused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.paused
}

func (m *timerManager) active() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0

	for _, entry := range m.entries {
		if !entry.fired {
			count++
		}
	}

	return count
}

// close cancels everything; later calls become no-ops.
func (m *timerManager) close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelLocked()
	m.closed = true
}

func (m *timerManager) cancelLocked() {
	for _, entry := range m.entries {
		entry.disarm()
	}

	m.entries = nil
}
