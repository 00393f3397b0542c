package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/pipedash/backend/internal/domain"
)

// Tracker owns the phase states and summary counters for one run. It is
// a pure state machine driven by Apply: the read loop of the active run
// is the only writer, readers (status endpoint, event feed) take copies.
type Tracker struct {
	mu        sync.RWMutex
	phases    map[domain.Phase]domain.PhaseState
	summary   domain.Summary
	startedAt time.Time
	finished  bool
}

func NewTracker() *Tracker {
	phases := make(map[domain.Phase]domain.PhaseState, domain.PhaseCount)
	for _, p := range domain.DeployOrder {
		phases[p] = domain.StateIdle
	}
	return &Tracker{
		phases: phases,
		summary: domain.Summary{
			PendingCount: domain.PhaseCount,
		},
		startedAt: time.Now(),
	}
}

// Apply classifies one log line and, if it produces a transition, updates
// the phase state and diffs the summary counters. Suppressed transitions
// leave the counters untouched.
func (t *Tracker) Apply(line string) (domain.Transition, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tr, ok := Classify(line, t.phases)
	if !ok {
		return domain.Transition{}, false
	}

	t.phases[tr.Phase] = tr.To
	t.decrement(tr.From)
	t.increment(tr.To)
	if tr.Skipped {
		t.summary.SkippedCount++
	}
	return tr, true
}

// Counter mapping: idle phases sit under pending, running phases under no
// counter at all, so the full-set invariant is
// completed + failed + pending + |running| == PhaseCount.
func (t *Tracker) decrement(state domain.PhaseState) {
	switch state {
	case domain.StateIdle:
		if t.summary.PendingCount > 0 {
			t.summary.PendingCount--
		}
	case domain.StateCompleted:
		if t.summary.CompletedCount > 0 {
			t.summary.CompletedCount--
		}
	case domain.StateFailed:
		if t.summary.FailedCount > 0 {
			t.summary.FailedCount--
		}
	}
}

func (t *Tracker) increment(state domain.PhaseState) {
	switch state {
	case domain.StateIdle:
		t.summary.PendingCount++
	case domain.StateCompleted:
		t.summary.CompletedCount++
	case domain.StateFailed:
		t.summary.FailedCount++
	}
}

// Phases returns a snapshot of the current phase states.
func (t *Tracker) Phases() map[domain.Phase]domain.PhaseState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[domain.Phase]domain.PhaseState, len(t.phases))
	for p, s := range t.phases {
		out[p] = s
	}
	return out
}

func (t *Tracker) Summary() domain.Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.summary
}

// Finish freezes the elapsed duration. Called once, at stream end.
func (t *Tracker) Finish() domain.Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.finished {
		t.summary.Elapsed = FormatDuration(time.Since(t.startedAt))
		t.finished = true
	}
	return t.summary
}

func (t *Tracker) StartedAt() time.Time {
	return t.startedAt
}

// FormatDuration renders elapsed wall-clock time as minutes and seconds.
func FormatDuration(d time.Duration) string {
	total := int(d.Seconds())
	if total < 0 {
		total = 0
	}
	minutes := total / 60
	seconds := total % 60
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
