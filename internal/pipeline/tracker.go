package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/andresuchdata/shopledger/internal/domain"
)

// Observer receives a copy of the run state after every change. Observers
// are called synchronously and must not call back into the tracker.
type Observer func(domain.RunState)

// Tracker owns the state of one orchestration path and pushes every change to
// its observers. The zero value is not usable; call NewTracker.
type Tracker struct {
	kind Kind
	now  func() time.Time

	mu        sync.Mutex
	state     domain.RunState
	observers map[int]Observer
	nextID    int
}

func NewTracker(kind Kind) *Tracker {
	return &Tracker{
		kind:      kind,
		now:       time.Now,
		state:     domain.RunState{Status: domain.RunStatusIdle},
		observers: make(map[int]Observer),
	}
}

func (t *Tracker) Kind() Kind { return t.kind }

// State returns a copy of the current state.
func (t *Tracker) State() domain.RunState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Subscribe registers fn and immediately delivers the current state to it.
// The returned function removes the observer and is safe to call twice.
func (t *Tracker) Subscribe(fn Observer) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.observers[id] = fn
	fn(t.state)
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.observers, id)
			t.mu.Unlock()
		})
	}
}

// Start moves idle to running.
func (t *Tracker) Start(step string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Status != domain.RunStatusIdle {
		return fmt.Errorf("%s %w (status %s)", t.kind, ErrNotIdle, t.state.Status)
	}
	started := t.now()
	t.state = domain.RunState{
		Status:      domain.RunStatusRunning,
		CurrentStep: step,
		StartTime:   &started,
	}
	t.notify()
	return nil
}

// Progress records a step while running. The percentage is clamped to
// [0, 100] and never moves backwards.
func (t *Tracker) Progress(percent float64, step string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Status != domain.RunStatusRunning {
		return
	}
	percent = clamp(percent)
	if percent > t.state.Progress {
		t.state.Progress = percent
	}
	if step != "" {
		t.state.CurrentStep = step
	}
	t.notify()
}

// Complete moves running to completed with the given result.
func (t *Tracker) Complete(result any) {
	t.finish(domain.RunStatusCompleted, result, "")
}

// Fail moves running to failed and keeps the error message verbatim.
func (t *Tracker) Fail(err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	t.finish(domain.RunStatusFailed, nil, msg)
}

func (t *Tracker) finish(status domain.RunStatus, result any, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Status != domain.RunStatusRunning {
		return
	}
	ended := t.now()
	t.state.Status = status
	t.state.Result = result
	t.state.Error = errMsg
	t.state.EndTime = &ended
	if status == domain.RunStatusCompleted {
		t.state.Progress = 100
		t.state.CurrentStep = "Done"
	}
	t.notify()
}

// Reset returns a completed or failed tracker to idle. Resetting an idle
// tracker is a no-op; a running one cannot be reset.
func (t *Tracker) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state.Status {
	case domain.RunStatusIdle:
		return nil
	case domain.RunStatusRunning:
		return fmt.Errorf("%s: %w", t.kind, ErrRunInProgress)
	}
	t.state = domain.RunState{Status: domain.RunStatusIdle}
	t.notify()
	return nil
}

// notify must be called with mu held.
func (t *Tracker) notify() {
	for _, fn := range t.observers {
		fn(t.state)
	}
}

func clamp(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
