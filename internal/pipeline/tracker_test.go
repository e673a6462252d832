package pipeline

import (
	"errors"
	"testing"

	"github.com/andresuchdata/shopledger/internal/domain"
)

func TestTrackerTransitions(t *testing.T) {
	tr := NewTracker(KindMigration)

	if err := tr.Reset(); err != nil {
		t.Fatalf("reset from idle should be a no-op, got %v", err)
	}
	if err := tr.Start("go"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := tr.Start("again"); !errors.Is(err, ErrNotIdle) {
		t.Fatalf("expected ErrNotIdle, got %v", err)
	}
	if err := tr.Reset(); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected running tracker to refuse reset, got %v", err)
	}

	tr.Complete("ok")
	s := tr.State()
	if s.Status != domain.RunStatusCompleted || s.Progress != 100 || s.Result != "ok" || s.EndTime == nil {
		t.Fatalf("unexpected completed state %+v", s)
	}

	tr.Fail(errors.New("late"))
	if tr.State().Status != domain.RunStatusCompleted {
		t.Fatalf("finished tracker must ignore further transitions")
	}
	if err := tr.Start("x"); !errors.Is(err, ErrNotIdle) {
		t.Fatalf("completed tracker must be reset before starting, got %v", err)
	}

	if err := tr.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if s := tr.State(); s.Status != domain.RunStatusIdle || s.Result != nil || s.StartTime != nil {
		t.Fatalf("unexpected idle state %+v", s)
	}
}

func TestTrackerFailKeepsMessage(t *testing.T) {
	tr := NewTracker(KindRollback)
	_ = tr.Start("go")
	tr.Progress(30, "halfway")
	tr.Fail(errors.New("store unavailable"))

	s := tr.State()
	if s.Status != domain.RunStatusFailed || s.Error != "store unavailable" || s.Progress != 30 {
		t.Fatalf("unexpected failed state %+v", s)
	}
}

func TestTrackerProgressClampedAndMonotonic(t *testing.T) {
	tr := NewTracker(KindValidation)
	tr.Progress(40, "ignored while idle")
	if tr.State().Progress != 0 {
		t.Fatalf("idle tracker must ignore progress")
	}

	_ = tr.Start("go")
	steps := []struct {
		in   float64
		want float64
	}{
		{-5, 0},
		{20, 20},
		{10, 20},
		{55.5, 55.5},
		{250, 100},
	}
	for _, s := range steps {
		tr.Progress(s.in, "")
		if got := tr.State().Progress; got != s.want {
			t.Fatalf("Progress(%v): got %v want %v", s.in, got, s.want)
		}
	}
	if tr.State().CurrentStep != "go" {
		t.Fatalf("empty step must keep the current one")
	}
}

func TestTrackerObservers(t *testing.T) {
	tr := NewTracker(KindMigration)

	var seen []domain.RunStatus
	unsubscribe := tr.Subscribe(func(s domain.RunState) { seen = append(seen, s.Status) })
	if len(seen) != 1 || seen[0] != domain.RunStatusIdle {
		t.Fatalf("expected current state on subscribe, got %v", seen)
	}

	_ = tr.Start("go")
	tr.Progress(50, "half")
	tr.Complete(nil)
	unsubscribe()
	unsubscribe()
	_ = tr.Reset()

	want := []domain.RunStatus{
		domain.RunStatusIdle,
		domain.RunStatusRunning,
		domain.RunStatusRunning,
		domain.RunStatusCompleted,
	}
	if len(seen) != len(want) {
		t.Fatalf("expected %v got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("expected %v got %v", want, seen)
		}
	}
}
