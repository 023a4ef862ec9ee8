package workflow

import "testing"

func TestExecutionStateTransitions(t *testing.T) {
	t.Run("start then complete keeps counters summing to total", func(t *testing.T) {
		s := NewExecutionState("p1", "demo", 3)
		s.StartStep("A")
		s.CompleteStep("A", 0)
		s.StartStep("B")
		s.FailStep("B", "boom")
		s.SkipStep("C", "not needed")

		if got := s.Completed + s.Failed + s.Running + s.Pending + s.Skipped; got != s.Total {
			t.Errorf("counters do not sum to total: got %d want %d", got, s.Total)
		}
		if s.Completed != 1 || s.Failed != 1 || s.Skipped != 1 || s.Running != 0 || s.Pending != 0 {
			t.Errorf("unexpected counters: completed=%d failed=%d skipped=%d running=%d pending=%d",
				s.Completed, s.Failed, s.Skipped, s.Running, s.Pending)
		}
	})

	t.Run("completion percentage is 100 for an empty workflow", func(t *testing.T) {
		s := NewExecutionState("p1", "demo", 0)
		if got := s.CompletionPercentage(); got != 100 {
			t.Errorf("expected 100, got %v", got)
		}
	})

	t.Run("completion percentage counts completed and skipped", func(t *testing.T) {
		s := NewExecutionState("p1", "demo", 4)
		s.StartStep("A")
		s.CompleteStep("A", 0)
		s.SkipStep("B", "")
		if got, want := s.CompletionPercentage(), 50.0; got != want {
			t.Errorf("got %v want %v", got, want)
		}
	})

	t.Run("estimate remaining time defaults to 60s per step with no data", func(t *testing.T) {
		s := NewExecutionState("p1", "demo", 2)
		s.StartStep("A")
		// one running + one pending step at the 60s default each
		if got, want := s.EstimateRemainingTime().Seconds(), 120.0; got != want {
			t.Errorf("got %v want %v", got, want)
		}
	})

	t.Run("cancel and pause flags are independent", func(t *testing.T) {
		s := NewExecutionState("p1", "demo", 1)
		s.Cancel("user requested")
		s.Pause()
		if !s.IsCancelled() || !s.IsPaused() {
			t.Errorf("expected both cancelled and paused to be set")
		}
		s.Resume()
		if s.IsPaused() {
			t.Errorf("expected resume to clear paused flag")
		}
	})
}

func TestExecutionResult(t *testing.T) {
	t.Run("success rate and completion percentage on a mixed result", func(t *testing.T) {
		r := &ExecutionResult{TotalSteps: 4, CompletedSteps: 3, FailedSteps: 1}
		if got, want := r.SuccessRate(), 0.75; got != want {
			t.Errorf("got %v want %v", got, want)
		}
		if got, want := r.CompletionPercentage(), 75.0; got != want {
			t.Errorf("got %v want %v", got, want)
		}
		if !r.HasFailures() {
			t.Errorf("expected HasFailures to be true")
		}
	})
}
