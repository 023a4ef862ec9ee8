package taxonomy

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestErrorEnvelope(t *testing.T) {
	t.Run("Error formats code and message", func(t *testing.T) {
		err := New("VALIDATION_FAILED", CategoryValidation, "bad input")
		if got, want := err.Error(), "[VALIDATION_FAILED] bad input"; got != want {
			t.Errorf("Error() = %q, want %q", got, want)
		}
	})

	t.Run("Unwrap exposes cause", func(t *testing.T) {
		cause := fmt.Errorf("connection timeout")
		err := New("X", CategoryNetwork, "wrapped").WithCause(cause)
		if !errors.Is(err, cause) {
			t.Errorf("errors.Is should find the wrapped cause")
		}
	})

	t.Run("ToMap includes all envelope fields", func(t *testing.T) {
		err := New("E1", CategoryResource, "oops").
			WithContext(Context{"project_id": "p1"}).
			WithSuggested(ActionRetry)
		m := err.ToMap()
		if m["error_code"] != "E1" || m["category"] != "resource" {
			t.Errorf("unexpected map: %+v", m)
		}
		ctx, ok := m["context"].(map[string]any)
		if !ok || ctx["project_id"] != "p1" {
			t.Errorf("expected project_id in context, got %+v", m["context"])
		}
	})
}

func TestSubtypes(t *testing.T) {
	t.Run("circular dependency is non-recoverable and critical", func(t *testing.T) {
		err := NewCircularDependencyError([]string{"A", "B", "A"})
		if err.Recoverable {
			t.Errorf("expected circular dependency error to be non-recoverable")
		}
		if err.Severity != SeverityCritical {
			t.Errorf("expected critical severity, got %s", err.Severity)
		}
	})

	t.Run("configuration error is non-recoverable", func(t *testing.T) {
		err := NewConfigurationError("max_concurrent_steps", "int")
		if err.Recoverable {
			t.Errorf("expected configuration error to be non-recoverable")
		}
	})

	t.Run("processor not found carries step name in context", func(t *testing.T) {
		err := NewProcessorNotFoundError("render")
		if err.Ctx["step_name"] != "render" {
			t.Errorf("expected step_name in context, got %+v", err.Ctx)
		}
		if err.Code != "PROCESSOR_NOT_FOUND" {
			t.Errorf("unexpected code %s", err.Code)
		}
	})

	t.Run("timeout error reports elapsed and budget seconds", func(t *testing.T) {
		err := NewTimeoutError("render", 5*time.Second, 7*time.Second)
		if err.Ctx["timeout_seconds"] != 5.0 || err.Ctx["elapsed_seconds"] != 7.0 {
			t.Errorf("unexpected timing context: %+v", err.Ctx)
		}
	})
}

func TestClassify(t *testing.T) {
	t.Run("passes through existing taxonomy errors", func(t *testing.T) {
		orig := NewValidationError("subject", "", "required")
		if Classify(orig) != orig {
			t.Errorf("expected Classify to return the same pointer for an existing taxonomy error")
		}
	})

	t.Run("maps context deadline exceeded to timeout category", func(t *testing.T) {
		got := Classify(context.DeadlineExceeded)
		if got.Category != CategoryTimeout {
			t.Errorf("expected timeout category, got %s", got.Category)
		}
	})

	t.Run("maps context cancellation to non-recoverable execution error", func(t *testing.T) {
		got := Classify(context.Canceled)
		if got.Recoverable {
			t.Errorf("expected cancellation to be non-recoverable")
		}
	})

	t.Run("defaults unknown errors to retry-then-manual", func(t *testing.T) {
		got := Classify(fmt.Errorf("something odd happened"))
		if len(got.Suggested) != 2 || got.Suggested[0] != ActionRetry {
			t.Errorf("unexpected suggested actions: %+v", got.Suggested)
		}
	})
}

func TestIsRecoverableAndSuggestedActions(t *testing.T) {
	t.Run("generic error is recoverable by default", func(t *testing.T) {
		if !IsRecoverable(fmt.Errorf("plain")) {
			t.Errorf("expected plain error to default to recoverable")
		}
	})

	t.Run("taxonomy error reports its own recoverability", func(t *testing.T) {
		err := NewConfigurationError("k", "")
		if IsRecoverable(err) {
			t.Errorf("expected configuration error to report non-recoverable")
		}
	})

	t.Run("suggested actions read from taxonomy error", func(t *testing.T) {
		err := NewDependencyError("B", []string{"A"})
		actions := SuggestedActions(err)
		if len(actions) != 2 || actions[0] != ActionRetry || actions[1] != ActionSkip {
			t.Errorf("unexpected actions: %+v", actions)
		}
	})
}
