package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityDebug, "debug"},
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInvalidStateError(t *testing.T) {
	err := NewInvalidStateError("step", "step_1", "COMPLETED", "IN_PROGRESS")

	want := "invalid state [step=step_1]: cannot move from COMPLETED to IN_PROGRESS"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrInvalidState) {
		t.Error("errors.Is(err, ErrInvalidState) = false, want true")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("errors.Is(err, ErrNotFound) = true, want false")
	}
	if err.IsRetryable() {
		t.Error("IsRetryable() = true, want false")
	}

	err = err.WithReason("dependencies not completed")
	want = "invalid state [step=step_1]: dependencies not completed"
	if got := err.Error(); got != want {
		t.Errorf("Error() after WithReason = %q, want %q", got, want)
	}
}

func TestNotFoundError(t *testing.T) {
	err := NewNotFoundError("queue", "hook_abc")
	if got, want := err.Error(), "queue 'hook_abc' not found"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Error("errors.Is(err, ErrNotFound) = false, want true")
	}

	wrapped := err.WithCause(fmt.Errorf("disk"))
	if got, want := wrapped.Error(), "queue 'hook_abc' not found: disk"; got != want {
		t.Errorf("Error() with cause = %q, want %q", got, want)
	}
}

func TestCommandBlockedError(t *testing.T) {
	err := NewCommandBlockedError("curl http://evil", RuleNotAllowlisted, `executable "curl" is not allowlisted`)

	if err.Rule != RuleNotAllowlisted {
		t.Errorf("Rule = %q, want %q", err.Rule, RuleNotAllowlisted)
	}
	if got, want := err.Reason(), `executable "curl" is not allowlisted`; got != want {
		t.Errorf("Reason() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrCommandBlocked) {
		t.Error("errors.Is(err, ErrCommandBlocked) = false, want true")
	}
	if KindOf(err) != KindBlocked {
		t.Errorf("KindOf() = %q, want %q", KindOf(err), KindBlocked)
	}
}

func TestTransientError(t *testing.T) {
	err := NewTransientError("go test ./...", nil).WithExitCode(1)
	if got, want := err.Error(), "transient failure [exit=1]: go test ./..."; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !IsRetryable(err) {
		t.Error("IsRetryable() = false, want true")
	}
	if !errors.Is(err, ErrTransient) {
		t.Error("errors.Is(err, ErrTransient) = false, want true")
	}
}

func TestStorageError(t *testing.T) {
	cause := fmt.Errorf("no space left on device")
	err := NewStorageError("write record", "queues", "hook_1", cause)

	want := "storage error [record=queues, id=hook_1]: write record: no space left on device"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrStorage) {
		t.Error("errors.Is(err, ErrStorage) = false, want true")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
	if IsUserFacing(err) {
		t.Error("IsUserFacing() = true, want false")
	}
	if GetSeverity(err) != SeverityError {
		t.Errorf("GetSeverity() = %v, want %v", GetSeverity(err), SeverityError)
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("step depends on itself").WithField("depends_on").WithValue("a")
	want := "validation error [field=depends_on, value=a]: step depends on itself"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("errors.Is(err, ErrInvalidInput) = false, want true")
	}
}

func TestTimeoutError(t *testing.T) {
	err := NewTimeoutError("pytest tests/", 5*time.Minute)
	if got, want := err.Error(), "timeout error: pytest tests/ (timeout: 5m0s)"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Error("errors.Is(err, ErrTimeout) = false, want true")
	}
	if !IsRetryable(err) {
		t.Error("IsRetryable() = false, want true")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain", errors.New("boom"), KindUnknown},
		{"invalid state", NewInvalidStateError("workflow", "w", "DRAFT", "COMPLETED"), KindInvalidState},
		{"wrapped not found", Wrap(NewNotFoundError("gate", "g"), "approve"), KindNotFound},
		{"sentinel storage", fmt.Errorf("save: %w", ErrStorage), KindStorage},
		{"sentinel transient", fmt.Errorf("run: %w", ErrTransient), KindTransient},
		{"validation", NewValidationError("bad"), KindValidation},
		{"timeout", NewTimeoutError("op", time.Second), KindTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "ctx") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	if Wrapf(nil, "ctx %d", 1) != nil {
		t.Error("Wrapf(nil) should be nil")
	}

	base := NewNotFoundError("item", "wi_1")
	err := Wrapf(base, "release %s", "wi_1")
	if got, want := err.Error(), "release wi_1: item 'wi_1' not found"; got != want {
		t.Errorf("Wrapf() = %q, want %q", got, want)
	}

	var nf *NotFoundError
	if !As(err, &nf) {
		t.Fatal("As(*NotFoundError) = false, want true")
	}
	if nf.ResourceID != "wi_1" {
		t.Errorf("ResourceID = %q, want %q", nf.ResourceID, "wi_1")
	}
}
