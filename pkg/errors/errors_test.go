// SPDX-License-Identifier: Apache-2.0
package errors

import (
	stderrors "errors"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := New(CodeToolFailure, "capability call failed", cause)

	got := err.Error()
	want := "[TOOL_FAILURE] capability call failed: connection refused"
	if got != want {
		t.Errorf("unexpected message: got %q want %q", got, want)
	}
	if !stderrors.Is(err, cause) {
		t.Errorf("expected cause to be unwrappable")
	}
}

func TestErrorWithoutCause(t *testing.T) {
	err := New(CodeUnauthorized, "role denied", nil)
	if err.Error() != "[UNAUTHORIZED] role denied" {
		t.Errorf("unexpected message: %s", err.Error())
	}
	if err.StatusCode != 403 {
		t.Errorf("expected status 403, got %d", err.StatusCode)
	}
}

func TestWithContextChaining(t *testing.T) {
	err := New(CodeGenerationTransient, "backend unavailable", nil).
		WithContext("attempt", 2).
		WithRecoverable(true)

	if err.Context["attempt"] != 2 {
		t.Errorf("context not recorded")
	}
	if !err.Recoverable {
		t.Errorf("expected recoverable")
	}
	if err.RecoverableString() != "true" {
		t.Errorf("unexpected recoverable string")
	}
}

func TestAsPilotError(t *testing.T) {
	pe := New(CodeCacheUnavailable, "redis down", nil)
	if AsPilotError(pe) != pe {
		t.Errorf("expected identity conversion")
	}

	wrapped := AsPilotError(stderrors.New("boom"))
	if wrapped.Code != CodeInternal {
		t.Errorf("expected internal code, got %s", wrapped.Code)
	}
	if AsPilotError(nil) != nil {
		t.Errorf("expected nil for nil error")
	}
}

func TestHasCode(t *testing.T) {
	err := New(CodeGenerationFatal, "gave up", nil)
	if !HasCode(err, CodeGenerationFatal) {
		t.Errorf("expected matching code")
	}
	if HasCode(err, CodeTimeout) {
		t.Errorf("unexpected code match")
	}
	if HasCode(stderrors.New("plain"), CodeInternal) {
		t.Errorf("plain errors carry no code")
	}
}
