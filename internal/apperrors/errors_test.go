package apperrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := NotFound("position", "7:1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected errors.Is(err, ErrNotFound), got %v", err)
	}
	if errors.Is(err, ErrValidation) {
		t.Error("NotFound must not match ErrValidation")
	}
}

func TestError_IsThroughWrapping(t *testing.T) {
	inner := InvalidState("position", "3:2", "status", "position already closed")
	wrapped := fmt.Errorf("close position: %w", inner)

	if !errors.Is(wrapped, ErrInvalidState) {
		t.Errorf("expected wrapped error to match ErrInvalidState: %v", wrapped)
	}
	var e *Error
	if !errors.As(wrapped, &e) || e.Field != "status" {
		t.Errorf("errors.As = %+v, want status field", e)
	}
}

func TestError_MessageCarriesEntityAndField(t *testing.T) {
	err := Validation("position", "", "currency", "unrecognized currency %q", "XXQ")
	want := `validation error: position: currency: unrecognized currency "XXQ"`
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}

	err = InsufficientData("portfolio", "P1", "historical_returns", 5, 20)
	want = "insufficient data: portfolio P1: historical_returns: have 5 observations, need at least 20"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}
