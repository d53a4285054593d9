package protocol

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMatchingByCode(t *testing.T) {
	err := NewErrorf(ErrCodeSubmissionRejected, "tecNO_PERMISSION: no permission")
	if !errors.Is(err, ErrSubmissionRejected) {
		t.Error("expected code match against sentinel")
	}
	if errors.Is(err, ErrFinalityTimeout) {
		t.Error("did not expect cross-code match")
	}

	// Matching survives wrapping.
	wrapped := fmt.Errorf("submit open: %w", err)
	if !errors.Is(wrapped, ErrSubmissionRejected) {
		t.Error("expected match through %w wrapping")
	}
}

func TestErrorPreservesCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := WrapError(ErrCodeConnection, "failed to connect", cause)
	if !errors.Is(err, cause) {
		t.Error("expected wrapped cause to be reachable")
	}

	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatal("expected *Error via errors.As")
	}
	if perr.Code != ErrCodeConnection {
		t.Errorf("unexpected code %s", perr.Code)
	}
}

func TestErrorMessageFormat(t *testing.T) {
	if got := NewError(ErrCodeInvalidAmount, "amount must be positive").Error(); got != "invalid_amount: amount must be positive" {
		t.Errorf("unexpected message %q", got)
	}
	if got := (&Error{Code: ErrCodeFinalityTimeout}).Error(); got != "finality_timeout" {
		t.Errorf("unexpected message %q", got)
	}
}
