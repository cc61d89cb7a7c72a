package errors

import (
	"fmt"
	"testing"
)

func TestErrorInterface(t *testing.T) {
	err := NewNotFound("abc")
	want := "NOT_FOUND: capsule not found: abc"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestConstructorsCarryStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    *Error
		code   ErrorCode
		status int
	}{
		{"invalid request", NewInvalidRequest("bad"), ErrInvalidRequest, 400},
		{"not found", NewNotFound("x"), ErrNotFound, 404},
		{"sealed", NewCapsuleSealed("x"), ErrCapsuleSealed, 409},
		{"attachment limit", NewAttachmentLimit(10), ErrAttachmentLimit, 409},
		{"file too large", NewFileTooLarge("a", 10, 20), ErrFileTooLarge, 413},
		{"encoded too large", NewEncodedTooLarge("a", 10, 20), ErrEncodedTooLarge, 413},
		{"batch too large", NewBatchTooLarge(10, 20), ErrBatchTooLarge, 413},
		{"unsupported type", NewUnsupportedType("a", "text/plain"), ErrUnsupportedType, 415},
		{"decode failed", NewDecodeFailed("a", nil), ErrDecodeFailed, 422},
		{"cancelled", NewCancelled(), ErrCancelled, 499},
		{"internal", NewInternal(fmt.Errorf("boom")), ErrInternal, 500},
		{"transport failed", NewTransportFailed("x"), ErrTransportFailed, 502},
		{"agent unreachable", NewAgentUnreachable("http://x"), ErrAgentUnreachable, 502},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %s, want %s", tt.err.Code, tt.code)
			}
			if tt.err.Status != tt.status {
				t.Errorf("Status = %d, want %d", tt.err.Status, tt.status)
			}
			if tt.err.Message == "" {
				t.Error("Message is empty")
			}
		})
	}
}

func TestIs(t *testing.T) {
	if !Is(NewNotFound("x"), ErrNotFound) {
		t.Error("Is() should match the code")
	}
	if Is(NewNotFound("x"), ErrInternal) {
		t.Error("Is() should not match a different code")
	}
	if Is(fmt.Errorf("plain"), ErrInternal) {
		t.Error("Is() should not match a non-structured error")
	}
	if Is(nil, ErrInternal) {
		t.Error("Is() should not match nil")
	}
}
