package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrTransport, "voice socket dropped").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true)

	if GetErrorCode(err) != ErrTransport {
		t.Fatalf("expected code %s, got %s", ErrTransport, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got != "[TRANSPORT_ERROR] voice socket dropped: root" {
		t.Fatalf("unexpected error string %q", got)
	}
}

func TestError_WrappedLookup(t *testing.T) {
	t.Parallel()

	base := NewError(ErrNotFound, "task 9 not found")
	wrapped := fmt.Errorf("apply: %w", base)

	if !IsErrorCode(wrapped, ErrNotFound) {
		t.Fatalf("expected NOT_FOUND through wrapping")
	}
	if IsErrorCode(wrapped, ErrConflict) {
		t.Fatalf("unexpected CONFLICT match")
	}
	if GetErrorCode(errors.New("plain")) != "" {
		t.Fatalf("plain errors carry no code")
	}
	if IsRetryable(nil) {
		t.Fatalf("nil is never retryable")
	}
}

func TestErrorCode_HTTPStatus(t *testing.T) {
	t.Parallel()

	cases := map[ErrorCode]int{
		ErrInvalidRequest:     400,
		ErrMalformedCommand:   400,
		ErrUnauthorized:       401,
		ErrForbidden:          403,
		ErrNotFound:           404,
		ErrUnknownTool:        404,
		ErrConflict:           409,
		ErrSessionClosed:      409,
		ErrRateLimited:        429,
		ErrInternalError:      500,
		ErrTransport:          502,
		ErrServiceUnavailable: 503,
		ErrTimeout:            504,
		"SOMETHING_NEW":       500,
	}
	for code, want := range cases {
		if got := code.HTTPStatus(); got != want {
			t.Errorf("%s: got %d, want %d", code, got, want)
		}
	}
}

func TestError_StatusAndErrorf(t *testing.T) {
	t.Parallel()

	err := Errorf(ErrNotFound, "task %d not found", 9)
	if err.Message != "task 9 not found" {
		t.Fatalf("unexpected message %q", err.Message)
	}
	if err.Status() != 404 {
		t.Fatalf("expected default status 404, got %d", err.Status())
	}
	if err.WithHTTPStatus(410).Status() != 410 {
		t.Fatalf("explicit status should win")
	}
	if IsErrorCode(errors.New("plain"), "") {
		t.Fatalf("empty code never matches")
	}
}
