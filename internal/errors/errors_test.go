package errors

import (
	"strings"
	"testing"
)

func TestErrorToCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int32
	}{
		{"nil", nil, CodeUnknown},
		{"invalid token", ErrInvalidToken, CodeAuthFailed},
		{"not authenticated", ErrNotAuthenticated, CodeNotAuthenticated},
		{"not authorized", ErrNotAuthorized, CodeNotAuthorized},
		{"invalid version", ErrInvalidVersion, CodeInvalidVersion},
		{"wrapped invalid version", NewInvalidVersion(5, 2), CodeInvalidVersion},
		{"malformed sample", NewMalformedSample(3, "value is NaN"), CodeMalformedSample},
		{"lock timeout", ErrLockTimeout, CodeLockTimeout},
		{"unknown stream", ErrUnknownStream, CodeNotFound},
		{"no such point", ErrNoSuchPoint, CodeNotFound},
		{"invalid range", ErrInvalidRange, CodeInvalidRequest},
		{"validation", NewValidation("width", "must be positive"), CodeInvalidRequest},
		{"missing field", NewMissingField("stream"), CodeInvalidRequest},
		{"timeout", ErrTimeout, CodeTimeout},
		{"plain error", New("something broke"), CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorToCode(tt.err); got != tt.code {
				t.Errorf("ErrorToCode() = %d (%s), want %d (%s)",
					got, CodeName(got), tt.code, CodeName(tt.code))
			}
		})
	}
}

func TestCodeToError(t *testing.T) {
	// Every code a server can emit must map back to a sentinel a client
	// can check with errors.Is.
	codes := []int32{
		CodeAuthFailed, CodeNotAuthenticated, CodeInvalidRequest,
		CodeNotFound, CodeNotAuthorized, CodeInvalidVersion,
		CodeMalformedSample, CodeLockTimeout, CodeTimeout,
	}
	for _, code := range codes {
		err := CodeToError(code)
		if err == nil {
			t.Errorf("CodeToError(%d) = nil", code)
			continue
		}
		if got := ErrorToCode(err); got != code {
			t.Errorf("round trip for %s: got %s", CodeName(code), CodeName(got))
		}
	}

	if err := CodeToError(999); !Is(err, ErrInternal) {
		t.Errorf("unknown code: got %v, want ErrInternal", err)
	}
}

func TestCodeName(t *testing.T) {
	if got := CodeName(CodeMalformedSample); got != "MalformedSample" {
		t.Errorf("got %q", got)
	}
	if got := CodeName(999); got != "Code(999)" {
		t.Errorf("got %q", got)
	}
}

func TestCategoryChecks(t *testing.T) {
	if !IsValidation(NewMalformedSample(0, "out of range")) {
		t.Error("malformed sample should be a validation error")
	}
	if !IsValidation(Wrap(ErrInvalidRange, "query")) {
		t.Error("wrapped invalid range should be a validation error")
	}
	if IsValidation(ErrUnknownStream) {
		t.Error("unknown stream is not a validation error")
	}

	if !IsAuthError(ErrInvalidToken) || !IsAuthError(ErrNotAuthenticated) {
		t.Error("token/authentication errors should be auth errors")
	}
	if IsAuthError(ErrTimeout) {
		t.Error("timeout is not an auth error")
	}

	if !IsRetriable(ErrLockTimeout) || !IsRetriable(ErrConnectionFailed) {
		t.Error("lock timeout and connection failure should be retriable")
	}
	if IsRetriable(ErrMalformedSample) {
		t.Error("malformed sample is not retriable")
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if Wrapf(nil, "context %d", 1) != nil {
		t.Error("Wrapf(nil) should return nil")
	}

	err := Wrap(ErrInvalidVersion, "query stream abc")
	if !Is(err, ErrInvalidVersion) {
		t.Error("wrapped error lost its sentinel")
	}
	if !strings.Contains(err.Error(), "query stream abc") {
		t.Errorf("missing context: %q", err.Error())
	}
}

func TestConstructors(t *testing.T) {
	err := NewMalformedSample(4, "value is +Inf")
	if !Is(err, ErrMalformedSample) {
		t.Error("missing ErrMalformedSample sentinel")
	}
	if !strings.Contains(err.Error(), "sample 4") {
		t.Errorf("missing index: %q", err.Error())
	}

	err = NewInvalidVersion(9, 2)
	if !Is(err, ErrInvalidVersion) {
		t.Error("missing ErrInvalidVersion sentinel")
	}
	if !strings.Contains(err.Error(), "9") || !strings.Contains(err.Error(), "2") {
		t.Errorf("missing versions: %q", err.Error())
	}

	err = NewMissingField("stream")
	if !Is(err, ErrMissingField) {
		t.Error("missing ErrMissingField sentinel")
	}
}
