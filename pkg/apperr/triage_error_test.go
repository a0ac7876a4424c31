package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAsAppError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   string
		wantStatus int
	}{
		{"app error", NotFound("snooze"), CodeNotFound, http.StatusNotFound},
		{"wrapped app error", fmt.Errorf("load: %w", Unauthorized("")), CodeUnauthorized, http.StatusUnauthorized},
		{"plain error", errors.New("boom"), CodeInternalError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AsAppError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", got.Code, tt.wantCode)
			}
			if GetHTTPStatus(tt.err) != tt.wantStatus {
				t.Errorf("status = %d, want %d", GetHTTPStatus(tt.err), tt.wantStatus)
			}
		})
	}
}

func TestAppError_IsMatchesCode(t *testing.T) {
	err := fmt.Errorf("ctx: %w", Conflict("snooze is not active"))
	if !errors.Is(err, Conflict("")) {
		t.Error("expected errors.Is to match on code")
	}
	if errors.Is(err, NotFound("x")) {
		t.Error("different code must not match")
	}
	if !HasCode(err, CodeConflict) {
		t.Error("HasCode should see through wrapping")
	}
}

func TestAppError_ErrorString(t *testing.T) {
	err := DatabaseError("insert snooze", errors.New("dup"))
	want := "[DATABASE_ERROR] database error: insert snooze: dup"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, err.Err) {
		t.Error("Unwrap should expose cause")
	}
}
