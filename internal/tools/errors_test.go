package tools

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrToolUnavailable_Error(t *testing.T) {
	err := &ErrToolUnavailable{ToolName: "web_search"}
	want := `tool "web_search" is not available in this context`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrToolUnavailable_WrappedErrorsAs(t *testing.T) {
	wrapped := fmt.Errorf("tool execution: %w", &ErrToolUnavailable{ToolName: "log_meal"})

	var target *ErrToolUnavailable
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As failed to match wrapped *ErrToolUnavailable")
	}
	if target.ToolName != "log_meal" {
		t.Errorf("ToolName = %q, want %q", target.ToolName, "log_meal")
	}
}

func TestErrorPayload(t *testing.T) {
	tests := []struct {
		msg  string
		want string
	}{
		{"boom", `{"error":"boom"}`},
		{`say "hi"`, `{"error":"say \"hi\""}`},
	}
	for _, tt := range tests {
		if got := errorPayload(tt.msg); got != tt.want {
			t.Errorf("errorPayload(%q) = %s, want %s", tt.msg, got, tt.want)
		}
	}
}

func TestIsErrorPayload(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{`{"error":"x"}`, true},
		{`{"success":false,"message":"No meals to delete."}`, false},
		{`not json`, false},
	}
	for _, tt := range tests {
		if got := IsErrorPayload(tt.in); got != tt.want {
			t.Errorf("IsErrorPayload(%s) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestErrMessage(t *testing.T) {
	if got := errMessage(&ArgError{Field: "description", Reason: "is required"}); got != "invalid arguments: description is required" {
		t.Errorf("errMessage(ArgError) = %q", got)
	}
	if got := errMessage(errors.New("disk full")); got != "disk full" {
		t.Errorf("errMessage = %q", got)
	}
}
