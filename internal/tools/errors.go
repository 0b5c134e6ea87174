package tools

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrToolUnavailable is returned when a call names a tool that has no
// handler or is outside the set allowed for this loop.
type ErrToolUnavailable struct {
	ToolName string
}

func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available in this context", e.ToolName)
}

// errNotConfigured reports an optional capability that was not wired.
func errNotConfigured(what string) error {
	return fmt.Errorf("%s is not configured", what)
}

// errorPayload renders msg as {"error": msg}.
func errorPayload(msg string) string {
	data, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return `{"error":"internal error"}`
	}
	return string(data)
}

// IsErrorPayload reports whether a tool result is an error descriptor.
func IsErrorPayload(result string) bool {
	var p struct {
		Error *string `json:"error"`
	}
	if err := json.Unmarshal([]byte(result), &p); err != nil {
		return false
	}
	return p.Error != nil
}

// errMessage returns the text shown to the model for err.
func errMessage(err error) string {
	var ae *ArgError
	if errors.As(err, &ae) {
		return "invalid arguments: " + ae.Error()
	}
	return err.Error()
}
