package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// ArgError reports a tool argument that is missing or malformed.
type ArgError struct {
	Field  string
	Reason string
}

func (e *ArgError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// Args is the raw argument object a model supplied for a tool call.
// Accessors never panic on unexpected types.
type Args map[string]any

// String returns the trimmed string value of key, or "" when absent or
// not a string.
func (a Args) String(key string) string {
	s, _ := a[key].(string)
	return strings.TrimSpace(s)
}

// RequiredString returns the value of key or an ArgError when it is
// missing or blank.
func (a Args) RequiredString(key string) (string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return "", &ArgError{Field: key, Reason: "is required"}
	}
	s, ok := v.(string)
	if !ok {
		return "", &ArgError{Field: key, Reason: "must be a string"}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", &ArgError{Field: key, Reason: "is required"}
	}
	return s, nil
}

// Float returns key as a finite number, or nil when it is absent or
// anything else. Strings are not parsed: an unknown value stays unknown
// rather than becoming zero.
func (a Args) Float(key string) *float64 {
	var f float64
	switch v := a[key].(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		n, err := v.Float64()
		if err != nil {
			return nil
		}
		f = n
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// Int returns key as a whole number, or nil when it is absent, not
// numeric or has a fractional part.
func (a Args) Int(key string) *int {
	f := a.Float(key)
	if f == nil || *f != math.Trunc(*f) || math.Abs(*f) > math.MaxInt32 {
		return nil
	}
	n := int(*f)
	return &n
}

// Bool returns key as a boolean, or def when absent or not a boolean.
func (a Args) Bool(key string, def bool) bool {
	if b, ok := a[key].(bool); ok {
		return b
	}
	return def
}

// Has reports whether key was supplied with a non-null value.
func (a Args) Has(key string) bool {
	v, ok := a[key]
	return ok && v != nil
}

// Date returns key as a YYYY-MM-DD date string. An absent key yields "".
func (a Args) Date(key string) (string, error) {
	s := a.String(key)
	if s == "" {
		return "", nil
	}
	if _, err := time.Parse(time.DateOnly, s); err != nil {
		return "", &ArgError{Field: key, Reason: "must be a date (YYYY-MM-DD)"}
	}
	return s, nil
}

// RequiredDate is Date for a field that must be present.
func (a Args) RequiredDate(key string) (string, error) {
	if a.String(key) == "" {
		return "", &ArgError{Field: key, Reason: "is required"}
	}
	return a.Date(key)
}

// Time parses key as an RFC 3339 timestamp, a local "2006-01-02T15:04"
// or a clock time "15:04" on ref's date. Absent yields nil.
func (a Args) Time(key string, ref time.Time) (*time.Time, error) {
	s := a.String(key)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, s, ref.Location()); err == nil {
			return &t, nil
		}
	}
	if c, err := time.Parse("15:04", s); err == nil {
		t := time.Date(ref.Year(), ref.Month(), ref.Day(), c.Hour(), c.Minute(), 0, 0, ref.Location())
		return &t, nil
	}
	return nil, &ArgError{Field: key, Reason: "must be a time (RFC 3339 or HH:MM)"}
}
