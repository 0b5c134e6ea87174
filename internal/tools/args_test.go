package tools

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"
)

func TestArgsFloat(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want *float64
	}{
		{"float", 12.5, ptr(12.5)},
		{"zero", 0.0, ptr(0.0)},
		{"int", 7, ptr(7.0)},
		{"json number", json.Number("3.25"), ptr(3.25)},
		{"string", "120", nil},
		{"bool", true, nil},
		{"nil", nil, nil},
		{"nan", math.NaN(), nil},
		{"inf", math.Inf(1), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Args{"v": tt.in}.Float("v")
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("Float = %v, want nil", *got)
			case tt.want != nil && (got == nil || *got != *tt.want):
				t.Errorf("Float = %v, want %v", got, *tt.want)
			}
		})
	}
	if (Args{}).Float("missing") != nil {
		t.Error("missing key should be nil")
	}
}

func ptr[T any](v T) *T { return &v }

func TestArgsInt(t *testing.T) {
	if n := (Args{"n": 4.0}).Int("n"); n == nil || *n != 4 {
		t.Errorf("Int(4.0) = %v", n)
	}
	if n := (Args{"n": 4.5}).Int("n"); n != nil {
		t.Errorf("Int(4.5) = %v, want nil", *n)
	}
	if n := (Args{"n": "4"}).Int("n"); n != nil {
		t.Errorf("Int(\"4\") = %v, want nil", *n)
	}
}

func TestArgsRequiredString(t *testing.T) {
	tests := []struct {
		name    string
		args    Args
		want    string
		wantErr bool
	}{
		{"present", Args{"s": "  banana "}, "banana", false},
		{"missing", Args{}, "", true},
		{"blank", Args{"s": "   "}, "", true},
		{"null", Args{"s": nil}, "", true},
		{"wrong type", Args{"s": 5.0}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.args.RequiredString("s")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var ae *ArgError
				if !errors.As(err, &ae) || ae.Field != "s" {
					t.Errorf("err = %#v, want ArgError for s", err)
				}
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestArgsBoolAndHas(t *testing.T) {
	a := Args{"yes": true, "str": "true", "null": nil}
	if !a.Bool("yes", false) {
		t.Error("Bool(yes) = false")
	}
	if !a.Bool("str", true) || a.Bool("str", false) {
		t.Error("non-bool should fall back to default")
	}
	if !a.Has("yes") || a.Has("null") || a.Has("missing") {
		t.Error("Has mismatch")
	}
}

func TestArgsDate(t *testing.T) {
	if d, err := (Args{"d": "2026-02-28"}).Date("d"); err != nil || d != "2026-02-28" {
		t.Errorf("Date = %q, %v", d, err)
	}
	if _, err := (Args{"d": "2026-02-30"}).Date("d"); err == nil {
		t.Error("invalid date accepted")
	}
	if d, err := (Args{}).Date("d"); err != nil || d != "" {
		t.Errorf("missing date = %q, %v", d, err)
	}
	if _, err := (Args{}).RequiredDate("d"); err == nil {
		t.Error("RequiredDate accepted missing value")
	}
}

func TestArgsTime(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("no tzdata")
	}
	ref := time.Date(2026, 6, 1, 12, 0, 0, 0, loc)

	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"2026-05-31T23:15:00Z", time.Date(2026, 5, 31, 23, 15, 0, 0, time.UTC), false},
		{"2026-05-31T23:15", time.Date(2026, 5, 31, 23, 15, 0, 0, loc), false},
		{"07:05", time.Date(2026, 6, 1, 7, 5, 0, 0, loc), false},
		{"seven", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Args{"t": tt.in}.Time("t", ref)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && !got.Equal(tt.want) {
				t.Errorf("Time = %v, want %v", got, tt.want)
			}
		})
	}

	if got, err := (Args{}).Time("t", ref); got != nil || err != nil {
		t.Errorf("missing time = %v, %v", got, err)
	}
}
