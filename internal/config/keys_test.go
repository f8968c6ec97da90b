package config

import (
	"reflect"
	"testing"
)

func TestEntries(t *testing.T) {
	m := map[string]any{
		"routing": map[string]any{
			"primary_model":  "anthropic/claude-sonnet-4",
			"manual_routing": false,
		},
		"log_level": "info",
		"empty":     map[string]any{},
		"gateway":   map[string]any{"token": "tok"},
	}
	got := entries("", m, nil)
	want := []Entry{
		{Key: "gateway.token", Value: "tok", Secret: true},
		{Key: "log_level", Value: "info"},
		{Key: "routing.manual_routing", Value: false},
		{Key: "routing.primary_model", Value: "anthropic/claude-sonnet-4"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("entries mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestLookup(t *testing.T) {
	m := map[string]any{"a": map[string]any{"b": map[string]any{"c": "deep"}}, "x": 1.0}
	if v, ok := lookup(m, "a.b.c"); !ok || v != "deep" {
		t.Errorf("a.b.c = %v, %v", v, ok)
	}
	if v, ok := lookup(m, "x"); !ok || v != 1.0 {
		t.Errorf("x = %v, %v", v, ok)
	}
	for _, key := range []string{"a", "a.b", "a.b.c.d", "x.y", "missing"} {
		if _, ok := lookup(m, key); ok {
			t.Errorf("lookup(%q) should miss", key)
		}
	}
}

func TestAssign(t *testing.T) {
	m := map[string]any{"gateway": map[string]any{"token": "old"}, "a": "scalar"}
	assign(m, "gateway.token", "new")
	assign(m, "gateway.poll_schedule", "@every 1m")
	assign(m, "a.b", "x")
	assign(m, "log_level", "debug")

	want := map[string]any{
		"gateway":   map[string]any{"token": "new", "poll_schedule": "@every 1m"},
		"a":         map[string]any{"b": "x"},
		"log_level": "debug",
	}
	if !reflect.DeepEqual(m, want) {
		t.Errorf("assign mismatch:\n got %v\nwant %v", m, want)
	}
}

func TestRedact(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  any
	}{
		{"long", "gw-abcdef1234", "***1234"},
		{"exactly four", "abcd", "***abcd"},
		{"short", "ab", "***ab"},
		{"empty", "", ""},
		{"non-string", 42.0, 42.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Redact(tt.value); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestIsSecret(t *testing.T) {
	if !IsSecret("gateway.token") {
		t.Error("gateway.token should be secret")
	}
	if IsSecret("routing.primary_model") {
		t.Error("routing.primary_model should not be secret")
	}
}
