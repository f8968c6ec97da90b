package errtext

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		text string
		want Kind
	}{
		{"429 Too Many Requests", KindRateLimit},
		{"rate_limit_error: slow down", KindRateLimit},
		{"401 Unauthorized", KindAuth},
		{"invalid_api_key", KindAuth},
		{"Overloaded", KindOverloaded},
		{"context deadline exceeded", KindTimeout},
		{"dial tcp: connection refused", KindNetwork},
		{"prompt is too long: 210000 tokens > 200000 maximum", KindContextLength},
		{"Your credit balance is too low", KindBilling},
		{"something odd", KindGeneric},
		{"", KindGeneric},
	}
	for _, tt := range tests {
		if got := Classify(tt.text); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}

func TestHumanizeShapes(t *testing.T) {
	nested := map[string]any{"error": map[string]any{"type": "rate_limit_error", "message": "Rate limit reached"}}
	if got := Humanize(nested); got != messages[KindRateLimit] {
		t.Errorf("nested payload: %q", got)
	}
	if got := Humanize(errors.New("read: connection reset by peer")); got != messages[KindNetwork] {
		t.Errorf("error value: %q", got)
	}
	if got := Humanize(nil); got != messages[KindGeneric] {
		t.Errorf("nil: %q", got)
	}
	if got := Humanize(42); got != messages[KindGeneric] {
		t.Errorf("number: %q", got)
	}
}

func TestHumanizeBackendError(t *testing.T) {
	be := FromPayload(map[string]any{"code": "AUTH_FAILED", "message": "unauthorized"})
	if be.Kind != KindAuth {
		t.Fatalf("expected auth kind, got %s", be.Kind)
	}
	wrapped := fmt.Errorf("chat.send: %w", be)
	if got := Humanize(wrapped); got != messages[KindAuth] {
		t.Errorf("unexpected message %q", got)
	}
	if be.Error() != "backend error AUTH_FAILED: unauthorized" {
		t.Errorf("unexpected error text %q", be.Error())
	}
}

func TestEveryKindHasMessage(t *testing.T) {
	for _, r := range rules {
		if messages[r.kind] == "" {
			t.Errorf("missing message for %s", r.kind)
		}
	}
	if (Translator{}).Humanize("timeout") != messages[KindTimeout] {
		t.Error("translator should delegate to Humanize")
	}
}
