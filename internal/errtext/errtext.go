// Package errtext turns backend error payloads into one plain sentence for the chat
// transcript. Raw codes and stack traces never reach the user.
package errtext

import (
	"errors"
	"fmt"
	"strings"

	"github.com/user/dram/internal/types"
)

type Kind string

const (
	KindRateLimit     Kind = "rate_limit"
	KindAuth          Kind = "auth"
	KindBilling       Kind = "billing"
	KindContextLength Kind = "context_length"
	KindOverloaded    Kind = "overloaded"
	KindTimeout       Kind = "timeout"
	KindNetwork       Kind = "network"
	KindGeneric       Kind = "generic"
)

var messages = map[Kind]string{
	KindRateLimit:     "The model is rate limited right now. Try again in a moment or switch to another model.",
	KindAuth:          "The backend rejected the credentials. Check the API key in settings.",
	KindBilling:       "The provider account has run out of credit. Check the billing settings.",
	KindContextLength: "This conversation is too long for the model. Start a new session or shorten the message.",
	KindOverloaded:    "The model provider is overloaded. Try again shortly.",
	KindTimeout:       "The request timed out. Try again.",
	KindNetwork:       "Can't reach the backend. Check the connection and try again.",
	KindGeneric:       "Something went wrong while generating a reply. Please try again.",
}

// BackendError is an error reported by the backend in a response frame.
type BackendError struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *BackendError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("backend error %s: %s", e.Code, e.Message)
	}
	return "backend error: " + e.Message
}

// FromPayload builds a BackendError from a decoded error object or string.
func FromPayload(v any) *BackendError {
	msg := Message(v)
	e := &BackendError{Message: msg}
	if m, ok := v.(map[string]any); ok {
		for _, key := range []string{"code", "type", "status"} {
			if c := fmt.Sprint(m[key]); m[key] != nil && c != "" {
				e.Code = c
				break
			}
		}
	}
	e.Kind = Classify(e.Code + " " + msg)
	return e
}

// rule matches lowercased error text to a kind. Rules are checked in order.
type rule struct {
	kind    Kind
	needles []string
}

var rules = []rule{
	{KindContextLength, []string{"context length", "context_length", "context window", "too many tokens", "maximum context", "prompt is too long"}},
	{KindBilling, []string{"billing", "insufficient_quota", "credit balance", "payment required", "402"}},
	{KindRateLimit, []string{"rate limit", "rate_limit", "ratelimit", "too many requests", "429", "quota"}},
	{KindAuth, []string{"unauthorized", "forbidden", "invalid api key", "invalid_api_key", "authentication", "401", "403"}},
	{KindOverloaded, []string{"overloaded", "capacity", "503", "529", "unavailable"}},
	{KindTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{KindNetwork, []string{"connection refused", "connection reset", "no such host", "network", "econnrefused", "eof", "temporary failure"}},
}

// Classify maps error text to a Kind.
func Classify(text string) Kind {
	lower := strings.ToLower(text)
	for _, r := range rules {
		for _, n := range r.needles {
			if strings.Contains(lower, n) {
				return r.kind
			}
		}
	}
	return KindGeneric
}

// Message extracts the most specific message from an error payload.
func Message(v any) string {
	switch e := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(e)
	case error:
		return e.Error()
	case map[string]any:
		for _, key := range []string{"message", "errorMessage", "error", "detail", "reason"} {
			if inner, ok := e[key]; ok && inner != nil {
				if s := Message(inner); s != "" {
					return s
				}
			}
		}
		return ""
	}
	return fmt.Sprint(v)
}

// Humanize returns the user-facing sentence for err.
func Humanize(err any) string {
	var be *BackendError
	if e, ok := err.(error); ok && errors.As(e, &be) && be.Kind != "" {
		return messages[be.Kind]
	}
	return messages[Classify(Message(err))]
}

// Translator adapts Humanize to types.ErrorTranslator.
type Translator struct{}

var _ types.ErrorTranslator = Translator{}

func (Translator) Humanize(err any) string { return Humanize(err) }
