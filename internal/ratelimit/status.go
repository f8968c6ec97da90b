// Package ratelimit converts heterogeneous backend usage payloads into a canonical
// per-model status: percent quota remaining, cooldown seconds and reset time.
package ratelimit

import (
	"math"
	"strings"
	"time"
)

const (
	DefaultLimit    = 100
	DefaultCooldown = 0

	// msThreshold separates second-scale from millisecond-scale epoch values.
	msThreshold = 1e12

	// maxResetMillis keeps reset timestamps well inside int64 range.
	maxResetMillis = 9e18
)

// Field aliases, canonical name first. The first key present in a payload wins.
var (
	LimitKeys    = []string{"limit", "rateLimitRemainingPercent", "remainingPercent", "rate_limit_remaining_percent"}
	CooldownKeys = []string{"cooldown", "cooldownSeconds", "cooldown_seconds", "retryAfterSeconds"}
	ResetAtKeys  = []string{"resetAt", "reset_at", "resetAtMs", "resetsAt"}
)

// Status is the canonical availability record of one model.
type Status struct {
	Limit    int    `json:"limit"`
	Cooldown int    `json:"cooldown"`
	ResetAt  *int64 `json:"reset_at,omitempty"`
}

// Default is the status of a model nobody reported on: full quota, no cooldown.
func Default() Status {
	return Status{Limit: DefaultLimit, Cooldown: DefaultCooldown}
}

// Available reports whether requests may be routed to the model right now.
func (s Status) Available() bool {
	return s.Cooldown <= 0 && s.Limit > 0
}

// ParseResetAt coerces a reset timestamp to epoch milliseconds. Values above 1e12 are
// taken as milliseconds, anything else as seconds. RFC 3339 strings are accepted too.
// NaN and values beyond maxResetMillis do not parse.
func ParseResetAt(v any) (int64, bool) {
	if f, ok := toFloat(v); ok {
		ms := f
		if f <= msThreshold {
			ms = math.Round(f * 1000)
		}
		if math.IsNaN(ms) || math.Abs(ms) > maxResetMillis {
			return 0, false
		}
		return int64(ms), true
	}
	if s, ok := v.(string); ok {
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(s)); err == nil {
			return t.UnixMilli(), true
		}
	}
	return 0, false
}

// ClampPercent rounds v and clamps it to [0,100]; non-numeric input yields fallback.
func ClampPercent(v any, fallback int) int {
	f, ok := toFloat(v)
	if !ok {
		return fallback
	}
	r := math.Round(f)
	if r < 0 {
		return 0
	}
	if r > 100 {
		return 100
	}
	return int(r)
}

// ToCooldownSeconds floors v and clamps it to >= 0; non-numeric input yields fallback.
func ToCooldownSeconds(v any, fallback int) int {
	f, ok := toFloat(v)
	if !ok {
		return fallback
	}
	r := math.Floor(f)
	if r < 0 {
		return 0
	}
	if r > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(r)
}

// NormalizeStatus reads the first present alias of each field and coerces it.
// A nil payload yields Default().
func NormalizeStatus(raw map[string]any) Status {
	st := Default()
	if raw == nil {
		return st
	}
	if v, ok := firstPresent(raw, LimitKeys...); ok {
		st.Limit = ClampPercent(v, DefaultLimit)
	}
	if v, ok := firstPresent(raw, CooldownKeys...); ok {
		st.Cooldown = ToCooldownSeconds(v, DefaultCooldown)
	}
	if v, ok := firstPresent(raw, ResetAtKeys...); ok {
		if ms, ok := ParseResetAt(v); ok {
			st.ResetAt = &ms
		}
	}
	return st
}

// Merge overlays the fields present in raw onto st, leaving absent fields untouched.
func Merge(st Status, raw map[string]any) Status {
	if v, ok := firstPresent(raw, LimitKeys...); ok {
		st.Limit = ClampPercent(v, st.Limit)
	}
	if v, ok := firstPresent(raw, CooldownKeys...); ok {
		st.Cooldown = ToCooldownSeconds(v, st.Cooldown)
	}
	if v, ok := firstPresent(raw, ResetAtKeys...); ok {
		if ms, ok := ParseResetAt(v); ok {
			st.ResetAt = &ms
		}
	}
	return st
}

// MergeUsage overlays the quota fields of a usage block (percent remaining and reset
// time) onto st. Cooldown is not part of a usage block and is kept.
func MergeUsage(st Status, usage map[string]any) Status {
	if v, ok := firstPresent(usage, LimitKeys...); ok {
		st.Limit = ClampPercent(v, st.Limit)
	}
	if v, ok := firstPresent(usage, ResetAtKeys...); ok {
		if ms, ok := ParseResetAt(v); ok {
			st.ResetAt = &ms
		}
	}
	return st
}
