// Package modelid canonicalizes and compares model identifiers that may or may not
// carry a provider prefix ("anthropic/claude-3" vs "claude-3").
package modelid

import "strings"

// Normalize trims the identifier. An empty result means "no model".
func Normalize(id string) string {
	return strings.TrimSpace(id)
}

// Suffix returns the part after the last "/" of the normalized id.
func Suffix(id string) string {
	id = Normalize(id)
	if i := strings.LastIndex(id, "/"); i >= 0 {
		return id[i+1:]
	}
	return id
}

// Provider returns the namespace before the last "/", or "" for bare ids.
func Provider(id string) string {
	id = Normalize(id)
	if i := strings.LastIndex(id, "/"); i >= 0 {
		return id[:i]
	}
	return ""
}

// Equivalent reports whether a and b name the same model: identical after trimming, or
// identical once provider prefixes are dropped. Empty ids are never equivalent.
func Equivalent(a, b string) bool {
	a, b = Normalize(a), Normalize(b)
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	sa, sb := Suffix(a), Suffix(b)
	return sa != "" && sa == sb
}

// FindMatch returns the candidate equivalent to target, preferring an exact match over
// the first equivalent one. It returns "" when nothing matches.
func FindMatch(candidates []string, target string) string {
	target = Normalize(target)
	if target == "" {
		return ""
	}
	for _, c := range candidates {
		if Normalize(c) == target {
			return Normalize(c)
		}
	}
	for _, c := range candidates {
		if Equivalent(c, target) {
			return Normalize(c)
		}
	}
	return ""
}

// Contains reports whether any of ids is equivalent to target.
func Contains(ids []string, target string) bool {
	return FindMatch(ids, target) != ""
}

// Dedupe keeps the first occurrence of each equivalence class, preserving order.
func Dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = Normalize(id)
		if id == "" || Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}
