package config

import (
	"sort"
	"strings"
)

// Entry is one leaf of the config tree, addressed by a dot key such as
// "routing.primary_model".
type Entry struct {
	Key    string
	Value  any
	Secret bool
}

// IsSecret reports whether the dot key holds a credential.
func IsSecret(key string) bool {
	return key == "gateway.token"
}

// Redact hides all but the last four characters of a secret string.
func Redact(v any) any {
	s, ok := v.(string)
	if !ok || s == "" {
		return v
	}
	if len(s) > 4 {
		s = s[len(s)-4:]
	}
	return "***" + s
}

// entries walks m depth first in key order and appends one Entry per leaf.
// Empty sections contribute nothing.
func entries(prefix string, m map[string]any, out []Entry) []Entry {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}
		if section, ok := m[name].(map[string]any); ok {
			out = entries(key, section, out)
			continue
		}
		out = append(out, Entry{Key: key, Value: m[name], Secret: IsSecret(key)})
	}
	return out
}

// lookup returns the leaf stored under a dot key. Sections are not leaves.
func lookup(m map[string]any, key string) (any, bool) {
	var cur any = m
	for _, part := range strings.Split(key, ".") {
		section, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = section[part]; !ok {
			return nil, false
		}
	}
	if _, ok := cur.(map[string]any); ok {
		return nil, false
	}
	return cur, true
}

// assign stores v under a dot key, creating sections on the way and replacing
// any scalar that sits where a section is needed.
func assign(m map[string]any, key string, v any) {
	parts := strings.Split(key, ".")
	cur := m
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}
