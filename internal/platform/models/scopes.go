package models

import (
	"encoding/json"
	"strings"
)

// WildcardScope matches any required scope.
const WildcardScope = "*"

// ParseScopes accepts the stored column in either form: a JSON array or a
// comma separated string. The result is normalized.
func ParseScopes(raw string) []string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "[") {
		var list []string
		if err := json.Unmarshal([]byte(raw), &list); err == nil {
			return NormalizeScopes(list)
		}
	}
	return NormalizeScopes(strings.Split(raw, ","))
}

// NormalizeScopes trims and de-duplicates scopes, preserving first-seen order.
// An empty result becomes the wildcard set so a key never has zero scopes.
func NormalizeScopes(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		return []string{WildcardScope}
	}
	return out
}
