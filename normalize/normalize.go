// Package normalize canonicalizes usernames and display names into lookup keys.
package normalize

import "strings"

// Username canonicalizes a raw username: surrounding whitespace is trimmed,
// any run of leading '@' markers is stripped, and the result is lowercased.
// Returns "" for empty input. Idempotent.
func Username(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "@")
	return strings.ToLower(s)
}

// DisplayName canonicalizes a raw display name: trimmed and lowercased.
// Returns "" for empty input. Idempotent.
func DisplayName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Set builds a normalized string set from a raw list, dropping entries that
// normalize to the empty string.
func Set(values []string, fn func(string) string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		if n := fn(v); n != "" {
			set[n] = true
		}
	}
	return set
}
