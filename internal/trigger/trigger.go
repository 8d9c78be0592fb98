// Package trigger extracts decision narratives from free-form comment text.
//
// A narrative is captured when the text starts with "@blackbox" or
// "/blackbox" (case-insensitive, leading whitespace allowed) followed by
// whitespace. Detection runs against a newline-flattened copy of the text so
// a trigger split across the first line still matches, but extraction always
// indexes into the original string so internal newlines survive.
package trigger

import (
	"regexp"
	"strings"
)

var (
	// detectRe runs against the flattened copy: trigger at start, then at
	// least one whitespace character, then a non-empty remainder.
	detectRe = regexp.MustCompile(`(?i)^[@/]blackbox\s+(\S.*)$`)

	// extractRe runs against the original text. (?s) lets the capture span
	// newlines so the narrative keeps its internal structure.
	extractRe = regexp.MustCompile(`(?is)^\s*[@/]blackbox\s+(.*)$`)
)

// Extract returns the decision narrative embedded in text, if any.
//
// The second return value is false when no trigger prefix is present; that
// case is a no-op for callers, not an error. Minimum-length gating is the
// caller's concern.
func Extract(text string) (string, bool) {
	flattened := strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	m := detectRe.FindStringSubmatch(flattened)
	if m == nil {
		return "", false
	}

	// Strip the prefix from the original text so newlines are preserved.
	if om := extractRe.FindStringSubmatch(text); om != nil {
		return strings.TrimSpace(om[1]), true
	}

	// Detection succeeded but the original-string match did not (e.g. the
	// trigger word was broken by a newline). Use the flattened capture.
	return strings.TrimSpace(m[1]), true
}
