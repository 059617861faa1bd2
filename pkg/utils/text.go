// Package utils provides shared utilities for text, math, and logging.
package utils

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var markupTag = regexp.MustCompile(`<[^>]+>`)

// NormalizeText cleans corpus and query text the same way: markup tags become
// spaces, runs of whitespace collapse to a single space, and the result is
// trimmed. Everything else, Bengali script and punctuation included, is kept.
func NormalizeText(raw string) string {
	text := markupTag.ReplaceAllString(raw, " ")
	var b strings.Builder
	b.Grow(len(text))
	wasSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !wasSpace {
				b.WriteRune(' ')
				wasSpace = true
			}
			continue
		}
		b.WriteRune(r)
		wasSpace = false
	}
	return strings.TrimSpace(b.String())
}

// Truncate returns s truncated to maxLen characters, with "..." appended if truncated.
// If maxLen is 0 or negative, returns s unchanged. Multi-byte runes are never split.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen]) + "..."
}
