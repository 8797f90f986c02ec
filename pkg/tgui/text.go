package tgui

import (
	"strings"
	"unicode/utf8"
)

// Preview returns a single-line preview of s: at most n runes followed by
// "..." when s is longer, with newlines turned into spaces.
func Preview(s string, n int) string {
	s = truncWith(s, n, "...")
	s = strings.ReplaceAll(s, "\r\n", " ")
	return strings.ReplaceAll(s, "\n", " ")
}

func truncWith(s string, n int, ellipsis string) string {
	if n <= 0 {
		return ""
	}
	// Single pass: remember the byte index after the n-th rune and cut as
	// soon as an (n+1)-th rune shows up.
	count := 0
	cut := 0
	for i, r := range s {
		count++
		if count == n {
			cut = i + utf8.RuneLen(r)
			continue
		}
		if count > n {
			if cut <= 0 {
				cut = i
			}
			return s[:cut] + ellipsis
		}
	}
	return s
}
