package change

import (
	"strings"
	"unicode"
)

func foldRune(r rune) rune {
	if unicode.IsSpace(r) {
		return ' '
	}
	return unicode.ToLower(r)
}

// CollapseSpace trims s and replaces every run of whitespace with a single
// space. Builders apply it before computing Original.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Slice returns the runes [start, end) of s, clamped to its bounds.
func Slice(s string, start, end int) string {
	if start < 0 {
		start = 0
	}
	if end <= start {
		return ""
	}
	from, to := -1, len(s)
	n := 0
	for pos := range s {
		if n == start {
			from = pos
		}
		if n == end {
			to = pos
			break
		}
		n++
	}
	if from < 0 {
		return ""
	}
	return s[from:to]
}
