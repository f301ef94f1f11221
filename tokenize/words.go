package tokenize

import (
	"strings"
	"unicode"
)

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}

// Words splits s into maximal runs of letters, digits and combining marks.
func Words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return !isWordRune(r) })
}

// Segments splits s into alternating word and separator runs. Every rune
// belongs to exactly one segment, so strings.Join(Segments(s), "") == s.
func Segments(s string) []string {
	var out []string
	start := 0
	inWord := false
	for i, r := range s {
		w := isWordRune(r)
		if i > start && w != inWord {
			out = append(out, s[start:i])
			start = i
		}
		inWord = w
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

// Shingles returns the k-grams of words joined by a single space. A text
// with fewer than k words yields one shingle holding all of them; an empty
// text yields none.
func Shingles(words []string, k int) []string {
	if k < 1 {
		k = 1
	}
	if len(words) == 0 {
		return nil
	}
	if len(words) <= k {
		return []string{strings.Join(words, " ")}
	}
	out := make([]string, 0, len(words)-k+1)
	for i := 0; i+k <= len(words); i++ {
		out = append(out, strings.Join(words[i:i+k], " "))
	}
	return out
}
