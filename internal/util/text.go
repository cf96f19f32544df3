package util

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// typographic punctuation that phones and word processors substitute for ASCII
var punctuationReplacer = strings.NewReplacer(
	"\u2018", "'", "\u2019", "'", "\u201b", "'", "\u2032", "'",
	"\u201c", `"`, "\u201d", `"`,
	"\u2013", "-", "\u2014", "-",
)

// FoldMessage normalizes user input for matching: NFKC composition, ASCII
// apostrophes and quotes, lower case, and collapsed whitespace.
func FoldMessage(s string) string {
	s = norm.NFKC.String(s)
	s = punctuationReplacer.Replace(s)
	// a Caser is stateful, so one is built per call
	s = cases.Lower(language.Und).String(s)
	return strings.Join(strings.Fields(s), " ")
}

// IsBlank reports whether s contains only whitespace.
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// ContainsTerm reports whether term occurs in text. Terms of three characters or
// fewer must stand as whole words, so "sad" does not match "crusade".
func ContainsTerm(text, term string) bool {
	if utf8.RuneCountInString(term) > 3 {
		return strings.Contains(text, term)
	}
	for start := 0; start <= len(text)-len(term); {
		i := strings.Index(text[start:], term)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(term)
		if !wordRuneBefore(text, i) && !wordRuneAfter(text, end) {
			return true
		}
		start = i + 1
	}
	return false
}

func wordRuneBefore(s string, i int) bool {
	if i == 0 {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return isWordRune(r)
}

func wordRuneAfter(s string, i int) bool {
	if i >= len(s) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return isWordRune(r)
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
