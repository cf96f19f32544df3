// Package fuzzy tolerates typos when matching message words against a known vocabulary.
//
// Candidates are ranked with sahilm/fuzzy (subsequence matching, which catches
// dropped letters cheaply) and every candidate is confirmed by edit distance.
// Words that are not a subsequence of any term fall back to a full edit-distance scan.
package fuzzy

import (
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"
)

// MinWordLength is the shortest message word considered for typo matching.
const MinWordLength = 5

// MaxDistance returns the largest edit distance tolerated for a word of the given length.
func MaxDistance(word string) int {
	n := len([]rune(word))
	switch {
	case n < MinWordLength:
		return 0
	case n < 8:
		return 1
	default:
		return 2
	}
}

// Levenshtein returns the edit distance between a and b, counted in runes.
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// Hit is a vocabulary term a message word was matched to.
type Hit struct {
	Word     string
	Term     string
	Distance int
}

// Matcher finds vocabulary terms within typo distance of message words.
// It is immutable after construction and safe for concurrent use.
type Matcher struct {
	terms []string
	set   map[string]bool
}

// NewMatcher builds a matcher over single-word terms. Multi-word and short terms
// are ignored; duplicates are collapsed.
func NewMatcher(terms []string) *Matcher {
	seen := make(map[string]bool)
	var kept []string
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if strings.ContainsAny(t, " \t") || len([]rune(t)) < MinWordLength || seen[t] {
			continue
		}
		seen[t] = true
		kept = append(kept, t)
	}
	sort.Strings(kept)
	return &Matcher{terms: kept, set: seen}
}

// Terms returns the vocabulary the matcher was built with.
func (m *Matcher) Terms() []string {
	return m.terms
}

// Closest returns the nearest term to word within MaxDistance. Exact matches are
// not reported; those belong to ordinary keyword matching.
func (m *Matcher) Closest(word string) (Hit, bool) {
	word = strings.ToLower(word)
	limit := MaxDistance(word)
	if limit == 0 || m.set[word] {
		return Hit{}, false
	}

	best := Hit{Distance: limit + 1}
	consider := func(term string) {
		if d := Levenshtein(word, term); d < best.Distance {
			best = Hit{Word: word, Term: term, Distance: d}
		}
	}

	for _, match := range fuzzy.Find(word, m.terms) {
		consider(match.Str)
	}
	if best.Term == "" {
		for _, term := range m.terms {
			consider(term)
		}
	}
	if best.Term == "" {
		return Hit{}, false
	}
	return best, true
}

// MatchWords returns a hit for every word of text that is a near miss of a term.
func (m *Matcher) MatchWords(text string) []Hit {
	var hits []Hit
	for _, word := range strings.FieldsFunc(text, isSeparator) {
		if hit, ok := m.Closest(word); ok {
			hits = append(hits, hit)
		}
	}
	return hits
}

func isSeparator(r rune) bool {
	switch r {
	case ' ', '\t', '\n', ',', '.', '!', '?', ';', ':', '"', '(', ')':
		return true
	}
	return false
}
