package reference

import (
	"sort"
	"strings"

	"github.com/BTreeMap/Fernly/internal/models"
)

// SynonymIndex maps colloquial condition terms onto classifier intents.
type SynonymIndex struct {
	byIntent map[models.Intent][]termMatcher
	vocab    map[string][]models.Intent
}

func newSynonymIndex(disorders []Disorder) *SynonymIndex {
	idx := &SynonymIndex{
		byIntent: make(map[models.Intent][]termMatcher),
		vocab:    make(map[string][]models.Intent),
	}
	addVocab := func(word string, intent models.Intent) {
		word = strings.ToLower(strings.TrimSpace(word))
		if word == "" || strings.ContainsAny(word, " '") {
			return
		}
		for _, have := range idx.vocab[word] {
			if have == intent {
				return
			}
		}
		idx.vocab[word] = append(idx.vocab[word], intent)
	}
	for _, d := range disorders {
		if d.Intent == "" {
			continue
		}
		for _, s := range d.Synonyms {
			idx.byIntent[d.Intent] = append(idx.byIntent[d.Intent], newTermMatcher(s))
			addVocab(s, d.Intent)
		}
		for _, word := range strings.Fields(d.Name) {
			addVocab(word, d.Intent)
		}
	}
	return idx
}

// Match reports whether any synonym for intent occurs in the folded text.
func (s *SynonymIndex) Match(text string, intent models.Intent) bool {
	for _, m := range s.byIntent[intent] {
		if m.match(text) {
			return true
		}
	}
	return false
}

// Intents returns the intents that carry synonyms.
func (s *SynonymIndex) Intents() []models.Intent {
	out := make([]models.Intent, 0, len(s.byIntent))
	for intent := range s.byIntent {
		out = append(out, intent)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Vocabulary returns every single-word synonym and condition name word with the
// intents it points at. It feeds typo-tolerant matching.
func (s *SynonymIndex) Vocabulary() map[string][]models.Intent {
	return s.vocab
}

// Words returns the vocabulary keys in sorted order.
func (s *SynonymIndex) Words() []string {
	out := make([]string, 0, len(s.vocab))
	for w := range s.vocab {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}
