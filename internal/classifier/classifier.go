// Package classifier maps a user message onto one primary intent.
package classifier

import (
	"log/slog"
	"sort"

	"github.com/BTreeMap/Fernly/internal/fuzzy"
	"github.com/BTreeMap/Fernly/internal/models"
	"github.com/BTreeMap/Fernly/internal/patterns"
	"github.com/BTreeMap/Fernly/internal/reference"
	"github.com/BTreeMap/Fernly/internal/util"
)

// LearningSource supplies learned patterns and receives the side effects of
// classification. learning.Store satisfies it.
type LearningSource interface {
	LearnedPatterns() map[models.Intent][]models.LearnedPattern
	MarkPatternUsed(intent models.Intent, id string)
	RecordUnrecognized(message string)
}

// Result is the outcome of one classification.
type Result struct {
	Primary models.Intent
	// Candidates holds every detected intent in priority order, Primary first.
	Candidates []models.Intent
	// Typos lists the near-miss words that produced candidates, if any.
	Typos []fuzzy.Hit
	// Unrecognized is set when nothing matched and the message fell through to general.
	Unrecognized bool
}

// Secondary returns the detected intents other than the primary one.
func (r Result) Secondary() []models.Intent {
	if len(r.Candidates) <= 1 {
		return nil
	}
	return r.Candidates[1:]
}

// Classifier is immutable after construction and safe for concurrent use.
type Classifier struct {
	registry *patterns.Registry
	synonyms *reference.SynonymIndex
	typos    *fuzzy.Matcher
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithoutTypoMatching disables the edit-distance fallback.
func WithoutTypoMatching() Option {
	return func(c *Classifier) {
		c.typos = nil
	}
}

// New creates a Classifier over the given rule registry and synonym index.
func New(registry *patterns.Registry, synonyms *reference.SynonymIndex, opts ...Option) *Classifier {
	c := &Classifier{
		registry: registry,
		synonyms: synonyms,
		typos:    fuzzy.NewMatcher(synonyms.Words()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify returns the primary intent and every co-detected intent. Crisis rules
// are checked first and short-circuit everything else. src may be nil, in which
// case learned patterns are ignored and nothing is recorded.
func (c *Classifier) Classify(message string, src LearningSource) Result {
	text := util.FoldMessage(message)

	if c.matchCrisis(text) {
		return Result{Primary: models.IntentCrisis, Candidates: []models.Intent{models.IntentCrisis}}
	}

	detected := make(map[models.Intent]bool)
	var found []models.Intent
	add := func(intent models.Intent) {
		if !detected[intent] {
			detected[intent] = true
			found = append(found, intent)
		}
	}

	for _, intent := range c.registry.Intents() {
		for _, rule := range c.registry.Builtin(intent) {
			if rule.Match(text) {
				add(intent)
				break
			}
		}
		if !detected[intent] && c.synonyms.Match(text, intent) {
			add(intent)
		}
	}
	for _, intent := range c.synonyms.Intents() {
		if !detected[intent] && c.synonyms.Match(text, intent) {
			add(intent)
		}
	}

	if src != nil {
		learned := src.LearnedPatterns()
		for _, intent := range models.PriorityOrder {
			items := learned[intent]
			if len(items) == 0 {
				continue
			}
			for _, rule := range c.registry.Learned(intent, items) {
				if rule.Match(text) {
					add(intent)
					src.MarkPatternUsed(intent, rule.LearnedID)
					slog.Debug("Classifier.Classify: learned pattern matched", "intent", intent, "id", rule.LearnedID)
					break
				}
			}
		}
	}

	var hits []fuzzy.Hit
	if len(found) == 0 && c.typos != nil {
		vocab := c.synonyms.Vocabulary()
		for _, hit := range c.typos.MatchWords(text) {
			for _, intent := range vocab[hit.Term] {
				add(intent)
			}
			hits = append(hits, hit)
		}
		if len(hits) > 0 {
			slog.Debug("Classifier.Classify: matched through typo tolerance", "hits", len(hits))
		}
	}

	if len(found) == 0 {
		if src != nil {
			src.RecordUnrecognized(message)
		}
		return Result{Primary: models.IntentGeneral, Candidates: []models.Intent{models.IntentGeneral}, Unrecognized: true}
	}

	sort.SliceStable(found, func(i, j int) bool { return found[i].Rank() < found[j].Rank() })
	return Result{Primary: found[0], Candidates: found, Typos: hits}
}

// IsCrisis reports whether message matches any crisis rule. It is evaluated
// before every other kind of handling, including an assessment in progress.
func (c *Classifier) IsCrisis(message string) bool {
	return c.matchCrisis(util.FoldMessage(message))
}

func (c *Classifier) matchCrisis(text string) bool {
	for _, rule := range c.registry.Crisis() {
		if rule.Match(text) {
			slog.Debug("Classifier: crisis rule matched", "pattern", rule.Source)
			return true
		}
	}
	return false
}
