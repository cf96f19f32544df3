// Package patterns holds the rule tables used to classify messages.
//
// Built-in rules are loaded once from an embedded YAML table and never change.
// Learned rules come from the learning document; their sources are compiled on
// first use and kept in a bounded LRU cache, and sources that fail to compile
// are remembered there too and skipped.
package patterns

import (
	_ "embed"
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"github.com/BTreeMap/Fernly/internal/models"
	"github.com/golang/groupcache/lru"
	"gopkg.in/yaml.v3"
)

// DefaultLearnedCacheSize bounds how many learned pattern sources stay compiled.
const DefaultLearnedCacheSize = 2048

//go:embed rules.yaml
var builtinRules []byte

// RuleKind distinguishes immutable built-in rules from user-taught ones.
type RuleKind int

const (
	RuleBuiltin RuleKind = iota
	RuleLearned
)

func (k RuleKind) String() string {
	if k == RuleLearned {
		return "learned"
	}
	return "builtin"
}

// Rule is a compiled pattern bound to an intent.
type Rule struct {
	Kind   RuleKind
	Intent models.Intent
	Source string
	// LearnedID links a learned rule back to its LearnedPattern.
	LearnedID string
	expr      *regexp.Regexp
}

// Match reports whether the rule matches the already case-folded text.
func (r Rule) Match(text string) bool {
	return r.expr != nil && r.expr.MatchString(text)
}

type ruleTable []struct {
	Intent   models.Intent `yaml:"intent"`
	Patterns []string      `yaml:"patterns"`
}

// learnedEntry is a cached compile result; exactly one field is set.
type learnedEntry struct {
	expr *regexp.Regexp
	err  error
}

// Registry exposes the built-in rules and a shared cache of compiled learned rules.
// It is safe for concurrent use.
type Registry struct {
	crisis  []Rule
	builtin map[models.Intent][]Rule
	order   []models.Intent

	mu        sync.Mutex
	learned   *lru.Cache
	discarded int
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLearnedCacheSize bounds the learned pattern cache. The least recently
// used source is recompiled when it is needed again.
func WithLearnedCacheSize(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.learned = lru.New(n)
		}
	}
}

// NewRegistry parses and compiles the embedded built-in rule table.
func NewRegistry(opts ...RegistryOption) (*Registry, error) {
	return newRegistry(builtinRules, opts...)
}

func newRegistry(data []byte, opts ...RegistryOption) (*Registry, error) {
	var table ruleTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse rule table: %w", err)
	}

	r := &Registry{
		builtin: make(map[models.Intent][]Rule),
		learned: lru.New(DefaultLearnedCacheSize),
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, entry := range table {
		if !entry.Intent.IsValid() {
			return nil, fmt.Errorf("rule table: %w: %q", models.ErrUnknownIntent, entry.Intent)
		}
		for _, src := range entry.Patterns {
			expr, err := compile(src)
			if err != nil {
				return nil, fmt.Errorf("rule table: intent %s: %w", entry.Intent, err)
			}
			rule := Rule{Kind: RuleBuiltin, Intent: entry.Intent, Source: src, expr: expr}
			if entry.Intent == models.IntentCrisis {
				r.crisis = append(r.crisis, rule)
				continue
			}
			if _, seen := r.builtin[entry.Intent]; !seen {
				r.order = append(r.order, entry.Intent)
			}
			r.builtin[entry.Intent] = append(r.builtin[entry.Intent], rule)
		}
	}
	if len(r.crisis) == 0 {
		return nil, fmt.Errorf("rule table has no crisis rules")
	}
	slog.Debug("Registry.NewRegistry: built-in rules compiled", "intents", len(r.order)+1, "crisis_rules", len(r.crisis))
	return r, nil
}

// MustNewRegistry is like NewRegistry but panics on error. The embedded table is
// covered by tests, so a failure means the binary was built from a broken tree.
func MustNewRegistry(opts ...RegistryOption) *Registry {
	r, err := NewRegistry(opts...)
	if err != nil {
		panic(err)
	}
	return r
}

func compile(src string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + src)
}

// Crisis returns the crisis rules, which are always evaluated first.
func (r *Registry) Crisis() []Rule {
	return r.crisis
}

// Intents returns the non-crisis intents that have built-in rules, in table order.
func (r *Registry) Intents() []models.Intent {
	return r.order
}

// Builtin returns the built-in rules for an intent.
func (r *Registry) Builtin(intent models.Intent) []Rule {
	return r.builtin[intent]
}

// Learned compiles the given learned patterns into rules, skipping sources that do
// not compile. Compiled results are cached across calls.
func (r *Registry) Learned(intent models.Intent, items []models.LearnedPattern) []Rule {
	rules := make([]Rule, 0, len(items))
	for _, p := range items {
		expr, err := r.compileLearned(p.Pattern)
		if err != nil {
			continue
		}
		rules = append(rules, Rule{Kind: RuleLearned, Intent: intent, Source: p.Pattern, LearnedID: p.ID, expr: expr})
	}
	return rules
}

// Validate reports whether a learned pattern source compiles.
func (r *Registry) Validate(src string) error {
	_, err := r.compileLearned(src)
	return err
}

func (r *Registry) compileLearned(src string) (*regexp.Regexp, error) {
	r.mu.Lock()
	cached, ok := r.learned.Get(src)
	r.mu.Unlock()
	if ok {
		entry := cached.(learnedEntry)
		return entry.expr, entry.err
	}

	expr, err := compile(src)
	entry := learnedEntry{expr: expr}
	if err != nil {
		entry = learnedEntry{err: fmt.Errorf("%w: %v", models.ErrMalformedPattern, err)}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, raced := r.learned.Get(src); !raced {
		r.learned.Add(src, entry)
		if err != nil {
			r.discarded++
			slog.Warn("Registry.Learned: skipping learned pattern that does not compile", "pattern", src, "error", err)
		}
	}
	return entry.expr, entry.err
}

// DiscardedCount returns how many learned pattern sources failed to compile.
// A source evicted from the cache and seen again counts again.
func (r *Registry) DiscardedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.discarded
}

// CachedCount returns how many learned pattern sources are currently cached.
func (r *Registry) CachedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.learned.Len()
}

// EscapeLiteral turns message text into a pattern that matches it literally.
func EscapeLiteral(text string) string {
	return regexp.QuoteMeta(text)
}
