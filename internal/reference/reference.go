// Package reference provides read-only lookups over the embedded condition,
// medication and service catalogues.
package reference

import (
	"embed"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/BTreeMap/Fernly/internal/models"
	"github.com/BTreeMap/Fernly/internal/util"
	"gopkg.in/yaml.v3"
)

//go:embed data/*.yaml
var dataFS embed.FS

// Resource is an external link attached to a disorder.
type Resource struct {
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
}

// Disorder describes a condition for quick-info answers.
type Disorder struct {
	Key         string        `yaml:"key" json:"key"`
	Name        string        `yaml:"name" json:"name"`
	Intent      models.Intent `yaml:"intent" json:"intent,omitempty"`
	Description string        `yaml:"description" json:"description"`
	Treatment   string        `yaml:"treatment" json:"treatment,omitempty"`
	Symptoms    []string      `yaml:"symptoms" json:"symptoms"`
	Synonyms    []string      `yaml:"synonyms" json:"synonyms,omitempty"`
	Resources   []Resource    `yaml:"resources" json:"resources"`
}

// Medication is an educational medication card.
type Medication struct {
	Key               string   `yaml:"key" json:"key"`
	Name              string   `yaml:"name" json:"name"`
	Type              string   `yaml:"type" json:"type"`
	CommonUses        []string `yaml:"commonUses" json:"commonUses"`
	CommonSideEffects []string `yaml:"commonSideEffects" json:"commonSideEffects"`
	ImportantNotes    string   `yaml:"importantNotes" json:"importantNotes"`
	Warning           string   `yaml:"warning" json:"warning"`
}

// Service is a level of care with an optional step-by-step walkthrough.
type Service struct {
	Key         string   `yaml:"key" json:"key"`
	Name        string   `yaml:"name" json:"name"`
	Terms       []string `yaml:"terms" json:"terms"`
	Definition  string   `yaml:"definition" json:"definition"`
	Walkthrough []string `yaml:"walkthrough" json:"walkthrough,omitempty"`
}

// Library is the loaded catalogue. It is immutable and safe for concurrent use.
type Library struct {
	disorders   []Disorder
	medications []Medication
	services    []Service
	therapy     map[string][]string
	synonyms    *SynonymIndex

	disorderSynonyms [][]termMatcher
	serviceTerms     [][]termMatcher
}

// Load parses the embedded catalogue.
func Load() (*Library, error) {
	lib := &Library{}
	if err := decode("data/disorders.yaml", &lib.disorders); err != nil {
		return nil, err
	}
	if err := decode("data/medications.yaml", &lib.medications); err != nil {
		return nil, err
	}
	if err := decode("data/services.yaml", &lib.services); err != nil {
		return nil, err
	}
	if err := decode("data/therapy.yaml", &lib.therapy); err != nil {
		return nil, err
	}

	for i, d := range lib.disorders {
		if d.Intent != "" && !d.Intent.IsValid() {
			return nil, fmt.Errorf("disorder %q: %w: %q", d.Key, models.ErrUnknownIntent, d.Intent)
		}
		if len(d.Resources) == 0 {
			return nil, fmt.Errorf("disorder %q has no resources", d.Key)
		}
		matchers := make([]termMatcher, 0, len(d.Synonyms))
		for _, s := range d.Synonyms {
			matchers = append(matchers, newTermMatcher(s))
		}
		lib.disorderSynonyms = append(lib.disorderSynonyms, matchers)
		lib.disorders[i].Name = strings.TrimSpace(d.Name)
	}
	for _, s := range lib.services {
		matchers := make([]termMatcher, 0, len(s.Terms))
		for _, t := range s.Terms {
			matchers = append(matchers, newTermMatcher(t))
		}
		lib.serviceTerms = append(lib.serviceTerms, matchers)
	}
	lib.synonyms = newSynonymIndex(lib.disorders)

	slog.Debug("reference.Load: catalogue loaded",
		"disorders", len(lib.disorders),
		"medications", len(lib.medications),
		"services", len(lib.services))
	return lib, nil
}

// MustLoad is like Load but panics on error.
func MustLoad() *Library {
	lib, err := Load()
	if err != nil {
		panic(err)
	}
	return lib
}

func decode(name string, out interface{}) error {
	data, err := dataFS.ReadFile(name)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return nil
}

// termMatcher matches a catalogue term inside folded text. Terms of three
// characters or fewer only match whole words, so "op" does not fire on "stop".
type termMatcher struct {
	term string
	expr *regexp.Regexp
}

func newTermMatcher(term string) termMatcher {
	term = strings.ToLower(strings.TrimSpace(term))
	m := termMatcher{term: term}
	if len([]rune(term)) <= 3 {
		m.expr = regexp.MustCompile(`\b` + regexp.QuoteMeta(term) + `\b`)
	}
	return m
}

func (m termMatcher) match(text string) bool {
	if m.expr != nil {
		return m.expr.MatchString(text)
	}
	return strings.Contains(text, m.term)
}

// Synonyms returns the synonym index derived from the disorder catalogue.
func (l *Library) Synonyms() *SynonymIndex {
	return l.synonyms
}

// Disorders returns every catalogued disorder.
func (l *Library) Disorders() []Disorder {
	return l.disorders
}

// DisorderFor finds the disorder a message refers to: synonyms first, then the
// full disorder name, then the catalogue key.
func (l *Library) DisorderFor(message string) (*Disorder, bool) {
	text := util.FoldMessage(message)
	for i, matchers := range l.disorderSynonyms {
		for _, m := range matchers {
			if m.match(text) {
				return &l.disorders[i], true
			}
		}
	}
	for i, d := range l.disorders {
		if d.Name != "" && strings.Contains(text, strings.ToLower(d.Name)) {
			return &l.disorders[i], true
		}
	}
	for i, d := range l.disorders {
		if strings.Contains(text, strings.ReplaceAll(d.Key, "-", " ")) {
			return &l.disorders[i], true
		}
	}
	return nil, false
}

// MedicationFor finds a medication named in the message by brand key, full name,
// generic name or any name word longer than three letters.
func (l *Library) MedicationFor(message string) (*Medication, bool) {
	text := util.FoldMessage(message)
	for i, med := range l.medications {
		name := strings.ToLower(med.Name)
		if strings.Contains(text, med.Key) || strings.Contains(text, name) {
			return &l.medications[i], true
		}
		for _, word := range strings.FieldsFunc(name, func(r rune) bool {
			return r == ' ' || r == '(' || r == ')' || r == '/'
		}) {
			if len(word) > 3 && strings.Contains(text, word) {
				return &l.medications[i], true
			}
		}
	}
	return nil, false
}

// walkthroughCues mark a request for the step-by-step version of a service.
var walkthroughCues = []string{
	"walk me through", "how does", "what happens in", "what to expect",
	"step by step", "process", "procedure", "what's it like", "typical day",
}

// ServiceFor finds a service named in the message. The second result reports
// whether the message asked for a walkthrough and one is available.
func (l *Library) ServiceFor(message string) (svc *Service, walkthrough bool, ok bool) {
	text := util.FoldMessage(message)
	wantsWalkthrough := false
	for _, cue := range walkthroughCues {
		if strings.Contains(text, cue) {
			wantsWalkthrough = true
			break
		}
	}
	for i, matchers := range l.serviceTerms {
		for _, m := range matchers {
			if m.match(text) {
				s := &l.services[i]
				return s, wantsWalkthrough && len(s.Walkthrough) > 0, true
			}
		}
	}
	return nil, false, false
}

// TherapyQuestion picks a diagnostic follow-up question for a condition, falling
// back to the general set.
func (l *Library) TherapyQuestion(r util.Random, condition models.Intent) string {
	questions, ok := l.therapy[string(condition)]
	if !ok {
		questions = l.therapy["general"]
	}
	return util.Pick(r, questions)
}
