package response

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/BTreeMap/Fernly/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var builtinTemplates []byte

// TemplateKind tells the three template shapes apart.
type TemplateKind int

const (
	TemplateSingle TemplateKind = iota
	TemplateList
	TemplateStructured
)

// Template is the built-in reply text for one intent.
type Template struct {
	Kind       TemplateKind
	Single     string
	List       []string
	Initial    []string
	FollowUp   []string
	Contextual map[string][]string
	Resources  []string
}

// UnmarshalYAML accepts a scalar, a sequence, or an initial/followUp mapping.
func (t *Template) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		t.Kind = TemplateSingle
		return node.Decode(&t.Single)
	case yaml.SequenceNode:
		t.Kind = TemplateList
		return node.Decode(&t.List)
	case yaml.MappingNode:
		var raw struct {
			Initial    []string            `yaml:"initial"`
			FollowUp   []string            `yaml:"followUp"`
			Contextual map[string][]string `yaml:"contextual"`
			Resources  []string            `yaml:"resources"`
		}
		if err := node.Decode(&raw); err != nil {
			return err
		}
		*t = Template{
			Kind:       TemplateStructured,
			Initial:    raw.Initial,
			FollowUp:   raw.FollowUp,
			Contextual: raw.Contextual,
			Resources:  raw.Resources,
		}
		return nil
	default:
		return fmt.Errorf("line %d: template must be a string, list or mapping", node.Line)
	}
}

// AcknowledgmentText holds the replies of the acknowledgment sub-flow.
type AcknowledgmentText struct {
	Disengaged         []string                 `yaml:"disengaged"`
	DisengagedSymptoms string                   `yaml:"disengagedSymptoms"`
	DisengagedOpen     string                   `yaml:"disengagedOpen"`
	NegativeRedirect   string                   `yaml:"negativeRedirect"`
	NegativeTopics     string                   `yaml:"negativeTopics"`
	NegativeOpen       string                   `yaml:"negativeOpen"`
	UncertainTopic     string                   `yaml:"uncertainTopic"`
	UncertainOpen      string                   `yaml:"uncertainOpen"`
	Default            []string                 `yaml:"default"`
	TopicLabels        map[models.Intent]string `yaml:"topicLabels"`
	SymptomLabels      map[models.Intent]string `yaml:"symptomLabels"`
	ShortLabels        map[models.Intent]string `yaml:"shortLabels"`
}

// Continuations are the follow-on prompts used when the user agrees to keep
// talking about a topic.
type Continuations struct {
	Fallback string                     `yaml:"fallback"`
	Topics   map[models.Intent][]string `yaml:"topics"`
}

// TemplateSet is all built-in reply text.
type TemplateSet struct {
	Templates      map[models.Intent]Template `yaml:"templates"`
	General        []string                   `yaml:"general"`
	Fallback       string                     `yaml:"fallback"`
	MultiIntent    string                     `yaml:"multiIntent"`
	Acknowledgment AcknowledgmentText         `yaml:"acknowledgment"`
	Continuations  Continuations              `yaml:"continuations"`
}

// LoadTemplates parses the embedded template set.
func LoadTemplates() (*TemplateSet, error) {
	return ParseTemplates(builtinTemplates)
}

// MustLoadTemplates is LoadTemplates for package initialization and tests.
func MustLoadTemplates() *TemplateSet {
	set, err := LoadTemplates()
	if err != nil {
		panic(err)
	}
	return set
}

// ParseTemplates parses a template set and checks that every intent it names exists.
func ParseTemplates(data []byte) (*TemplateSet, error) {
	var set TemplateSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	for intent := range set.Templates {
		if !intent.IsValid() {
			return nil, fmt.Errorf("template for %w: %q", models.ErrUnknownIntent, intent)
		}
	}
	if len(set.General) == 0 {
		return nil, fmt.Errorf("templates: general responses are required")
	}
	if set.Fallback == "" {
		return nil, fmt.Errorf("templates: fallback response is required")
	}
	return &set, nil
}

// fill replaces the {topics} placeholder.
func fill(text string, topics []string) string {
	return strings.ReplaceAll(text, "{topics}", strings.Join(topics, " and "))
}
