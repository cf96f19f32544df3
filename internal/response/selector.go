// Package response chooses the reply text for a classified intent: a proven
// learned response when one exists, otherwise a built-in template, followed by
// the contextual additions each intent calls for.
package response

import (
	"log/slog"
	"sort"

	"github.com/BTreeMap/Fernly/internal/conversation"
	"github.com/BTreeMap/Fernly/internal/models"
	"github.com/BTreeMap/Fernly/internal/util"
)

const (
	recentTopicWindow = 3
	maxSecondaryNamed = 2
)

// Reply is a selected response.
type Reply struct {
	Text       string
	ResponseID string
	// Intent is the tag recorded for the reply. It differs from the requested
	// intent only when an acknowledgment started the assessment.
	Intent models.Intent
	// Learned is set when a learned response was used verbatim.
	Learned bool
}

// Selector picks replies. It is safe for concurrent use when its Random is.
type Selector struct {
	set  *TemplateSet
	rand util.Random
}

// NewSelector creates a Selector over the given template set.
func NewSelector(set *TemplateSet, r util.Random) *Selector {
	if r == nil {
		r = util.DefaultRandom()
	}
	return &Selector{set: set, rand: r}
}

// Templates returns the template set the selector draws from.
func (s *Selector) Templates() *TemplateSet { return s.set }

// Select returns the reply for intent given the conversation so far and the
// learned responses stored for intent.
func (s *Selector) Select(intent models.Intent, st *conversation.State, message string, learned []models.LearnedResponse) Reply {
	if intent == models.IntentAcknowledgment {
		return s.acknowledge(st, message)
	}

	reply := Reply{Intent: intent}
	if best, ok := BestLearned(learned); ok {
		slog.Debug("Selector.Select: using learned response", "intent", intent, "id", best.ID, "ratio", best.HelpfulRatio())
		reply.Text = best.Text
		reply.ResponseID = best.ID
		reply.Learned = true
	} else {
		reply.Text = s.fromTemplate(intent, st)
		reply.ResponseID = util.GenerateResponseID()
	}

	tmpl, hasTemplate := s.set.Templates[intent]
	if intent == models.IntentServices && hasTemplate && len(tmpl.Contextual) > 0 {
		if snippet := s.servicesSnippet(tmpl, st); snippet != "" {
			reply.Text += "\n\n" + snippet
		}
	}
	if intent == models.IntentAddiction && hasTemplate && len(tmpl.Resources) > 0 {
		reply.Text += "\n\n" + util.Pick(s.rand, tmpl.Resources)
	}
	reply.Text += s.multiIntentSuffix(intent, st)
	return reply
}

// BestLearned returns the high-quality learned response with the best helpful
// ratio. Ties keep the stored order.
func BestLearned(learned []models.LearnedResponse) (models.LearnedResponse, bool) {
	var good []models.LearnedResponse
	for _, r := range learned {
		if r.HighQuality() {
			good = append(good, r)
		}
	}
	if len(good) == 0 {
		return models.LearnedResponse{}, false
	}
	sort.SliceStable(good, func(i, j int) bool {
		return good[i].HelpfulRatio() > good[j].HelpfulRatio()
	})
	return good[0], true
}

func (s *Selector) fromTemplate(intent models.Intent, st *conversation.State) string {
	tmpl, ok := s.set.Templates[intent]
	if !ok {
		return s.General()
	}
	switch tmpl.Kind {
	case TemplateSingle:
		return tmpl.Single
	case TemplateList:
		if len(tmpl.List) == 0 {
			return s.set.Fallback
		}
		return util.Pick(s.rand, tmpl.List)
	default:
		if st.TopicCount(intent) == 0 && len(tmpl.Initial) > 0 {
			return util.Pick(s.rand, tmpl.Initial)
		}
		if len(tmpl.FollowUp) > 0 {
			return util.Pick(s.rand, tmpl.FollowUp)
		}
		if len(tmpl.Initial) > 0 {
			return tmpl.Initial[0]
		}
		return s.set.Fallback
	}
}

// General returns one of the general supportive replies.
func (s *Selector) General() string {
	return util.Pick(s.rand, s.set.General)
}

func (s *Selector) servicesSnippet(tmpl Template, st *conversation.State) string {
	var key string
	switch {
	case st.DiscussedRecently(models.IntentAddiction, recentTopicWindow) || st.HasSymptoms(models.IntentAddiction):
		key = "addiction"
	case st.DiscussedRecently(models.IntentCrisis, recentTopicWindow) || st.NeedsUrgentCare:
		key = "crisis"
	default:
		key = "general"
	}
	return util.Pick(s.rand, tmpl.Contextual[key])
}

func (s *Selector) multiIntentSuffix(intent models.Intent, st *conversation.State) string {
	if len(st.MultiIntents) <= 1 {
		return ""
	}
	var others []string
	for _, i := range st.MultiIntents {
		if i != intent && len(others) < maxSecondaryNamed {
			others = append(others, string(i))
		}
	}
	if len(others) == 0 {
		return ""
	}
	return fill(s.set.MultiIntent, others)
}
