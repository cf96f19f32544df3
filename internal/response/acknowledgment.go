package response

import (
	"regexp"
	"strings"

	"github.com/BTreeMap/Fernly/internal/conversation"
	"github.com/BTreeMap/Fernly/internal/models"
	"github.com/BTreeMap/Fernly/internal/util"
)

const disengagementStreak = 3

var (
	affirmativeExpr = regexp.MustCompile(`^(yes|yeah|yep|yup|sure|okay|ok|alright|right)$`)
	negativeExpr    = regexp.MustCompile(`^(no|nope|nah|not really|not now)$`)
	uncertainExpr   = regexp.MustCompile(`^(maybe|perhaps|i guess|sort of|kinda|not sure)$`)
	talkAboutExpr   = regexp.MustCompile(`(?i)talk about (\w+)`)
)

// acknowledge answers a bare "yes", "no", "maybe" or "ok" using what the
// assistant last asked about.
func (s *Selector) acknowledge(st *conversation.State, message string) Reply {
	text := strings.Trim(util.FoldMessage(message), ".!?, ")
	reply := Reply{Intent: models.IntentAcknowledgment, ResponseID: util.GenerateResponseID()}
	ack := s.set.Acknowledgment

	if st.TrackShortResponse(text) >= disengagementStreak {
		st.ShortResponseCount = 0
		reply.Text = s.disengaged(st)
		return reply
	}

	switch {
	case affirmativeExpr.MatchString(text):
		if st.LastAIIntent.IsTopic() {
			reply.Text = s.continueTopic(st, st.LastAIIntent)
			return reply
		}
		if q := st.LastAIQuestion; strings.Contains(q, "assessment") || strings.Contains(q, "wellness check") {
			reply.Text = st.Assessment.Start()
			reply.Intent = models.TagAssessment
			return reply
		}
		if m := talkAboutExpr.FindStringSubmatch(st.LastAIQuestion); m != nil {
			reply.Text = s.continueTopic(st, models.Intent(strings.ToLower(m[1])))
			return reply
		}
		if st.LastTopicDiscussed != "" {
			reply.Text = s.continueTopic(st, st.LastTopicDiscussed)
			return reply
		}
	case negativeExpr.MatchString(text):
		if st.LastAIIntent != "" && st.LastAIIntent != models.IntentGeneral {
			reply.Text = ack.NegativeRedirect
			return reply
		}
		if topics := st.RecentTopics(2); len(topics) > 0 {
			reply.Text = fill(ack.NegativeTopics, labels(topics, ack.ShortLabels))
			return reply
		}
		reply.Text = ack.NegativeOpen
		return reply
	case uncertainExpr.MatchString(text):
		if st.LastAIIntent != "" && st.LastAIIntent != models.IntentGeneral {
			reply.Text = ack.UncertainTopic
		} else {
			reply.Text = ack.UncertainOpen
		}
		return reply
	}

	reply.Text = util.Pick(s.rand, ack.Default)
	return reply
}

func (s *Selector) disengaged(st *conversation.State) string {
	ack := s.set.Acknowledgment
	if topics := st.RecentTopics(2); len(topics) > 0 {
		return fill(util.Pick(s.rand, ack.Disengaged), labels(topics, ack.TopicLabels))
	}
	if conditions := st.SymptomConditions(); len(conditions) > 0 {
		if len(conditions) > 2 {
			conditions = conditions[:2]
		}
		return fill(ack.DisengagedSymptoms, labels(conditions, ack.SymptomLabels))
	}
	return ack.DisengagedOpen
}

// continueTopic returns a topic-specific follow-on prompt and marks the topic as
// the one under discussion.
func (s *Selector) continueTopic(st *conversation.State, topic models.Intent) string {
	options := s.set.Continuations.Topics[topic]
	if len(options) == 0 {
		return s.set.Continuations.Fallback
	}
	st.ContinueTopic(topic)
	return util.Pick(s.rand, options)
}

func labels(intents []models.Intent, names map[models.Intent]string) []string {
	out := make([]string, len(intents))
	for i, intent := range intents {
		if name, ok := names[intent]; ok {
			out[i] = name
		} else {
			out[i] = string(intent)
		}
	}
	return out
}
