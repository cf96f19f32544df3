// Package feedback asks for helpfulness ratings, turns "not helpful" answers into
// requests for a better response, and lets users categorize messages the
// classifier did not understand.
package feedback

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/BTreeMap/Fernly/internal/conversation"
	"github.com/BTreeMap/Fernly/internal/models"
	"github.com/BTreeMap/Fernly/internal/util"
)

const (
	// DefaultInterval is how many user turns pass between feedback prompts.
	DefaultInterval = 20
	// DefaultWindow is how many recent turns are checked for an earlier prompt.
	DefaultWindow = 6
	// DefaultLearningChance is the per-turn probability of a categorization prompt.
	DefaultLearningChance = 0.1
)

// PromptMarker appears in every helpfulness prompt.
const PromptMarker = "Was this response helpful?"

// Learner is the part of the learning store the coordinator writes to.
// learning.Store satisfies it.
type Learner interface {
	RecordFeedback(responseID string, positive bool)
	TouchFeedbackDate()
	AddLearnedResponse(intent models.Intent, text, originalResponseID string) models.LearnedResponse
	PendingUnrecognized() (models.UnrecognizedMessage, bool)
	Categorize(intent models.Intent) (models.LearnedPattern, string, bool)
}

// Coordinator decides when to ask for feedback and interprets the answers.
type Coordinator struct {
	interval       int
	window         int
	learningChance float64
	rand           util.Random
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithInterval sets how many user turns pass between feedback prompts.
func WithInterval(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.interval = n
		}
	}
}

// WithWindow sets how many recent turns are checked for an earlier prompt.
func WithWindow(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.window = n
		}
	}
}

// WithLearningChance sets the probability of a categorization prompt per turn.
func WithLearningChance(p float64) Option {
	return func(c *Coordinator) {
		c.learningChance = p
	}
}

// WithRandom sets the randomness source.
func WithRandom(r util.Random) Option {
	return func(c *Coordinator) {
		c.rand = r
	}
}

// NewCoordinator creates a Coordinator with the default cadence.
func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		interval:       DefaultInterval,
		window:         DefaultWindow,
		learningChance: DefaultLearningChance,
		rand:           util.DefaultRandom(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaybePrompt returns a helpfulness prompt to append to the response identified
// by responseID, or "" when it is not time to ask. Asking puts the conversation
// into the awaiting-feedback phase.
func (c *Coordinator) MaybePrompt(st *conversation.State, responseID string) string {
	if responseID == "" || st.QuestionCount == 0 || st.QuestionCount%c.interval != 0 {
		return ""
	}
	for _, t := range st.RecentTurns(c.window) {
		if strings.Contains(t.Text, PromptMarker) {
			return ""
		}
	}
	st.Feedback = conversation.FeedbackState{Phase: conversation.FeedbackAwaiting, ResponseID: responseID}
	slog.Debug("Coordinator.MaybePrompt: asking for feedback", "responseID", responseID, "questionCount", st.QuestionCount)
	return `

<div class="feedback-prompt">
<strong>` + PromptMarker + `</strong> Reply "yes" or "no".
<small>Your feedback is incredibly valuable - it helps me learn how to provide better support for you and others. Thank you for taking the time to help me improve!</small>
</div>`
}

var (
	negativeFeedback = regexp.MustCompile(`not helpful|unhelpful|\b(no|nope|bad|not really)\b|👎`)
	positiveFeedback = regexp.MustCompile(`helpful|\b(yes|yeah|yep|good|great)\b|👍`)
)

var positiveReplies = []string{
	"Thank you so much! I'm really glad that was helpful. Your positive feedback means a lot and helps me understand what works well for you. I'll remember this approach for future conversations.",
	"I truly appreciate you letting me know that helped! Your feedback is invaluable for my learning process. It's wonderful to know I'm providing the kind of support that feels meaningful to you.",
	"That's wonderful to hear, and thank you for taking the time to tell me! When you confirm that something was helpful, it reinforces my understanding of what resonates with you. I'm grateful for your guidance.",
	"Thank you for that feedback! It really helps me learn what kind of responses feel most supportive. Your willingness to guide my learning process is so appreciated - it makes me a better assistant for you and others.",
}

var improvementReplies = []string{
	"Thank you for that honest feedback - I really appreciate you taking the time to help me improve. Your willingness to tell me when something doesn't land right is so valuable for my learning. Could you help me understand what would have been more helpful instead?",
	"I'm genuinely grateful that you're comfortable giving me constructive feedback. This kind of input is exactly what helps me grow and provide better support. What kind of response would have felt more helpful or supportive to you?",
	"Thank you for being honest about that. Your feedback, even when it's about something that didn't work, is incredibly precious to me - it's how I learn to do better. Would you be willing to share what might have been more helpful in that moment?",
}

const improvementPrompt = `

<div class="improvement-prompt">
<strong>Help me learn better:</strong> What would have been a more helpful response?
<small>I'm genuinely excited to learn from your guidance - your suggestions make me better at supporting you and others who might have similar experiences.</small>
</div>`

// Outcome describes what a feedback turn did.
type Outcome int

const (
	OutcomePositive Outcome = iota
	OutcomeNegative
	OutcomeNeutral
	OutcomeLearned
	OutcomeDiscarded
)

// Handle interprets message as the answer to a pending feedback prompt. Negative
// answers are checked first so "not helpful" is not read as "helpful".
func (c *Coordinator) Handle(st *conversation.State, learner Learner, message string) (string, Outcome) {
	fb := st.Feedback
	if fb.Phase == conversation.FeedbackAwaitingSuggestion {
		return c.handleSuggestion(st, learner, message)
	}
	st.Feedback = conversation.FeedbackState{}

	text := util.FoldMessage(message)
	switch {
	case negativeFeedback.MatchString(text):
		learner.RecordFeedback(fb.ResponseID, false)
		st.Feedback = conversation.FeedbackState{Phase: conversation.FeedbackAwaitingSuggestion, ResponseID: fb.ResponseID}
		slog.Debug("Coordinator.Handle: negative feedback", "responseID", fb.ResponseID)
		return util.Pick(c.rand, improvementReplies) + improvementPrompt, OutcomeNegative
	case positiveFeedback.MatchString(text):
		learner.RecordFeedback(fb.ResponseID, true)
		slog.Debug("Coordinator.Handle: positive feedback", "responseID", fb.ResponseID)
		return util.Pick(c.rand, positiveReplies), OutcomePositive
	default:
		learner.TouchFeedbackDate()
		return "Thank you for taking the time to give feedback! I really appreciate any input you share - it all helps me learn and improve. Your engagement in this process means a lot.", OutcomeNeutral
	}
}

func (c *Coordinator) handleSuggestion(st *conversation.State, learner Learner, suggestion string) (string, Outcome) {
	responseID := st.Feedback.ResponseID
	st.Feedback = conversation.FeedbackState{}

	suggestion = strings.TrimSpace(suggestion)
	if utf8.RuneCountInString(suggestion) < models.MinSuggestionLength {
		slog.Debug("Coordinator.Handle: suggestion too short", "length", len(suggestion))
		return "Thank you for trying to help me improve. I'll keep learning from our conversations.", OutcomeDiscarded
	}
	original, ok := st.FindResponse(responseID)
	if !ok || !original.Intent.IsValid() {
		return "Thank you for the suggestion. I'll keep improving based on your feedback.", OutcomeDiscarded
	}
	learner.AddLearnedResponse(original.Intent, suggestion, responseID)
	return fmt.Sprintf("Thank you! I've learned from your suggestion and will use similar responses for %s topics in the future. Your input helps me provide better support.", original.Intent), OutcomeLearned
}

// LearningPrompt occasionally asks the user to categorize a message that was not
// understood. It returns "" most of the time.
func (c *Coordinator) LearningPrompt(learner Learner) string {
	pending, ok := learner.PendingUnrecognized()
	if !ok || !util.Chance(c.rand, c.learningChance) {
		return ""
	}
	return fmt.Sprintf(`

<div class="learning-prompt">
<strong>Help me learn:</strong> I didn't fully understand this message: "%s"
<strong>Is this about:</strong> anxiety, depression, PTSD, ADHD, bipolar, OCD, sleep, medication, or something else?
<small>Type "Category: [topic]" to help me learn. This helps me understand similar messages better.</small>
</div>`, pending.Message)
}

var categorizationExpr = regexp.MustCompile(`(?i)^\s*(category|intent)\s*:`)

// IsCategorization reports whether message is a "category: <label>" reply.
func IsCategorization(message string) bool {
	return categorizationExpr.MatchString(message)
}

// Categorize applies a "category: <label>" reply to the oldest message awaiting
// categorization. Invalid labels change nothing.
func (c *Coordinator) Categorize(learner Learner, message string) (string, error) {
	_, label, found := strings.Cut(message, ":")
	if !found {
		return "I didn't understand the categorization. Please use the format 'Category: [topic]' like 'Category: anxiety'.", models.ErrInvalidCategory
	}
	intent, err := models.ParseCategory(label)
	if err != nil {
		return fmt.Sprintf("I don't recognize %q as a category. Please use one of: %s.", strings.TrimSpace(label), models.CategoryLabelList()), err
	}
	_, learnedFrom, ok := learner.Categorize(intent)
	if !ok {
		return "Thank you! I don't have any messages waiting for categorization right now.", nil
	}
	return fmt.Sprintf("Perfect! I've learned that %q relates to %s. I'll recognize similar messages better in the future. Thank you for helping me improve!", learnedFrom, intent), nil
}
