// Package conversation tracks the state of one live conversation: the turn log,
// topic counts, detected symptoms, what the assistant last asked, and the
// assessment and feedback progress.
package conversation

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/BTreeMap/Fernly/internal/assessment"
	"github.com/BTreeMap/Fernly/internal/models"
	"github.com/BTreeMap/Fernly/internal/util"
)

const (
	// MaxPreviousTopics bounds the previous-topics list; the oldest entry is dropped.
	MaxPreviousTopics = 10
	// ShortResponseLength is the longest reply counted toward the short-response streak.
	ShortResponseLength = 10
)

// FeedbackPhase is where the feedback exchange stands.
type FeedbackPhase int

const (
	// FeedbackIdle means no feedback is expected.
	FeedbackIdle FeedbackPhase = iota
	// FeedbackAwaiting means a helpfulness prompt was shown.
	FeedbackAwaiting
	// FeedbackAwaitingSuggestion means the user said a response was not helpful
	// and a better response is expected next.
	FeedbackAwaitingSuggestion
)

// FeedbackState remembers which response a pending feedback answer refers to.
type FeedbackState struct {
	Phase      FeedbackPhase
	ResponseID string
}

// Awaiting reports whether the next user turn is feedback.
func (f FeedbackState) Awaiting() bool {
	return f.Phase != FeedbackIdle && f.ResponseID != ""
}

// State is the mutable state of one conversation. It is not safe for concurrent
// use; callers serialize turns.
type State struct {
	Turns         []models.ConversationTurn
	QuestionCount int
	TopicCounts   map[models.Intent]int

	// DetectedSymptoms maps a condition to the symptom phrases seen so far.
	// symptomOrder keeps the conditions in first-detected order.
	DetectedSymptoms map[models.Intent][]string
	symptomOrder     []models.Intent

	LastAIQuestion     string
	LastAIIntent       models.Intent
	LastTopicDiscussed models.Intent
	ShortResponseCount int
	PreviousTopics     []models.Intent

	NeedsUrgentCare    bool
	AssessmentPrompted bool
	Assessment         assessment.Session
	Feedback           FeedbackState

	// MultiIntents holds this turn's detected intents; cleared every turn.
	MultiIntents []models.Intent

	now func() time.Time
}

// Option configures a State.
type Option func(*State)

// WithClock sets the clock used to stamp turns.
func WithClock(now func() time.Time) Option {
	return func(s *State) {
		s.now = now
	}
}

// NewState returns an empty conversation.
func NewState(opts ...Option) *State {
	s := &State{
		TopicCounts:      make(map[models.Intent]int),
		DetectedSymptoms: make(map[models.Intent][]string),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddUserTurn appends a user message to the log.
func (s *State) AddUserTurn(text string) {
	s.Turns = append(s.Turns, models.ConversationTurn{
		Role:      models.RoleUser,
		Text:      text,
		Timestamp: s.now().UTC(),
	})
}

// AddAssistantTurn appends an assistant reply to the log.
func (s *State) AddAssistantTurn(text string, intent models.Intent, responseID string) {
	s.Turns = append(s.Turns, models.ConversationTurn{
		Role:       models.RoleAssistant,
		Text:       text,
		Timestamp:  s.now().UTC(),
		Intent:     intent,
		ResponseID: responseID,
	})
}

// RecentTurns returns up to the last n turns.
func (s *State) RecentTurns(n int) []models.ConversationTurn {
	if n >= len(s.Turns) {
		return s.Turns
	}
	return s.Turns[len(s.Turns)-n:]
}

// FindResponse returns the assistant turn that carried responseID.
func (s *State) FindResponse(responseID string) (models.ConversationTurn, bool) {
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if s.Turns[i].Role == models.RoleAssistant && s.Turns[i].ResponseID == responseID {
			return s.Turns[i], true
		}
	}
	return models.ConversationTurn{}, false
}

// BeginTurn records the intents detected for the current message, replacing
// those of the previous turn.
func (s *State) BeginTurn(candidates []models.Intent) {
	s.MultiIntents = append(s.MultiIntents[:0], candidates...)
}

// CountTopic bumps the occurrence count for intent. General chatter and greetings
// are not counted.
func (s *State) CountTopic(intent models.Intent) {
	if intent == models.IntentGeneral || intent == models.IntentGreeting {
		return
	}
	s.TopicCounts[intent]++
}

// TopicCount returns how often intent has come up before.
func (s *State) TopicCount(intent models.Intent) int {
	return s.TopicCounts[intent]
}

// RememberTopic adds intent to the previous-topics list if it is a real topic and
// not already there. It reports whether the topic was already known.
func (s *State) RememberTopic(intent models.Intent) bool {
	switch intent {
	case "", models.IntentGeneral, models.IntentGreeting, models.IntentAcknowledgment, models.IntentClarification:
		return false
	}
	for _, t := range s.PreviousTopics {
		if t == intent {
			return true
		}
	}
	s.PreviousTopics = append(s.PreviousTopics, intent)
	if len(s.PreviousTopics) > MaxPreviousTopics {
		s.PreviousTopics = s.PreviousTopics[1:]
	}
	return false
}

// RecentTopics returns up to the last n previous topics.
func (s *State) RecentTopics(n int) []models.Intent {
	if n >= len(s.PreviousTopics) {
		return s.PreviousTopics
	}
	return s.PreviousTopics[len(s.PreviousTopics)-n:]
}

// DiscussedRecently reports whether intent is among the last n previous topics.
func (s *State) DiscussedRecently(intent models.Intent, n int) bool {
	for _, t := range s.RecentTopics(n) {
		if t == intent {
			return true
		}
	}
	return false
}

// TrackShortResponse updates the short-response streak with the latest user
// message and returns the new streak length.
func (s *State) TrackShortResponse(message string) int {
	if utf8.RuneCountInString(strings.TrimSpace(message)) <= ShortResponseLength {
		s.ShortResponseCount++
	} else {
		s.ShortResponseCount = 0
	}
	return s.ShortResponseCount
}

var questionExpr = regexp.MustCompile(`[^.!]*\?[^.!]*`)

// TrackResponse records what the assistant just said: the last question in the
// text, the intent it answered, and the mental-health topic under discussion. A
// substantive question resets the short-response streak; acknowledgments do not.
func (s *State) TrackResponse(text string, intent models.Intent) {
	questions := questionExpr.FindAllString(text, -1)
	if len(questions) > 0 {
		s.LastAIQuestion = strings.TrimSpace(questions[len(questions)-1])
	}
	s.LastAIIntent = intent
	if intent.IsTopic() {
		s.LastTopicDiscussed = intent
	}
	if len(questions) > 0 && intent != models.IntentAcknowledgment {
		s.ShortResponseCount = 0
	}
}

// ContinueTopic marks topic as the subject the assistant is now pursuing.
func (s *State) ContinueTopic(topic models.Intent) {
	s.LastTopicDiscussed = topic
	s.LastAIIntent = topic
}

// RecordCrisis flags the conversation as needing urgent care and abandons any
// assessment or feedback exchange in progress.
func (s *State) RecordCrisis() {
	s.NeedsUrgentCare = true
	s.Assessment.Reset()
	s.Feedback = FeedbackState{}
}

var symptomPhrases = []struct {
	condition models.Intent
	phrases   []string
}{
	{models.IntentDepression, []string{"sad", "depressed", "hopeless", "worthless", "empty", "numb", "tired", "fatigue"}},
	{models.IntentAnxiety, []string{"anxious", "worried", "nervous", "panic", "fear", "restless", "racing thoughts"}},
	{models.IntentPTSD, []string{"trauma", "flashback", "nightmare", "triggered", "hypervigilant"}},
	{models.IntentADHD, []string{"can't focus", "distracted", "fidgeting", "impulsive", "disorganized"}},
	{models.IntentBipolar, []string{"manic", "mood swings", "elevated mood", "grandiose"}},
	{models.IntentOCD, []string{"obsessive", "compulsive", "rituals", "checking", "intrusive thoughts", "contamination"}},
	{models.IntentSleep, []string{"insomnia", "can't sleep", "nightmares", "tired", "exhausted", "sleep problems"}},
}

// AnalyzeSymptoms adds any symptom phrases in message to DetectedSymptoms.
func (s *State) AnalyzeSymptoms(message string) {
	text := util.FoldMessage(message)
	for _, entry := range symptomPhrases {
		for _, phrase := range entry.phrases {
			if util.ContainsTerm(text, phrase) {
				s.addSymptom(entry.condition, phrase)
			}
		}
	}
}

func (s *State) addSymptom(condition models.Intent, phrase string) {
	have, seen := s.DetectedSymptoms[condition]
	for _, p := range have {
		if p == phrase {
			return
		}
	}
	if !seen {
		s.symptomOrder = append(s.symptomOrder, condition)
	}
	s.DetectedSymptoms[condition] = append(have, phrase)
}

// SymptomConditions returns the conditions with at least one detected symptom,
// in the order they were first detected.
func (s *State) SymptomConditions() []models.Intent {
	var out []models.Intent
	for _, c := range s.symptomOrder {
		if len(s.DetectedSymptoms[c]) > 0 {
			out = append(out, c)
		}
	}
	return out
}

// HasSymptoms reports whether any symptom of condition has been detected.
func (s *State) HasSymptoms(condition models.Intent) bool {
	return len(s.DetectedSymptoms[condition]) > 0
}

// AssessmentCandidate returns the first condition with two or more detected
// symptoms, if an assessment has not yet been offered or started.
func (s *State) AssessmentCandidate() (models.Intent, bool) {
	if s.Assessment.InProgress() || s.AssessmentPrompted {
		return "", false
	}
	for _, c := range s.symptomOrder {
		if len(s.DetectedSymptoms[c]) >= 2 {
			return c, true
		}
	}
	return "", false
}
