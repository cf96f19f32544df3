package conversation

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/Fernly/internal/models"
)

// stubRandom always returns the same draws.
type stubRandom struct {
	n int
	f float64
}

func (r stubRandom) IntN(int) int     { return r.n }
func (r stubRandom) Float64() float64 { return r.f }

var (
	always = stubRandom{n: 0, f: 0}
	never  = stubRandom{n: 0, f: 0.99}
)

func newTestState() *State {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return NewState(WithClock(func() time.Time { return now }))
}

func TestTurnLog(t *testing.T) {
	s := newTestState()
	s.AddUserTurn("hello")
	s.AddAssistantTurn("Hi there!", models.IntentGreeting, "r_1")
	s.AddUserTurn("I feel anxious")

	if len(s.Turns) != 3 || s.Turns[1].ResponseID != "r_1" || s.Turns[0].Timestamp.IsZero() {
		t.Fatalf("turns = %+v", s.Turns)
	}
	if got := s.RecentTurns(2); len(got) != 2 || got[0].Role != models.RoleAssistant {
		t.Errorf("RecentTurns(2) = %+v", got)
	}
	if got, ok := s.FindResponse("r_1"); !ok || got.Intent != models.IntentGreeting {
		t.Errorf("FindResponse = %+v, %v", got, ok)
	}
	if _, ok := s.FindResponse("missing"); ok {
		t.Error("FindResponse found a response that was never sent")
	}
}

func TestCountTopic(t *testing.T) {
	s := newTestState()
	s.CountTopic(models.IntentAnxiety)
	s.CountTopic(models.IntentAnxiety)
	s.CountTopic(models.IntentGeneral)
	s.CountTopic(models.IntentGreeting)
	if s.TopicCount(models.IntentAnxiety) != 2 {
		t.Errorf("anxiety count = %d", s.TopicCount(models.IntentAnxiety))
	}
	if len(s.TopicCounts) != 1 {
		t.Errorf("general or greeting counted: %+v", s.TopicCounts)
	}
}

func TestBeginTurnReplacesMultiIntents(t *testing.T) {
	s := newTestState()
	s.BeginTurn([]models.Intent{models.IntentDepression, models.IntentAnxiety})
	s.BeginTurn([]models.Intent{models.IntentSleep})
	if !reflect.DeepEqual(s.MultiIntents, []models.Intent{models.IntentSleep}) {
		t.Errorf("MultiIntents = %v", s.MultiIntents)
	}
}

func TestRememberTopicBounded(t *testing.T) {
	s := newTestState()
	if s.RememberTopic(models.IntentGreeting) || len(s.PreviousTopics) != 0 {
		t.Fatal("greeting remembered as a topic")
	}
	if s.RememberTopic(models.IntentAnxiety) {
		t.Error("first mention reported as recurring")
	}
	if !s.RememberTopic(models.IntentAnxiety) {
		t.Error("second mention not reported as recurring")
	}
	for _, intent := range models.AllIntents {
		s.RememberTopic(intent)
	}
	if len(s.PreviousTopics) != MaxPreviousTopics {
		t.Errorf("previous topics = %d, want %d", len(s.PreviousTopics), MaxPreviousTopics)
	}
	if s.PreviousTopics[0] == models.IntentAnxiety {
		t.Error("oldest topic not evicted")
	}
}

func TestTrackResponse(t *testing.T) {
	s := newTestState()
	s.ShortResponseCount = 2
	s.TrackResponse("Anxiety can be hard. What triggers it?", models.IntentAnxiety)
	if s.LastAIQuestion != "What triggers it?" {
		t.Errorf("LastAIQuestion = %q", s.LastAIQuestion)
	}
	if s.LastAIIntent != models.IntentAnxiety || s.LastTopicDiscussed != models.IntentAnxiety {
		t.Errorf("intent tracking = %s / %s", s.LastAIIntent, s.LastTopicDiscussed)
	}
	if s.ShortResponseCount != 0 {
		t.Error("a substantive question should reset the short-response streak")
	}

	s.ShortResponseCount = 2
	s.TrackResponse("Got it. What's on your mind?", models.IntentAcknowledgment)
	if s.ShortResponseCount != 2 {
		t.Error("acknowledgments must not reset the streak")
	}
	if s.LastTopicDiscussed != models.IntentAnxiety {
		t.Error("acknowledgment replaced the last discussed topic")
	}
}

func TestTrackShortResponse(t *testing.T) {
	s := newTestState()
	s.TrackShortResponse("ok")
	s.TrackShortResponse("  yes  ")
	if s.TrackShortResponse("sure") != 3 {
		t.Errorf("streak = %d", s.ShortResponseCount)
	}
	if s.TrackShortResponse("this is a much longer message") != 0 {
		t.Error("long message did not reset the streak")
	}
}

func TestAnalyzeSymptoms(t *testing.T) {
	s := newTestState()
	s.AnalyzeSymptoms("I'm so tired and I can’t sleep")
	s.AnalyzeSymptoms("I feel sad and tired")

	if got := s.DetectedSymptoms[models.IntentSleep]; !reflect.DeepEqual(got, []string{"can't sleep", "tired"}) {
		t.Errorf("sleep symptoms = %v", got)
	}
	if got := s.DetectedSymptoms[models.IntentDepression]; !reflect.DeepEqual(got, []string{"tired", "sad"}) {
		t.Errorf("depression symptoms = %v", got)
	}
	if got := s.SymptomConditions(); !reflect.DeepEqual(got, []models.Intent{models.IntentDepression, models.IntentSleep}) {
		t.Errorf("conditions = %v", got)
	}
}

func TestAnalyzeSymptomsShortPhrasesAreWholeWords(t *testing.T) {
	s := newTestState()
	s.AnalyzeSymptoms("on a crusade")
	if s.HasSymptoms(models.IntentDepression) {
		t.Error("\"sad\" matched inside another word")
	}
}

func TestAssessmentCandidate(t *testing.T) {
	s := newTestState()
	s.AnalyzeSymptoms("I'm worried")
	if _, ok := s.AssessmentCandidate(); ok {
		t.Fatal("one symptom should not trigger an assessment offer")
	}
	s.AnalyzeSymptoms("and nervous all the time")
	c, ok := s.AssessmentCandidate()
	if !ok || c != models.IntentAnxiety {
		t.Fatalf("AssessmentCandidate = %s, %v", c, ok)
	}
	s.AssessmentPrompted = true
	if _, ok := s.AssessmentCandidate(); ok {
		t.Error("assessment offered twice")
	}
}

func TestRecordCrisis(t *testing.T) {
	s := newTestState()
	s.Assessment.Start()
	s.Feedback = FeedbackState{Phase: FeedbackAwaiting, ResponseID: "r_1"}
	s.RecordCrisis()
	if !s.NeedsUrgentCare || s.Assessment.InProgress() || s.Feedback.Awaiting() {
		t.Errorf("state after crisis = %+v", s)
	}
}

func TestPersonalize(t *testing.T) {
	s := newTestState()
	for i := 0; i < 5; i++ {
		s.AddUserTurn("message")
		s.AddAssistantTurn("reply", models.IntentAnxiety, "")
	}
	s.AddUserTurn("anxious again")

	if got := s.Personalize(never, "Anxiety is hard.", models.IntentAnxiety); got != "Anxiety is hard." {
		t.Errorf("no-chance personalization changed the reply: %q", got)
	}
	got := s.Personalize(always, "Anxiety is hard.", models.IntentAnxiety)
	if !strings.HasPrefix(got, empathyPhrases[0]+continuityPhrases[0]) || !strings.HasSuffix(got, "anxiety is hard.") {
		t.Errorf("personalized reply = %q", got)
	}
}

func TestPersonalizeFirstMentionHasNoContinuity(t *testing.T) {
	s := newTestState()
	for i := 0; i < 4; i++ {
		s.AddUserTurn("message")
		s.AddAssistantTurn("reply", models.IntentGeneral, "")
	}
	got := s.Personalize(always, "Sleep matters.", models.IntentSleep)
	for _, p := range continuityPhrases {
		if strings.Contains(got, p) {
			t.Errorf("continuity phrase on first mention: %q", got)
		}
	}
}

func TestLowerFirst(t *testing.T) {
	tests := map[string]string{
		"Anxiety":    "anxiety",
		"I'm here":   "I'm here",
		"I hear you": "I hear you",
		"It's hard":  "it's hard",
		"🚨 Help":     "🚨 Help",
		"":           "",
	}
	for in, want := range tests {
		if got := lowerFirst(in); got != want {
			t.Errorf("lowerFirst(%q) = %q, want %q", in, got, want)
		}
	}
}
