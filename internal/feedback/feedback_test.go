package feedback

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/BTreeMap/Fernly/internal/conversation"
	"github.com/BTreeMap/Fernly/internal/learning"
	"github.com/BTreeMap/Fernly/internal/models"
)

type fixedRandom struct{ f float64 }

func (fixedRandom) IntN(int) int       { return 0 }
func (r fixedRandom) Float64() float64 { return r.f }

func newLearner(t *testing.T) *learning.Store {
	t.Helper()
	s, status := learning.Open(context.Background(), nil, "test-session")
	if !status.OK() {
		t.Fatalf("Open: %v", status)
	}
	return s
}

func awaitingState(intent models.Intent, responseID string) *conversation.State {
	st := conversation.NewState()
	st.AddUserTurn("I keep worrying")
	st.AddAssistantTurn("Some reply. "+PromptMarker, intent, responseID)
	st.Feedback = conversation.FeedbackState{Phase: conversation.FeedbackAwaiting, ResponseID: responseID}
	return st
}

func TestMaybePromptCadence(t *testing.T) {
	c := NewCoordinator(WithRandom(fixedRandom{}))
	st := conversation.NewState()

	st.QuestionCount = 19
	if got := c.MaybePrompt(st, "r_1"); got != "" {
		t.Fatalf("prompted at question 19: %q", got)
	}
	st.QuestionCount = 20
	got := c.MaybePrompt(st, "r_1")
	if !strings.Contains(got, PromptMarker) {
		t.Fatalf("no prompt at question 20: %q", got)
	}
	if !st.Feedback.Awaiting() || st.Feedback.ResponseID != "r_1" {
		t.Errorf("feedback state = %+v", st.Feedback)
	}
}

func TestMaybePromptSkipsWhenRecentlyAsked(t *testing.T) {
	c := NewCoordinator(WithInterval(2))
	st := conversation.NewState()
	st.AddAssistantTurn("Earlier reply."+PromptMarker, models.IntentAnxiety, "r_0")
	st.AddUserTurn("yes")
	st.QuestionCount = 2
	if got := c.MaybePrompt(st, "r_1"); got != "" {
		t.Errorf("prompted twice within the window: %q", got)
	}
	if st.Feedback.Awaiting() {
		t.Error("feedback state changed without a prompt")
	}
}

func TestHandlePositive(t *testing.T) {
	c := NewCoordinator(WithRandom(fixedRandom{}))
	learner := newLearner(t)
	st := awaitingState(models.IntentAnxiety, "r_1")

	reply, outcome := c.Handle(st, learner, "Yes, that was helpful")
	if outcome != OutcomePositive || reply != positiveReplies[0] {
		t.Fatalf("Handle = %q, %v", reply, outcome)
	}
	if st.Feedback.Phase != conversation.FeedbackIdle {
		t.Error("feedback phase not cleared")
	}
	if m := learner.Snapshot().ResponseMetrics["r_1"]; m.HelpfulCount != 1 || m.NotHelpfulCount != 0 {
		t.Errorf("metric = %+v", m)
	}
}

func TestHandleNotHelpfulIsNegative(t *testing.T) {
	c := NewCoordinator(WithRandom(fixedRandom{}))
	learner := newLearner(t)
	st := awaitingState(models.IntentAnxiety, "r_1")

	_, outcome := c.Handle(st, learner, "That was not helpful")
	if outcome != OutcomeNegative {
		t.Fatalf("outcome = %v, want negative", outcome)
	}
	if st.Feedback.Phase != conversation.FeedbackAwaitingSuggestion {
		t.Errorf("phase = %v, want awaiting suggestion", st.Feedback.Phase)
	}
	if m := learner.Snapshot().ResponseMetrics["r_1"]; m.NotHelpfulCount != 1 || m.HelpfulCount != 0 {
		t.Errorf("metric = %+v", m)
	}
}

func TestHandleNeutral(t *testing.T) {
	c := NewCoordinator(WithRandom(fixedRandom{}))
	learner := newLearner(t)
	st := awaitingState(models.IntentAnxiety, "r_1")

	_, outcome := c.Handle(st, learner, "it made me think")
	if outcome != OutcomeNeutral {
		t.Fatalf("outcome = %v, want neutral", outcome)
	}
	doc := learner.Snapshot()
	if len(doc.ResponseMetrics) != 0 || doc.UserProfile.LastFeedbackDate == nil {
		t.Errorf("neutral feedback should only touch the feedback date: %+v", doc.UserProfile)
	}
}

func TestFeedbackRoundTripLearnsOneResponse(t *testing.T) {
	c := NewCoordinator(WithRandom(fixedRandom{}))
	learner := newLearner(t)
	st := awaitingState(models.IntentAnxiety, "r_1")

	if _, outcome := c.Handle(st, learner, "no"); outcome != OutcomeNegative {
		t.Fatalf("outcome = %v", outcome)
	}
	suggestion := "Try asking me what usually helps me calm down."
	reply, outcome := c.Handle(st, learner, suggestion)
	if outcome != OutcomeLearned {
		t.Fatalf("outcome = %v (%q)", outcome, reply)
	}
	if !strings.Contains(reply, "anxiety topics") {
		t.Errorf("reply = %q", reply)
	}
	learned := learner.LearnedResponses(models.IntentAnxiety)
	if len(learned) != 1 {
		t.Fatalf("learned responses = %d, want 1", len(learned))
	}
	if r := learned[0]; r.Text != suggestion || r.HelpfulCount != 1 || r.NotHelpfulCount != 0 || r.OriginalResponseID != "r_1" {
		t.Errorf("learned = %+v", r)
	}
	if st.Feedback.Phase != conversation.FeedbackIdle {
		t.Error("phase not cleared after suggestion")
	}
}

func TestSuggestionDiscarded(t *testing.T) {
	tests := []struct {
		name       string
		intent     models.Intent
		suggestion string
		want       string
	}{
		{"too short", models.IntentAnxiety, "be nicer", "Thank you for trying to help me improve."},
		{"not a classifier intent", models.TagDisorderInfo, "Tell me more about the symptoms first.", "Thank you for the suggestion."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCoordinator(WithRandom(fixedRandom{}))
			learner := newLearner(t)
			st := awaitingState(tt.intent, "r_1")
			st.Feedback.Phase = conversation.FeedbackAwaitingSuggestion

			reply, outcome := c.Handle(st, learner, tt.suggestion)
			if outcome != OutcomeDiscarded || !strings.HasPrefix(reply, tt.want) {
				t.Errorf("Handle = %q, %v", reply, outcome)
			}
			if n := learner.Summary().Responses; n != 0 {
				t.Errorf("stored %d learned responses", n)
			}
		})
	}
}

func TestLearningPrompt(t *testing.T) {
	learner := newLearner(t)
	if got := NewCoordinator(WithRandom(fixedRandom{0})).LearningPrompt(learner); got != "" {
		t.Errorf("prompted with nothing pending: %q", got)
	}
	learner.RecordUnrecognized("butterflies all day long")
	if got := NewCoordinator(WithRandom(fixedRandom{0.5})).LearningPrompt(learner); got != "" {
		t.Errorf("prompted on a failed roll: %q", got)
	}
	got := NewCoordinator(WithRandom(fixedRandom{0.05})).LearningPrompt(learner)
	if !strings.Contains(got, `"butterflies all day long"`) || !strings.Contains(got, "Category: [topic]") {
		t.Errorf("prompt = %q", got)
	}
}

func TestIsCategorization(t *testing.T) {
	for msg, want := range map[string]bool{
		"Category: anxiety": true,
		"  intent:sleep":    true,
		"my category is x":  false,
		"anxiety":           false,
	} {
		if got := IsCategorization(msg); got != want {
			t.Errorf("IsCategorization(%q) = %v", msg, got)
		}
	}
}

func TestCategorizeRoundTrip(t *testing.T) {
	c := NewCoordinator()
	learner := newLearner(t)

	reply, err := c.Categorize(learner, "Category: sleep")
	if err != nil || !strings.Contains(reply, "don't have any messages waiting") {
		t.Fatalf("Categorize with nothing pending = %q, %v", reply, err)
	}

	learner.RecordUnrecognized("my brain won't switch off")
	reply, err = c.Categorize(learner, "Category: Anxiety")
	if err != nil {
		t.Fatalf("Categorize: %v", err)
	}
	if !strings.Contains(reply, `"my brain won't switch off" relates to anxiety`) {
		t.Errorf("reply = %q", reply)
	}
	if got := learner.LearnedPatterns()[models.IntentAnxiety]; len(got) != 1 {
		t.Errorf("learned patterns = %+v", got)
	}
	if _, ok := learner.PendingUnrecognized(); ok {
		t.Error("message still pending after categorization")
	}
}

func TestCategorizeRejectsUnknownLabel(t *testing.T) {
	c := NewCoordinator()
	learner := newLearner(t)
	learner.RecordUnrecognized("my brain won't switch off")

	reply, err := c.Categorize(learner, "category: hunger")
	if !errors.Is(err, models.ErrInvalidCategory) {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(reply, `"hunger"`) || !strings.Contains(reply, models.CategoryLabelList()) {
		t.Errorf("reply = %q", reply)
	}
	if _, ok := learner.PendingUnrecognized(); !ok {
		t.Error("invalid label must leave the message pending")
	}
}
