// Package flow runs one conversational turn end to end: crisis screening,
// feedback and categorization replies, the wellness assessment, reference
// answers, and template or learned responses.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/BTreeMap/Fernly/internal/assessment"
	"github.com/BTreeMap/Fernly/internal/classifier"
	"github.com/BTreeMap/Fernly/internal/conversation"
	"github.com/BTreeMap/Fernly/internal/feedback"
	"github.com/BTreeMap/Fernly/internal/learning"
	"github.com/BTreeMap/Fernly/internal/models"
	"github.com/BTreeMap/Fernly/internal/patterns"
	"github.com/BTreeMap/Fernly/internal/reference"
	"github.com/BTreeMap/Fernly/internal/response"
	"github.com/BTreeMap/Fernly/internal/util"
)

// Turn is the outcome of one user message.
type Turn struct {
	Reply      string
	Intent     models.Intent
	Candidates []models.Intent
	ResponseID string
	// Status reports whether learning changes from this turn were persisted.
	Status learning.Status
}

// Engine answers user messages. It holds no per-conversation state and is safe
// for concurrent use across sessions.
type Engine struct {
	classifier *classifier.Classifier
	library    *reference.Library
	selector   *response.Selector
	feedback   *feedback.Coordinator
	rand       util.Random
	now        func() time.Time

	templates    *response.TemplateSet
	feedbackOpts []feedback.Option
	typos        bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithRandom sets the randomness source shared by every component. It is wrapped
// for concurrent use.
func WithRandom(r util.Random) Option {
	return func(e *Engine) {
		e.rand = util.NewLockedRandom(r)
	}
}

// WithClock sets the clock used for session activity.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithTemplates replaces the embedded response templates.
func WithTemplates(set *response.TemplateSet) Option {
	return func(e *Engine) {
		e.templates = set
	}
}

// WithFeedbackOptions passes options through to the feedback coordinator.
func WithFeedbackOptions(opts ...feedback.Option) Option {
	return func(e *Engine) {
		e.feedbackOpts = append(e.feedbackOpts, opts...)
	}
}

// WithoutTypoMatching disables edit-distance intent matching.
func WithoutTypoMatching() Option {
	return func(e *Engine) {
		e.typos = false
	}
}

// NewEngine loads the embedded rules, reference data and templates and wires
// the components together.
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		rand:  util.DefaultRandom(),
		now:   time.Now,
		typos: true,
	}
	for _, opt := range opts {
		opt(e)
	}

	registry, err := patterns.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to load intent rules: %w", err)
	}
	e.library, err = reference.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load reference data: %w", err)
	}
	if e.templates == nil {
		e.templates, err = response.LoadTemplates()
		if err != nil {
			return nil, fmt.Errorf("failed to load response templates: %w", err)
		}
	}

	var classifierOpts []classifier.Option
	if !e.typos {
		classifierOpts = append(classifierOpts, classifier.WithoutTypoMatching())
	}
	e.classifier = classifier.New(registry, e.library.Synonyms(), classifierOpts...)
	e.selector = response.NewSelector(e.templates, e.rand)
	e.feedback = feedback.NewCoordinator(append([]feedback.Option{feedback.WithRandom(e.rand)}, e.feedbackOpts...)...)

	slog.Debug("Engine: initialized", "disorders", len(e.library.Disorders()), "typoMatching", e.typos)
	return e, nil
}

// Classify exposes the classifier for diagnostics. Learned patterns from src are
// consulted when src is non-nil.
func (e *Engine) Classify(message string, src classifier.LearningSource) classifier.Result {
	return e.classifier.Classify(message, src)
}

// ValidateMessage rejects blank and oversized messages.
func ValidateMessage(message string) error {
	if util.IsBlank(message) {
		return models.ErrEmptyMessage
	}
	if n := utf8.RuneCountInString(message); n > models.MaxMessageLength {
		return fmt.Errorf("%w: %d characters", models.ErrMessageTooLong, n)
	}
	return nil
}

// Respond processes one user message for sess. Turns of the same session are
// serialized. Learning changes are saved before Respond returns; a failed save
// is reported in Turn.Status and never as an error.
func (e *Engine) Respond(ctx context.Context, sess *Session, message string) (Turn, error) {
	if err := ValidateMessage(message); err != nil {
		return Turn{}, err
	}
	message = strings.TrimSpace(message)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.lastActive = e.now()

	st := sess.State
	st.AddUserTurn(message)

	var t Turn
	switch {
	case e.classifier.IsCrisis(message):
		st.QuestionCount++
		t = e.crisisTurn(st)
	case st.Feedback.Awaiting():
		t = e.feedbackTurn(st, sess.Learning, message)
	case feedback.IsCategorization(message):
		t = e.categorizationTurn(sess.Learning, message)
	case st.Assessment.InProgress():
		st.QuestionCount++
		t = e.assessmentTurn(st, message)
	default:
		st.QuestionCount++
		t = e.conversationTurn(st, sess.Learning, message)
	}

	st.AddAssistantTurn(t.Reply, t.Intent, t.ResponseID)
	t.Status = sess.Learning.Flush(ctx)
	slog.Debug("Engine.Respond: turn complete", "session", sess.ID, "intent", t.Intent, "responseID", t.ResponseID, "questionCount", st.QuestionCount, "status", t.Status)
	return t, nil
}

// crisisTurn answers with crisis resources. It abandons any assessment or
// feedback exchange and never carries a prompt.
func (e *Engine) crisisTurn(st *conversation.State) Turn {
	slog.Info("Engine.Respond: crisis detected")
	st.RecordCrisis()
	st.BeginTurn([]models.Intent{models.IntentCrisis})
	reply := e.selector.Select(models.IntentCrisis, st, "", nil)
	st.CountTopic(models.IntentCrisis)
	st.RememberTopic(models.IntentCrisis)
	st.TrackResponse(reply.Text, models.IntentCrisis)
	return Turn{
		Reply:      reply.Text,
		Intent:     models.IntentCrisis,
		Candidates: []models.Intent{models.IntentCrisis},
		ResponseID: reply.ResponseID,
	}
}

func (e *Engine) feedbackTurn(st *conversation.State, learner feedback.Learner, message string) Turn {
	text, outcome := e.feedback.Handle(st, learner, message)
	slog.Debug("Engine.Respond: feedback handled", "outcome", outcome)
	st.TrackResponse(text, models.TagFeedback)
	return Turn{Reply: text, Intent: models.TagFeedback}
}

func (e *Engine) categorizationTurn(learner feedback.Learner, message string) Turn {
	text, err := e.feedback.Categorize(learner, message)
	if err != nil {
		slog.Debug("Engine.Respond: categorization rejected", "error", err)
	}
	return Turn{Reply: text, Intent: models.TagCategorization}
}

func (e *Engine) assessmentTurn(st *conversation.State, message string) Turn {
	text, result := st.Assessment.Answer(message)
	if result != nil {
		slog.Info("Engine.Respond: assessment completed", "score", result.Score, "band", result.Band.Name)
	}
	st.TrackResponse(text, models.TagAssessment)
	return Turn{Reply: text, Intent: models.TagAssessment}
}

func (e *Engine) conversationTurn(st *conversation.State, store *learning.Store, message string) Turn {
	res := e.classifier.Classify(message, store)
	st.BeginTurn(res.Candidates)
	if len(res.Typos) > 0 {
		slog.Debug("Engine.Respond: classified through typo tolerance", "primary", res.Primary, "typos", len(res.Typos))
	}

	if t, ok := e.referenceAnswer(st, message); ok {
		t.Candidates = res.Candidates
		t.Reply += e.feedback.MaybePrompt(st, t.ResponseID)
		return t
	}

	if assessment.IsRequest(message) {
		text := st.Assessment.Start()
		st.TrackResponse(text, models.TagAssessment)
		return Turn{Reply: text, Intent: models.TagAssessment, Candidates: res.Candidates}
	}

	st.AnalyzeSymptoms(message)
	if condition, ok := st.AssessmentCandidate(); ok {
		st.AssessmentPrompted = true
		text := "Would you like to do a quick wellness assessment to check in on how you're feeling?"
		if q := e.library.TherapyQuestion(e.rand, condition); q != "" {
			text = q + " Would you like to do a quick wellness assessment?"
		}
		st.TrackResponse(text, models.TagAssessmentOffer)
		slog.Debug("Engine.Respond: offering assessment", "condition", condition)
		return Turn{Reply: text, Intent: models.TagAssessmentOffer, Candidates: res.Candidates, ResponseID: util.GenerateResponseID()}
	}

	reply := e.selector.Select(res.Primary, st, message, store.LearnedResponses(res.Primary))
	t := Turn{Intent: reply.Intent, Candidates: res.Candidates, ResponseID: reply.ResponseID}
	if reply.Intent == models.TagAssessment {
		// An affirmative answer to an assessment offer started the questions.
		st.TrackResponse(reply.Text, reply.Intent)
		t.Reply = reply.Text
		return t
	}

	st.CountTopic(reply.Intent)
	body := st.Personalize(e.rand, reply.Text, reply.Intent)
	st.TrackResponse(body, reply.Intent)
	t.Reply = body + e.feedback.MaybePrompt(st, reply.ResponseID) + e.feedback.LearningPrompt(store)
	return t
}

// referenceAnswer answers questions about a named condition, medication or
// service from the reference catalogue.
func (e *Engine) referenceAnswer(st *conversation.State, message string) (Turn, bool) {
	if asksForInformation(message) {
		if d, ok := e.library.DisorderFor(message); ok {
			text := d.QuickInfo()
			st.TrackResponse(text, models.TagDisorderInfo)
			return Turn{Reply: text, Intent: models.TagDisorderInfo, ResponseID: util.GenerateResponseID()}, true
		}
	}
	if med, ok := e.library.MedicationFor(message); ok {
		text := med.Card()
		st.TrackResponse(text, models.IntentMedication)
		return Turn{Reply: text, Intent: models.IntentMedication, ResponseID: util.GenerateResponseID()}, true
	}
	if svc, walkthrough, ok := e.library.ServiceFor(message); ok {
		text := svc.DefinitionText()
		if walkthrough {
			text = svc.WalkthroughText()
		}
		st.TrackResponse(text, models.TagServiceInfo)
		return Turn{Reply: text, Intent: models.TagServiceInfo, ResponseID: util.GenerateResponseID()}, true
	}
	return Turn{}, false
}

// informationCues mark a request for facts about a condition rather than a
// description of how the user feels.
var informationCues = []string{
	"what is", "what's", "what are", "tell me about", "symptoms of",
	"information", "info on", "learn about", "define", "explain",
}

func asksForInformation(message string) bool {
	text := util.FoldMessage(message)
	for _, cue := range informationCues {
		if strings.Contains(text, cue) {
			return true
		}
	}
	return false
}
