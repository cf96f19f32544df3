// Package assessment runs the five-question wellness check and scores it.
package assessment

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/BTreeMap/Fernly/internal/util"
)

// QuestionCount is the number of screening questions.
const QuestionCount = 5

// MaxScore is the highest possible total.
const MaxScore = 3 * QuestionCount

var questions = [QuestionCount]string{
	"Over the past two weeks, how often have you felt down, depressed, or hopeless?",
	"Over the past two weeks, how often have you had little interest or pleasure in doing things?",
	"Over the past two weeks, how often have you felt nervous, anxious, or on edge?",
	"Over the past two weeks, how often have you had trouble falling asleep, staying asleep, or sleeping too much?",
	"Over the past two weeks, how often have you had trouble concentrating on things?",
}

const scaleHint = "Please respond with: Never, Several days, More than half the days, or Nearly every day"

// Band is a severity range with its fixed guidance text.
type Band struct {
	Name           string
	MaxScore       int
	Interpretation string
	Recommendation string
}

// Bands are ordered by MaxScore; a score falls into the first band it does not exceed.
var Bands = []Band{
	{
		Name:           "minimal",
		MaxScore:       4,
		Interpretation: "Your responses suggest you may be experiencing minimal symptoms. This is positive!",
		Recommendation: "Continue with self-care practices like regular exercise, good sleep hygiene, and maintaining social connections.",
	},
	{
		Name:           "mild",
		MaxScore:       9,
		Interpretation: "Your responses suggest you may be experiencing mild symptoms that could benefit from attention.",
		Recommendation: "Consider talking to a mental health professional, practicing stress management techniques, and maintaining healthy lifestyle habits.",
	},
	{
		Name:           "moderate",
		MaxScore:       14,
		Interpretation: "Your responses suggest you may be experiencing moderate symptoms.",
		Recommendation: "I recommend speaking with a mental health professional. Consider therapy, support groups, and ensure you have a strong support system.",
	},
	{
		Name:           "significant",
		MaxScore:       MaxScore,
		Interpretation: "Your responses suggest you may be experiencing significant symptoms.",
		Recommendation: "Please consider reaching out to a mental health professional soon. If you're having thoughts of self-harm, contact 988 (Suicide & Crisis Lifeline) immediately.",
	},
}

// BandFor maps a total score onto its band.
func BandFor(score int) Band {
	for _, b := range Bands {
		if score <= b.MaxScore {
			return b
		}
	}
	return Bands[len(Bands)-1]
}

// ScoreAnswer converts one free-text reply into 0..3. Replies that mention none
// of the scale phrases score 0.
func ScoreAnswer(reply string) int {
	r := util.FoldMessage(reply)
	switch {
	case strings.Contains(r, "nearly every day"):
		return 3
	case strings.Contains(r, "more than half"):
		return 2
	case strings.Contains(r, "several days"):
		return 1
	default:
		return 0
	}
}

// Score totals the replies.
func Score(answers []string) int {
	total := 0
	for _, a := range answers {
		total += ScoreAnswer(a)
	}
	return total
}

// Result is a finished assessment.
type Result struct {
	Score int
	Band  Band
}

// HTML renders the result block.
func (r Result) HTML() string {
	return fmt.Sprintf(`<div class="wellness-assessment">
<h3>Assessment Results</h3>
<p><strong>Interpretation:</strong> %s</p>
<p><strong>Recommendations:</strong> %s</p>
<p><em>This assessment is not a diagnostic tool and should not replace professional evaluation.</em></p>
<p><strong>Crisis Resources:</strong> If you're having thoughts of self-harm, please call 988 (Suicide & Crisis Lifeline).</p>
</div>`, r.Band.Interpretation, r.Band.Recommendation)
}

// Session is the assessment progress of one conversation. The zero value is idle.
// Stage is the number of the question currently awaiting an answer.
type Session struct {
	Stage   int                   `json:"stage"`
	Answers [QuestionCount]string `json:"answers"`
}

// InProgress reports whether a question is awaiting an answer.
func (s *Session) InProgress() bool {
	return s.Stage >= 1 && s.Stage <= QuestionCount
}

// Start resets the session and returns the introduction with the first question.
func (s *Session) Start() string {
	*s = Session{Stage: 1}
	return fmt.Sprintf(`<div class="wellness-assessment">
<h3>Mental Health Wellness Check</h3>
<p>I'll ask you a few questions to better understand how you're feeling. This is not a diagnostic tool, but it can help identify areas where you might benefit from support.</p>
%s
</div>`, questionBlock(1))
}

// Answer stores the reply for the current question. It returns the next question,
// or, after the last one, the scored result; the session is then idle again.
func (s *Session) Answer(reply string) (string, *Result) {
	if !s.InProgress() {
		return "", nil
	}
	s.Answers[s.Stage-1] = reply
	s.Stage++
	if s.Stage <= QuestionCount {
		return fmt.Sprintf("<div class=\"wellness-assessment\">\n%s\n</div>", questionBlock(s.Stage)), nil
	}

	score := Score(s.Answers[:])
	res := &Result{Score: score, Band: BandFor(score)}
	*s = Session{}
	return res.HTML(), res
}

// Reset abandons any assessment in progress.
func (s *Session) Reset() {
	*s = Session{}
}

func questionBlock(n int) string {
	return fmt.Sprintf("<p><strong>Question %d of %d:</strong> %s</p>\n<p>%s</p>", n, QuestionCount, questions[n-1], scaleHint)
}

var (
	requestPhrases = []string{
		"assessment", "evaluate", "screening", "questionnaire",
		"how am i doing", "mental health check", "wellness check",
	}
	requestWords = regexp.MustCompile(`\b(check|test)\b`)
)

// IsRequest reports whether the message asks for an assessment. "check" and
// "test" only count as whole words.
func IsRequest(message string) bool {
	m := util.FoldMessage(message)
	for _, p := range requestPhrases {
		if strings.Contains(m, p) {
			return true
		}
	}
	return requestWords.MatchString(m)
}
