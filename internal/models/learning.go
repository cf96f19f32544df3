package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// LearningDocumentVersion is written into every document this build saves.
const LearningDocumentVersion = "1.0"

// Learned item sources.
const (
	SourceUserCategorization = "user_categorization"
	SourceUserImprovement    = "user_improvement"
)

// LearnedPattern is a user-taught rule mapping message text to an intent.
// Pattern holds regular-expression source; it is compiled lazily and may be invalid.
type LearnedPattern struct {
	ID           string     `json:"id"`
	Pattern      string     `json:"pattern"`
	UserProvided bool       `json:"userProvided"`
	DateAdded    time.Time  `json:"dateAdded"`
	UseCount     int        `json:"useCount"`
	LastUsed     *time.Time `json:"lastUsed,omitempty"`
	Source       string     `json:"source"`
}

// LearnedResponse is a user-suggested reply for an intent, ranked by feedback.
type LearnedResponse struct {
	ID                 string    `json:"id"`
	Text               string    `json:"response"`
	UserSuggested      bool      `json:"userSuggested"`
	OriginalResponseID string    `json:"originalResponseId,omitempty"`
	DateAdded          time.Time `json:"dateAdded"`
	HelpfulCount       int       `json:"helpfulCount"`
	NotHelpfulCount    int       `json:"notHelpfulCount"`
	Source             string    `json:"source"`
}

// HighQuality reports whether the response has earned the right to override templates.
func (r LearnedResponse) HighQuality() bool {
	return r.HelpfulCount > r.NotHelpfulCount && r.HelpfulCount >= LearnedResponseMinHelpful
}

// HelpfulRatio is helpful / (helpful + notHelpful), with an empty history counting as zero.
func (r LearnedResponse) HelpfulRatio() float64 {
	total := r.HelpfulCount + r.NotHelpfulCount
	if total < 1 {
		total = 1
	}
	return float64(r.HelpfulCount) / float64(total)
}

// ResponseMetric aggregates feedback for any emitted response id.
type ResponseMetric struct {
	HelpfulCount    int     `json:"helpfulCount"`
	NotHelpfulCount int     `json:"notHelpfulCount"`
	EngagementScore float64 `json:"engagementScore"`
}

// Feedback values recorded in the engagement history.
const (
	FeedbackPositive = "positive"
	FeedbackNegative = "negative"
)

// EngagementEvent records one explicit feedback answer.
type EngagementEvent struct {
	ResponseID string    `json:"responseId"`
	Feedback   string    `json:"feedback"`
	Timestamp  time.Time `json:"timestamp"`
}

// UserProfile holds per-owner preferences and feedback history.
type UserProfile struct {
	PreferredResponseStyle   string            `json:"preferredResponseStyle,omitempty"`
	CommunicationPreferences map[string]string `json:"communicationPreferences"`
	EngagementHistory        []EngagementEvent `json:"engagementHistory"`
	LastFeedbackDate         *time.Time        `json:"lastFeedbackDate,omitempty"`
}

// UnrecognizedMessage is a message no rule matched, queued for user categorization.
type UnrecognizedMessage struct {
	Message             string     `json:"message"`
	Count               int        `json:"count"`
	FirstSeen           time.Time  `json:"firstSeen"`
	LastSeen            time.Time  `json:"lastSeen"`
	NeedsCategorization bool       `json:"needsCategorization"`
	CategorizedAs       Intent     `json:"categorizedAs,omitempty"`
	CategorizedDate     *time.Time `json:"categorizedDate,omitempty"`
}

// LearningDocument is the single JSON-compatible document persisted per owner.
type LearningDocument struct {
	Version              string                       `json:"version"`
	LastUpdated          time.Time                    `json:"lastUpdated"`
	LearnedPatterns      map[Intent][]LearnedPattern  `json:"learnedPatterns"`
	LearnedResponses     map[Intent][]LearnedResponse `json:"learnedResponses"`
	ResponseMetrics      map[string]ResponseMetric    `json:"responseMetrics"`
	UserProfile          UserProfile                  `json:"userProfile"`
	UnrecognizedMessages []UnrecognizedMessage        `json:"unrecognizedMessages"`
}

// NewLearningDocument returns an empty document with every collection initialized.
func NewLearningDocument() *LearningDocument {
	doc := &LearningDocument{}
	doc.Normalize()
	return doc
}

// Normalize fills in defaults for any field a stored document omitted, so documents
// written by older builds load without nil maps.
func (d *LearningDocument) Normalize() {
	if d.Version == "" {
		d.Version = LearningDocumentVersion
	}
	if d.LearnedPatterns == nil {
		d.LearnedPatterns = make(map[Intent][]LearnedPattern)
	}
	if d.LearnedResponses == nil {
		d.LearnedResponses = make(map[Intent][]LearnedResponse)
	}
	if d.ResponseMetrics == nil {
		d.ResponseMetrics = make(map[string]ResponseMetric)
	}
	if d.UserProfile.CommunicationPreferences == nil {
		d.UserProfile.CommunicationPreferences = make(map[string]string)
	}
	if d.UserProfile.EngagementHistory == nil {
		d.UserProfile.EngagementHistory = []EngagementEvent{}
	}
	if d.UnrecognizedMessages == nil {
		d.UnrecognizedMessages = []UnrecognizedMessage{}
	}
}

// Clone returns a deep copy of the document.
func (d *LearningDocument) Clone() *LearningDocument {
	data, err := json.Marshal(d)
	if err != nil {
		// every field is JSON-safe; a failure here is a programming error
		panic(fmt.Sprintf("LearningDocument.Clone: marshal failed: %v", err))
	}
	var out LearningDocument
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("LearningDocument.Clone: unmarshal failed: %v", err))
	}
	out.Normalize()
	return &out
}

// Merge folds a freshly loaded copy of the persisted document into d, so that a
// save does not drop items another writer added. d wins on conflicts.
func (d *LearningDocument) Merge(stored *LearningDocument) {
	if stored == nil {
		return
	}
	for intent, items := range stored.LearnedPatterns {
		have := make(map[string]bool, len(d.LearnedPatterns[intent]))
		for _, p := range d.LearnedPatterns[intent] {
			have[p.ID] = true
		}
		for _, p := range items {
			if !have[p.ID] {
				d.LearnedPatterns[intent] = append(d.LearnedPatterns[intent], p)
			}
		}
	}
	for intent, items := range stored.LearnedResponses {
		have := make(map[string]bool, len(d.LearnedResponses[intent]))
		for _, r := range d.LearnedResponses[intent] {
			have[r.ID] = true
		}
		for _, r := range items {
			if !have[r.ID] {
				d.LearnedResponses[intent] = append(d.LearnedResponses[intent], r)
			}
		}
	}
	for id, m := range stored.ResponseMetrics {
		if _, ok := d.ResponseMetrics[id]; !ok {
			d.ResponseMetrics[id] = m
		}
	}
}

// FindLearnedResponse returns a pointer to the learned response with the given id.
func (d *LearningDocument) FindLearnedResponse(id string) (*LearnedResponse, Intent) {
	for intent, items := range d.LearnedResponses {
		for i := range items {
			if items[i].ID == id {
				return &items[i], intent
			}
		}
	}
	return nil, ""
}

// PendingUnrecognized returns the index of the oldest message still awaiting
// categorization, or -1. Age is judged by FirstSeen; ties go to the earlier entry.
func (d *LearningDocument) PendingUnrecognized() int {
	oldest := -1
	for i, m := range d.UnrecognizedMessages {
		if !m.NeedsCategorization {
			continue
		}
		if oldest < 0 || m.FirstSeen.Before(d.UnrecognizedMessages[oldest].FirstSeen) {
			oldest = i
		}
	}
	return oldest
}

// LearnedCounts returns the total number of learned patterns and learned responses.
func (d *LearningDocument) LearnedCounts() (patterns, responses int) {
	for _, items := range d.LearnedPatterns {
		patterns += len(items)
	}
	for _, items := range d.LearnedResponses {
		responses += len(items)
	}
	return patterns, responses
}
