// Package learning holds one owner's learned patterns, learned responses,
// feedback metrics and unrecognized-message queue on top of a store.Persister.
//
// Persistence is fail-soft: when the backend cannot be read or written the Store
// keeps working from memory and reports a degraded Status instead of an error.
package learning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/BTreeMap/Fernly/internal/models"
	"github.com/BTreeMap/Fernly/internal/patterns"
	"github.com/BTreeMap/Fernly/internal/store"
	"github.com/BTreeMap/Fernly/internal/util"
	"github.com/google/uuid"
)

// DefaultTimeout bounds every backend call made by a Store.
const DefaultTimeout = 3 * time.Second

// Status describes the outcome of a persistence operation.
type Status struct {
	Degraded bool
	Err      error
}

// OK reports whether the last persistence operation succeeded.
func (s Status) OK() bool { return !s.Degraded }

func (s Status) String() string {
	if s.Degraded {
		return fmt.Sprintf("degraded: %v", s.Err)
	}
	return "ok"
}

// Summary counts what the store has learned so far.
type Summary struct {
	Patterns     int `json:"learned_patterns"`
	Responses    int `json:"learned_responses"`
	Pending      int `json:"pending_unrecognized"`
	Unrecognized int `json:"unrecognized"`
	Feedback     int `json:"feedback_events"`
}

// Store is one owner's learning document. It is safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	persister store.Persister
	owner     string
	doc       *models.LearningDocument
	dirty     bool
	// resetPending is set until a reset reaches the backend; saves overwrite
	// the stored document instead of merging it back in.
	resetPending bool
	status       Status
	now       func() time.Time
	timeout   time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used to stamp learned items and feedback events.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithTimeout bounds each backend call.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// Open loads the owner's document from p. A nil persister, a missing document or
// a failed load all yield a fresh document; a failed load also yields a degraded
// Status.
func Open(ctx context.Context, p store.Persister, owner string, opts ...Option) (*Store, Status) {
	s := &Store{
		persister: p,
		owner:     owner,
		doc:       models.NewLearningDocument(),
		now:       time.Now,
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if p == nil {
		return s, s.status
	}

	loaded, err := s.load(ctx)
	if err != nil {
		slog.Warn("Learning.Open: load failed, continuing with in-memory defaults", "owner", owner, "error", err)
		s.status = Status{Degraded: true, Err: err}
		return s, s.status
	}
	if loaded != nil {
		s.doc = loaded
	}
	patternCount, responseCount := s.doc.LearnedCounts()
	slog.Debug("Learning.Open: loaded learning document", "owner", owner, "patterns", patternCount, "responses", responseCount)
	return s, s.status
}

func (s *Store) load(ctx context.Context) (*models.LearningDocument, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	doc, err := s.persister.Load(ctx, s.owner)
	if err != nil {
		return nil, err
	}
	if doc != nil {
		doc.Normalize()
	}
	return doc, nil
}

// Owner returns the id the document is stored under.
func (s *Store) Owner() string { return s.owner }

// Status returns the outcome of the most recent persistence operation.
func (s *Store) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Snapshot returns a deep copy of the current document.
func (s *Store) Snapshot() *models.LearningDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

// Flush persists pending changes, if any.
func (s *Store) Flush(ctx context.Context) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return s.status
	}
	return s.saveLocked(ctx)
}

// Save persists the document unconditionally.
func (s *Store) Save(ctx context.Context) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx)
}

// saveLocked re-reads the stored document, folds in anything another writer
// added, and writes the result back. After a reset the stored document is
// overwritten instead.
func (s *Store) saveLocked(ctx context.Context) Status {
	s.doc.LastUpdated = s.now().UTC()
	if s.persister == nil {
		s.dirty = false
		return s.status
	}

	if !s.resetPending {
		stored, err := s.load(ctx)
		if err != nil {
			return s.degrade("read", err)
		}
		s.doc.Merge(stored)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.persister.Save(ctx, s.owner, s.doc); err != nil {
		return s.degrade("write", err)
	}
	s.dirty = false
	s.resetPending = false
	if s.status.Degraded {
		slog.Info("Learning.Save: persistence recovered", "owner", s.owner)
	}
	s.status = Status{}
	return s.status
}

func (s *Store) degrade(op string, err error) Status {
	slog.Warn("Learning.Save: persistence unavailable, keeping changes in memory", "owner", s.owner, "op", op, "error", err)
	s.status = Status{Degraded: true, Err: fmt.Errorf("learning %s failed: %w", op, err)}
	return s.status
}

// Reset discards everything learned and persists an empty document. If the
// backend is unavailable the reset is retried by the next Flush.
func (s *Store) Reset(ctx context.Context) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = models.NewLearningDocument()
	if s.persister != nil {
		s.resetPending = true
		dctx, cancel := context.WithTimeout(ctx, s.timeout)
		err := s.persister.Delete(dctx, s.owner)
		cancel()
		if err != nil {
			s.dirty = true
			return s.degrade("reset", err)
		}
	}
	slog.Info("Learning.Reset: learning data reset", "owner", s.owner)
	return s.saveLocked(ctx)
}

// Summary returns counts of the learned items.
func (s *Store) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := Summary{
		Unrecognized: len(s.doc.UnrecognizedMessages),
		Feedback:     len(s.doc.UserProfile.EngagementHistory),
	}
	sum.Patterns, sum.Responses = s.doc.LearnedCounts()
	for _, m := range s.doc.UnrecognizedMessages {
		if m.NeedsCategorization {
			sum.Pending++
		}
	}
	return sum
}

// LearnedPatterns returns a copy of the learned patterns grouped by intent.
func (s *Store) LearnedPatterns() map[models.Intent][]models.LearnedPattern {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[models.Intent][]models.LearnedPattern, len(s.doc.LearnedPatterns))
	for intent, items := range s.doc.LearnedPatterns {
		out[intent] = append([]models.LearnedPattern(nil), items...)
	}
	return out
}

// MarkPatternUsed bumps the use count of a learned pattern.
func (s *Store) MarkPatternUsed(intent models.Intent, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.doc.LearnedPatterns[intent]
	for i := range items {
		if items[i].ID == id {
			now := s.now().UTC()
			items[i].UseCount++
			items[i].LastUsed = &now
			s.dirty = true
			return
		}
	}
}

// RecordUnrecognized queues a message nothing matched. Short messages are
// ignored; repeats (compared case-insensitively) bump the existing entry.
func (s *Store) RecordUnrecognized(message string) {
	message = strings.TrimSpace(message)
	if utf8.RuneCountInString(message) < models.MinUnrecognizedLength {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	s.dirty = true
	for i := range s.doc.UnrecognizedMessages {
		m := &s.doc.UnrecognizedMessages[i]
		if strings.EqualFold(m.Message, message) {
			m.Count++
			m.LastSeen = now
			return
		}
	}
	s.doc.UnrecognizedMessages = append(s.doc.UnrecognizedMessages, models.UnrecognizedMessage{
		Message:             message,
		Count:               1,
		FirstSeen:           now,
		LastSeen:            now,
		NeedsCategorization: true,
	})
	for len(s.doc.UnrecognizedMessages) > models.MaxUnrecognizedMessages {
		s.doc.UnrecognizedMessages = evictLeastSeen(s.doc.UnrecognizedMessages)
	}
}

// evictLeastSeen drops the newest of the lowest-count messages and keeps the
// rest in arrival order.
func evictLeastSeen(msgs []models.UnrecognizedMessage) []models.UnrecognizedMessage {
	victim := 0
	for i, m := range msgs {
		if m.Count <= msgs[victim].Count {
			victim = i
		}
	}
	return append(msgs[:victim], msgs[victim+1:]...)
}

// PendingUnrecognized returns the oldest message still awaiting categorization.
func (s *Store) PendingUnrecognized() (models.UnrecognizedMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.doc.PendingUnrecognized()
	if i < 0 {
		return models.UnrecognizedMessage{}, false
	}
	return s.doc.UnrecognizedMessages[i], true
}

// Categorize turns the oldest pending unrecognized message into a learned pattern
// for intent and marks the message resolved. It returns false when nothing is
// pending.
func (s *Store) Categorize(intent models.Intent) (models.LearnedPattern, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.doc.PendingUnrecognized()
	if i < 0 {
		return models.LearnedPattern{}, "", false
	}
	now := s.now().UTC()
	msg := &s.doc.UnrecognizedMessages[i]
	p := models.LearnedPattern{
		ID:           uuid.NewString(),
		Pattern:      patterns.EscapeLiteral(util.FoldMessage(msg.Message)),
		UserProvided: true,
		DateAdded:    now,
		Source:       models.SourceUserCategorization,
	}
	s.doc.LearnedPatterns[intent] = append(s.doc.LearnedPatterns[intent], p)
	msg.NeedsCategorization = false
	msg.CategorizedAs = intent
	msg.CategorizedDate = &now
	s.dirty = true
	slog.Info("Learning.Categorize: learned pattern from categorization", "owner", s.owner, "intent", intent, "id", p.ID)
	return p, msg.Message, true
}

// LearnedResponses returns a copy of the learned responses for intent.
func (s *Store) LearnedResponses(intent models.Intent) []models.LearnedResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.LearnedResponse(nil), s.doc.LearnedResponses[intent]...)
}

// AddLearnedResponse stores a user-suggested reply for intent. It starts with one
// helpful vote because the user wrote it.
func (s *Store) AddLearnedResponse(intent models.Intent, text, originalResponseID string) models.LearnedResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := models.LearnedResponse{
		ID:                 "improved_" + uuid.NewString(),
		Text:               text,
		UserSuggested:      true,
		OriginalResponseID: originalResponseID,
		DateAdded:          s.now().UTC(),
		HelpfulCount:       1,
		Source:             models.SourceUserImprovement,
	}
	s.doc.LearnedResponses[intent] = append(s.doc.LearnedResponses[intent], r)
	s.dirty = true
	slog.Info("Learning.AddLearnedResponse: stored suggested response", "owner", s.owner, "intent", intent, "id", r.ID)
	return r
}

// RecordFeedback counts a helpful or not-helpful answer against responseID and
// logs it in the engagement history. If responseID names a learned response, its
// own counters move too.
func (s *Store) RecordFeedback(responseID string, positive bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	m := s.doc.ResponseMetrics[responseID]
	feedback := models.FeedbackNegative
	if positive {
		m.HelpfulCount++
		feedback = models.FeedbackPositive
	} else {
		m.NotHelpfulCount++
	}
	s.doc.ResponseMetrics[responseID] = m

	if r, _ := s.doc.FindLearnedResponse(responseID); r != nil {
		if positive {
			r.HelpfulCount++
		} else {
			r.NotHelpfulCount++
		}
	}
	s.doc.UserProfile.EngagementHistory = append(s.doc.UserProfile.EngagementHistory, models.EngagementEvent{
		ResponseID: responseID,
		Feedback:   feedback,
		Timestamp:  now,
	})
	s.doc.UserProfile.LastFeedbackDate = &now
	s.dirty = true
}

// TouchFeedbackDate records that feedback was given without counting it.
func (s *Store) TouchFeedbackDate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	s.doc.UserProfile.LastFeedbackDate = &now
	s.dirty = true
}
