package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestPriorityOrderCoversEveryIntent(t *testing.T) {
	if len(PriorityOrder) != len(AllIntents) {
		t.Fatalf("PriorityOrder has %d entries, AllIntents has %d", len(PriorityOrder), len(AllIntents))
	}
	seen := make(map[Intent]bool)
	for _, intent := range PriorityOrder {
		if seen[intent] {
			t.Errorf("intent %q appears twice in PriorityOrder", intent)
		}
		seen[intent] = true
	}
	for _, intent := range AllIntents {
		if !seen[intent] {
			t.Errorf("intent %q missing from PriorityOrder", intent)
		}
	}
	if PriorityOrder[0] != IntentCrisis {
		t.Errorf("crisis must rank first, got %q", PriorityOrder[0])
	}
	if PriorityOrder[len(PriorityOrder)-1] != IntentGeneral {
		t.Errorf("general must rank last, got %q", PriorityOrder[len(PriorityOrder)-1])
	}
}

func TestIntentRank(t *testing.T) {
	tests := []struct {
		higher, lower Intent
	}{
		{IntentDepression, IntentAnxiety},
		{IntentMedication, IntentServices},
		{IntentAddiction, IntentServices},
		{IntentPTSD, IntentOCD},
		{IntentSleep, IntentGreeting},
	}
	for _, tt := range tests {
		if tt.higher.Rank() >= tt.lower.Rank() {
			t.Errorf("expected %q to outrank %q", tt.higher, tt.lower)
		}
	}
	if Intent("bogus").Rank() != len(PriorityOrder) {
		t.Error("unknown intent should rank after every known intent")
	}
}

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in      string
		want    Intent
		wantErr bool
	}{
		{" Anxiety ", IntentAnxiety, false},
		{"sleep", IntentSleep, false},
		{"general", IntentGeneral, false},
		{"grief", "", true},
		{"crisis", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseCategory(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidCategory) {
				t.Errorf("ParseCategory(%q) error = %v, want ErrInvalidCategory", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseCategory(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestLearnedResponseHighQuality(t *testing.T) {
	tests := []struct {
		helpful, notHelpful int
		want                bool
	}{
		{1, 0, false},
		{2, 1, true},
		{2, 2, false},
		{3, 0, true},
		{0, 0, false},
	}
	for _, tt := range tests {
		r := LearnedResponse{HelpfulCount: tt.helpful, NotHelpfulCount: tt.notHelpful}
		if got := r.HighQuality(); got != tt.want {
			t.Errorf("HighQuality(%d/%d) = %v, want %v", tt.helpful, tt.notHelpful, got, tt.want)
		}
	}
}

func TestLearningDocumentNormalizeFillsDefaults(t *testing.T) {
	var doc LearningDocument
	if err := json.Unmarshal([]byte(`{"learnedPatterns":{"anxiety":[{"id":"p1","pattern":"x"}]}}`), &doc); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	doc.Normalize()
	if doc.Version != LearningDocumentVersion {
		t.Errorf("expected version %q, got %q", LearningDocumentVersion, doc.Version)
	}
	if doc.LearnedResponses == nil || doc.ResponseMetrics == nil || doc.UnrecognizedMessages == nil {
		t.Error("Normalize left a nil collection")
	}
	if len(doc.LearnedPatterns[IntentAnxiety]) != 1 {
		t.Error("Normalize dropped stored patterns")
	}
}

func TestLearningDocumentCloneIsDeep(t *testing.T) {
	doc := NewLearningDocument()
	doc.LearnedResponses[IntentSleep] = []LearnedResponse{{ID: "lr1", Text: "rest", HelpfulCount: 1, DateAdded: time.Now()}}

	clone := doc.Clone()
	clone.LearnedResponses[IntentSleep][0].HelpfulCount = 5

	if doc.LearnedResponses[IntentSleep][0].HelpfulCount != 1 {
		t.Error("mutating the clone changed the original")
	}
}

func TestLearningDocumentMerge(t *testing.T) {
	local := NewLearningDocument()
	local.LearnedResponses[IntentAnxiety] = []LearnedResponse{{ID: "a", HelpfulCount: 3}}

	stored := NewLearningDocument()
	stored.LearnedResponses[IntentAnxiety] = []LearnedResponse{{ID: "a", HelpfulCount: 1}, {ID: "b"}}
	stored.LearnedPatterns[IntentOCD] = []LearnedPattern{{ID: "p"}}

	local.Merge(stored)

	if got := len(local.LearnedResponses[IntentAnxiety]); got != 2 {
		t.Fatalf("expected 2 responses after merge, got %d", got)
	}
	if local.LearnedResponses[IntentAnxiety][0].HelpfulCount != 3 {
		t.Error("local value should win on conflict")
	}
	if len(local.LearnedPatterns[IntentOCD]) != 1 {
		t.Error("stored pattern was not merged")
	}
}

func TestPendingUnrecognized(t *testing.T) {
	doc := NewLearningDocument()
	if doc.PendingUnrecognized() != -1 {
		t.Error("empty queue should report -1")
	}
	doc.UnrecognizedMessages = []UnrecognizedMessage{
		{Message: "done", NeedsCategorization: false},
		{Message: "todo", NeedsCategorization: true},
	}
	if got := doc.PendingUnrecognized(); got != 1 {
		t.Errorf("PendingUnrecognized() = %d, want 1", got)
	}
}
