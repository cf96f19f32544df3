package util

import "testing"

func TestFoldMessage(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lower case", "I Feel ANXIOUS", "i feel anxious"},
		{"curly apostrophe", "I can’t sleep", "i can't sleep"},
		{"whitespace collapse", "  too   many\tspaces \n", "too many spaces"},
		{"full width letters", "ＨＩ", "hi"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FoldMessage(tt.in); got != tt.want {
				t.Errorf("FoldMessage(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestIsBlank(t *testing.T) {
	if !IsBlank(" \t\n") {
		t.Error("whitespace should be blank")
	}
	if IsBlank(" k ") {
		t.Error("non-empty text reported blank")
	}
}

func TestContainsTerm(t *testing.T) {
	tests := []struct {
		text, term string
		want       bool
	}{
		{"i feel sad today", "sad", true},
		{"a crusade of sorts", "sad", false},
		{"sad", "sad", true},
		{"so sad, really", "sad", true},
		{"crusade then sad", "sad", true},
		{"racing thoughts again", "racing thoughts", true},
		{"feeling fearful", "fear", true},
		{"nothing here", "panic", false},
	}
	for _, tt := range tests {
		if got := ContainsTerm(tt.text, tt.term); got != tt.want {
			t.Errorf("ContainsTerm(%q, %q) = %v, want %v", tt.text, tt.term, got, tt.want)
		}
	}
}
