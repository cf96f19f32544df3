package sms

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestPlainText(t *testing.T) {
	tests := []struct {
		name   string
		markup string
		want   string
	}{
		{
			name:   "plain text passes through",
			markup: "I'm here to listen.",
			want:   "I'm here to listen.",
		},
		{
			name:   "bold markers dropped",
			markup: "**IOP:**\n\nAn intensive outpatient program meets a few times a week.",
			want:   "IOP:\n\nAn intensive outpatient program meets a few times a week.",
		},
		{
			name: "card becomes paragraphs",
			markup: `<div class="medication-info">
  <h3>Zoloft (sertraline)</h3>
  <p><strong>Type:</strong> SSRI</p>
  <p>Talk with your prescriber before changing a dose.</p>
</div>`,
			want: "Zoloft (sertraline)\n\nType: SSRI\n\nTalk with your prescriber before changing a dose.",
		},
		{
			name:   "buttons skipped",
			markup: `Thanks.<div class="feedback-prompt"><p>Was this response helpful?</p><button>Yes</button><button>No</button></div>`,
			want:   "Thanks.\n\nWas this response helpful?",
		},
		{
			name:   "entities decoded",
			markup: "Sleep &amp; routine",
			want:   "Sleep & routine",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PlainText(tt.markup); got != tt.want {
				t.Errorf("PlainText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSegmentsShortText(t *testing.T) {
	got := Segments("hello", MaxSegmentLength)
	if len(got) != 1 || got[0] != "hello" {
		t.Errorf("Segments = %q", got)
	}
}

func TestSegmentsSplitsOnParagraphs(t *testing.T) {
	a := strings.Repeat("a", 30)
	b := strings.Repeat("b", 30)
	got := Segments(a+"\n\n"+b, 40)
	if len(got) != 2 || got[0] != a || got[1] != b {
		t.Errorf("Segments = %q", got)
	}
}

func TestSegmentsSplitsLongParagraph(t *testing.T) {
	text := strings.Repeat("word ", 100)
	got := Segments(text, 42)
	if len(got) < 2 {
		t.Fatalf("Segments = %d pieces", len(got))
	}
	var total int
	for _, s := range got {
		if n := utf8.RuneCountInString(s); n > 42 {
			t.Errorf("segment of %d runes exceeds limit: %q", n, s)
		}
		if strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
			t.Errorf("segment not trimmed: %q", s)
		}
		total += strings.Count(s, "word")
	}
	if total != 100 {
		t.Errorf("words across segments = %d, want 100", total)
	}
}

func TestSegmentsCountsRunes(t *testing.T) {
	text := strings.Repeat("é", 50)
	if got := Segments(text, 50); len(got) != 1 {
		t.Errorf("50 runes split into %d segments", len(got))
	}
	got := Segments(strings.Repeat("é", 120), 50)
	if len(got) != 3 {
		t.Errorf("120 runes split into %d segments, want 3", len(got))
	}
}
