package conversation

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/BTreeMap/Fernly/internal/models"
	"github.com/BTreeMap/Fernly/internal/util"
)

const (
	personalizeWindow = 10
	continuityChance  = 0.3
	empathyChance     = 0.2
)

var continuityPhrases = []string{
	"I remember we've talked about this before. ",
	"Building on our previous conversation about this, ",
	"As we discussed earlier, ",
	"Following up on what you shared before, ",
}

var empathyPhrases = []string{
	"I've been listening to what you've shared, and ",
	"Thank you for continuing to trust me with this. ",
	"I can see this is important to you. ",
}

// Personalize records intent as a previous topic and may prefix response with a
// continuity phrase, when the topic comes back after more than three user
// messages, or an empathy phrase, after more than four.
func (s *State) Personalize(r util.Random, response string, intent models.Intent) string {
	recurring := s.RememberTopic(intent)
	if len(s.Turns) <= 1 {
		return response
	}

	userMessages := 0
	for _, t := range s.RecentTurns(personalizeWindow) {
		if t.Role == models.RoleUser {
			userMessages++
		}
	}

	out := response
	if recurring && userMessages > 3 && util.Chance(r, continuityChance) {
		out = util.Pick(r, continuityPhrases) + lowerFirst(out)
	}
	if userMessages > 4 && util.Chance(r, empathyChance) {
		out = util.Pick(r, empathyPhrases) + lowerFirst(out)
	}
	return out
}

// lowerFirst lower-cases the first letter of s unless it starts with the word "I".
func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || !unicode.IsUpper(r) {
		return s
	}
	if r == 'I' && (len(s) == 1 || strings.ContainsRune(" '", rune(s[1]))) {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}
