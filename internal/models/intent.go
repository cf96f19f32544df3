package models

import (
	"fmt"
	"strings"
)

// Intent is the category a user message is classified into.
type Intent string

const (
	IntentCrisis             Intent = "crisis"
	IntentAnxiety            Intent = "anxiety"
	IntentDepression         Intent = "depression"
	IntentPTSD               Intent = "ptsd"
	IntentADHD               Intent = "adhd"
	IntentBipolar            Intent = "bipolar"
	IntentOCD                Intent = "ocd"
	IntentSleep              Intent = "sleep"
	IntentAddiction          Intent = "addiction"
	IntentGrief              Intent = "grief"
	IntentRelationships      Intent = "relationships"
	IntentMedication         Intent = "medication"
	IntentServices           Intent = "services"
	IntentServiceWalkthrough Intent = "service_walkthrough"
	IntentGreeting           Intent = "greeting"
	IntentAcknowledgment     Intent = "acknowledgment"
	IntentClarification      Intent = "clarification"
	IntentHelp               Intent = "help"
	IntentGeneral            Intent = "general"
)

// Tags stamped on assistant turns that answer from reference data or the
// assessment flow rather than from a classified intent. They never come out of
// the classifier and are not valid categorization labels.
const (
	TagDisorderInfo    Intent = "disorder_info"
	TagServiceInfo     Intent = "service_info"
	TagAssessment      Intent = "assessment"
	TagAssessmentOffer Intent = "assessment_offer"
	TagFeedback        Intent = "feedback"
	TagCategorization  Intent = "categorization"
)

// AllIntents lists every intent tag the classifier can produce.
var AllIntents = []Intent{
	IntentCrisis, IntentAnxiety, IntentDepression, IntentPTSD, IntentADHD,
	IntentBipolar, IntentOCD, IntentSleep, IntentAddiction, IntentGrief,
	IntentRelationships, IntentMedication, IntentServices, IntentServiceWalkthrough,
	IntentGreeting, IntentAcknowledgment, IntentClarification, IntentHelp, IntentGeneral,
}

// PriorityOrder resolves a multi-intent match: the earliest entry present wins.
// It must contain every intent exactly once.
var PriorityOrder = []Intent{
	IntentCrisis,
	IntentMedication,
	IntentAddiction,
	IntentServices,
	IntentServiceWalkthrough,
	IntentHelp,
	IntentPTSD,
	IntentOCD,
	IntentBipolar,
	IntentDepression,
	IntentAnxiety,
	IntentADHD,
	IntentSleep,
	IntentGrief,
	IntentRelationships,
	IntentGreeting,
	IntentAcknowledgment,
	IntentClarification,
	IntentGeneral,
}

var priorityRank = func() map[Intent]int {
	m := make(map[Intent]int, len(PriorityOrder))
	for i, intent := range PriorityOrder {
		m[intent] = i
	}
	return m
}()

// Rank returns the position of the intent in PriorityOrder, or len(PriorityOrder) if unknown.
func (i Intent) Rank() int {
	if r, ok := priorityRank[i]; ok {
		return r
	}
	return len(PriorityOrder)
}

// IsValid reports whether the intent is one of AllIntents.
func (i Intent) IsValid() bool {
	_, ok := priorityRank[i]
	return ok
}

// IsTopic reports whether the intent is one of the mental-health topics tracked
// as "last discussed" for conversation continuity.
func (i Intent) IsTopic() bool {
	switch i {
	case IntentAnxiety, IntentDepression, IntentPTSD, IntentADHD, IntentBipolar, IntentOCD, IntentSleep:
		return true
	default:
		return false
	}
}

// ParseIntent converts a free-form label into an Intent.
func ParseIntent(s string) (Intent, error) {
	intent := Intent(strings.ToLower(strings.TrimSpace(s)))
	if !intent.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownIntent, s)
	}
	return intent, nil
}

// CategoryLabels is the closed set of labels a user may assign to an unrecognized message.
var CategoryLabels = []Intent{
	IntentAnxiety, IntentDepression, IntentPTSD, IntentADHD, IntentBipolar,
	IntentOCD, IntentSleep, IntentMedication, IntentGeneral,
}

// ParseCategory validates a categorization label against CategoryLabels.
func ParseCategory(s string) (Intent, error) {
	label := Intent(strings.ToLower(strings.TrimSpace(s)))
	for _, c := range CategoryLabels {
		if c == label {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCategory, s)
}

// CategoryLabelList renders CategoryLabels as a comma separated list.
func CategoryLabelList() string {
	parts := make([]string, len(CategoryLabels))
	for i, c := range CategoryLabels {
		parts[i] = string(c)
	}
	return strings.Join(parts, ", ")
}
