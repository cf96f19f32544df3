package reference

import (
	"fmt"
	"strings"
)

// QuickInfo renders the short description shown when a user asks about a condition.
func (d Disorder) QuickInfo() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", d.Name, d.Description)
	if len(d.Symptoms) > 0 {
		fmt.Fprintf(&b, "\n\nCommon symptoms include: %s", strings.Join(d.Symptoms, ", "))
	}
	if len(d.Resources) > 0 {
		fmt.Fprintf(&b, "\n\nLearn more: %s", d.Resources[0].URL)
	}
	return b.String()
}

// Card renders the medication as an HTML block. This is the only medication renderer.
func (m Medication) Card() string {
	return fmt.Sprintf(`<div class="medication-info">
<h3>%s</h3>
<p><strong>Type:</strong> %s</p>
<p><strong>Common Uses:</strong> %s</p>
<p><strong>Common Side Effects:</strong> %s</p>
<p><strong>Important Notes:</strong> %s</p>
<div class="medication-warning"><strong>⚠️ Important:</strong> %s</div>
<p><small><em>This information is for educational purposes only. Always consult with your healthcare provider about your medications.</em></small></p>
</div>`,
		m.Name, m.Type,
		strings.Join(m.CommonUses, ", "),
		strings.Join(m.CommonSideEffects, ", "),
		m.ImportantNotes, m.Warning)
}

// DefinitionText renders the service definition, offering a walkthrough when one exists.
func (s Service) DefinitionText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s:**\n\n%s", s.Name, s.Definition)
	if len(s.Walkthrough) > 0 {
		fmt.Fprintf(&b, "\n\nWould you like me to walk you through what to expect in a %s step by step?", s.Name)
	}
	fmt.Fprintf(&b, "\n\nI can also answer questions about admissions, daily schedules, insurance coverage, or other aspects of %s. What would you like to know more about?", s.Name)
	return b.String()
}

// WalkthroughText renders the numbered walkthrough steps.
func (s Service) WalkthroughText() string {
	steps := make([]string, len(s.Walkthrough))
	for i, step := range s.Walkthrough {
		steps[i] = fmt.Sprintf("%d. %s", i+1, step)
	}
	return fmt.Sprintf("**Here's what you can expect in a %s:**\n\n%s\n\nThis gives you a general overview of the process. Each program may vary slightly, and your treatment team will work with you to personalize your experience. Do you have any specific questions about any of these steps?",
		s.Name, strings.Join(steps, "\n\n"))
}
