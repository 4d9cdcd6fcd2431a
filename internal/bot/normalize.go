package bot

import (
	"regexp"

	"github.com/mailbridge/mailbridge/internal/platform"
)

// PendingDraftConfirmationMessage replaces assistant phrasing that points at
// a UI button the chat platform does not render inline.
const PendingDraftConfirmationMessage = "This draft is pending confirmation."

var (
	clickButtonPattern       = regexp.MustCompile(`(?i)click (?:the )?(?:confirmation|approve|send) button[^.]*\.`)
	politeClickPattern       = regexp.MustCompile(`(?i)(?:you can|please) click [^.]*button[^.]*\.`)
	mentionsPendingPattern   = regexp.MustCompile(`(?i)\bpending\b`)
	mentionsDraftPattern     = regexp.MustCompile(`(?i)\b(draft|email)\b`)
	mentionsProductUIPattern = regexp.MustCompile(`(?i)open mailbridge`)
)

// NormalizeAssistantText rewrites assistant output for chat delivery:
// literal "click the button" phrasing becomes a platform-appropriate call to
// action, and a confirmation hint is appended whenever the text mentions a
// pending draft without already pointing at the product UI.
func NormalizeAssistantText(text string, platformType platform.Type) string {
	normalized := clickButtonPattern.ReplaceAllString(text, PendingDraftConfirmationMessage)
	normalized = politeClickPattern.ReplaceAllString(normalized, PendingDraftConfirmationMessage)

	if mentionsPendingPattern.MatchString(normalized) &&
		mentionsDraftPattern.MatchString(normalized) &&
		!mentionsProductUIPattern.MatchString(normalized) {
		normalized += "\n\nTo send it, " + draftConfirmationAction(platformType) + "."
	}
	return normalized
}

func draftConfirmationAction(platformType platform.Type) string {
	name := platformType.DisplayName()
	if name == "" {
		return "click the Send button in this thread"
	}
	return "click the Send button in this " + name + " thread"
}
