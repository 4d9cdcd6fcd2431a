// Package email confirms pending draft actions against the mail backend and
// resolves account metadata used for user-facing links.
package email

import (
	"context"
	"strings"

	"github.com/mailbridge/mailbridge/internal/store"
)

// Mail provider names as reported by the account service.
const (
	ProviderGoogle    = "google"
	ProviderMicrosoft = "microsoft"
)

// Account is the mail account a linked channel is bound to.
type Account struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Provider string `json:"provider"`
}

// Accounts resolves account metadata by id.
type Accounts interface {
	GetAccount(ctx context.Context, emailAccountID string) (Account, error)
}

// Sent describes a successfully dispatched email. MessageID is empty when the
// backend does not report one.
type Sent struct {
	MessageID string `json:"messageId"`
	ThreadID  string `json:"threadId,omitempty"`
}

// Executor sends the email a confirmed pending action describes.
type Executor interface {
	ConfirmPendingAction(ctx context.Context, emailAccountID, toolCallID string, action store.PendingAction) (Sent, error)
}

// MailboxName returns the user-facing mailbox product name for a provider.
func MailboxName(provider string) string {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case ProviderGoogle:
		return "Gmail"
	case ProviderMicrosoft:
		return "Outlook"
	default:
		return ""
	}
}

// DeepLink builds a link to the sent message in the provider's mailbox UI.
// Unknown providers fall back to the Gmail form; empty without a message id.
func DeepLink(provider, messageID string) string {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return ""
	}
	if strings.EqualFold(strings.TrimSpace(provider), ProviderMicrosoft) {
		return "https://outlook.office.com/mail/deeplink/read/" + messageID
	}
	return "https://mail.google.com/mail/u/0/#all/" + messageID
}
