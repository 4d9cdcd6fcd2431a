// Package store persists chats, transcript messages, linked channels, and
// link-code nonces in PostgreSQL.
package store

import (
	"time"

	"github.com/mailbridge/mailbridge/internal/platform"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Tool part confirmation states.
const (
	ConfirmationPending = "pending"
)

// PendingAction describes the not-yet-sent email a tool output proposes.
type PendingAction struct {
	To      string `json:"to,omitempty"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body,omitempty"`
}

// ToolOutput is the output payload of an assistant tool part.
type ToolOutput struct {
	ConfirmationState string         `json:"confirmationState,omitempty"`
	PendingAction     *PendingAction `json:"pendingAction,omitempty"`
}

// Part is one ordered content part of a transcript message. Text parts carry
// Text; tool parts carry the tool call id, state, and output.
type Part struct {
	Type       string      `json:"type"`
	Text       string      `json:"text,omitempty"`
	State      string      `json:"state,omitempty"`
	ToolCallID string      `json:"toolCallId,omitempty"`
	Output     *ToolOutput `json:"output,omitempty"`
}

// ChatMessage is one immutable transcript entry. Ids are deterministic:
// "<platform>-<providerMessageID>" for user messages and that id suffixed
// with "-assistant" for the paired reply.
type ChatMessage struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	Role      string    `json:"role"`
	Parts     []Part    `json:"parts"`
	CreatedAt time.Time `json:"created_at"`
}

// Chat is the durable conversation record keyed by platform + thread.
type Chat struct {
	ID             string    `json:"id"`
	EmailAccountID string    `json:"email_account_id"`
	CreatedAt      time.Time `json:"created_at"`
	// Messages holds the most recent transcript window, oldest first.
	Messages []ChatMessage `json:"messages,omitempty"`
}

// LinkedChannel is an authorization binding between a platform identity and
// an email account. At most one row exists per
// (email_account_id, provider, team_id).
type LinkedChannel struct {
	ID             string        `json:"id"`
	Provider       platform.Type `json:"provider"`
	TeamID         string        `json:"team_id"`
	TeamName       string        `json:"team_name,omitempty"`
	ProviderUserID string        `json:"provider_user_id"`
	EmailAccountID string        `json:"email_account_id"`
	ChannelID      string        `json:"channel_id,omitempty"`
	IsConnected    bool          `json:"is_connected"`
	AccessToken    string        `json:"-"`
	BotUserID      string        `json:"bot_user_id,omitempty"`
	UpdatedAt      time.Time     `json:"updated_at"`
}
