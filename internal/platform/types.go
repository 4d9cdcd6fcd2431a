// Package platform provides a unified abstraction for the messaging platforms
// the assistant gateway listens on. It defines types, capability interfaces,
// and a registry for platform adapters such as Slack, Teams, and Telegram.
package platform

import (
	"strings"
)

// Type identifies a messaging platform.
type Type string

const (
	TypeSlack    Type = "slack"
	TypeTeams    Type = "teams"
	TypeTelegram Type = "telegram"
)

// String returns the platform type as a plain string.
func (t Type) String() string {
	return string(t)
}

// ParseType maps an adapter name to a supported platform type.
// Unknown names return an empty type.
func ParseType(name string) Type {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "slack":
		return TypeSlack
	case "teams":
		return TypeTeams
	case "telegram":
		return TypeTelegram
	default:
		return ""
	}
}

// DisplayName returns the user-facing platform name.
func (t Type) DisplayName() string {
	switch t {
	case TypeSlack:
		return "Slack"
	case TypeTeams:
		return "Teams"
	case TypeTelegram:
		return "Telegram"
	default:
		return string(t)
	}
}

// Thread identifies one conversation context on a platform.
type Thread struct {
	Platform  Type
	ID        string
	ChannelID string
	IsDM      bool
	// TeamID is the workspace or tenant scope of the thread when the
	// platform reports one; empty otherwise.
	TeamID string
}

// ThreadRef is the decoded form of an opaque thread id.
// Slack threads decode into channel plus optional thread timestamp;
// Teams and Telegram threads decode into a single chat id.
type ThreadRef struct {
	Channel  string
	ThreadTS string
	ChatID   string
}

// Content is an outbound message payload.
// Text is interpreted as markdown unless the adapter lacks that capability,
// in which case the adapter flattens it. Card, when set, replaces Text.
type Content struct {
	Text     string
	Markdown bool
	Card     *Card
}

// Card is the confirmation card shape posted for pending actions:
// a title, body text, and one primary button carrying an opaque value.
type Card struct {
	Title  string
	Body   string
	Button Button
}

// Button is a single interactive control on a card.
type Button struct {
	ID    string
	Label string
	Value string
}

// ActionClick is a button click delivered by a platform.
type ActionClick struct {
	Thread   Thread
	UserID   string
	ActionID string
	Value    string
	// TeamID is the workspace or tenant scope of the click when the
	// platform reports one; empty otherwise.
	TeamID string
}
