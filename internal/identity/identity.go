// Package identity extracts a normalized sender identity from raw inbound
// platform events. Each platform has a divergent event shape, so events are
// carried as a closed set of tagged variants with one resolve function per
// variant.
package identity

import (
	"regexp"
	"strings"

	"github.com/mailbridge/mailbridge/internal/platform"
)

var (
	slackUserMentionPattern = regexp.MustCompile(`^<@[A-Z0-9]+>\s*`)
	bareMentionPattern      = regexp.MustCompile(`^@\S+\s*`)
)

// Identity is the normalized result of per-platform extraction: enough to
// authorize the sender and key the conversation.
type Identity struct {
	TeamID          string
	TeamName        string
	ProviderUserID  string
	MessageText     string
	IsDirectMessage bool
}

// SlackEvent carries the Slack-specific fields of a raw event payload.
type SlackEvent struct {
	TeamID    string
	EventType string
}

// TeamsEvent carries the Teams-specific fields of a raw activity.
type TeamsEvent struct {
	TenantID       string
	ConversationID string
	TeamName       string
}

// TelegramEvent carries the Telegram-specific fields of a raw update.
type TelegramEvent struct {
	ChatID        string
	ChatTitle     string
	ChatUsername  string
	ChatFirstName string
	ChatLastName  string
}

// Raw is the tagged union of platform event variants. Exactly one field is
// set for a given inbound event.
type Raw struct {
	Slack    *SlackEvent
	Teams    *TeamsEvent
	Telegram *TelegramEvent
}

// Message is the platform-independent view of the inbound message.
type Message struct {
	ID       string
	Text     string
	AuthorID string
}

// ResolveSlack extracts identity from a Slack event. Returns nil when a
// required field is missing; such events are silently not actionable.
func ResolveSlack(ev SlackEvent, thread platform.Thread, msg Message) *Identity {
	teamID := strings.TrimSpace(ev.TeamID)
	userID := strings.TrimSpace(msg.AuthorID)
	if teamID == "" || userID == "" {
		return nil
	}
	text := strings.TrimSpace(msg.Text)
	if ev.EventType == "app_mention" {
		text = StripLeadingMention(text)
	}
	if text == "" {
		return nil
	}
	return &Identity{
		TeamID:          teamID,
		ProviderUserID:  userID,
		MessageText:     text,
		IsDirectMessage: thread.IsDM,
	}
}

// ResolveTeams extracts identity from a Teams activity. The team scope is the
// tenant id when present, falling back to the conversation id and finally the
// thread's channel id.
func ResolveTeams(ev TeamsEvent, thread platform.Thread, msg Message) *Identity {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil
	}
	userID := strings.TrimSpace(msg.AuthorID)
	if userID == "" {
		return nil
	}
	teamID := strings.TrimSpace(ev.TenantID)
	if teamID == "" {
		teamID = strings.TrimSpace(ev.ConversationID)
	}
	if teamID == "" {
		teamID = strings.TrimSpace(thread.ChannelID)
	}
	if teamID == "" {
		return nil
	}
	return &Identity{
		TeamID:          teamID,
		TeamName:        strings.TrimSpace(ev.TeamName),
		ProviderUserID:  userID,
		MessageText:     text,
		IsDirectMessage: thread.IsDM,
	}
}

// ResolveTelegram extracts identity from a Telegram update. The chat id
// doubles as the team scope.
func ResolveTelegram(ev TelegramEvent, thread platform.Thread, msg Message) *Identity {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil
	}
	userID := strings.TrimSpace(msg.AuthorID)
	if userID == "" {
		return nil
	}
	chatID := strings.TrimSpace(ev.ChatID)
	if chatID == "" {
		return nil
	}
	return &Identity{
		TeamID:          chatID,
		TeamName:        telegramChatName(ev),
		ProviderUserID:  userID,
		MessageText:     text,
		IsDirectMessage: thread.IsDM,
	}
}

func telegramChatName(ev TelegramEvent) string {
	if name := strings.TrimSpace(ev.ChatTitle); name != "" {
		return name
	}
	if name := strings.TrimSpace(ev.ChatUsername); name != "" {
		return name
	}
	fullName := strings.TrimSpace(strings.Join([]string{
		strings.TrimSpace(ev.ChatFirstName),
		strings.TrimSpace(ev.ChatLastName),
	}, " "))
	return fullName
}

// StripLeadingMention removes a leading bot mention from message text. Slack
// app_mention events include the mention token in the text body.
func StripLeadingMention(text string) string {
	text = slackUserMentionPattern.ReplaceAllString(text, "")
	text = bareMentionPattern.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// SlackChatID derives the durable chat key for a Slack thread.
func SlackChatID(channel, threadTS string) string {
	if strings.TrimSpace(threadTS) != "" {
		return "slack-" + channel + "-" + threadTS
	}
	return "slack-" + channel
}

// LinkedChatID derives the durable chat key for Teams and Telegram threads.
// Colons in the platform thread id are normalized for storage.
func LinkedChatID(platformType platform.Type, threadID string) string {
	return string(platformType) + "-" + strings.ReplaceAll(threadID, ":", "-")
}
