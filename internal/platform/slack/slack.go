// Package slack implements the Slack platform adapter over the Web API.
// Outbound calls authenticate with the workspace bot token captured during
// the OAuth install, looked up per team through the channel registry.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mailbridge/mailbridge/internal/platform"
	"github.com/mailbridge/mailbridge/internal/store"
)

// TokenSource resolves the freshest bot token for a workspace.
type TokenSource interface {
	LatestWorkspaceToken(ctx context.Context, teamID string) (store.LinkedChannel, bool, error)
}

// Adapter implements platform.Adapter plus the ephemeral, reaction,
// subscription, and deletion capabilities for Slack.
type Adapter struct {
	logger *slog.Logger
	client *Client
	tokens TokenSource
}

// NewAdapter creates a Slack adapter backed by the given token source.
func NewAdapter(log *slog.Logger, client *Client, tokens TokenSource) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	if client == nil {
		client = NewClient()
	}
	return &Adapter{
		logger: log.With(slog.String("adapter", "slack")),
		client: client,
		tokens: tokens,
	}
}

// Type returns the Slack platform type.
func (a *Adapter) Type() platform.Type {
	return platform.TypeSlack
}

// DecodeThreadID parses a Slack thread id of the form "channel" or
// "channel:threadTs".
func (a *Adapter) DecodeThreadID(threadID string) (platform.ThreadRef, error) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return platform.ThreadRef{}, fmt.Errorf("slack thread id is required")
	}
	channel, threadTS, _ := strings.Cut(threadID, ":")
	if channel == "" {
		return platform.ThreadRef{}, fmt.Errorf("slack thread id missing channel: %q", threadID)
	}
	return platform.ThreadRef{Channel: channel, ThreadTS: threadTS}, nil
}

func (a *Adapter) workspaceToken(ctx context.Context, teamID string) (string, error) {
	teamID = strings.TrimSpace(teamID)
	if teamID == "" {
		return "", fmt.Errorf("slack team id is required")
	}
	channel, ok, err := a.tokens.LatestWorkspaceToken(ctx, teamID)
	if err != nil {
		return "", fmt.Errorf("resolve workspace token: %w", err)
	}
	if !ok || channel.AccessToken == "" {
		return "", fmt.Errorf("no bot token installed for team %s", teamID)
	}
	return channel.AccessToken, nil
}

type postMessageRequest struct {
	Channel  string  `json:"channel"`
	ThreadTS string  `json:"thread_ts,omitempty"`
	Text     string  `json:"text,omitempty"`
	Blocks   []block `json:"blocks,omitempty"`
}

type postMessageResponse struct {
	TS string `json:"ts"`
}

type block struct {
	Type     string         `json:"type"`
	Text     *blockText     `json:"text,omitempty"`
	Elements []buttonElement `json:"elements,omitempty"`
}

type blockText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type buttonElement struct {
	Type     string     `json:"type"`
	Text     *blockText `json:"text"`
	Style    string     `json:"style,omitempty"`
	ActionID string     `json:"action_id"`
	Value    string     `json:"value"`
}

// Post sends a message into the thread. Text is posted as mrkdwn; cards
// become a section block plus a primary action button.
func (a *Adapter) Post(ctx context.Context, thread platform.Thread, content platform.Content) (string, error) {
	token, err := a.workspaceToken(ctx, thread.TeamID)
	if err != nil {
		return "", err
	}
	ref, err := a.DecodeThreadID(thread.ID)
	if err != nil {
		return "", err
	}

	req := postMessageRequest{Channel: ref.Channel, ThreadTS: ref.ThreadTS}
	if content.Card != nil {
		req.Text = content.Card.Title
		req.Blocks = cardBlocks(content.Card)
	} else {
		req.Text = content.Text
	}

	var resp postMessageResponse
	if err := a.client.Call(ctx, token, "chat.postMessage", req, &resp); err != nil {
		return "", err
	}
	return resp.TS, nil
}

func cardBlocks(card *platform.Card) []block {
	body := card.Body
	if card.Title != "" {
		body = "*" + card.Title + "*\n" + body
	}
	return []block{
		{
			Type: "section",
			Text: &blockText{Type: "mrkdwn", Text: body},
		},
		{
			Type: "actions",
			Elements: []buttonElement{{
				Type:     "button",
				Text:     &blockText{Type: "plain_text", Text: card.Button.Label},
				Style:    "primary",
				ActionID: card.Button.ID,
				Value:    card.Button.Value,
			}},
		},
	}
}

// PostEphemeral posts a message visible only to the given user.
func (a *Adapter) PostEphemeral(ctx context.Context, thread platform.Thread, userID, text string) error {
	token, err := a.workspaceToken(ctx, thread.TeamID)
	if err != nil {
		return err
	}
	ref, err := a.DecodeThreadID(thread.ID)
	if err != nil {
		return err
	}
	payload := map[string]string{
		"channel": ref.Channel,
		"user":    userID,
		"text":    text,
	}
	if ref.ThreadTS != "" {
		payload["thread_ts"] = ref.ThreadTS
	}
	return a.client.Call(ctx, token, "chat.postEphemeral", payload, nil)
}

// AddReaction adds an emoji reaction to a message. Re-adding an existing
// reaction is treated as success.
func (a *Adapter) AddReaction(ctx context.Context, thread platform.Thread, messageID, emoji string) error {
	err := a.react(ctx, thread, "reactions.add", messageID, emoji)
	if HasCode(err, "already_reacted") {
		return nil
	}
	return err
}

// RemoveReaction removes the bot's reaction from a message. A missing
// reaction is treated as success.
func (a *Adapter) RemoveReaction(ctx context.Context, thread platform.Thread, messageID, emoji string) error {
	err := a.react(ctx, thread, "reactions.remove", messageID, emoji)
	if HasCode(err, "no_reaction") {
		return nil
	}
	return err
}

func (a *Adapter) react(ctx context.Context, thread platform.Thread, method, messageID, emoji string) error {
	token, err := a.workspaceToken(ctx, thread.TeamID)
	if err != nil {
		return err
	}
	ref, err := a.DecodeThreadID(thread.ID)
	if err != nil {
		return err
	}
	payload := map[string]string{
		"channel":   ref.Channel,
		"timestamp": messageID,
		"name":      emoji,
	}
	return a.client.Call(ctx, token, method, payload, nil)
}

// Delete removes a message the bot posted earlier.
func (a *Adapter) Delete(ctx context.Context, thread platform.Thread, messageID string) error {
	token, err := a.workspaceToken(ctx, thread.TeamID)
	if err != nil {
		return err
	}
	ref, err := a.DecodeThreadID(thread.ID)
	if err != nil {
		return err
	}
	payload := map[string]string{
		"channel": ref.Channel,
		"ts":      messageID,
	}
	return a.client.Call(ctx, token, "chat.delete", payload, nil)
}

// suggestedPrompts seed the assistant thread composer after a reply.
var suggestedPrompts = []suggestedPrompt{
	{Title: "Inbox summary", Message: "Summarize what needs attention today."},
	{Title: "Draft reply", Message: "Draft a response to my most urgent unread email."},
	{Title: "Follow-up list", Message: "Which emails should I follow up on this week?"},
}

type suggestedPrompt struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

type setSuggestedPromptsRequest struct {
	ChannelID string            `json:"channel_id"`
	ThreadTS  string            `json:"thread_ts"`
	Title     string            `json:"title,omitempty"`
	Prompts   []suggestedPrompt `json:"prompts"`
}

// Subscribe registers suggested prompts on a Slack assistant thread. Threads
// without a thread timestamp are plain conversations and are skipped.
func (a *Adapter) Subscribe(ctx context.Context, thread platform.Thread) error {
	ref, err := a.DecodeThreadID(thread.ID)
	if err != nil {
		return err
	}
	if ref.ThreadTS == "" {
		return nil
	}
	token, err := a.workspaceToken(ctx, thread.TeamID)
	if err != nil {
		return err
	}
	req := setSuggestedPromptsRequest{
		ChannelID: ref.Channel,
		ThreadTS:  ref.ThreadTS,
		Title:     "Try asking MailBridge",
		Prompts:   suggestedPrompts,
	}
	return a.client.Call(ctx, token, "assistant.threads.setSuggestedPrompts", req, nil)
}
