package bot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailbridge/mailbridge/internal/identity"
	"github.com/mailbridge/mailbridge/internal/platform"
	"github.com/mailbridge/mailbridge/internal/store"
)

type fixture struct {
	gateway  *Gateway
	slack    *fakeAdapter
	teams    *fakeAdapter
	telegram *fakeAdapter
	chats    *fakeChatStore
	messages *fakeMessageStore
	channels *fakeChannelStore
	assist   *fakeAssistant
	accounts *fakeAccounts
	executor *fakeExecutor
	links    *fakeLinkCodes
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		slack:    newFakeAdapter(platform.TypeSlack),
		teams:    newFakeAdapter(platform.TypeTeams),
		telegram: newFakeAdapter(platform.TypeTelegram),
		chats:    newFakeChatStore(),
		messages: newFakeMessageStore(),
		channels: &fakeChannelStore{},
		assist:   &fakeAssistant{},
		accounts: newFakeAccounts(),
		executor: &fakeExecutor{},
		links:    &fakeLinkCodes{codes: map[string]string{}},
	}
	registry := platform.NewRegistry()
	require.NoError(t, registry.Register(ephemeralAdapter{f.slack}))
	require.NoError(t, registry.Register(f.teams))
	require.NoError(t, registry.Register(f.telegram))

	f.gateway = New(nil, Deps{
		Registry:  registry,
		Chats:     f.chats,
		Messages:  f.messages,
		Channels:  f.channels,
		LinkCodes: f.links,
		Assistant: f.assist,
		Accounts:  f.accounts,
		Executor:  f.executor,
	})
	return f
}

func slackHelloEvent() InboundEvent {
	return InboundEvent{
		Thread:  platform.Thread{Platform: platform.TypeSlack, ID: "D100", IsDM: true},
		Message: identity.Message{ID: "171.100", Text: "hello", AuthorID: "U1"},
		Raw:     identity.Raw{Slack: &identity.SlackEvent{TeamID: "T1", EventType: "message"}},
	}
}

func TestHandleInboundEventSlackDM(t *testing.T) {
	f := newFixture(t)
	f.channels.channels = []store.LinkedChannel{{
		Provider: platform.TypeSlack, TeamID: "T1", ProviderUserID: "U1",
		EmailAccountID: "acct-1", IsConnected: true, AccessToken: "xoxb-1",
	}}
	f.assist.chunks = append(f.assist.chunks, assistantMessageChunk(t, textParts("Hello! How can I help?")))

	handled, err := f.gateway.HandleInboundEvent(context.Background(), slackHelloEvent())
	require.NoError(t, err)
	assert.True(t, handled)

	// Deterministic user and assistant ids are both persisted.
	userMsg, ok := f.messages.messages["slack-171.100"]
	require.True(t, ok)
	assert.Equal(t, store.RoleUser, userMsg.Role)
	assert.Equal(t, "hello", userMsg.Parts[0].Text)

	reply, ok := f.messages.messages["slack-171.100-assistant"]
	require.True(t, ok)
	assert.Equal(t, store.RoleAssistant, reply.Role)
	assert.Equal(t, "slack-D100", reply.ChatID)

	require.Len(t, f.slack.posts, 1)
	assert.Equal(t, "Hello! How can I help?", f.slack.posts[0].Content.Text)
	assert.True(t, f.slack.posts[0].Content.Markdown)

	// Processing reaction added and removed.
	assert.Equal(t, []string{"171.100:eyes"}, f.slack.reactions)
	assert.Equal(t, []string{"171.100:eyes"}, f.slack.removals)
	assert.Equal(t, []string{"D100"}, f.slack.subscribed)
}

func TestHandleInboundEventDuplicateDelivery(t *testing.T) {
	f := newFixture(t)
	f.channels.channels = []store.LinkedChannel{{
		Provider: platform.TypeSlack, TeamID: "T1", ProviderUserID: "U1",
		EmailAccountID: "acct-1", IsConnected: true, AccessToken: "xoxb-1",
	}}
	f.assist.chunks = append(f.assist.chunks, assistantMessageChunk(t, textParts("Hi there.")))

	ev := slackHelloEvent()
	handled, err := f.gateway.HandleInboundEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, handled)

	handled, err = f.gateway.HandleInboundEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, handled)

	// Exactly one assistant message, one invocation, one posted reply.
	assert.Equal(t, 1, f.messages.assistantCount())
	assert.Len(t, f.assist.requests, 1)
	assert.Len(t, f.slack.posts, 1)
}

func TestHandleInboundEventSlackChannelNotLinked(t *testing.T) {
	f := newFixture(t)
	f.channels.channels = []store.LinkedChannel{{
		Provider: platform.TypeSlack, TeamID: "T1", ProviderUserID: "U1",
		EmailAccountID: "acct-1", IsConnected: true, AccessToken: "xoxb-1",
		ChannelID: "C-other",
	}}

	ev := InboundEvent{
		Thread:  platform.Thread{Platform: platform.TypeSlack, ID: "C42:171.5", ChannelID: "C42"},
		Message: identity.Message{ID: "171.6", Text: "summarize my inbox", AuthorID: "U1"},
		Raw:     identity.Raw{Slack: &identity.SlackEvent{TeamID: "T1", EventType: "app_mention"}},
	}
	handled, err := f.gateway.HandleInboundEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.False(t, handled)
	assert.Contains(t, f.slack.postedTexts(), unlinkedChannelNotice)
	assert.Empty(t, f.assist.requests)
}

func TestHandleInboundEventSlackChannelMatch(t *testing.T) {
	f := newFixture(t)
	f.channels.channels = []store.LinkedChannel{{
		Provider: platform.TypeSlack, TeamID: "T1", ProviderUserID: "U1",
		EmailAccountID: "acct-1", IsConnected: true, AccessToken: "xoxb-1",
		ChannelID: "C42",
	}}
	f.assist.chunks = append(f.assist.chunks, assistantMessageChunk(t, textParts("On it.")))

	ev := InboundEvent{
		Thread:  platform.Thread{Platform: platform.TypeSlack, ID: "C42:171.5", ChannelID: "C42"},
		Message: identity.Message{ID: "171.6", Text: "<@B123> summarize my inbox", AuthorID: "U1"},
		Raw:     identity.Raw{Slack: &identity.SlackEvent{TeamID: "T1", EventType: "app_mention"}},
	}
	handled, err := f.gateway.HandleInboundEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, handled)

	require.Len(t, f.assist.requests, 1)
	req := f.assist.requests[0]
	assert.Equal(t, "acct-1", req.EmailAccountID)
	assert.Equal(t, "slack-C42-171.5", req.ChatID)
	// Leading mention stripped before persistence.
	assert.Equal(t, "summarize my inbox", f.messages.messages["slack-171.6"].Parts[0].Text)
}

func TestHandleInboundEventUnlinkedTelegramUser(t *testing.T) {
	f := newFixture(t)

	ev := InboundEvent{
		Thread:  platform.Thread{Platform: platform.TypeTelegram, ID: "555", IsDM: true},
		Message: identity.Message{ID: "42", Text: "hi", AuthorID: "999"},
		Raw:     identity.Raw{Telegram: &identity.TelegramEvent{ChatID: "555", ChatFirstName: "Ada"}},
	}
	handled, err := f.gateway.HandleInboundEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.False(t, handled)
	assert.Contains(t, f.telegram.postedTexts(), linkRequiredNotice(platform.TypeTelegram))
}

func TestHandleInboundEventPinsExistingChatAccount(t *testing.T) {
	f := newFixture(t)
	f.channels.channels = []store.LinkedChannel{
		{Provider: platform.TypeTelegram, TeamID: "555", ProviderUserID: "999", EmailAccountID: "acct-a", IsConnected: true},
		{Provider: platform.TypeTelegram, TeamID: "555", ProviderUserID: "999", EmailAccountID: "acct-b", IsConnected: true},
	}
	// The thread already belongs to acct-b; ambiguity resolves to it.
	f.chats.chats["telegram-555"] = store.Chat{ID: "telegram-555", EmailAccountID: "acct-b"}
	f.assist.chunks = append(f.assist.chunks, assistantMessageChunk(t, textParts("Sure.")))

	ev := InboundEvent{
		Thread:  platform.Thread{Platform: platform.TypeTelegram, ID: "555", IsDM: true},
		Message: identity.Message{ID: "42", Text: "archive the newsletter", AuthorID: "999"},
		Raw:     identity.Raw{Telegram: &identity.TelegramEvent{ChatID: "555", ChatFirstName: "Ada"}},
	}
	handled, err := f.gateway.HandleInboundEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, handled)
	require.Len(t, f.assist.requests, 1)
	assert.Equal(t, "acct-b", f.assist.requests[0].EmailAccountID)
}

func TestHandleInboundEventPostsPendingCard(t *testing.T) {
	f := newFixture(t)
	f.channels.channels = []store.LinkedChannel{{
		Provider: platform.TypeSlack, TeamID: "T1", ProviderUserID: "U1",
		EmailAccountID: "acct-1", IsConnected: true, AccessToken: "xoxb-1",
	}}
	parts := []store.Part{
		{Type: "text", Text: "I drafted a reply. The draft is pending your confirmation."},
		{
			Type: toolPartReplyEmail, State: "output-available", ToolCallID: "tc-1",
			Output: &store.ToolOutput{
				ConfirmationState: store.ConfirmationPending,
				PendingAction:     &store.PendingAction{To: "ada@example.com", Subject: "Re: Q3"},
			},
		},
	}
	f.assist.chunks = append(f.assist.chunks, assistantMessageChunk(t, parts))

	handled, err := f.gateway.HandleInboundEvent(context.Background(), slackHelloEvent())
	require.NoError(t, err)
	assert.True(t, handled)

	require.Len(t, f.slack.posts, 2)
	card := f.slack.posts[1].Content.Card
	require.NotNil(t, card)
	assert.Equal(t, "Ready to send", card.Title)
	assert.Equal(t, `Confirm this reply to ada@example.com with subject "Re: Q3".`, card.Body)
	assert.Equal(t, ConfirmActionID, card.Button.ID)
	assert.Equal(t, "Send", card.Button.Label)

	expectedToken := ActionToken(PendingRef{
		ActionType:    ActionReplyEmail,
		ChatMessageID: "slack-171.100-assistant",
		ToolCallID:    "tc-1",
	})
	assert.Equal(t, expectedToken, card.Button.Value)
	// The reply text got the confirmation hint appended.
	assert.Contains(t, f.slack.posts[0].Content.Text, "click the Send button in this Slack thread")
}

func TestHandleLinkCommandTeamsNonDM(t *testing.T) {
	f := newFixture(t)
	f.links.codes["CODE1"] = "acct-1"

	ev := InboundEvent{
		Thread:  platform.Thread{Platform: platform.TypeTeams, ID: "19:meeting", ChannelID: "19:meeting"},
		Message: identity.Message{ID: "m1", Text: "/connect CODE1", AuthorID: "teams-user"},
		Raw:     identity.Raw{Teams: &identity.TeamsEvent{TenantID: "tenant-1"}},
	}
	handled, err := f.gateway.HandleInboundEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Contains(t, f.teams.postedTexts(), dmRequiredNotice(platform.TypeTeams))
	assert.Empty(t, f.channels.upserts)
	// The code must survive a refused attempt.
	assert.Contains(t, f.links.codes, "CODE1")
}

func TestHandleLinkCommandTeamsDM(t *testing.T) {
	f := newFixture(t)
	f.links.codes["CODE1"] = "acct-1"
	f.accounts.accounts["acct-1"] = accountFor("acct-1", "ada@example.com", "microsoft")

	ev := InboundEvent{
		Thread:  platform.Thread{Platform: platform.TypeTeams, ID: "a:1b2c", IsDM: true},
		Message: identity.Message{ID: "m1", Text: "/connect CODE1", AuthorID: "teams-user"},
		Raw:     identity.Raw{Teams: &identity.TeamsEvent{TenantID: "tenant-1", TeamName: "Contoso"}},
	}
	handled, err := f.gateway.HandleInboundEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, handled)

	require.Len(t, f.channels.upserts, 1)
	linked := f.channels.upserts[0]
	assert.Equal(t, platform.TypeTeams, linked.Provider)
	assert.Equal(t, "tenant-1", linked.TeamID)
	assert.Equal(t, "teams-user", linked.ProviderUserID)
	assert.Equal(t, "acct-1", linked.EmailAccountID)
	assert.True(t, linked.IsConnected)
	assert.Contains(t, f.teams.postedTexts(),
		"Connected successfully. You can now chat with your MailBridge assistant in this Teams DM.")
}

func TestHandleLinkCommandInvalidCode(t *testing.T) {
	f := newFixture(t)

	ev := InboundEvent{
		Thread:  platform.Thread{Platform: platform.TypeTelegram, ID: "555", IsDM: true},
		Message: identity.Message{ID: "m1", Text: "/connect bogus", AuthorID: "999"},
		Raw:     identity.Raw{Telegram: &identity.TelegramEvent{ChatID: "555", ChatFirstName: "Ada"}},
	}
	handled, err := f.gateway.HandleInboundEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Contains(t, f.telegram.postedTexts(), invalidCodeNotice)
	assert.Empty(t, f.channels.upserts)
}

func TestHandleInboundEventAssistantFailure(t *testing.T) {
	f := newFixture(t)
	f.channels.channels = []store.LinkedChannel{{
		Provider: platform.TypeSlack, TeamID: "T1", ProviderUserID: "U1",
		EmailAccountID: "acct-1", IsConnected: true, AccessToken: "xoxb-1",
	}}
	// No chunks at all: the stream ends without an assistant message.

	handled, err := f.gateway.HandleInboundEvent(context.Background(), slackHelloEvent())
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Contains(t, f.slack.postedTexts(), assistantFailureText)
	assert.Equal(t, 0, f.messages.assistantCount())
}
