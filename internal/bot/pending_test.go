package bot

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailbridge/mailbridge/internal/email"
	"github.com/mailbridge/mailbridge/internal/platform"
	"github.com/mailbridge/mailbridge/internal/store"
)

const (
	clickChatID    = "slack-C9-170.1"
	clickMessageID = "slack-170.2-assistant"
	clickToolCall  = "tc-1"
)

// seedPendingDraft stores a chat owned by acct-1 with one pending send_email
// draft and an authorized Slack binding for user U1.
func seedPendingDraft(f *fixture) {
	f.chats.chats[clickChatID] = store.Chat{ID: clickChatID, EmailAccountID: "acct-1"}
	f.messages.messages[clickMessageID] = store.ChatMessage{
		ID:     clickMessageID,
		ChatID: clickChatID,
		Role:   store.RoleAssistant,
		Parts: []store.Part{{
			Type: toolPartSendEmail, State: "output-available", ToolCallID: clickToolCall,
			Output: &store.ToolOutput{
				ConfirmationState: store.ConfirmationPending,
				PendingAction:     &store.PendingAction{To: "bob@example.com", Subject: "Hello", Body: "Hi Bob"},
			},
		}},
	}
	f.messages.order = append(f.messages.order, clickMessageID)
	f.channels.channels = []store.LinkedChannel{{
		Provider: platform.TypeSlack, TeamID: "T1", ProviderUserID: "U1",
		EmailAccountID: "acct-1", IsConnected: true, AccessToken: "xoxb-1",
	}}
	f.accounts.accounts["acct-1"] = accountFor("acct-1", "ada@example.com", "google")
}

func draftClick(value string) platform.ActionClick {
	return platform.ActionClick{
		Thread:   platform.Thread{Platform: platform.TypeSlack, ID: "C9:170.1", ChannelID: "C9"},
		UserID:   "U1",
		ActionID: ConfirmActionID,
		Value:    value,
		TeamID:   "T1",
	}
}

func validToken() string {
	return ActionToken(PendingRef{
		ActionType:    ActionSendEmail,
		ChatMessageID: clickMessageID,
		ToolCallID:    clickToolCall,
	})
}

func TestHandleActionClickConfirmsDraft(t *testing.T) {
	f := newFixture(t)
	seedPendingDraft(f)
	f.executor.result = email.Sent{MessageID: "m-77"}

	f.gateway.HandleActionClick(context.Background(), draftClick(validToken()))

	require.Len(t, f.executor.calls, 1)
	call := f.executor.calls[0]
	assert.Equal(t, "acct-1", call.EmailAccountID)
	assert.Equal(t, clickToolCall, call.ToolCallID)
	assert.Equal(t, "bob@example.com", call.Action.To)
	assert.Equal(t, "Hi Bob", call.Action.Body)

	require.Len(t, f.slack.ephemerals, 1)
	assert.Equal(t, "U1: Sent. Open in Gmail: https://mail.google.com/mail/u/0/#all/m-77", f.slack.ephemerals[0])
	assert.Empty(t, f.slack.posts)
}

func TestHandleActionClickMutatedToken(t *testing.T) {
	f := newFixture(t)
	seedPendingDraft(f)

	token := []byte(validToken())
	token[0] ^= 0x01
	f.gateway.HandleActionClick(context.Background(), draftClick(string(token)))

	assert.Empty(t, f.executor.calls)
	require.Len(t, f.slack.ephemerals, 1)
	assert.Equal(t, "U1: "+invalidActionNotice, f.slack.ephemerals[0])
}

func TestHandleActionClickLegacyPayload(t *testing.T) {
	f := newFixture(t)
	seedPendingDraft(f)
	f.executor.result = email.Sent{}

	raw, err := json.Marshal(legacyPayload{
		ActionType:    ActionSendEmail,
		ChatID:        clickChatID,
		ChatMessageID: clickMessageID,
		ToolCallID:    clickToolCall,
	})
	require.NoError(t, err)
	value := base64.RawURLEncoding.EncodeToString(raw)

	f.gateway.HandleActionClick(context.Background(), draftClick(value))

	require.Len(t, f.executor.calls, 1)
	assert.Equal(t, "bob@example.com", f.executor.calls[0].Action.To)
	require.Len(t, f.slack.ephemerals, 1)
	assert.Equal(t, "U1: Sent.", f.slack.ephemerals[0])
}

func TestHandleActionClickLegacyChatMismatch(t *testing.T) {
	f := newFixture(t)
	seedPendingDraft(f)

	raw, err := json.Marshal(legacyPayload{
		ActionType:    ActionSendEmail,
		ChatID:        "slack-C9-999.9",
		ChatMessageID: clickMessageID,
		ToolCallID:    clickToolCall,
	})
	require.NoError(t, err)
	value := base64.RawURLEncoding.EncodeToString(raw)

	f.gateway.HandleActionClick(context.Background(), draftClick(value))

	assert.Empty(t, f.executor.calls)
	require.Len(t, f.slack.ephemerals, 1)
	assert.Equal(t, "U1: "+threadMismatchNotice, f.slack.ephemerals[0])
}

func TestHandleActionClickUnauthorizedUser(t *testing.T) {
	f := newFixture(t)
	seedPendingDraft(f)

	click := draftClick(validToken())
	click.UserID = "U-intruder"
	f.gateway.HandleActionClick(context.Background(), click)

	assert.Empty(t, f.executor.calls)
	require.Len(t, f.slack.ephemerals, 1)
	assert.Equal(t, "U-intruder: "+unauthorizedNotice, f.slack.ephemerals[0])
}

func TestHandleActionClickWrongTeamScope(t *testing.T) {
	f := newFixture(t)
	seedPendingDraft(f)

	click := draftClick(validToken())
	click.TeamID = "T-other"
	f.gateway.HandleActionClick(context.Background(), click)

	assert.Empty(t, f.executor.calls)
	require.Len(t, f.slack.ephemerals, 1)
	assert.Equal(t, "U1: "+unauthorizedNotice, f.slack.ephemerals[0])
}

func TestHandleActionClickMissingChat(t *testing.T) {
	f := newFixture(t)
	seedPendingDraft(f)
	delete(f.chats.chats, clickChatID)

	f.gateway.HandleActionClick(context.Background(), draftClick(validToken()))

	assert.Empty(t, f.executor.calls)
	require.Len(t, f.slack.ephemerals, 1)
	assert.Equal(t, "U1: "+missingDraftNotice, f.slack.ephemerals[0])
}

func TestHandleActionClickExecutionFailure(t *testing.T) {
	f := newFixture(t)
	seedPendingDraft(f)
	f.executor.err = assert.AnError

	f.gateway.HandleActionClick(context.Background(), draftClick(validToken()))

	require.Len(t, f.slack.ephemerals, 1)
	assert.Equal(t, "U1: "+sendFailedNotice, f.slack.ephemerals[0])
}

func TestHandleActionClickTelegramFallsBackToThreadPost(t *testing.T) {
	f := newFixture(t)
	chatID := "telegram-555"
	f.chats.chats[chatID] = store.Chat{ID: chatID, EmailAccountID: "acct-1"}
	messageID := "telegram-42-assistant"
	f.messages.messages[messageID] = store.ChatMessage{
		ID:     messageID,
		ChatID: chatID,
		Role:   store.RoleAssistant,
		Parts: []store.Part{{
			Type: toolPartSendEmail, State: "output-available", ToolCallID: "tc-9",
			Output: &store.ToolOutput{
				ConfirmationState: store.ConfirmationPending,
				PendingAction:     &store.PendingAction{To: "bob@example.com"},
			},
		}},
	}
	f.messages.order = append(f.messages.order, messageID)
	f.channels.channels = []store.LinkedChannel{{
		Provider: platform.TypeTelegram, TeamID: "555", ProviderUserID: "999",
		EmailAccountID: "acct-1", IsConnected: true,
	}}
	f.accounts.accounts["acct-1"] = accountFor("acct-1", "ada@example.com", "microsoft")
	f.executor.result = email.Sent{ThreadID: "th-3"}

	f.gateway.HandleActionClick(context.Background(), platform.ActionClick{
		Thread:   platform.Thread{Platform: platform.TypeTelegram, ID: "555", IsDM: true},
		UserID:   "999",
		ActionID: LegacyConfirmActionID,
		Value: ActionToken(PendingRef{
			ActionType:    ActionSendEmail,
			ChatMessageID: messageID,
			ToolCallID:    "tc-9",
		}),
		TeamID: "555",
	})

	require.Len(t, f.executor.calls, 1)
	// Telegram has no ephemeral channel; feedback lands in the thread.
	assert.Contains(t, f.telegram.postedTexts(),
		"Sent. Open in Outlook: https://outlook.office.com/mail/deeplink/read/th-3")
}
