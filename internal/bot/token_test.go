package bot

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailbridge/mailbridge/internal/store"
)

func TestActionTokenIsShortAndDeterministic(t *testing.T) {
	ref := PendingRef{ActionType: ActionSendEmail, ChatMessageID: "slack-1-assistant", ToolCallID: "tc-1"}
	token := ActionToken(ref)
	assert.Len(t, token, 16)
	assert.Equal(t, token, ActionToken(ref))
	assert.LessOrEqual(t, len(token), maxTokenLength)

	// Every field participates in the digest.
	assert.NotEqual(t, token, ActionToken(PendingRef{ActionType: ActionReplyEmail, ChatMessageID: "slack-1-assistant", ToolCallID: "tc-1"}))
	assert.NotEqual(t, token, ActionToken(PendingRef{ActionType: ActionSendEmail, ChatMessageID: "slack-2-assistant", ToolCallID: "tc-1"}))
	assert.NotEqual(t, token, ActionToken(PendingRef{ActionType: ActionSendEmail, ChatMessageID: "slack-1-assistant", ToolCallID: "tc-2"}))
}

func TestParseClickValue(t *testing.T) {
	t.Run("legacy payload", func(t *testing.T) {
		raw, err := json.Marshal(legacyPayload{
			ActionType:    ActionForwardEmail,
			ChatID:        "teams-a-1",
			ChatMessageID: "teams-m1-assistant",
			ToolCallID:    "tc-3",
		})
		require.NoError(t, err)
		parsed := parseClickValue(base64.RawURLEncoding.EncodeToString(raw))
		require.NotNil(t, parsed)
		require.NotNil(t, parsed.Legacy)
		assert.Equal(t, ActionForwardEmail, parsed.Legacy.ActionType)
		assert.Equal(t, "teams-a-1", parsed.Legacy.ChatID)
	})

	t.Run("legacy payload with unknown action type", func(t *testing.T) {
		raw, err := json.Marshal(map[string]string{
			"actionType":    "delete_everything",
			"chatId":        "teams-a-1",
			"chatMessageId": "m1",
			"toolCallId":    "tc-1",
		})
		require.NoError(t, err)
		// Fails legacy validation and is too long for the token form.
		assert.Nil(t, parseClickValue(base64.RawURLEncoding.EncodeToString(raw)))
	})

	t.Run("short token", func(t *testing.T) {
		parsed := parseClickValue("abc123TOKEN")
		require.NotNil(t, parsed)
		assert.Nil(t, parsed.Legacy)
		assert.Equal(t, "abc123TOKEN", parsed.Token)
	})

	t.Run("oversized value", func(t *testing.T) {
		assert.Nil(t, parseClickValue(strings.Repeat("%", maxTokenLength+1)))
	})

	t.Run("empty value", func(t *testing.T) {
		assert.Nil(t, parseClickValue(""))
		assert.Nil(t, parseClickValue("   "))
	})
}

func TestPendingToolParts(t *testing.T) {
	pendingPart := store.Part{
		Type: toolPartSendEmail, State: "output-available", ToolCallID: "tc-1",
		Output: &store.ToolOutput{ConfirmationState: store.ConfirmationPending},
	}
	parts := []store.Part{
		{Type: "text", Text: "draft ready"},
		{Type: toolPartReplyEmail, State: "output-available", ToolCallID: "tc-0",
			Output: &store.ToolOutput{ConfirmationState: "confirmed"}},
		{Type: toolPartSendEmail, State: "input-available", ToolCallID: "tc-2",
			Output: &store.ToolOutput{ConfirmationState: store.ConfirmationPending}},
		{Type: toolPartSendEmail, State: "output-available",
			Output: &store.ToolOutput{ConfirmationState: store.ConfirmationPending}},
		pendingPart,
	}

	pending := pendingToolParts(parts)
	require.Len(t, pending, 1)
	assert.Equal(t, "tc-1", pending[0].ToolCallID)
}

func TestMatchTokenScansMostRecentFirst(t *testing.T) {
	build := func(id, toolCallID string) store.ChatMessage {
		return store.ChatMessage{
			ID:   id,
			Role: store.RoleAssistant,
			Parts: []store.Part{{
				Type: toolPartSendEmail, State: "output-available", ToolCallID: toolCallID,
				Output: &store.ToolOutput{
					ConfirmationState: store.ConfirmationPending,
					PendingAction:     &store.PendingAction{To: "x@example.com"},
				},
			}},
		}
	}
	// Most recent first, as the store returns them.
	messages := []store.ChatMessage{build("m2-assistant", "tc-b"), build("m1-assistant", "tc-a")}

	ref, action, ok := matchToken(messages, ActionToken(PendingRef{
		ActionType:    ActionSendEmail,
		ChatMessageID: "m1-assistant",
		ToolCallID:    "tc-a",
	}))
	require.True(t, ok)
	assert.Equal(t, "m1-assistant", ref.ChatMessageID)
	assert.Equal(t, "tc-a", ref.ToolCallID)
	assert.Equal(t, "x@example.com", action.To)

	_, _, ok = matchToken(messages, "nosuchtoken")
	assert.False(t, ok)
}

func TestIsConfirmAction(t *testing.T) {
	assert.True(t, IsConfirmAction(ConfirmActionID))
	assert.True(t, IsConfirmAction(LegacyConfirmActionID))
	assert.False(t, IsConfirmAction("open_settings"))
}
