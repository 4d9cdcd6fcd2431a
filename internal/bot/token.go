package bot

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/mailbridge/mailbridge/internal/store"
)

// Action ids carried by confirmation card buttons. The short id is current;
// the long one is still delivered by cards posted before the token scheme.
const (
	ConfirmActionID       = "acpe"
	LegacyConfirmActionID = "assistant_confirm_pending_email"
)

// Pending email action types.
const (
	ActionSendEmail    = "send_email"
	ActionReplyEmail   = "reply_email"
	ActionForwardEmail = "forward_email"
)

// maxTokenLength bounds the short-token form of a click value.
const maxTokenLength = 64

// tokenScanLimit bounds the most-recent-first assistant message scan during
// token verification.
const tokenScanLimit = 50

// IsConfirmAction reports whether an action id belongs to the pending email
// confirmation protocol.
func IsConfirmAction(actionID string) bool {
	return actionID == ConfirmActionID || actionID == LegacyConfirmActionID
}

// PendingRef identifies one proposed email action inside a transcript.
type PendingRef struct {
	ActionType    string
	ChatMessageID string
	ToolCallID    string
}

// ActionToken derives the opaque button value for a pending action: a
// truncated digest short enough for every platform's control value limit.
func ActionToken(ref PendingRef) string {
	sum := sha256.Sum256([]byte(ref.ActionType + ":" + ref.ChatMessageID + ":" + ref.ToolCallID))
	return base64.RawURLEncoding.EncodeToString(sum[:])[:16]
}

// legacyPayload is the pre-token click value: the full action reference as
// base64url JSON.
type legacyPayload struct {
	ActionType    string `json:"actionType"`
	ChatID        string `json:"chatId"`
	ChatMessageID string `json:"chatMessageId"`
	ToolCallID    string `json:"toolCallId"`
}

// clickValue is the parsed form of a confirmation button value. Exactly one
// of Legacy and Token is set.
type clickValue struct {
	Legacy *legacyPayload
	Token  string
}

// parseClickValue decodes a button value. Legacy payloads take precedence;
// anything else within the length bound is treated as a short token.
func parseClickValue(value string) *clickValue {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if legacy := decodeLegacyPayload(value); legacy != nil {
		return &clickValue{Legacy: legacy}
	}
	if len(value) > maxTokenLength {
		return nil
	}
	return &clickValue{Token: value}
}

func decodeLegacyPayload(value string) *legacyPayload {
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil
	}
	var payload legacyPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil
	}
	if payload.ChatID == "" || payload.ChatMessageID == "" || payload.ToolCallID == "" {
		return nil
	}
	switch payload.ActionType {
	case ActionSendEmail, ActionReplyEmail, ActionForwardEmail:
		return &payload
	default:
		return nil
	}
}

// Pending email tool part types in stored transcripts.
const (
	toolPartSendEmail    = "tool-sendEmail"
	toolPartReplyEmail   = "tool-replyEmail"
	toolPartForwardEmail = "tool-forwardEmail"
)

func actionTypeForToolPart(partType string) (string, bool) {
	switch partType {
	case toolPartSendEmail:
		return ActionSendEmail, true
	case toolPartReplyEmail:
		return ActionReplyEmail, true
	case toolPartForwardEmail:
		return ActionForwardEmail, true
	default:
		return "", false
	}
}

// pendingToolParts returns the message's pending email tool parts, newest
// part first.
func pendingToolParts(parts []store.Part) []store.Part {
	var pending []store.Part
	for i := len(parts) - 1; i >= 0; i-- {
		part := parts[i]
		if part.State != "output-available" {
			continue
		}
		if _, ok := actionTypeForToolPart(part.Type); !ok {
			continue
		}
		if part.Output == nil || part.Output.ConfirmationState != store.ConfirmationPending {
			continue
		}
		if part.ToolCallID == "" {
			continue
		}
		pending = append(pending, part)
	}
	return pending
}

// matchToken searches stored assistant messages, most recent first, for the
// pending tool part whose recomputed token equals the clicked one. The first
// match wins. Returns the matched reference and the stored pending action.
func matchToken(messages []store.ChatMessage, token string) (PendingRef, store.PendingAction, bool) {
	for _, msg := range messages {
		for _, part := range pendingToolParts(msg.Parts) {
			actionType, _ := actionTypeForToolPart(part.Type)
			ref := PendingRef{
				ActionType:    actionType,
				ChatMessageID: msg.ID,
				ToolCallID:    part.ToolCallID,
			}
			if ActionToken(ref) != token {
				continue
			}
			var action store.PendingAction
			if part.Output.PendingAction != nil {
				action = *part.Output.PendingAction
			}
			return ref, action, true
		}
	}
	return PendingRef{}, store.PendingAction{}, false
}
