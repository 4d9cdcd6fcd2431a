package bot

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/mailbridge/mailbridge/internal/email"
	"github.com/mailbridge/mailbridge/internal/platform"
	"github.com/mailbridge/mailbridge/internal/store"
)

// Confirmation click notices.
const (
	invalidActionNotice  = "That action is invalid or expired. Ask me to prepare the email again."
	threadMismatchNotice = "This action no longer matches this thread. Ask me to prepare it again."
	missingDraftNotice   = "I couldn't find that draft anymore. Ask me to prepare it again."
	unauthorizedNotice   = "You don't have permission to confirm this draft."
	accountAccessNotice  = "I couldn't access this email account right now. Please try again."
	sendFailedNotice     = "I couldn't send that draft. Please try again."
)

// HandleActionClick processes one confirmation button click. Every outcome,
// success or rejection, surfaces as user feedback; nothing propagates to the
// webhook layer.
func (g *Gateway) HandleActionClick(ctx context.Context, click platform.ActionClick) {
	if !IsConfirmAction(click.ActionID) {
		return
	}
	provider := click.Thread.Platform
	log := g.logger.With(slog.String("provider", provider.String()))

	parsed := parseClickValue(click.Value)

	chatID, err := g.chatIDForThread(click.Thread)
	if err != nil || chatID == "" {
		g.postActionFeedback(ctx, click, invalidActionNotice)
		return
	}

	if parsed != nil && parsed.Legacy != nil && parsed.Legacy.ChatID != chatID {
		log.Warn("action chat mismatch for pending email confirmation",
			slog.String("expected_chat_id", chatID),
			slog.String("payload_chat_id", parsed.Legacy.ChatID),
		)
		g.postActionFeedback(ctx, click, threadMismatchNotice)
		return
	}

	chat, err := g.chats.Get(ctx, chatID)
	if errors.Is(err, store.ErrChatNotFound) {
		g.postActionFeedback(ctx, click, missingDraftNotice)
		return
	}
	if err != nil {
		log.Error("chat lookup failed for action click", slog.Any("error", err))
		g.postActionFeedback(ctx, click, accountAccessNotice)
		return
	}

	authorized, err := g.channels.FindAuthorized(ctx, provider, chat.EmailAccountID, click.UserID, click.TeamID)
	if err != nil {
		log.Error("authorization lookup failed for action click", slog.Any("error", err))
		g.postActionFeedback(ctx, click, accountAccessNotice)
		return
	}
	if !authorized {
		g.postActionFeedback(ctx, click, unauthorizedNotice)
		return
	}

	account, err := g.accounts.GetAccount(ctx, chat.EmailAccountID)
	if err != nil {
		log.Error("account lookup failed for action click",
			slog.String("email_account_id", chat.EmailAccountID),
			slog.Any("error", err),
		)
		g.postActionFeedback(ctx, click, accountAccessNotice)
		return
	}

	ref, action, ok := g.resolvePendingAction(ctx, log, chatID, parsed)
	if !ok {
		g.postActionFeedback(ctx, click, invalidActionNotice)
		return
	}

	sent, err := g.executor.ConfirmPendingAction(ctx, chat.EmailAccountID, ref.ToolCallID, action)
	if err != nil {
		log.Warn("pending email confirmation failed",
			slog.String("action_type", ref.ActionType),
			slog.Any("error", err),
		)
		g.postActionFeedback(ctx, click, sendFailedNotice)
		return
	}

	g.postActionFeedback(ctx, click, successFeedback(sent, account))
}

// resolvePendingAction turns a parsed click value into a verified action
// reference. Legacy payloads carry the reference directly; short tokens are
// verified by recomputing digests over the chat's recent assistant messages.
func (g *Gateway) resolvePendingAction(ctx context.Context, log *slog.Logger, chatID string, parsed *clickValue) (PendingRef, store.PendingAction, bool) {
	if parsed == nil {
		return PendingRef{}, store.PendingAction{}, false
	}

	messages, err := g.messages.ListRecentAssistant(ctx, chatID, tokenScanLimit)
	if err != nil {
		log.Error("assistant message scan failed", slog.Any("error", err))
		return PendingRef{}, store.PendingAction{}, false
	}

	if parsed.Legacy != nil {
		ref := PendingRef{
			ActionType:    parsed.Legacy.ActionType,
			ChatMessageID: parsed.Legacy.ChatMessageID,
			ToolCallID:    parsed.Legacy.ToolCallID,
		}
		return ref, findStoredAction(messages, ref), true
	}
	return matchToken(messages, parsed.Token)
}

// findStoredAction recovers the stored pending action content for a legacy
// reference. Content may be absent for very old drafts; the executor then
// relies on the tool call id alone.
func findStoredAction(messages []store.ChatMessage, ref PendingRef) store.PendingAction {
	for _, msg := range messages {
		if msg.ID != ref.ChatMessageID {
			continue
		}
		for _, part := range pendingToolParts(msg.Parts) {
			if part.ToolCallID == ref.ToolCallID && part.Output.PendingAction != nil {
				return *part.Output.PendingAction
			}
		}
	}
	return store.PendingAction{}
}

// successFeedback renders the execution result. Without identifiable message
// ids the acknowledgment stays plain.
func successFeedback(sent email.Sent, account email.Account) string {
	messageID := strings.TrimSpace(sent.MessageID)
	if messageID == "" {
		messageID = strings.TrimSpace(sent.ThreadID)
	}
	if messageID == "" {
		return "Sent."
	}
	mailbox := email.MailboxName(account.Provider)
	if mailbox == "" {
		mailbox = "Gmail"
	}
	return "Sent. Open in " + mailbox + ": " + email.DeepLink(account.Provider, messageID)
}

// postActionFeedback delivers click feedback ephemerally where the platform
// supports it, falling back to a plain thread post. Failures are logged,
// never surfaced.
func (g *Gateway) postActionFeedback(ctx context.Context, click platform.ActionClick, text string) {
	if poster, ok := g.registry.Ephemeral(click.Thread.Platform); ok {
		err := poster.PostEphemeral(ctx, click.Thread, click.UserID, text)
		if err == nil {
			return
		}
		g.logger.Warn("failed to post ephemeral action feedback",
			slog.String("provider", click.Thread.Platform.String()),
			slog.Any("error", err),
		)
	}
	g.postThreadNotice(ctx, click.Thread, text)
}
