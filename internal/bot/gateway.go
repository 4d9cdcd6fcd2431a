// Package bot implements the assistant gateway protocol: it turns normalized
// inbound platform events into authorized assistant conversations and
// mediates the pending email confirmation flow.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mailbridge/mailbridge/internal/assistant"
	"github.com/mailbridge/mailbridge/internal/email"
	"github.com/mailbridge/mailbridge/internal/identity"
	"github.com/mailbridge/mailbridge/internal/platform"
	"github.com/mailbridge/mailbridge/internal/store"
)

const processingAckText = "\U0001F440 Working on it..."

const assistantFailureText = "Sorry, I ran into an error processing your message. Please try again."

// ChatStore is the chat persistence the gateway needs.
type ChatStore interface {
	Upsert(ctx context.Context, chatID, emailAccountID string) (store.Chat, error)
	Get(ctx context.Context, chatID string) (store.Chat, error)
}

// MessageStore is the transcript persistence the gateway needs.
type MessageStore interface {
	Upsert(ctx context.Context, msg store.ChatMessage) error
	CreateAssistant(ctx context.Context, msg store.ChatMessage) error
	Exists(ctx context.Context, messageID string) (bool, error)
	ListRecentAssistant(ctx context.Context, chatID string, limit int) ([]store.ChatMessage, error)
}

// ChannelStore is the linked-channel lookup surface the gateway needs.
type ChannelStore interface {
	Upsert(ctx context.Context, ch store.LinkedChannel) (store.LinkedChannel, error)
	FindConnected(ctx context.Context, provider platform.Type, teamID, providerUserID string) ([]store.LinkedChannel, error)
	FindConnectedByUser(ctx context.Context, provider platform.Type, providerUserID string) ([]store.LinkedChannel, error)
	FindAuthorized(ctx context.Context, provider platform.Type, emailAccountID, providerUserID, teamID string) (bool, error)
}

// LinkCodes consumes connect codes.
type LinkCodes interface {
	Consume(ctx context.Context, code string, provider platform.Type) (string, bool)
}

// Deps wires the gateway's collaborators.
type Deps struct {
	Registry  *platform.Registry
	Chats     ChatStore
	Messages  MessageStore
	Channels  ChannelStore
	LinkCodes LinkCodes
	Assistant assistant.Service
	Stats     assistant.InboxStatsProvider
	Memories  assistant.MemoryProvider
	Accounts  email.Accounts
	Executor  email.Executor
}

// Gateway is the per-event protocol core. It holds no per-event state; every
// inbound event is one independent unit of work.
type Gateway struct {
	registry  *platform.Registry
	chats     ChatStore
	messages  MessageStore
	channels  ChannelStore
	linkCodes LinkCodes
	assistant assistant.Service
	stats     assistant.InboxStatsProvider
	memories  assistant.MemoryProvider
	accounts  email.Accounts
	executor  email.Executor
	logger    *slog.Logger
}

// New creates the gateway.
func New(log *slog.Logger, deps Deps) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		registry:  deps.Registry,
		chats:     deps.Chats,
		messages:  deps.Messages,
		channels:  deps.Channels,
		linkCodes: deps.LinkCodes,
		assistant: deps.Assistant,
		stats:     deps.Stats,
		memories:  deps.Memories,
		accounts:  deps.Accounts,
		executor:  deps.Executor,
		logger:    log.With(slog.String("service", "bot")),
	}
}

// InboundEvent is one normalized platform message delivery.
type InboundEvent struct {
	Thread  platform.Thread
	Message identity.Message
	Raw     identity.Raw
}

// HandleInboundEvent processes one inbound message end to end and reports
// whether it was handled. Unhandled events (unknown sender, empty text) are
// not errors; the webhook layer simply acknowledges them.
func (g *Gateway) HandleInboundEvent(ctx context.Context, ev InboundEvent) (bool, error) {
	if handled, err := g.handleLinkCommand(ctx, ev); handled || err != nil {
		return handled, err
	}

	cleanup := g.startProcessingIndicator(ctx, ev.Thread, ev.Message.ID)
	defer cleanup()

	resolved, err := g.resolveContext(ctx, ev)
	if err != nil || resolved == nil {
		return false, err
	}

	log := g.logger.With(
		slog.String("provider", resolved.Provider.String()),
		slog.String("email_account_id", resolved.EmailAccountID),
		slog.String("chat_id", resolved.ChatID),
	)

	chat, err := g.chats.Upsert(ctx, resolved.ChatID, resolved.EmailAccountID)
	if err != nil {
		return false, err
	}

	userMessageID := resolved.Provider.String() + "-" + ev.Message.ID
	userMessage := store.ChatMessage{
		ID:     userMessageID,
		ChatID: chat.ID,
		Role:   store.RoleUser,
		Parts:  []store.Part{{Type: "text", Text: resolved.MessageText}},
	}
	if err := g.messages.Upsert(ctx, userMessage); err != nil {
		return false, err
	}

	assistantMessageID := userMessageID + "-assistant"
	exists, err := g.messages.Exists(ctx, assistantMessageID)
	if err != nil {
		return false, err
	}
	if exists {
		log.Info("skipping already-answered event", slog.String("assistant_message_id", assistantMessageID))
		return true, nil
	}

	if err := g.converse(ctx, log, resolved, chat, userMessage, assistantMessageID); err != nil {
		if errors.Is(err, store.ErrDuplicateMessage) {
			log.Info("skipping duplicate assistant response for retried event",
				slog.String("assistant_message_id", assistantMessageID))
			return true, nil
		}
		log.Error("assistant processing failed", slog.Any("error", err))
		g.postThreadNotice(ctx, ev.Thread, assistantFailureText)
		return true, nil
	}

	g.subscribeThread(ctx, ev.Thread)
	return true, nil
}

// converse invokes the assistant for one event, persists the reply, and posts
// it back into the thread together with a confirmation card when the reply
// proposes a pending email.
func (g *Gateway) converse(ctx context.Context, log *slog.Logger, resolved *Context, chat store.Chat, userMessage store.ChatMessage, assistantMessageID string) error {
	stats, memories := g.fetchAuxContext(ctx, log, resolved.EmailAccountID)

	history := append(append([]store.ChatMessage{}, chat.Messages...), userMessage)
	chunks, errs := g.assistant.Invoke(ctx, assistant.Request{
		Messages:       history,
		EmailAccountID: resolved.EmailAccountID,
		ChatID:         chat.ID,
		Memories:       memories,
		InboxStats:     stats,
		Platform:       resolved.Provider,
	})

	reply, err := assistant.CollectFinalMessage(ctx, chunks, errs, assistantMessageID)
	if err != nil {
		return err
	}
	reply.ChatID = chat.ID

	if err := g.messages.CreateAssistant(ctx, reply); err != nil {
		return err
	}

	text := NormalizeAssistantText(assistant.MessageText(reply), resolved.Provider)
	if _, err := g.post(ctx, resolved.Thread, platform.Content{Text: text, Markdown: true}); err != nil {
		return fmt.Errorf("post assistant reply: %w", err)
	}

	if parts := pendingToolParts(reply.Parts); len(parts) > 0 {
		g.postPendingCard(ctx, log, resolved.Thread, assistantMessageID, parts[0])
	}
	return nil
}

// fetchAuxContext issues the inbox-stats and memory fetches concurrently.
// Either failing degrades the assistant context, never the event.
func (g *Gateway) fetchAuxContext(ctx context.Context, log *slog.Logger, emailAccountID string) (*assistant.InboxStats, []string) {
	var (
		wg       sync.WaitGroup
		stats    *assistant.InboxStats
		memories []string
	)
	if g.stats != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := g.stats.InboxStats(ctx, emailAccountID)
			if err != nil {
				log.Warn("inbox stats fetch failed", slog.Any("error", err))
				return
			}
			stats = &s
		}()
	}
	if g.memories != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := g.memories.RecentMemories(ctx, emailAccountID)
			if err != nil {
				log.Warn("memory fetch failed", slog.Any("error", err))
				return
			}
			memories = m
		}()
	}
	wg.Wait()
	return stats, memories
}

// postPendingCard posts the confirmation card for a pending email tool part.
// Posting failures are logged, never escalated.
func (g *Gateway) postPendingCard(ctx context.Context, log *slog.Logger, thread platform.Thread, chatMessageID string, part store.Part) {
	actionType, ok := actionTypeForToolPart(part.Type)
	if !ok {
		return
	}
	token := ActionToken(PendingRef{
		ActionType:    actionType,
		ChatMessageID: chatMessageID,
		ToolCallID:    part.ToolCallID,
	})

	var action store.PendingAction
	if part.Output != nil && part.Output.PendingAction != nil {
		action = *part.Output.PendingAction
	}
	card := &platform.Card{
		Title: "Ready to send",
		Body:  pendingSummary(actionType, action),
		Button: platform.Button{
			ID:    ConfirmActionID,
			Label: "Send",
			Value: token,
		},
	}
	if _, err := g.post(ctx, thread, platform.Content{Card: card}); err != nil {
		log.Warn("failed to post pending email confirmation card",
			slog.String("action_type", actionType),
			slog.Any("error", err),
		)
	}
}

func pendingSummary(actionType string, action store.PendingAction) string {
	label := "new email"
	switch actionType {
	case ActionReplyEmail:
		label = "reply"
	case ActionForwardEmail:
		label = "forward"
	}
	to := strings.TrimSpace(action.To)
	subject := strings.TrimSpace(action.Subject)
	switch {
	case to != "" && subject != "":
		return fmt.Sprintf("Confirm this %s to %s with subject %q.", label, to, subject)
	case to != "":
		return fmt.Sprintf("Confirm this %s to %s.", label, to)
	case subject != "":
		return fmt.Sprintf("Confirm this %s with subject %q.", label, subject)
	default:
		return fmt.Sprintf("Confirm this %s.", label)
	}
}

// post delivers content through the thread's adapter.
func (g *Gateway) post(ctx context.Context, thread platform.Thread, content platform.Content) (string, error) {
	adapter, ok := g.registry.Get(thread.Platform)
	if !ok {
		return "", fmt.Errorf("no adapter for platform %s", thread.Platform)
	}
	return adapter.Post(ctx, thread, content)
}

// postThreadNotice posts a plain notice, logging failures instead of
// returning them.
func (g *Gateway) postThreadNotice(ctx context.Context, thread platform.Thread, text string) {
	if _, err := g.post(ctx, thread, platform.Content{Text: text}); err != nil {
		g.logger.Error("failed to post thread notice",
			slog.String("provider", thread.Platform.String()),
			slog.Any("error", err),
		)
	}
}

// subscribeThread subscribes the bot to follow-ups, best effort.
func (g *Gateway) subscribeThread(ctx context.Context, thread platform.Thread) {
	subscriber, ok := g.registry.Subscriber(thread.Platform)
	if !ok {
		return
	}
	if err := subscriber.Subscribe(ctx, thread); err != nil {
		g.logger.Warn("failed to subscribe thread",
			slog.String("provider", thread.Platform.String()),
			slog.String("thread_id", thread.ID),
			slog.Any("error", err),
		)
	}
}

// chatIDForThread derives the durable chat key for a thread.
func (g *Gateway) chatIDForThread(thread platform.Thread) (string, error) {
	if thread.Platform == platform.TypeSlack {
		adapter, ok := g.registry.Get(platform.TypeSlack)
		if !ok {
			return "", fmt.Errorf("no adapter for platform %s", thread.Platform)
		}
		ref, err := adapter.DecodeThreadID(thread.ID)
		if err != nil {
			return "", err
		}
		return identity.SlackChatID(ref.Channel, ref.ThreadTS), nil
	}
	return identity.LinkedChatID(thread.Platform, thread.ID), nil
}
