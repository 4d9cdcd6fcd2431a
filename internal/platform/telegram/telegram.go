// Package telegram implements the Telegram platform adapter on top of the
// Bot API. Cards are rendered as inline-keyboard buttons and markdown replies
// are flattened to plain text before sending.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/mailbridge/mailbridge/internal/platform"
)

const maxMessageLength = 4096

// reactionEmoji maps reaction names to the literal emoji Telegram expects.
var reactionEmoji = map[string]string{
	"eyes":             "\U0001F440",
	"white_check_mark": "✅",
	"x":                "❌",
}

// Adapter implements platform.Adapter, platform.Reactor, and platform.Deleter
// for Telegram bots.
type Adapter struct {
	logger *slog.Logger
	token  string

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

// NewAdapter creates a Telegram adapter for the given bot token. The Bot API
// client is created on first use.
func NewAdapter(log *slog.Logger, botToken string) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	adapter := &Adapter{
		logger: log.With(slog.String("adapter", "telegram")),
		token:  strings.TrimSpace(botToken),
	}
	_ = tgbotapi.SetLogger(&slogBotLogger{log: adapter.logger})
	return adapter
}

func (a *Adapter) getBot() (*tgbotapi.BotAPI, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bot != nil {
		return a.bot, nil
	}
	if a.token == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	bot, err := tgbotapi.NewBotAPI(a.token)
	if err != nil {
		a.logger.Error("create bot failed", slog.Any("error", err))
		return nil, err
	}
	a.bot = bot
	return bot, nil
}

// BotUsername returns the bot's username, used to strip mentions from group
// messages. Empty when the bot has not been contacted yet.
func (a *Adapter) BotUsername() string {
	bot, err := a.getBot()
	if err != nil {
		return ""
	}
	return bot.Self.UserName
}

// Type returns the Telegram platform type.
func (a *Adapter) Type() platform.Type {
	return platform.TypeTelegram
}

// DecodeThreadID parses a Telegram thread id. Telegram threads are keyed by
// the numeric chat id alone.
func (a *Adapter) DecodeThreadID(threadID string) (platform.ThreadRef, error) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return platform.ThreadRef{}, fmt.Errorf("telegram thread id is required")
	}
	if _, err := strconv.ParseInt(threadID, 10, 64); err != nil {
		return platform.ThreadRef{}, fmt.Errorf("telegram thread id must be a chat id: %q", threadID)
	}
	return platform.ThreadRef{ChatID: threadID}, nil
}

// Post sends a message to the chat. Markdown is flattened to plain text and
// cards become a text body with an inline-keyboard button.
func (a *Adapter) Post(ctx context.Context, thread platform.Thread, content platform.Content) (string, error) {
	bot, err := a.getBot()
	if err != nil {
		return "", err
	}
	ref, err := a.DecodeThreadID(thread.ID)
	if err != nil {
		return "", err
	}
	chatID, err := strconv.ParseInt(ref.ChatID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("parse telegram chat id: %w", err)
	}

	if content.Card != nil {
		return a.postCard(bot, chatID, content.Card)
	}

	text := content.Text
	if content.Markdown {
		text = FlattenMarkdown(text)
	}
	text = truncateText(text)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("telegram message text is required")
	}
	sent, err := bot.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return "", fmt.Errorf("send telegram message: %w", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

func (a *Adapter) postCard(bot *tgbotapi.BotAPI, chatID int64, card *platform.Card) (string, error) {
	body := card.Body
	if card.Title != "" {
		body = card.Title + "\n\n" + body
	}
	msg := tgbotapi.NewMessage(chatID, truncateText(FlattenMarkdown(body)))
	if card.Button.ID != "" {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(card.Button.Label, EncodeCallbackData(card.Button.ID, card.Button.Value)),
			),
		)
	}
	sent, err := bot.Send(msg)
	if err != nil {
		return "", fmt.Errorf("send telegram card: %w", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

// EncodeCallbackData packs an action id and value into callback data.
// Telegram caps callback data at 64 bytes, which fits the digest token form
// but not legacy payloads.
func EncodeCallbackData(actionID, value string) string {
	return actionID + "|" + value
}

// DecodeCallbackData splits callback data back into action id and value.
func DecodeCallbackData(data string) (actionID, value string) {
	actionID, value, _ = strings.Cut(data, "|")
	return actionID, value
}

// AddReaction sets an emoji reaction on the message.
func (a *Adapter) AddReaction(ctx context.Context, thread platform.Thread, messageID, emoji string) error {
	bot, err := a.getBot()
	if err != nil {
		return err
	}
	ref, err := a.DecodeThreadID(thread.ID)
	if err != nil {
		return err
	}
	return setReaction(bot, ref.ChatID, messageID, fmt.Sprintf(`[{"type":"emoji","emoji":"%s"}]`, literalEmoji(emoji)))
}

// RemoveReaction clears the bot's reactions on the message. Telegram removes
// all bot reactions at once, so the emoji argument is ignored.
func (a *Adapter) RemoveReaction(ctx context.Context, thread platform.Thread, messageID, _ string) error {
	bot, err := a.getBot()
	if err != nil {
		return err
	}
	ref, err := a.DecodeThreadID(thread.ID)
	if err != nil {
		return err
	}
	return setReaction(bot, ref.ChatID, messageID, "[]")
}

func setReaction(bot *tgbotapi.BotAPI, chatID, messageID, reaction string) error {
	params := tgbotapi.Params{}
	params.AddNonEmpty("chat_id", chatID)
	params.AddNonEmpty("message_id", messageID)
	params.AddNonEmpty("reaction", reaction)
	_, err := bot.MakeRequest("setMessageReaction", params)
	return err
}

func literalEmoji(name string) string {
	if emoji, ok := reactionEmoji[name]; ok {
		return emoji
	}
	return name
}

// Delete removes a message the bot previously posted.
func (a *Adapter) Delete(ctx context.Context, thread platform.Thread, messageID string) error {
	bot, err := a.getBot()
	if err != nil {
		return err
	}
	ref, err := a.DecodeThreadID(thread.ID)
	if err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(ref.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("parse telegram chat id: %w", err)
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("parse telegram message id: %w", err)
	}
	if _, err := bot.Request(tgbotapi.NewDeleteMessage(chatID, msgID)); err != nil {
		return fmt.Errorf("delete telegram message: %w", err)
	}
	return nil
}

// AnswerCallback acknowledges a callback query so the client stops showing
// the loading spinner.
func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string) error {
	bot, err := a.getBot()
	if err != nil {
		return err
	}
	_, err = bot.Request(tgbotapi.NewCallback(callbackID, ""))
	return err
}

// slogBotLogger routes Bot API library logging through slog.
type slogBotLogger struct {
	log *slog.Logger
}

func (l *slogBotLogger) Println(v ...interface{}) {
	l.log.Debug(fmt.Sprint(v...))
}

func (l *slogBotLogger) Printf(format string, v ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, v...))
}

func truncateText(text string) string {
	if len(text) <= maxMessageLength {
		return text
	}
	const suffix = "..."
	limit := maxMessageLength - len(suffix)
	for limit > 0 && text[limit]&0xC0 == 0x80 {
		limit--
	}
	return text[:limit] + suffix
}
