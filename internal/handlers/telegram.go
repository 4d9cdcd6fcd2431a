package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/labstack/echo/v4"

	"github.com/mailbridge/mailbridge/internal/bot"
	"github.com/mailbridge/mailbridge/internal/identity"
	"github.com/mailbridge/mailbridge/internal/platform"
	telegramplatform "github.com/mailbridge/mailbridge/internal/platform/telegram"
)

// TelegramHandler terminates the Telegram webhook. Requests are authenticated
// by the secret token registered with setWebhook.
type TelegramHandler struct {
	logger        *slog.Logger
	gateway       InboundGateway
	adapter       *telegramplatform.Adapter
	webhookSecret string
}

func NewTelegramHandler(log *slog.Logger, gateway InboundGateway, adapter *telegramplatform.Adapter, webhookSecret string) *TelegramHandler {
	if log == nil {
		log = slog.Default()
	}
	return &TelegramHandler{
		logger:        log.With(slog.String("handler", "telegram")),
		gateway:       gateway,
		adapter:       adapter,
		webhookSecret: strings.TrimSpace(webhookSecret),
	}
}

func (h *TelegramHandler) Register(e *echo.Echo) {
	e.POST("/webhooks/telegram", h.Updates)
}

// Updates receives one Bot API update per request.
func (h *TelegramHandler) Updates(c echo.Context) error {
	if h.webhookSecret != "" &&
		c.Request().Header.Get("X-Telegram-Bot-Api-Secret-Token") != h.webhookSecret {
		h.logger.Warn("rejected telegram update with bad secret token")
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid secret token")
	}

	var update tgbotapi.Update
	if err := c.Bind(&update); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed update")
	}

	if update.CallbackQuery != nil {
		h.handleCallback(update.CallbackQuery)
		return c.NoContent(http.StatusOK)
	}
	if ev, ok := h.inboundEvent(update.Message); ok {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
			defer cancel()
			if _, err := h.gateway.HandleInboundEvent(ctx, ev); err != nil {
				h.logger.Error("inbound update failed",
					slog.String("thread_id", ev.Thread.ID),
					slog.Any("error", err),
				)
			}
		}()
	}
	return c.NoContent(http.StatusOK)
}

func (h *TelegramHandler) inboundEvent(msg *tgbotapi.Message) (bot.InboundEvent, bool) {
	if msg == nil || msg.From == nil || msg.Chat == nil || msg.From.IsBot {
		return bot.InboundEvent{}, false
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		text = strings.TrimSpace(msg.Caption)
	}
	if text == "" {
		return bot.InboundEvent{}, false
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	return bot.InboundEvent{
		Thread: platform.Thread{
			Platform:  platform.TypeTelegram,
			ID:        chatID,
			ChannelID: chatID,
			IsDM:      msg.Chat.IsPrivate(),
			TeamID:    chatID,
		},
		Message: identity.Message{
			ID:       strconv.Itoa(msg.MessageID),
			Text:     text,
			AuthorID: strconv.FormatInt(msg.From.ID, 10),
		},
		Raw: identity.Raw{Telegram: &identity.TelegramEvent{
			ChatID:        chatID,
			ChatTitle:     msg.Chat.Title,
			ChatUsername:  msg.Chat.UserName,
			ChatFirstName: msg.Chat.FirstName,
			ChatLastName:  msg.Chat.LastName,
		}},
	}, true
}

// handleCallback maps an inline-keyboard press onto an action click. The
// callback is acknowledged immediately so the client spinner clears.
func (h *TelegramHandler) handleCallback(cq *tgbotapi.CallbackQuery) {
	if cq.Message == nil || cq.Message.Chat == nil || cq.From == nil {
		return
	}
	chatID := strconv.FormatInt(cq.Message.Chat.ID, 10)
	actionID, value := telegramplatform.DecodeCallbackData(cq.Data)
	click := platform.ActionClick{
		Thread: platform.Thread{
			Platform:  platform.TypeTelegram,
			ID:        chatID,
			ChannelID: chatID,
			IsDM:      cq.Message.Chat.IsPrivate(),
			TeamID:    chatID,
		},
		UserID:   strconv.FormatInt(cq.From.ID, 10),
		ActionID: actionID,
		Value:    value,
		TeamID:   chatID,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		defer cancel()
		if err := h.adapter.AnswerCallback(ctx, cq.ID); err != nil {
			h.logger.Warn("answer callback failed", slog.Any("error", err))
		}
		h.gateway.HandleActionClick(ctx, click)
	}()
}
