package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mailbridge/mailbridge/internal/bot"
	"github.com/mailbridge/mailbridge/internal/identity"
	"github.com/mailbridge/mailbridge/internal/platform"
	slackplatform "github.com/mailbridge/mailbridge/internal/platform/slack"
	"github.com/mailbridge/mailbridge/internal/store"
)

// eventTimeout bounds background processing of one acknowledged webhook.
const eventTimeout = 2 * time.Minute

const oauthStateCookie = "slack_oauth_state"

// InboundGateway is the bot surface the webhook handlers drive.
type InboundGateway interface {
	HandleInboundEvent(ctx context.Context, ev bot.InboundEvent) (bool, error)
	HandleActionClick(ctx context.Context, click platform.ActionClick)
}

// ChannelWriter persists linked channels during the OAuth install flow.
type ChannelWriter interface {
	Upsert(ctx context.Context, ch store.LinkedChannel) (store.LinkedChannel, error)
}

// SlackHandler terminates the Slack events, interactivity, and OAuth install
// endpoints. Events are acknowledged within Slack's deadline and processed in
// the background; idempotent message ids make redelivery safe.
type SlackHandler struct {
	logger        *slog.Logger
	gateway       InboundGateway
	channels      ChannelWriter
	signingSecret string
	oauth         *slackplatform.OAuthSettings
}

func NewSlackHandler(log *slog.Logger, gateway InboundGateway, channels ChannelWriter, signingSecret string, oauth *slackplatform.OAuthSettings) *SlackHandler {
	if log == nil {
		log = slog.Default()
	}
	return &SlackHandler{
		logger:        log.With(slog.String("handler", "slack")),
		gateway:       gateway,
		channels:      channels,
		signingSecret: signingSecret,
		oauth:         oauth,
	}
}

func (h *SlackHandler) Register(e *echo.Echo) {
	e.POST("/webhooks/slack/events", h.Events)
	e.POST("/webhooks/slack/interactivity", h.Interactivity)
	if h.oauth != nil {
		e.GET("/oauth/slack/install", h.Install)
		e.GET("/oauth/slack/callback", h.Callback)
	}
}

type slackOuterEvent struct {
	Type      string          `json:"type"`
	Challenge string          `json:"challenge"`
	TeamID    string          `json:"team_id"`
	Event     slackInnerEvent `json:"event"`
}

type slackInnerEvent struct {
	Type        string `json:"type"`
	Subtype     string `json:"subtype"`
	Channel     string `json:"channel"`
	ChannelType string `json:"channel_type"`
	User        string `json:"user"`
	BotID       string `json:"bot_id"`
	Text        string `json:"text"`
	TS          string `json:"ts"`
	ThreadTS    string `json:"thread_ts"`
}

// Events receives the Slack Events API callback.
func (h *SlackHandler) Events(c echo.Context) error {
	body, err := h.verifiedBody(c)
	if err != nil {
		return err
	}

	var outer slackOuterEvent
	if err := json.Unmarshal(body, &outer); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed event payload")
	}

	switch outer.Type {
	case "url_verification":
		return c.JSON(http.StatusOK, map[string]string{"challenge": outer.Challenge})
	case "event_callback":
		if ev, ok := h.inboundEvent(outer); ok {
			h.dispatch(ev)
		}
		return c.NoContent(http.StatusOK)
	default:
		return c.NoContent(http.StatusOK)
	}
}

// inboundEvent maps an event callback onto the normalized inbound shape.
// Bot echoes and message edits are dropped here.
func (h *SlackHandler) inboundEvent(outer slackOuterEvent) (bot.InboundEvent, bool) {
	ev := outer.Event
	if ev.BotID != "" || ev.Subtype != "" {
		return bot.InboundEvent{}, false
	}
	if ev.Type != "message" && ev.Type != "app_mention" {
		return bot.InboundEvent{}, false
	}
	if ev.Channel == "" || ev.TS == "" {
		return bot.InboundEvent{}, false
	}

	threadID := ev.Channel
	if ev.ThreadTS != "" {
		threadID = ev.Channel + ":" + ev.ThreadTS
	}
	return bot.InboundEvent{
		Thread: platform.Thread{
			Platform:  platform.TypeSlack,
			ID:        threadID,
			ChannelID: ev.Channel,
			IsDM:      ev.ChannelType == "im",
			TeamID:    outer.TeamID,
		},
		Message: identity.Message{
			ID:       ev.TS,
			Text:     ev.Text,
			AuthorID: ev.User,
		},
		Raw: identity.Raw{Slack: &identity.SlackEvent{
			TeamID:    outer.TeamID,
			EventType: ev.Type,
		}},
	}, true
}

// dispatch acknowledges first and processes in the background; Slack retries
// on slow responses and the idempotency guard absorbs those retries anyway.
func (h *SlackHandler) dispatch(ev bot.InboundEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		defer cancel()
		if _, err := h.gateway.HandleInboundEvent(ctx, ev); err != nil {
			h.logger.Error("inbound event failed",
				slog.String("thread_id", ev.Thread.ID),
				slog.Any("error", err),
			)
		}
	}()
}

type slackInteractionPayload struct {
	Type string `json:"type"`
	Team struct {
		ID string `json:"id"`
	} `json:"team"`
	TeamID string `json:"team_id"`
	User   struct {
		ID string `json:"id"`
	} `json:"user"`
	Channel struct {
		ID string `json:"id"`
	} `json:"channel"`
	Message struct {
		ThreadTS string `json:"thread_ts"`
	} `json:"message"`
	Actions []struct {
		ActionID string `json:"action_id"`
		Value    string `json:"value"`
	} `json:"actions"`
}

// Interactivity receives block action clicks.
func (h *SlackHandler) Interactivity(c echo.Context) error {
	body, err := h.verifiedBody(c)
	if err != nil {
		return err
	}
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed interaction body")
	}

	var payload slackInteractionPayload
	if err := json.Unmarshal([]byte(form.Get("payload")), &payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed interaction payload")
	}
	if payload.Type != "block_actions" || len(payload.Actions) == 0 {
		return c.NoContent(http.StatusOK)
	}

	teamID := payload.Team.ID
	if teamID == "" {
		teamID = payload.TeamID
	}
	threadID := payload.Channel.ID
	if payload.Message.ThreadTS != "" {
		threadID = payload.Channel.ID + ":" + payload.Message.ThreadTS
	}
	click := platform.ActionClick{
		Thread: platform.Thread{
			Platform:  platform.TypeSlack,
			ID:        threadID,
			ChannelID: payload.Channel.ID,
			TeamID:    teamID,
		},
		UserID:   payload.User.ID,
		ActionID: payload.Actions[0].ActionID,
		Value:    payload.Actions[0].Value,
		TeamID:   teamID,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		defer cancel()
		h.gateway.HandleActionClick(ctx, click)
	}()
	return c.NoContent(http.StatusOK)
}

// verifiedBody reads the raw body and checks the request signature.
func (h *SlackHandler) verifiedBody(c echo.Context) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}
	if err := slackplatform.VerifySignature(
		h.signingSecret,
		c.Request().Header.Get("X-Slack-Request-Timestamp"),
		c.Request().Header.Get("X-Slack-Signature"),
		body,
	); err != nil {
		h.logger.Warn("rejected slack request", slog.Any("error", err))
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid request signature")
	}
	return body, nil
}

// Install starts the workspace OAuth flow. The email account to bind comes
// from the settings page link and travels through the state parameter.
func (h *SlackHandler) Install(c echo.Context) error {
	emailAccountID := strings.TrimSpace(c.QueryParam("email_account_id"))
	if emailAccountID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email_account_id is required")
	}
	state := emailAccountID + ":" + uuid.NewString()
	c.SetCookie(&http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/oauth/slack",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	return c.Redirect(http.StatusFound, h.oauth.AuthCodeURL(state))
}

// Callback completes the install and records the workspace token.
func (h *SlackHandler) Callback(c echo.Context) error {
	state := c.QueryParam("state")
	cookie, err := c.Cookie(oauthStateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != state {
		return echo.NewHTTPError(http.StatusBadRequest, "oauth state mismatch")
	}
	emailAccountID, _, ok := strings.Cut(state, ":")
	if !ok || emailAccountID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "oauth state missing account")
	}

	code := c.QueryParam("code")
	if code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "oauth code is required")
	}
	installation, err := h.oauth.Exchange(c.Request().Context(), code)
	if err != nil {
		h.logger.Error("slack oauth exchange failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusBadGateway, "oauth exchange failed")
	}

	_, err = h.channels.Upsert(c.Request().Context(), store.LinkedChannel{
		Provider:       platform.TypeSlack,
		TeamID:         installation.TeamID,
		TeamName:       installation.TeamName,
		ProviderUserID: installation.UserID,
		EmailAccountID: emailAccountID,
		AccessToken:    installation.AccessToken,
		BotUserID:      installation.BotUserID,
		IsConnected:    true,
	})
	if err != nil {
		h.logger.Error("record slack installation failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to record installation")
	}

	h.logger.Info("slack workspace installed",
		slog.String("team_id", installation.TeamID),
		slog.String("email_account_id", emailAccountID),
	)
	return c.JSON(http.StatusOK, map[string]string{
		"status": "connected",
		"team":   fmt.Sprintf("%s (%s)", installation.TeamName, installation.TeamID),
	})
}
