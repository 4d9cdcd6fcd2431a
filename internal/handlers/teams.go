package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mailbridge/mailbridge/internal/bot"
	"github.com/mailbridge/mailbridge/internal/identity"
	"github.com/mailbridge/mailbridge/internal/platform"
	teamsplatform "github.com/mailbridge/mailbridge/internal/platform/teams"
)

var atMentionPattern = regexp.MustCompile(`<at>[^<]*</at>\s*`)

// TeamsHandler terminates the Bot Framework activity webhook. Channel
// authentication is enforced upstream by the Bot Framework channel service;
// the endpoint additionally checks the configured app id when activities
// carry a recipient.
type TeamsHandler struct {
	logger  *slog.Logger
	gateway InboundGateway
	adapter *teamsplatform.Adapter
	appID   string
}

func NewTeamsHandler(log *slog.Logger, gateway InboundGateway, adapter *teamsplatform.Adapter, appID string) *TeamsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &TeamsHandler{
		logger:  log.With(slog.String("handler", "teams")),
		gateway: gateway,
		adapter: adapter,
		appID:   strings.TrimSpace(appID),
	}
}

func (h *TeamsHandler) Register(e *echo.Echo) {
	e.POST("/webhooks/teams", h.Activities)
}

type teamsActivity struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	ServiceURL string `json:"serviceUrl"`
	Text       string `json:"text"`
	From       struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"from"`
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Conversation struct {
		ID               string `json:"id"`
		ConversationType string `json:"conversationType"`
		TenantID         string `json:"tenantId"`
	} `json:"conversation"`
	ChannelData struct {
		Tenant struct {
			ID string `json:"id"`
		} `json:"tenant"`
		Team struct {
			Name string `json:"name"`
		} `json:"team"`
	} `json:"channelData"`
	Value map[string]string `json:"value"`
}

// Activities receives one Bot Framework activity per request.
func (h *TeamsHandler) Activities(c echo.Context) error {
	var activity teamsActivity
	if err := c.Bind(&activity); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed activity")
	}
	if h.appID != "" && activity.Recipient.ID != "" && !strings.HasSuffix(activity.Recipient.ID, h.appID) {
		h.logger.Warn("dropped activity for unknown recipient",
			slog.String("recipient", activity.Recipient.ID))
		return c.NoContent(http.StatusOK)
	}
	if activity.Type != "message" || activity.Conversation.ID == "" {
		return c.NoContent(http.StatusOK)
	}

	h.adapter.RegisterServiceURL(activity.Conversation.ID, activity.ServiceURL)

	tenantID := activity.Conversation.TenantID
	if tenantID == "" {
		tenantID = activity.ChannelData.Tenant.ID
	}
	isDM := activity.Conversation.ConversationType == "personal"
	thread := platform.Thread{
		Platform:  platform.TypeTeams,
		ID:        activity.Conversation.ID,
		ChannelID: activity.Conversation.ID,
		IsDM:      isDM,
		TeamID:    tenantID,
	}

	// Adaptive card submits arrive as messages carrying a value payload.
	if actionID := activity.Value["actionId"]; actionID != "" {
		click := platform.ActionClick{
			Thread:   thread,
			UserID:   activity.From.ID,
			ActionID: actionID,
			Value:    activity.Value["value"],
			TeamID:   tenantID,
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
			defer cancel()
			h.gateway.HandleActionClick(ctx, click)
		}()
		return c.NoContent(http.StatusOK)
	}

	text := strings.TrimSpace(atMentionPattern.ReplaceAllString(activity.Text, ""))
	if text == "" || activity.From.ID == "" || activity.ID == "" {
		return c.NoContent(http.StatusOK)
	}

	ev := bot.InboundEvent{
		Thread: thread,
		Message: identity.Message{
			ID:       activity.ID,
			Text:     text,
			AuthorID: activity.From.ID,
		},
		Raw: identity.Raw{Teams: &identity.TeamsEvent{
			TenantID:       tenantID,
			ConversationID: activity.Conversation.ID,
			TeamName:       activity.ChannelData.Team.Name,
		}},
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		defer cancel()
		if _, err := h.gateway.HandleInboundEvent(ctx, ev); err != nil {
			h.logger.Error("inbound activity failed",
				slog.String("conversation_id", activity.Conversation.ID),
				slog.Any("error", err),
			)
		}
	}()
	return c.NoContent(http.StatusOK)
}
