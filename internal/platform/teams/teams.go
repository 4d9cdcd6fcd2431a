// Package teams implements the Microsoft Teams platform adapter over the
// Bot Framework connector API. Outbound requests authenticate with an app
// credential token fetched through the client-credentials grant.
package teams

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/mailbridge/mailbridge/internal/platform"
)

const (
	botFrameworkTokenURL = "https://login.microsoftonline.com/botframework.com/oauth2/v2.0/token"
	botFrameworkScope    = "https://api.botframework.com/.default"
	defaultServiceURL    = "https://smba.trafficmanager.net/teams/"
	adaptiveCardType     = "application/vnd.microsoft.card.adaptive"
)

// Adapter implements platform.Adapter and platform.Deleter for Teams.
type Adapter struct {
	logger     *slog.Logger
	httpClient *http.Client

	mu          sync.RWMutex
	serviceURLs map[string]string
}

// NewAdapter creates a Teams adapter. When appID is empty no credential is
// attached, which is only useful for local testing.
func NewAdapter(log *slog.Logger, appID, appPassword string) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	httpClient := &http.Client{Timeout: 30 * time.Second}
	if strings.TrimSpace(appID) != "" {
		credentials := &clientcredentials.Config{
			ClientID:     appID,
			ClientSecret: appPassword,
			TokenURL:     botFrameworkTokenURL,
			Scopes:       []string{botFrameworkScope},
		}
		httpClient = credentials.Client(context.Background())
		httpClient.Timeout = 30 * time.Second
	}
	return &Adapter{
		logger:      log.With(slog.String("adapter", "teams")),
		httpClient:  httpClient,
		serviceURLs: make(map[string]string),
	}
}

// Type returns the Teams platform type.
func (a *Adapter) Type() platform.Type {
	return platform.TypeTeams
}

// DecodeThreadID parses a Teams thread id. Teams threads are keyed by the
// conversation id alone.
func (a *Adapter) DecodeThreadID(threadID string) (platform.ThreadRef, error) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return platform.ThreadRef{}, fmt.Errorf("teams thread id is required")
	}
	return platform.ThreadRef{ChatID: threadID}, nil
}

// RegisterServiceURL remembers the connector endpoint an inbound activity
// arrived on. Replies to that conversation must target the same endpoint.
func (a *Adapter) RegisterServiceURL(conversationID, serviceURL string) {
	conversationID = strings.TrimSpace(conversationID)
	serviceURL = strings.TrimSpace(serviceURL)
	if conversationID == "" || serviceURL == "" {
		return
	}
	a.mu.Lock()
	a.serviceURLs[conversationID] = serviceURL
	a.mu.Unlock()
}

func (a *Adapter) serviceURL(conversationID string) string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if serviceURL, ok := a.serviceURLs[conversationID]; ok {
		return serviceURL
	}
	return defaultServiceURL
}

type activity struct {
	Type        string       `json:"type"`
	Text        string       `json:"text,omitempty"`
	TextFormat  string       `json:"textFormat,omitempty"`
	Attachments []attachment `json:"attachments,omitempty"`
}

type attachment struct {
	ContentType string `json:"contentType"`
	Content     any    `json:"content"`
}

type activityResponse struct {
	ID string `json:"id"`
}

// Post sends an activity into the conversation. Markdown passes through as
// Teams renders it natively; cards become Adaptive Card attachments.
func (a *Adapter) Post(ctx context.Context, thread platform.Thread, content platform.Content) (string, error) {
	ref, err := a.DecodeThreadID(thread.ID)
	if err != nil {
		return "", err
	}

	act := activity{Type: "message"}
	if content.Card != nil {
		act.Attachments = []attachment{{
			ContentType: adaptiveCardType,
			Content:     adaptiveCard(content.Card),
		}}
	} else {
		act.Text = content.Text
		if content.Markdown {
			act.TextFormat = "markdown"
		}
	}

	endpoint := fmt.Sprintf("%sv3/conversations/%s/activities",
		ensureTrailingSlash(a.serviceURL(ref.ChatID)), url.PathEscape(ref.ChatID))

	var resp activityResponse
	if err := a.send(ctx, http.MethodPost, endpoint, act, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Delete removes an activity the bot previously sent.
func (a *Adapter) Delete(ctx context.Context, thread platform.Thread, messageID string) error {
	ref, err := a.DecodeThreadID(thread.ID)
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%sv3/conversations/%s/activities/%s",
		ensureTrailingSlash(a.serviceURL(ref.ChatID)), url.PathEscape(ref.ChatID), url.PathEscape(messageID))
	return a.send(ctx, http.MethodDelete, endpoint, nil, nil)
}

func (a *Adapter) send(ctx context.Context, method, endpoint string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode activity: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build connector request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call connector: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read connector response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("connector returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode connector response: %w", err)
		}
	}
	return nil
}

// adaptiveCard renders the confirmation card as an Adaptive Card with a
// single submit action carrying the action id and value.
func adaptiveCard(card *platform.Card) map[string]any {
	body := []map[string]any{}
	if card.Title != "" {
		body = append(body, map[string]any{
			"type":   "TextBlock",
			"text":   card.Title,
			"weight": "Bolder",
			"size":   "Medium",
		})
	}
	if card.Body != "" {
		body = append(body, map[string]any{
			"type": "TextBlock",
			"text": card.Body,
			"wrap": true,
		})
	}
	return map[string]any{
		"$schema": "http://adaptivecards.io/schemas/adaptive-card.json",
		"type":    "AdaptiveCard",
		"version": "1.4",
		"body":    body,
		"actions": []map[string]any{{
			"type":  "Action.Submit",
			"title": card.Button.Label,
			"data": map[string]string{
				"actionId": card.Button.ID,
				"value":    card.Button.Value,
			},
		}},
	}
}

func ensureTrailingSlash(serviceURL string) string {
	if strings.HasSuffix(serviceURL, "/") {
		return serviceURL
	}
	return serviceURL + "/"
}
