package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Endpoint is Slack's OAuth v2 endpoint pair.
var Endpoint = oauth2.Endpoint{
	AuthURL:  "https://slack.com/oauth/v2/authorize",
	TokenURL: "https://slack.com/api/oauth.v2.access",
}

// botScopes are the workspace permissions the app requests on install.
var botScopes = []string{
	"app_mentions:read",
	"assistant:write",
	"chat:write",
	"im:history",
	"im:read",
	"im:write",
	"reactions:read",
	"reactions:write",
	"users:read",
}

// OAuthConfig builds the install-flow configuration for the app.
func OAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       botScopes,
		Endpoint:     Endpoint,
	}
}

// OAuthSettings bundles the install-flow configuration behind the two
// operations the handlers need.
type OAuthSettings struct {
	config *oauth2.Config
}

// NewOAuthSettings creates the install-flow settings for the app credentials.
func NewOAuthSettings(clientID, clientSecret, redirectURL string) *OAuthSettings {
	return &OAuthSettings{config: OAuthConfig(clientID, clientSecret, redirectURL)}
}

// AuthCodeURL returns the workspace authorization URL for the given state.
func (s *OAuthSettings) AuthCodeURL(state string) string {
	return s.config.AuthCodeURL(state)
}

// Exchange completes the install flow for an authorization code.
func (s *OAuthSettings) Exchange(ctx context.Context, code string) (Installation, error) {
	return ExchangeCode(ctx, s.config, code)
}

// Installation is the result of a completed OAuth v2 exchange.
type Installation struct {
	AccessToken string
	TeamID      string
	TeamName    string
	BotUserID   string
	UserID      string
}

type oauthAccessResponse struct {
	OK          bool   `json:"ok"`
	Error       string `json:"error"`
	AccessToken string `json:"access_token"`
	BotUserID   string `json:"bot_user_id"`
	Team        struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"team"`
	AuthedUser struct {
		ID string `json:"id"`
	} `json:"authed_user"`
}

// ExchangeCode completes the install flow. Slack's token response carries the
// team and bot identity outside the standard OAuth token shape, so the
// exchange is performed directly rather than through oauth2.Config.Exchange.
func ExchangeCode(ctx context.Context, cfg *oauth2.Config, code string) (Installation, error) {
	form := url.Values{}
	form.Set("code", code)
	form.Set("client_id", cfg.ClientID)
	form.Set("client_secret", cfg.ClientSecret)
	if cfg.RedirectURL != "" {
		form.Set("redirect_uri", cfg.RedirectURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Installation{}, fmt.Errorf("build oauth exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return Installation{}, fmt.Errorf("exchange oauth code: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Installation{}, fmt.Errorf("read oauth response: %w", err)
	}
	var decoded oauthAccessResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Installation{}, fmt.Errorf("decode oauth response: %w", err)
	}
	if !decoded.OK {
		return Installation{}, fmt.Errorf("oauth exchange failed: %s", decoded.Error)
	}
	if decoded.AccessToken == "" || decoded.Team.ID == "" {
		return Installation{}, fmt.Errorf("oauth response missing access token or team")
	}

	return Installation{
		AccessToken: decoded.AccessToken,
		TeamID:      decoded.Team.ID,
		TeamName:    decoded.Team.Name,
		BotUserID:   decoded.BotUserID,
		UserID:      decoded.AuthedUser.ID,
	}, nil
}
