package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mailbridge/mailbridge/internal/store"
)

// HTTPClient talks to the account service for account metadata and pending
// action confirmation.
type HTTPClient struct {
	baseURL   string
	apiSecret string
	logger    *slog.Logger
	client    *http.Client
}

// NewHTTPClient creates a mail backend client against the account service
// base URL.
func NewHTTPClient(log *slog.Logger, baseURL, apiSecret string) *HTTPClient {
	if log == nil {
		log = slog.Default()
	}
	return &HTTPClient{
		baseURL:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiSecret: strings.TrimSpace(apiSecret),
		logger:    log.With(slog.String("service", "email")),
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// GetAccount resolves the mail account bound to an email account id.
func (c *HTTPClient) GetAccount(ctx context.Context, emailAccountID string) (Account, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/accounts/"+emailAccountID, nil)
	if err != nil {
		return Account{}, err
	}
	var account Account
	if err := c.do(req, &account); err != nil {
		return Account{}, fmt.Errorf("get account: %w", err)
	}
	return account, nil
}

// ConfirmPendingAction asks the backend to execute the pending draft for the
// given tool call. The backend owns the send; this call is idempotent on its
// side, keyed by the tool call id.
func (c *HTTPClient) ConfirmPendingAction(ctx context.Context, emailAccountID, toolCallID string, action store.PendingAction) (Sent, error) {
	body, err := json.Marshal(map[string]any{
		"toolCallId": toolCallID,
		"to":         action.To,
		"subject":    action.Subject,
	})
	if err != nil {
		return Sent{}, fmt.Errorf("encode confirm request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/accounts/"+emailAccountID+"/pending-actions/confirm",
		bytes.NewReader(body))
	if err != nil {
		return Sent{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	var sent Sent
	if err := c.do(req, &sent); err != nil {
		return Sent{}, fmt.Errorf("confirm pending action: %w", err)
	}
	return sent, nil
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	if c.apiSecret != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiSecret)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("account service status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
