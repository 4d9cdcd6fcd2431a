package reminder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mailbridge/mailbridge/internal/store"
)

// Enqueuer persists reminder jobs for a downstream worker.
type Enqueuer interface {
	Enqueue(ctx context.Context, job store.ReminderJob) error
}

// OutboxDispatcher queues reminders in the database outbox.
type OutboxDispatcher struct {
	logger *slog.Logger
	outbox Enqueuer
}

// NewOutboxDispatcher creates an outbox-backed dispatcher.
func NewOutboxDispatcher(log *slog.Logger, outbox Enqueuer) *OutboxDispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &OutboxDispatcher{
		logger: log.With(slog.String("dispatcher", "outbox")),
		outbox: outbox,
	}
}

// DispatchReminder enqueues one job for the binding.
func (d *OutboxDispatcher) DispatchReminder(ctx context.Context, ch store.LinkedChannel) error {
	job := store.ReminderJob{
		EmailAccountID: ch.EmailAccountID,
		Provider:       ch.Provider,
		TeamID:         ch.TeamID,
		ThreadID:       ch.ChannelID,
	}
	if err := d.outbox.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("queue reminder for %s/%s: %w", ch.Provider, ch.EmailAccountID, err)
	}
	return nil
}

type reminderRequest struct {
	EmailAccountID string `json:"emailAccountId"`
	Provider       string `json:"provider"`
	TeamID         string `json:"teamId"`
	ThreadID       string `json:"threadId,omitempty"`
}

// HTTPDispatcher posts reminder events to an external queue endpoint.
type HTTPDispatcher struct {
	logger     *slog.Logger
	httpClient *http.Client
	url        string
	apiSecret  string
}

// NewHTTPDispatcher creates a dispatcher posting to url, authenticated with
// apiSecret as a bearer token when set.
func NewHTTPDispatcher(log *slog.Logger, url, apiSecret string) *HTTPDispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &HTTPDispatcher{
		logger:     log.With(slog.String("dispatcher", "http")),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		url:        url,
		apiSecret:  apiSecret,
	}
}

// DispatchReminder posts one reminder event.
func (d *HTTPDispatcher) DispatchReminder(ctx context.Context, ch store.LinkedChannel) error {
	body, err := json.Marshal(reminderRequest{
		EmailAccountID: ch.EmailAccountID,
		Provider:       string(ch.Provider),
		TeamID:         ch.TeamID,
		ThreadID:       ch.ChannelID,
	})
	if err != nil {
		return fmt.Errorf("encode reminder request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build reminder request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.apiSecret != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiSecret)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post reminder: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("post reminder: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// FallbackDispatcher tries the primary dispatcher and falls back to the
// secondary when the primary fails.
type FallbackDispatcher struct {
	logger   *slog.Logger
	primary  Dispatcher
	fallback Dispatcher
}

// NewFallbackDispatcher chains two dispatchers.
func NewFallbackDispatcher(log *slog.Logger, primary, fallback Dispatcher) *FallbackDispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &FallbackDispatcher{
		logger:   log.With(slog.String("dispatcher", "fallback")),
		primary:  primary,
		fallback: fallback,
	}
}

// DispatchReminder delivers through the primary, then the fallback.
func (d *FallbackDispatcher) DispatchReminder(ctx context.Context, ch store.LinkedChannel) error {
	err := d.primary.DispatchReminder(ctx, ch)
	if err == nil {
		return nil
	}
	d.logger.Warn("primary reminder dispatch failed, using fallback",
		slog.String("provider", string(ch.Provider)),
		slog.Any("error", err))
	if fbErr := d.fallback.DispatchReminder(ctx, ch); fbErr != nil {
		return fmt.Errorf("fallback dispatch after %v: %w", err, fbErr)
	}
	return nil
}
