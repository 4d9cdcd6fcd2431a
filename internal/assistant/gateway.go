package assistant

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
)

// HTTPService talks to the assistant pipeline over its SSE streaming
// endpoint.
type HTTPService struct {
	baseURL         string
	apiSecret       string
	logger          *slog.Logger
	streamingClient *http.Client
}

// NewHTTPService creates an assistant client against the given base URL.
func NewHTTPService(log *slog.Logger, baseURL, apiSecret string) *HTTPService {
	if log == nil {
		log = slog.Default()
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return &HTTPService{
		baseURL:   baseURL,
		apiSecret: strings.TrimSpace(apiSecret),
		logger:    log.With(slog.String("service", "assistant")),
		// No client timeout: streams run until the pipeline finishes.
		streamingClient: &http.Client{},
	}
}

// Invoke opens the assistant stream and forwards raw data chunks. Both
// channels close when the stream ends; at most one error is delivered.
func (s *HTTPService) Invoke(ctx context.Context, req Request) (<-chan StreamChunk, <-chan error) {
	chunkCh := make(chan StreamChunk)
	errCh := make(chan error, 1)

	go func() {
		defer close(chunkCh)
		defer close(errCh)
		if err := s.stream(ctx, req, chunkCh); err != nil {
			s.logger.Error("assistant stream failed",
				slog.String("chat_id", req.ChatID),
				slog.Any("error", err),
			)
			errCh <- err
		}
	}()
	return chunkCh, errCh
}

func (s *HTTPService) stream(ctx context.Context, req Request, chunkCh chan<- StreamChunk) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode assistant request: %w", err)
	}
	url := s.baseURL + "/assistant/chat/stream"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if s.apiSecret != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiSecret)
	}

	resp, err := s.streamingClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("assistant gateway status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
	}

	scanner := newStreamScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "event:") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}
		select {
		case chunkCh <- StreamChunk(data):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return scanner.Err()
}

// HTTPContextProvider fetches inbox stats and recent memories from the
// account service. Both are opaque auxiliary context sources.
type HTTPContextProvider struct {
	baseURL   string
	apiSecret string
	logger    *slog.Logger
	client    *http.Client
}

// NewHTTPContextProvider creates a context provider against the account
// service base URL.
func NewHTTPContextProvider(log *slog.Logger, baseURL, apiSecret string) *HTTPContextProvider {
	if log == nil {
		log = slog.Default()
	}
	return &HTTPContextProvider{
		baseURL:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiSecret: strings.TrimSpace(apiSecret),
		logger:    log.With(slog.String("service", "assistant_context")),
		client:    &http.Client{Timeout: 15 * time.Second},
	}
}

// InboxStats fetches the inbox snapshot for the account.
func (p *HTTPContextProvider) InboxStats(ctx context.Context, emailAccountID string) (InboxStats, error) {
	var stats InboxStats
	err := p.getJSON(ctx, "/accounts/"+emailAccountID+"/inbox-stats", &stats)
	return stats, err
}

// RecentMemories fetches recent chat memories for the account.
func (p *HTTPContextProvider) RecentMemories(ctx context.Context, emailAccountID string) ([]string, error) {
	var payload struct {
		Memories []string `json:"memories"`
	}
	if err := p.getJSON(ctx, "/accounts/"+emailAccountID+"/memories", &payload); err != nil {
		return nil, err
	}
	return payload.Memories, nil
}

func (p *HTTPContextProvider) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return err
	}
	if p.apiSecret != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiSecret)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("account service status %d for %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
