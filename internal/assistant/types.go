// Package assistant defines the contract with the external AI assistant
// pipeline and folds its streamed output into a single final message.
package assistant

import (
	"context"

	"github.com/mailbridge/mailbridge/internal/platform"
	"github.com/mailbridge/mailbridge/internal/store"
)

// InboxStats is the inbox snapshot fetched as auxiliary assistant context.
type InboxStats struct {
	Total      int `json:"total"`
	Unread     int `json:"unread"`
	NeedsReply int `json:"needs_reply"`
}

// Request carries everything one assistant invocation needs: the transcript
// window including the new user message, the account identity, and the
// auxiliary context fetched for this event.
type Request struct {
	Messages       []store.ChatMessage `json:"messages"`
	EmailAccountID string              `json:"email_account_id"`
	ChatID         string              `json:"chat_id"`
	Memories       []string            `json:"memories,omitempty"`
	InboxStats     *InboxStats         `json:"inbox_stats,omitempty"`
	Platform       platform.Type       `json:"platform"`
}

// StreamChunk is one raw streamed envelope from the assistant pipeline.
type StreamChunk []byte

// Service invokes the assistant once per inbound event. The stream is finite
// and non-restartable; callers consume it to completion before any side
// effect.
type Service interface {
	Invoke(ctx context.Context, req Request) (<-chan StreamChunk, <-chan error)
}

// InboxStatsProvider fetches the inbox snapshot for an account.
type InboxStatsProvider interface {
	InboxStats(ctx context.Context, emailAccountID string) (InboxStats, error)
}

// MemoryProvider fetches recent conversation memories for an account.
type MemoryProvider interface {
	RecentMemories(ctx context.Context, emailAccountID string) ([]string, error)
}
