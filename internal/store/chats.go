package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrChatNotFound is returned when no chat exists for the given id.
var ErrChatNotFound = errors.New("chat not found")

// MaxChatContextMessages is the transcript window handed to the assistant.
const MaxChatContextMessages = 12

// ChatStore reads and writes chats and their transcript windows.
type ChatStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewChatStore creates a chat store.
func NewChatStore(log *slog.Logger, pool *pgxpool.Pool) *ChatStore {
	if log == nil {
		log = slog.Default()
	}
	return &ChatStore{
		pool:   pool,
		logger: log.With(slog.String("store", "chats")),
	}
}

// Upsert creates the chat if absent and returns it with up to
// MaxChatContextMessages most recent messages, oldest first. A concurrent
// create of the same id is treated as success.
func (s *ChatStore) Upsert(ctx context.Context, chatID, emailAccountID string) (Chat, error) {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO chats (id, email_account_id) VALUES ($1, $2)
		 ON CONFLICT (id) DO NOTHING`,
		chatID, emailAccountID,
	); err != nil {
		return Chat{}, fmt.Errorf("upsert chat: %w", err)
	}

	chat, err := s.Get(ctx, chatID)
	if err != nil {
		return Chat{}, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, chat_id, role, parts, created_at
		 FROM chat_messages
		 WHERE chat_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		chatID, MaxChatContextMessages,
	)
	if err != nil {
		return Chat{}, fmt.Errorf("list recent chat messages: %w", err)
	}
	recent, err := scanMessages(rows)
	if err != nil {
		return Chat{}, err
	}
	// Reverse into chronological order for assistant context.
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	chat.Messages = recent
	return chat, nil
}

// Get returns the chat without its transcript.
func (s *ChatStore) Get(ctx context.Context, chatID string) (Chat, error) {
	var chat Chat
	err := s.pool.QueryRow(ctx,
		`SELECT id, email_account_id, created_at FROM chats WHERE id = $1`,
		chatID,
	).Scan(&chat.ID, &chat.EmailAccountID, &chat.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Chat{}, ErrChatNotFound
	}
	if err != nil {
		return Chat{}, fmt.Errorf("get chat: %w", err)
	}
	return chat, nil
}

func scanMessages(rows pgx.Rows) ([]ChatMessage, error) {
	defer rows.Close()
	var messages []ChatMessage
	for rows.Next() {
		var (
			msg      ChatMessage
			rawParts []byte
		)
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.Role, &rawParts, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		if len(rawParts) > 0 {
			if err := json.Unmarshal(rawParts, &msg.Parts); err != nil {
				return nil, fmt.Errorf("decode message parts: %w", err)
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat messages: %w", err)
	}
	return messages, nil
}
