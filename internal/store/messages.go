package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDuplicateMessage signals a create attempt for a message id that already
// exists. Callers use it to recognize retried webhook deliveries.
var ErrDuplicateMessage = errors.New("message already exists")

// MessageStore persists transcript messages with create-if-absent semantics.
type MessageStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewMessageStore creates a message store.
func NewMessageStore(log *slog.Logger, pool *pgxpool.Pool) *MessageStore {
	if log == nil {
		log = slog.Default()
	}
	return &MessageStore{
		pool:   pool,
		logger: log.With(slog.String("store", "messages")),
	}
}

// Upsert inserts the message if absent. A duplicate id, including one that
// races with a concurrent insert, is success.
func (s *MessageStore) Upsert(ctx context.Context, msg ChatMessage) error {
	rawParts, err := encodeParts(msg.Parts)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO chat_messages (id, chat_id, role, parts) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING`,
		msg.ID, msg.ChatID, msg.Role, rawParts,
	); err != nil {
		return fmt.Errorf("upsert chat message: %w", err)
	}
	return nil
}

// CreateAssistant inserts an assistant message and returns
// ErrDuplicateMessage if the id already exists, so the caller can stop
// without re-announcing a reply it already posted.
func (s *MessageStore) CreateAssistant(ctx context.Context, msg ChatMessage) error {
	rawParts, err := encodeParts(msg.Parts)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO chat_messages (id, chat_id, role, parts) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING`,
		msg.ID, msg.ChatID, RoleAssistant, rawParts,
	)
	if err != nil {
		return fmt.Errorf("create assistant message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateMessage
	}
	return nil
}

// Exists reports whether a message with the given id is already stored.
func (s *MessageStore) Exists(ctx context.Context, messageID string) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM chat_messages WHERE id = $1)`,
		messageID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check message exists: %w", err)
	}
	return exists, nil
}

// ListRecentAssistant returns up to limit assistant messages for the chat,
// most recent first. Used by the bounded confirmation-token scan.
func (s *MessageStore) ListRecentAssistant(ctx context.Context, chatID string, limit int) ([]ChatMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, chat_id, role, parts, created_at
		 FROM chat_messages
		 WHERE chat_id = $1 AND role = $2
		 ORDER BY created_at DESC
		 LIMIT $3`,
		chatID, RoleAssistant, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list assistant messages: %w", err)
	}
	return scanMessages(rows)
}

func encodeParts(parts []Part) ([]byte, error) {
	if parts == nil {
		parts = []Part{}
	}
	raw, err := json.Marshal(parts)
	if err != nil {
		return nil, fmt.Errorf("encode message parts: %w", err)
	}
	return raw, nil
}
