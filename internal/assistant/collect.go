package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mailbridge/mailbridge/internal/store"
)

// streamEnvelope is the wire shape of one assistant stream chunk.
type streamEnvelope struct {
	Type    string           `json:"type"`
	Delta   string           `json:"delta,omitempty"`
	Error   string           `json:"error,omitempty"`
	Message *envelopeMessage `json:"message,omitempty"`
}

type envelopeMessage struct {
	Role  string       `json:"role"`
	Parts []store.Part `json:"parts"`
}

// CollectFinalMessage consumes the stream to completion and returns the
// single assistant message, with its id fixed to assistantMessageID. The
// stream may deliver progressively rebuilt assistant messages, bare text
// deltas, or both; a full message always wins over accumulated deltas.
// Absence of any assistant output after full consumption is an error.
func CollectFinalMessage(ctx context.Context, chunks <-chan StreamChunk, errs <-chan error, assistantMessageID string) (store.ChatMessage, error) {
	var (
		final     *envelopeMessage
		deltaText strings.Builder
		streamErr error
	)
	for chunks != nil || errs != nil {
		select {
		case <-ctx.Done():
			return store.ChatMessage{}, ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			envelope, err := decodeEnvelope(chunk)
			if err != nil {
				// Malformed chunks are skipped; the terminal message decides.
				continue
			}
			switch envelope.Type {
			case "message_delta", "text_delta":
				deltaText.WriteString(envelope.Delta)
			case "message", "done":
				if envelope.Message != nil && envelope.Message.Role == store.RoleAssistant {
					final = envelope.Message
				}
			case "error":
				if strings.TrimSpace(envelope.Error) != "" {
					streamErr = fmt.Errorf("assistant stream: %s", envelope.Error)
				}
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				streamErr = err
			}
		}
	}
	if streamErr != nil {
		return store.ChatMessage{}, streamErr
	}
	if final == nil {
		text := strings.TrimSpace(deltaText.String())
		if text == "" {
			return store.ChatMessage{}, fmt.Errorf("missing assistant message in response stream")
		}
		final = &envelopeMessage{
			Role:  store.RoleAssistant,
			Parts: []store.Part{{Type: "text", Text: text}},
		}
	}
	return store.ChatMessage{
		ID:    assistantMessageID,
		Role:  store.RoleAssistant,
		Parts: final.Parts,
	}, nil
}

// MessageText joins the text parts of a message, trimmed. Empty transcripts
// fall back to a terse acknowledgment so a reply is always postable.
func MessageText(msg store.ChatMessage) string {
	var texts []string
	for _, part := range msg.Parts {
		if part.Type == "text" && strings.TrimSpace(part.Text) != "" {
			texts = append(texts, part.Text)
		}
	}
	joined := strings.TrimSpace(strings.Join(texts, "\n"))
	if joined == "" {
		return "Done."
	}
	return joined
}

func decodeEnvelope(chunk StreamChunk) (streamEnvelope, error) {
	var envelope streamEnvelope
	if err := json.Unmarshal(chunk, &envelope); err != nil {
		return streamEnvelope{}, err
	}
	return envelope, nil
}
