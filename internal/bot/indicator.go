package bot

import (
	"context"
	"log/slog"

	"github.com/mailbridge/mailbridge/internal/platform"
)

const processingEmoji = "eyes"

// startProcessingIndicator fires a best-effort "processing" signal: a
// reaction where the platform supports one, otherwise a throwaway
// acknowledgment in DMs. The returned cleanup tears the signal down and is
// always safe to call; every failure on this path is swallowed.
func (g *Gateway) startProcessingIndicator(ctx context.Context, thread platform.Thread, messageID string) func() {
	noop := func() {}

	if reactor, ok := g.registry.Reactor(thread.Platform); ok {
		if err := reactor.AddReaction(ctx, thread, messageID, processingEmoji); err == nil {
			return func() {
				if err := reactor.RemoveReaction(ctx, thread, messageID, processingEmoji); err != nil {
					g.logger.Warn("failed to remove processing reaction",
						slog.String("thread_id", thread.ID),
						slog.String("message_id", messageID),
						slog.Any("error", err),
					)
				}
			}
		}
		g.logger.Warn("failed to add processing reaction",
			slog.String("thread_id", thread.ID),
			slog.String("message_id", messageID),
		)
	}

	if !thread.IsDM {
		return noop
	}

	ackID, err := g.post(ctx, thread, platform.Content{Text: processingAckText})
	if err != nil {
		g.logger.Warn("failed to post processing acknowledgment",
			slog.String("thread_id", thread.ID),
			slog.Any("error", err),
		)
		return noop
	}
	deleter, ok := g.registry.Deleter(thread.Platform)
	if !ok || ackID == "" {
		return noop
	}
	return func() {
		// Best-effort cleanup only.
		_ = deleter.Delete(ctx, thread, ackID)
	}
}
