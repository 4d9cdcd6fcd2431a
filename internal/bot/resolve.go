package bot

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mailbridge/mailbridge/internal/identity"
	"github.com/mailbridge/mailbridge/internal/platform"
	"github.com/mailbridge/mailbridge/internal/store"
)

// User-facing resolution notices.
const (
	workspaceConnectNotice = "To use this bot, connect your MailBridge account to this workspace from your settings page."
	unlinkedChannelNotice  = "This channel isn't linked to an email account. Set one up in your MailBridge settings."
)

// Context is a fully authorized inbound event: the sender resolved to exactly
// one email account and the thread resolved to a durable chat key.
type Context struct {
	Provider       platform.Type
	Thread         platform.Thread
	EmailAccountID string
	MessageText    string
	ChatID         string
}

// resolveContext authorizes the event's sender against the linked-channel
// registry. A nil context with a nil error means the event is intentionally
// not actionable; any required notice has already been posted.
func (g *Gateway) resolveContext(ctx context.Context, ev InboundEvent) (*Context, error) {
	switch ev.Thread.Platform {
	case platform.TypeSlack:
		if ev.Raw.Slack == nil {
			return nil, nil
		}
		return g.resolveSlack(ctx, ev, *ev.Raw.Slack)
	case platform.TypeTeams:
		if ev.Raw.Teams == nil {
			return nil, nil
		}
		id := identity.ResolveTeams(*ev.Raw.Teams, ev.Thread, ev.Message)
		return g.resolveLinked(ctx, ev, id)
	case platform.TypeTelegram:
		if ev.Raw.Telegram == nil {
			return nil, nil
		}
		id := identity.ResolveTelegram(*ev.Raw.Telegram, ev.Thread, ev.Message)
		return g.resolveLinked(ctx, ev, id)
	default:
		return nil, nil
	}
}

// resolveSlack authorizes a Slack event. Non-DM threads additionally require
// a binding whose channel id matches the event's channel.
func (g *Gateway) resolveSlack(ctx context.Context, ev InboundEvent, raw identity.SlackEvent) (*Context, error) {
	id := identity.ResolveSlack(raw, ev.Thread, ev.Message)
	if id == nil {
		return nil, nil
	}

	adapter, ok := g.registry.Get(platform.TypeSlack)
	if !ok {
		return nil, nil
	}
	ref, err := adapter.DecodeThreadID(ev.Thread.ID)
	if err != nil {
		return nil, err
	}
	chatID := identity.SlackChatID(ref.Channel, ref.ThreadTS)

	candidates, err := g.channels.FindConnected(ctx, platform.TypeSlack, id.TeamID, id.ProviderUserID)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		g.postThreadNotice(ctx, ev.Thread, workspaceConnectNotice)
		g.logger.Info("unauthorized slack user attempted bot access", slog.String("team_id", id.TeamID))
		return nil, nil
	}

	channel, err := g.selectSlackCandidate(ctx, ev.Thread, candidates, ref.Channel, chatID, id)
	if err != nil || channel == nil {
		return nil, err
	}

	return &Context{
		Provider:       platform.TypeSlack,
		Thread:         ev.Thread,
		EmailAccountID: channel.EmailAccountID,
		MessageText:    id.MessageText,
		ChatID:         chatID,
	}, nil
}

func (g *Gateway) selectSlackCandidate(ctx context.Context, thread platform.Thread, candidates []store.LinkedChannel, channel, chatID string, id *identity.Identity) (*store.LinkedChannel, error) {
	if !thread.IsDM {
		for i := range candidates {
			if candidates[i].ChannelID == channel {
				return &candidates[i], nil
			}
		}
		g.postThreadNotice(ctx, thread, unlinkedChannelNotice)
		g.logger.Info("no email account assigned to this channel",
			slog.String("team_id", id.TeamID),
			slog.String("channel", channel),
		)
		return nil, nil
	}
	if len(candidates) == 1 {
		return &candidates[0], nil
	}
	selected, err := g.selectCandidateFromExistingChat(ctx, candidates, chatID,
		"multiple accounts in slack dm, using first match",
		slog.String("team_id", id.TeamID))
	if err != nil {
		return nil, err
	}
	return selected, nil
}

// resolveLinked authorizes a Teams or Telegram event. Both platforms are
// DM-only; the team-scoped lookup falls back to a provider-wide lookup for
// identities linked before a team scope was captured.
func (g *Gateway) resolveLinked(ctx context.Context, ev InboundEvent, id *identity.Identity) (*Context, error) {
	if id == nil {
		return nil, nil
	}
	provider := ev.Thread.Platform
	if !ev.Thread.IsDM {
		g.postThreadNotice(ctx, ev.Thread, dmRequiredNotice(provider))
		return nil, nil
	}
	chatID := identity.LinkedChatID(provider, ev.Thread.ID)

	candidates, err := g.channels.FindConnected(ctx, provider, id.TeamID, id.ProviderUserID)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		candidates, err = g.channels.FindConnectedByUser(ctx, provider, id.ProviderUserID)
		if err != nil {
			return nil, err
		}
	}
	if len(candidates) == 0 {
		g.postThreadNotice(ctx, ev.Thread, linkRequiredNotice(provider))
		return nil, nil
	}

	selected := &candidates[0]
	if len(candidates) > 1 {
		selected, err = g.selectCandidateFromExistingChat(ctx, candidates, chatID,
			"multiple linked accounts found, using first match",
			slog.String("provider", provider.String()),
			slog.String("team_id", id.TeamID))
		if err != nil {
			return nil, err
		}
	}

	return &Context{
		Provider:       provider,
		Thread:         ev.Thread,
		EmailAccountID: selected.EmailAccountID,
		MessageText:    id.MessageText,
		ChatID:         chatID,
	}, nil
}

// selectCandidateFromExistingChat pins ambiguous multi-account identities to
// the account that already owns the chat, keeping long threads from flipping
// accounts. Without an existing chat the first candidate wins, with a
// warning.
func (g *Gateway) selectCandidateFromExistingChat(ctx context.Context, candidates []store.LinkedChannel, chatID, warning string, meta ...any) (*store.LinkedChannel, error) {
	if len(candidates) == 1 {
		return &candidates[0], nil
	}
	existing, err := g.chats.Get(ctx, chatID)
	if err != nil && !errors.Is(err, store.ErrChatNotFound) {
		return nil, err
	}
	if err == nil {
		for i := range candidates {
			if candidates[i].EmailAccountID == existing.EmailAccountID {
				return &candidates[i], nil
			}
		}
	}
	meta = append(meta, slog.Int("candidate_count", len(candidates)))
	g.logger.Warn(warning, meta...)
	return &candidates[0], nil
}

func dmRequiredNotice(provider platform.Type) string {
	return "For privacy, " + provider.DisplayName() + " support only works in direct messages. Open a DM with the bot and try again."
}

func linkRequiredNotice(provider platform.Type) string {
	name := provider.DisplayName()
	return "Your " + name + " account is not linked yet. In MailBridge settings, generate a " + name + " connect code and send `/connect <code>` in this DM."
}
