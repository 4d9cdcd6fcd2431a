package bot

import (
	"context"
	"log/slog"

	"github.com/mailbridge/mailbridge/internal/identity"
	"github.com/mailbridge/mailbridge/internal/linkcode"
	"github.com/mailbridge/mailbridge/internal/platform"
	"github.com/mailbridge/mailbridge/internal/store"
)

// Link command notices.
const (
	identityUnreadableNotice = "Could not read your messaging identity. Please try again."
	invalidCodeNotice        = "That connect code is invalid or expired. Generate a new code in MailBridge settings and try again."
	staleCodeNotice          = "This connect code is no longer valid. Generate a new code in MailBridge settings and try again."
)

// handleLinkCommand short-circuits "/connect <code>" messages on the
// account-linking platforms. Non-command text is never a link command, so
// normal chat passes through untouched.
func (g *Gateway) handleLinkCommand(ctx context.Context, ev InboundEvent) (bool, error) {
	provider := ev.Thread.Platform
	if provider != platform.TypeTeams && provider != platform.TypeTelegram {
		return false, nil
	}
	code := linkcode.ExtractConnectCode(ev.Message.Text)
	if code == "" {
		return false, nil
	}
	if !ev.Thread.IsDM {
		g.postThreadNotice(ctx, ev.Thread, dmRequiredNotice(provider))
		return true, nil
	}

	var id *identity.Identity
	switch provider {
	case platform.TypeTeams:
		if ev.Raw.Teams != nil {
			id = identity.ResolveTeams(*ev.Raw.Teams, ev.Thread, ev.Message)
		}
	case platform.TypeTelegram:
		if ev.Raw.Telegram != nil {
			id = identity.ResolveTelegram(*ev.Raw.Telegram, ev.Thread, ev.Message)
		}
	}
	if id == nil {
		g.postThreadNotice(ctx, ev.Thread, identityUnreadableNotice)
		return true, nil
	}

	emailAccountID, ok := g.linkCodes.Consume(ctx, code, provider)
	if !ok {
		g.postThreadNotice(ctx, ev.Thread, invalidCodeNotice)
		return true, nil
	}

	// The code can outlive its account; verify before binding.
	if _, err := g.accounts.GetAccount(ctx, emailAccountID); err != nil {
		g.logger.Warn("connect code referenced missing account",
			slog.String("email_account_id", emailAccountID),
			slog.Any("error", err),
		)
		g.postThreadNotice(ctx, ev.Thread, staleCodeNotice)
		return true, nil
	}

	if _, err := g.channels.Upsert(ctx, store.LinkedChannel{
		Provider:       provider,
		TeamID:         id.TeamID,
		TeamName:       id.TeamName,
		ProviderUserID: id.ProviderUserID,
		EmailAccountID: emailAccountID,
		IsConnected:    true,
	}); err != nil {
		return true, err
	}

	g.logger.Info("linked channel connected",
		slog.String("provider", provider.String()),
		slog.String("team_id", id.TeamID),
		slog.String("email_account_id", emailAccountID),
	)
	g.postThreadNotice(ctx, ev.Thread,
		"Connected successfully. You can now chat with your MailBridge assistant in this "+provider.DisplayName()+" DM.")
	return true, nil
}
