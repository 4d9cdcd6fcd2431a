package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mailbridge/mailbridge/internal/platform"
)

// ChannelStore reads and writes linked-channel bindings.
type ChannelStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewChannelStore creates a linked-channel store.
func NewChannelStore(log *slog.Logger, pool *pgxpool.Pool) *ChannelStore {
	if log == nil {
		log = slog.Default()
	}
	return &ChannelStore{
		pool:   pool,
		logger: log.With(slog.String("store", "channels")),
	}
}

const channelColumns = `id, provider, team_id, COALESCE(team_name, ''), provider_user_id,
	email_account_id, COALESCE(channel_id, ''), is_connected,
	COALESCE(access_token, ''), COALESCE(bot_user_id, ''), updated_at`

// Upsert creates or refreshes the binding for
// (email_account_id, provider, team_id).
func (s *ChannelStore) Upsert(ctx context.Context, ch LinkedChannel) (LinkedChannel, error) {
	id := strings.TrimSpace(ch.ID)
	if id == "" {
		id = uuid.NewString()
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO linked_channels
		 (id, provider, team_id, team_name, provider_user_id, email_account_id,
		  channel_id, is_connected, access_token, bot_user_id)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, NULLIF($7, ''), $8, NULLIF($9, ''), NULLIF($10, ''))
		 ON CONFLICT (email_account_id, provider, team_id) DO UPDATE SET
		   team_name = COALESCE(NULLIF(EXCLUDED.team_name, ''), linked_channels.team_name),
		   provider_user_id = EXCLUDED.provider_user_id,
		   channel_id = COALESCE(EXCLUDED.channel_id, linked_channels.channel_id),
		   is_connected = EXCLUDED.is_connected,
		   access_token = COALESCE(EXCLUDED.access_token, linked_channels.access_token),
		   bot_user_id = COALESCE(EXCLUDED.bot_user_id, linked_channels.bot_user_id),
		   updated_at = now()
		 RETURNING `+channelColumns,
		id, string(ch.Provider), ch.TeamID, ch.TeamName, ch.ProviderUserID,
		ch.EmailAccountID, ch.ChannelID, ch.IsConnected, ch.AccessToken, ch.BotUserID,
	)
	stored, err := scanChannel(row)
	if err != nil {
		return LinkedChannel{}, fmt.Errorf("upsert linked channel: %w", err)
	}
	return stored, nil
}

// FindConnected returns connected bindings for a platform identity scoped to
// a team. For Slack the access token must be present.
func (s *ChannelStore) FindConnected(ctx context.Context, provider platform.Type, teamID, providerUserID string) ([]LinkedChannel, error) {
	query := `SELECT ` + channelColumns + `
		 FROM linked_channels
		 WHERE provider = $1 AND team_id = $2 AND provider_user_id = $3 AND is_connected`
	if provider == platform.TypeSlack {
		query += ` AND access_token IS NOT NULL`
	}
	query += ` ORDER BY updated_at DESC`
	rows, err := s.pool.Query(ctx, query, string(provider), teamID, providerUserID)
	if err != nil {
		return nil, fmt.Errorf("find connected channels: %w", err)
	}
	return scanChannels(rows)
}

// FindConnectedByUser returns connected bindings for a provider user across
// all teams. Fallback for identities linked before a team scope was captured.
func (s *ChannelStore) FindConnectedByUser(ctx context.Context, provider platform.Type, providerUserID string) ([]LinkedChannel, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+channelColumns+`
		 FROM linked_channels
		 WHERE provider = $1 AND provider_user_id = $2 AND is_connected
		 ORDER BY updated_at DESC`,
		string(provider), providerUserID,
	)
	if err != nil {
		return nil, fmt.Errorf("find channels by user: %w", err)
	}
	return scanChannels(rows)
}

// FindAuthorized reports whether a connected binding ties the clicking
// identity to the given email account, optionally scoped to a team.
func (s *ChannelStore) FindAuthorized(ctx context.Context, provider platform.Type, emailAccountID, providerUserID, teamID string) (bool, error) {
	query := `SELECT EXISTS (
		 SELECT 1 FROM linked_channels
		 WHERE provider = $1 AND email_account_id = $2 AND provider_user_id = $3 AND is_connected`
	args := []any{string(provider), emailAccountID, providerUserID}
	if strings.TrimSpace(teamID) != "" {
		query += ` AND team_id = $4`
		args = append(args, teamID)
	}
	query += `)`
	var authorized bool
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&authorized); err != nil {
		return false, fmt.Errorf("check channel authorization: %w", err)
	}
	return authorized, nil
}

// ListConnected returns every connected binding. The reminder fan-out walks
// this set on each tick.
func (s *ChannelStore) ListConnected(ctx context.Context) ([]LinkedChannel, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+channelColumns+`
		 FROM linked_channels
		 WHERE is_connected
		 ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list connected channels: %w", err)
	}
	return scanChannels(rows)
}

// LatestWorkspaceToken returns the most recently updated connected binding
// holding an access token for a Slack team, or false when none exists.
func (s *ChannelStore) LatestWorkspaceToken(ctx context.Context, teamID string) (LinkedChannel, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+channelColumns+`
		 FROM linked_channels
		 WHERE provider = $1 AND team_id = $2 AND is_connected AND access_token IS NOT NULL
		 ORDER BY updated_at DESC
		 LIMIT 1`,
		string(platform.TypeSlack), teamID,
	)
	ch, err := scanChannel(row)
	if err == pgx.ErrNoRows {
		return LinkedChannel{}, false, nil
	}
	if err != nil {
		return LinkedChannel{}, false, fmt.Errorf("find workspace token: %w", err)
	}
	return ch, true, nil
}

func scanChannel(row pgx.Row) (LinkedChannel, error) {
	var (
		ch       LinkedChannel
		provider string
	)
	if err := row.Scan(&ch.ID, &provider, &ch.TeamID, &ch.TeamName, &ch.ProviderUserID,
		&ch.EmailAccountID, &ch.ChannelID, &ch.IsConnected,
		&ch.AccessToken, &ch.BotUserID, &ch.UpdatedAt); err != nil {
		return LinkedChannel{}, err
	}
	ch.Provider = platform.Type(provider)
	return ch, nil
}

func scanChannels(rows pgx.Rows) ([]LinkedChannel, error) {
	defer rows.Close()
	var channels []LinkedChannel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan linked channel: %w", err)
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate linked channels: %w", err)
	}
	return channels, nil
}
