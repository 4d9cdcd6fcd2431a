package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NonceStore implements atomic claim-once semantics for link-code nonces.
// A nonce row is its own lock: the first insert wins, and an expired row may
// be reclaimed. The single statement makes the claim atomic without any
// application-level locking.
type NonceStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewNonceStore creates a nonce store.
func NewNonceStore(log *slog.Logger, pool *pgxpool.Pool) *NonceStore {
	if log == nil {
		log = slog.Default()
	}
	return &NonceStore{
		pool:   pool,
		logger: log.With(slog.String("store", "nonces")),
	}
}

// Claim reserves the nonce for ttl and reports whether this call won the
// reservation. A second claim within the ttl returns false.
func (s *NonceStore) Claim(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	expiresAt := time.Now().Add(ttl)
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO link_nonces (nonce_hash, expires_at) VALUES ($1, $2)
		 ON CONFLICT (nonce_hash) DO UPDATE SET expires_at = EXCLUDED.expires_at
		 WHERE link_nonces.expires_at < now()`,
		nonceKey(nonce), expiresAt,
	)
	if err != nil {
		return false, fmt.Errorf("claim link nonce: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// nonceKey hashes the nonce so raw nonce values never reach storage.
func nonceKey(nonce string) string {
	digest := sha256.Sum256([]byte(nonce))
	return hex.EncodeToString(digest[:])[:20]
}
