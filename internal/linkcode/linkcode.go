// Package linkcode implements the out-of-band connect-code protocol that
// binds a platform identity to an email account. A code is valid at most
// once; single use is enforced by the atomicity of the nonce claim, not by
// locking.
package linkcode

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mailbridge/mailbridge/internal/platform"
)

// NonceTTL bounds how long a claimed nonce blocks reuse of its code.
const NonceTTL = 10 * time.Minute

var connectCommandPattern = regexp.MustCompile(`(?i)^\/?connect(?:@[A-Za-z0-9_]+)?\s+([A-Za-z0-9._=-]+)\s*$`)

// Payload is the decoded content of a connect code.
type Payload struct {
	EmailAccountID string `json:"emailAccountId"`
	Provider       string `json:"provider"`
	Nonce          string `json:"nonce"`
}

// NonceClaimer atomically reserves a nonce with a TTL.
type NonceClaimer interface {
	Claim(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

// Service generates and consumes connect codes.
type Service struct {
	nonces NonceClaimer
	logger *slog.Logger
}

// NewService creates a link-code service.
func NewService(log *slog.Logger, nonces NonceClaimer) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		nonces: nonces,
		logger: log.With(slog.String("service", "linkcode")),
	}
}

// Generate encodes a fresh connect code for the account and provider.
// No network call is involved; validity comes from later nonce consumption.
func Generate(emailAccountID string, provider platform.Type) (string, error) {
	emailAccountID = strings.TrimSpace(emailAccountID)
	if emailAccountID == "" {
		return "", fmt.Errorf("email account id is required")
	}
	if platform.ParseType(provider.String()) == "" {
		return "", fmt.Errorf("unsupported provider: %s", provider)
	}
	payload := Payload{
		EmailAccountID: emailAccountID,
		Provider:       provider.String(),
		Nonce:          strings.ReplaceAll(uuid.NewString(), "-", ""),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode link code: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Parse decodes a connect code and checks it against the requested provider.
// A provider mismatch or malformed code returns nil.
func Parse(code string, provider platform.Type) *Payload {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(code))
	if err != nil {
		return nil
	}
	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil
	}
	if strings.TrimSpace(payload.EmailAccountID) == "" || strings.TrimSpace(payload.Nonce) == "" {
		return nil
	}
	if !strings.EqualFold(payload.Provider, provider.String()) {
		return nil
	}
	return &payload
}

// Consume validates the code for the provider and claims its nonce. The
// provider check happens before the claim so a cross-provider replay cannot
// burn a nonce meant for another flow. Returns the bound email account id
// and whether consumption succeeded.
func (s *Service) Consume(ctx context.Context, code string, provider platform.Type) (string, bool) {
	payload := Parse(code, provider)
	if payload == nil {
		return "", false
	}
	claimed, err := s.nonces.Claim(ctx, payload.Nonce, NonceTTL)
	if err != nil {
		s.logger.Warn("link nonce claim failed", slog.Any("error", err))
		return "", false
	}
	if !claimed {
		return "", false
	}
	return payload.EmailAccountID, true
}

// ExtractConnectCode returns the code argument of a "/connect <code>"
// command, or empty when the text is not a connect command at all.
func ExtractConnectCode(text string) string {
	match := connectCommandPattern.FindStringSubmatch(strings.TrimSpace(text))
	if match == nil {
		return ""
	}
	return match[1]
}
