package email

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	mail "github.com/wneessen/go-mail"

	"github.com/mailbridge/mailbridge/internal/store"
)

// SMTPConfig configures the direct SMTP executor.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// StartTLS upgrades the connection after connect; otherwise implicit TLS.
	StartTLS bool
}

// SMTPExecutor sends confirmed drafts through a single SMTP relay. It is the
// fallback when no account service owns the send; the relay account must be
// allowed to send as the linked addresses.
type SMTPExecutor struct {
	cfg      SMTPConfig
	accounts Accounts
	logger   *slog.Logger
}

// NewSMTPExecutor creates an SMTP-backed confirmation executor.
func NewSMTPExecutor(log *slog.Logger, cfg SMTPConfig, accounts Accounts) *SMTPExecutor {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPExecutor{
		cfg:      cfg,
		accounts: accounts,
		logger:   log.With(slog.String("service", "smtp_executor")),
	}
}

// ConfirmPendingAction sends the pending draft over SMTP from the linked
// account's address.
func (e *SMTPExecutor) ConfirmPendingAction(ctx context.Context, emailAccountID, toolCallID string, action store.PendingAction) (Sent, error) {
	if strings.TrimSpace(action.To) == "" {
		return Sent{}, fmt.Errorf("pending action has no recipient")
	}
	account, err := e.accounts.GetAccount(ctx, emailAccountID)
	if err != nil {
		return Sent{}, err
	}

	m := mail.NewMsg()
	if err := m.From(account.Email); err != nil {
		return Sent{}, fmt.Errorf("set from: %w", err)
	}
	if err := m.To(action.To); err != nil {
		return Sent{}, fmt.Errorf("set to: %w", err)
	}
	m.Subject(action.Subject)
	m.SetBodyString(mail.TypeTextPlain, action.Body)
	m.SetMessageID()

	opts := []mail.Option{
		mail.WithPort(e.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(e.cfg.Username),
		mail.WithPassword(e.cfg.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
	}
	if !e.cfg.StartTLS {
		opts = append(opts, mail.WithSSLPort(false))
	}

	client, err := mail.NewClient(e.cfg.Host, opts...)
	if err != nil {
		return Sent{}, fmt.Errorf("create smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return Sent{}, fmt.Errorf("send email: %w", err)
	}

	e.logger.Info("pending draft sent over smtp",
		slog.String("email_account_id", emailAccountID),
		slog.String("tool_call_id", toolCallID),
	)
	return Sent{MessageID: m.GetMessageID()}, nil
}
