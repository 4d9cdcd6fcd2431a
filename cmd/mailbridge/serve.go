package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/mailbridge/mailbridge/internal/assistant"
	"github.com/mailbridge/mailbridge/internal/bot"
	"github.com/mailbridge/mailbridge/internal/config"
	"github.com/mailbridge/mailbridge/internal/email"
	"github.com/mailbridge/mailbridge/internal/handlers"
	"github.com/mailbridge/mailbridge/internal/linkcode"
	"github.com/mailbridge/mailbridge/internal/logger"
	"github.com/mailbridge/mailbridge/internal/platform"
	slackplatform "github.com/mailbridge/mailbridge/internal/platform/slack"
	teamsplatform "github.com/mailbridge/mailbridge/internal/platform/teams"
	telegramplatform "github.com/mailbridge/mailbridge/internal/platform/telegram"
	"github.com/mailbridge/mailbridge/internal/reminder"
	"github.com/mailbridge/mailbridge/internal/server"
	"github.com/mailbridge/mailbridge/internal/store"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBPool,
			store.NewChannelStore,
			store.NewChatStore,
			store.NewMessageStore,
			store.NewNonceStore,
			store.NewOutboxStore,
			provideLinkCodes,
			provideAssistant,
			provideContextProvider,
			provideMailBackend,
			provideExecutor,
			provideSlackAdapter,
			provideTeamsAdapter,
			provideTelegramAdapter,
			provideRegistry,
			provideGateway,
			provideReminder,
			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(provideSlackHandler),
			provideServerHandler(provideTeamsHandler),
			provideServerHandler(provideTelegramHandler),
			provideServerHandler(handlers.NewLinkCodesHandler),
			provideServer,
		),
		fx.Invoke(
			startReminder,
			startServer,
		),
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBPool(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (*pgxpool.Pool, error) {
	dsn := cfg.Postgres.DSN()
	if err := store.Migrate(log, dsn); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	pool, err := store.Connect(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { pool.Close(); return nil }})
	return pool, nil
}

func provideLinkCodes(log *slog.Logger, nonces *store.NonceStore) *linkcode.Service {
	return linkcode.NewService(log, nonces)
}

func provideAssistant(log *slog.Logger, cfg config.Config) assistant.Service {
	return assistant.NewHTTPService(log, cfg.Assistant.BaseURL, cfg.Assistant.APISecret)
}

func provideContextProvider(log *slog.Logger, cfg config.Config) *assistant.HTTPContextProvider {
	return assistant.NewHTTPContextProvider(log, cfg.Assistant.BaseURL, cfg.Assistant.APISecret)
}

func provideMailBackend(log *slog.Logger, cfg config.Config) *email.HTTPClient {
	return email.NewHTTPClient(log, cfg.Accounts.BaseURL, cfg.Accounts.APISecret)
}

// provideExecutor selects how confirmed drafts are sent. With an SMTP relay
// configured the gateway sends directly; otherwise the account service owns
// the send.
func provideExecutor(log *slog.Logger, cfg config.Config, backend *email.HTTPClient) email.Executor {
	if strings.TrimSpace(cfg.SMTP.Host) != "" {
		return email.NewSMTPExecutor(log, email.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			StartTLS: cfg.SMTP.StartTLS,
		}, backend)
	}
	return backend
}

func provideSlackAdapter(log *slog.Logger, channels *store.ChannelStore) *slackplatform.Adapter {
	return slackplatform.NewAdapter(log, nil, channels)
}

func provideTeamsAdapter(log *slog.Logger, cfg config.Config) *teamsplatform.Adapter {
	return teamsplatform.NewAdapter(log, cfg.Teams.AppID, cfg.Teams.AppPassword)
}

func provideTelegramAdapter(log *slog.Logger, cfg config.Config) *telegramplatform.Adapter {
	return telegramplatform.NewAdapter(log, cfg.Telegram.BotToken)
}

func provideRegistry(cfg config.Config, slackAdapter *slackplatform.Adapter, teamsAdapter *teamsplatform.Adapter, telegramAdapter *telegramplatform.Adapter) (*platform.Registry, error) {
	registry := platform.NewRegistry()
	if cfg.Slack.Enabled {
		if err := registry.Register(slackAdapter); err != nil {
			return nil, err
		}
	}
	if cfg.Teams.Enabled {
		if err := registry.Register(teamsAdapter); err != nil {
			return nil, err
		}
	}
	if cfg.Telegram.Enabled {
		if err := registry.Register(telegramAdapter); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func provideGateway(log *slog.Logger, registry *platform.Registry, chats *store.ChatStore, messages *store.MessageStore, channels *store.ChannelStore, linkCodes *linkcode.Service, svc assistant.Service, ctxProvider *assistant.HTTPContextProvider, backend *email.HTTPClient, executor email.Executor) *bot.Gateway {
	return bot.New(log, bot.Deps{
		Registry:  registry,
		Chats:     chats,
		Messages:  messages,
		Channels:  channels,
		LinkCodes: linkCodes,
		Assistant: svc,
		Stats:     ctxProvider,
		Memories:  ctxProvider,
		Accounts:  backend,
		Executor:  executor,
	})
}

func provideReminder(log *slog.Logger, cfg config.Config, channels *store.ChannelStore, outbox *store.OutboxStore) *reminder.Service {
	var dispatcher reminder.Dispatcher = reminder.NewOutboxDispatcher(log, outbox)
	if strings.TrimSpace(cfg.Reminder.QueueURL) != "" {
		primary := reminder.NewHTTPDispatcher(log, cfg.Reminder.QueueURL, cfg.Assistant.APISecret)
		dispatcher = reminder.NewFallbackDispatcher(log, primary, dispatcher)
	}
	return reminder.NewService(log, channels, dispatcher, cfg.Reminder.Schedule, cfg.Reminder.Concurrency)
}

func provideSlackHandler(log *slog.Logger, cfg config.Config, gateway *bot.Gateway, channels *store.ChannelStore) *handlers.SlackHandler {
	var oauth *slackplatform.OAuthSettings
	if strings.TrimSpace(cfg.Slack.ClientID) != "" {
		oauth = slackplatform.NewOAuthSettings(cfg.Slack.ClientID, cfg.Slack.ClientSecret, cfg.Slack.RedirectURL)
	}
	return handlers.NewSlackHandler(log, gateway, channels, cfg.Slack.SigningSecret, oauth)
}

func provideTeamsHandler(log *slog.Logger, cfg config.Config, gateway *bot.Gateway, adapter *teamsplatform.Adapter) *handlers.TeamsHandler {
	return handlers.NewTeamsHandler(log, gateway, adapter, cfg.Teams.AppID)
}

func provideTelegramHandler(log *slog.Logger, cfg config.Config, gateway *bot.Gateway, adapter *telegramplatform.Adapter) *handlers.TelegramHandler {
	return handlers.NewTelegramHandler(log, gateway, adapter, cfg.Telegram.WebhookSecret)
}

type serverParams struct {
	fx.In
	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.Config.Auth.JWTSecret, params.ServerHandlers)
}

func startReminder(lc fx.Lifecycle, cfg config.Config, svc *reminder.Service) {
	if !cfg.Reminder.Enabled {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return svc.Start() },
		OnStop:  func(ctx context.Context) error { return svc.Stop(ctx) },
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
