package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/urizennnn/omni-backend-sub001/internal/accounts"
	"github.com/urizennnn/omni-backend-sub001/internal/config"
	"github.com/urizennnn/omni-backend-sub001/internal/connector"
	"github.com/urizennnn/omni-backend-sub001/internal/connector/mailbox"
	"github.com/urizennnn/omni-backend-sub001/internal/connector/social"
	"github.com/urizennnn/omni-backend-sub001/internal/connector/telegram"
	"github.com/urizennnn/omni-backend-sub001/internal/contacts"
	"github.com/urizennnn/omni-backend-sub001/internal/conversations"
	"github.com/urizennnn/omni-backend-sub001/internal/db"
	"github.com/urizennnn/omni-backend-sub001/internal/events"
	"github.com/urizennnn/omni-backend-sub001/internal/handlers"
	"github.com/urizennnn/omni-backend-sub001/internal/ingest"
	"github.com/urizennnn/omni-backend-sub001/internal/logger"
	"github.com/urizennnn/omni-backend-sub001/internal/messages"
	"github.com/urizennnn/omni-backend-sub001/internal/oauthflow"
	"github.com/urizennnn/omni-backend-sub001/internal/platform"
	"github.com/urizennnn/omni-backend-sub001/internal/poller"
	"github.com/urizennnn/omni-backend-sub001/internal/server"
	"github.com/urizennnn/omni-backend-sub001/internal/users"
	"github.com/urizennnn/omni-backend-sub001/internal/vault"
)

func runServe() {
	fx.New(
		fx.Provide(
			loadConfig,
			provideLogger,
			provideDBConn,
			provideVault,
			users.NewService,
			accounts.NewService,
			conversations.NewService,
			messages.NewService,
			contacts.NewService,
			events.NewHub,
			provideRegistry,
			providePipeline,
			provideOAuthFlow,
			providePoller,
			provideHandlers,
			provideServer,
		),
		fx.Invoke(
			runMigrations,
			startPoller,
			startServer,
		),
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	pool, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { pool.Close(); return nil }})
	return pool, nil
}

func provideVault(cfg config.Config) (*vault.Vault, error) {
	v, err := vault.NewFromHex(cfg.Vault.KeyHex)
	if err != nil {
		return nil, fmt.Errorf("credential vault: %w", err)
	}
	return v, nil
}

func provideRegistry(log *slog.Logger, cfg config.Config) (*connector.Registry, error) {
	registry := connector.NewRegistry()
	for _, p := range []platform.Platform{platform.X, platform.Instagram, platform.LinkedIn} {
		registry.MustRegister(social.New(log, p, cfg.Platforms[p.String()]))
	}
	registry.MustRegister(telegram.New(log))

	var emailOpts []mailbox.Option
	if cfg.Email.Sender == "mailgun" {
		sender, err := mailbox.NewMailgunSender(log, cfg.Email)
		if err != nil {
			return nil, fmt.Errorf("mailgun sender: %w", err)
		}
		emailOpts = append(emailOpts, mailbox.WithOutbound(sender))
	}
	registry.MustRegister(mailbox.New(log, emailOpts...))
	return registry, nil
}

func providePipeline(
	log *slog.Logger,
	conversationService *conversations.Service,
	messageService *messages.Service,
	contactService *contacts.Service,
	userService *users.Service,
	hub *events.Hub,
) *ingest.Pipeline {
	return ingest.NewPipeline(log, conversationService, messageService, contactService, userService, hub)
}

func provideOAuthFlow(
	log *slog.Logger,
	pool *pgxpool.Pool,
	accountService *accounts.Service,
	registry *connector.Registry,
	v *vault.Vault,
	cfg config.Config,
) (*oauthflow.Service, error) {
	return oauthflow.NewService(log, oauthflow.NewPGStateStore(pool), accountService, registry, v, cfg)
}

func providePoller(
	log *slog.Logger,
	accountService *accounts.Service,
	registry *connector.Registry,
	pipeline *ingest.Pipeline,
	v *vault.Vault,
	cfg config.Config,
) *poller.Poller {
	return poller.New(log, accountService, registry, pipeline, v, cfg.Poller)
}

func provideHandlers(
	log *slog.Logger,
	cfg config.Config,
	userService *users.Service,
	accountService *accounts.Service,
	conversationService *conversations.Service,
	messageService *messages.Service,
	contactService *contacts.Service,
	registry *connector.Registry,
	flow *oauthflow.Service,
	p *poller.Poller,
	hub *events.Hub,
) ([]server.Handler, error) {
	expiresIn, err := time.ParseDuration(cfg.Auth.JWTExpiresIn)
	if err != nil {
		return nil, fmt.Errorf("parse jwt expires in: %w", err)
	}
	return []server.Handler{
		handlers.NewPingHandler(log),
		handlers.NewAuthHandler(log, userService, cfg.Auth.JWTSecret, expiresIn),
		handlers.NewConnectionsHandler(log, flow, p),
		handlers.NewAccountsHandler(log, accountService, p),
		handlers.NewConversationsHandler(log, conversationService),
		handlers.NewMessagesHandler(log, conversationService, messageService, accountService, registry, flow, hub),
		handlers.NewContactsHandler(log, contactService),
		handlers.NewEventsHandler(log, hub),
	}, nil
}

func provideServer(log *slog.Logger, cfg config.Config, serverHandlers []server.Handler) *server.Server {
	return server.New(log, cfg.Server.Addr, cfg.Auth.JWTSecret, serverHandlers...)
}

func runMigrations(cfg config.Config, log *slog.Logger) error {
	if err := db.Migrate(cfg.Postgres); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info("database migrations applied")
	return nil
}

func startPoller(lc fx.Lifecycle, p *poller.Poller) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return p.Start(ctx) },
		OnStop:  func(ctx context.Context) error { return p.Stop(ctx) },
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
