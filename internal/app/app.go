// Package app builds the service graph shared by the api and worker processes.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"omnichat-platform/internal/ai"
	"omnichat-platform/internal/audit"
	"omnichat-platform/internal/auth"
	"omnichat-platform/internal/campaigns"
	"omnichat-platform/internal/config"
	"omnichat-platform/internal/connections"
	"omnichat-platform/internal/contacts"
	"omnichat-platform/internal/events"
	"omnichat-platform/internal/inbound"
	"omnichat-platform/internal/jobqueue"
	"omnichat-platform/internal/outbound"
	"omnichat-platform/internal/queues"
	"omnichat-platform/internal/reporting"
	"omnichat-platform/internal/routing"
	"omnichat-platform/internal/schedules"
	"omnichat-platform/internal/tenants"
	"omnichat-platform/internal/tickets"
	"omnichat-platform/internal/transport"
	"omnichat-platform/pkg/utils"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// App holds long-lived clients and the services built on them.
type App struct {
	DB    *sqlx.DB
	Redis *redis.Client

	Auth        *auth.Manager
	Audit       *audit.Service
	Jobs        jobqueue.Queue
	Resolver    *tickets.Resolver
	Tickets     *tickets.Service
	Engine      *routing.Engine
	Transfers   *routing.TransferSweeper
	Inbound     *inbound.Service
	Connections *connections.Service
	Companies   *tenants.Service
	Schedules   *schedules.Service
	Scanner     *schedules.Scanner
	Deliverer   *schedules.Deliverer
	Campaigns   *campaigns.Dispatcher
	Reports     *reporting.Service

	closers []func() error
}

// Build opens Postgres, Redis and the optional AMQP publisher, then wires
// every service. Close releases what Build opened.
func Build(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	a := &App{}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	a.Auth = authManager

	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)

	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	a.Redis = rdb
	a.closers = append(a.closers, rdb.Close)

	var pub events.Publisher = events.Nop{}
	if cfg.RabbitMQ.URL != "" {
		p, err := events.NewAMQPPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, log)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq: %w", err)
		}
		pub = p
		a.closers = append(a.closers, p.Close)
	}

	gateway, err := transport.NewGatewayClient(cfg.Gateway.BaseURL, cfg.Gateway.Timeout, log)
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}

	var completer ai.Completer
	if cfg.AI.BaseURL != "" {
		c, err := ai.NewOpenAIClient(cfg.AI.BaseURL, cfg.AI.APIKey, cfg.AI.Model, cfg.AI.Timeout, log)
		if err != nil {
			return nil, fmt.Errorf("ai: %w", err)
		}
		completer = c
	}

	jobs, err := jobqueue.NewRedisQueue(rdb, jobqueue.RedisConfig{
		MaxAttempts:  cfg.Jobs.MaxAttempts,
		LeaseTTL:     cfg.Jobs.LeaseTTL,
		PollInterval: cfg.Jobs.PollInterval,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("jobqueue: %w", err)
	}
	a.Jobs = jobs

	contactRepo := contacts.NewPostgresRepo(db)
	connRepo := connections.NewPostgresRepo(db)
	companyRepo := tenants.NewPostgresRepo(db)
	queueRepo := queues.NewPostgresRepo(db)
	ticketRepo := tickets.NewPostgresRepo(db)
	campaignRepo := campaigns.NewPostgresRepo(db)
	scheduleRepo := schedules.NewPostgresRepo(db)

	a.Audit = audit.NewService(audit.NewPostgresRepo(db), log)
	messenger := outbound.NewMessenger(contactRepo, connRepo, gateway, log)

	reopen := make([]tickets.Channel, 0, len(cfg.Ticket.ReopenChannels))
	for _, v := range cfg.Ticket.ReopenChannels {
		ch, valid := tickets.ParseChannel(v)
		if !valid {
			return nil, fmt.Errorf("tickets: unknown reopen channel %q", v)
		}
		reopen = append(reopen, ch)
	}
	a.Resolver = tickets.NewResolver(ticketRepo, contactRepo, tickets.ResolverOptions{
		Publisher:      pub,
		Logger:         log,
		ReopenWindow:   cfg.Ticket.ReopenWindow,
		ReopenChannels: reopen,
	})
	a.Tickets = tickets.NewService(ticketRepo, tickets.Options{
		Publisher:   pub,
		Messenger:   messenger,
		Connections: connRepo,
		Companies:   companyRepo,
		Audit:       a.Audit,
		Logger:      log,
	})

	a.Engine = routing.NewEngine(routing.Deps{
		Tickets:     a.Tickets,
		Connections: connRepo,
		Queues:      queueRepo,
		Companies:   companyRepo,
		Prompts:     ai.NewPostgresRepo(db),
		Completer:   completer,
		Messenger:   messenger,
		Logger:      log,
	}, routing.Config{
		BotCooldown:      cfg.Routing.BotCooldown,
		InvalidOptionTTL: cfg.Routing.InvalidOptionTTL,
	})
	a.Transfers = routing.NewTransferSweeper(routing.TransferDeps{
		Connections: connRepo,
		Idle:        ticketRepo,
		Tickets:     a.Tickets,
		Queues:      queueRepo,
		Messenger:   messenger,
		Marker:      routing.NewRedisMarker(rdb),
		Logger:      log,
	}, cfg.Routing.TransferMarker)

	a.Inbound = inbound.NewService(connRepo, contactRepo, a.Resolver, a.Tickets, a.Engine, log)
	a.Connections = connections.NewService(connRepo, a.Audit)
	a.Companies = tenants.NewService(companyRepo, a.Audit)

	schedDeps := schedules.Deps{
		Contacts:  contactRepo,
		Companies: companyRepo,
		Tickets:   a.Resolver,
		Messenger: messenger,
		Logger:    log,
	}
	a.Schedules = schedules.NewService(scheduleRepo, schedDeps)
	a.Scanner = schedules.NewScanner(scheduleRepo, companyRepo, jobs, schedules.ScannerConfig{
		Grace:        cfg.Scheduler.Grace,
		BatchSize:    cfg.Scheduler.BatchSize,
		RequeueAfter: cfg.Scheduler.RequeueAfter,
	}, log)
	a.Deliverer = schedules.NewDeliverer(scheduleRepo, schedDeps)

	a.Campaigns = campaigns.NewDispatcher(campaigns.Deps{
		Repo:      campaignRepo,
		Jobs:      jobs,
		Contacts:  contactRepo,
		Companies: companyRepo,
		Tickets:   a.Resolver,
		Messenger: messenger,
		Logger:    log,
	}, campaigns.Config{Lookahead: cfg.Campaign.Lookahead})
	a.Reports = reporting.NewService(reporting.NewPostgresRepo(db), campaignRepo)

	ok = true
	return a, nil
}

// Close releases clients in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
