package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"omnichat-platform/internal/app"
	"omnichat-platform/internal/campaigns"
	"omnichat-platform/internal/config"
	"omnichat-platform/internal/jobqueue"
	"omnichat-platform/internal/schedules"
	"omnichat-platform/internal/sweeper"
	"omnichat-platform/pkg/logger"
)

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, "worker")
	slog.SetDefault(log)

	a, err := app.Build(rootCtx, cfg, log)
	if err != nil {
		log.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = a.Close() }()

	runner := sweeper.New(sweeper.WithLogger(log))
	for _, t := range tasks(cfg, a) {
		if err := runner.Add(t); err != nil {
			log.Error("task registration failed", "task", t.Name, "err", err)
			os.Exit(1)
		}
	}
	runner.Start()
	log.Info("sweeper started")

	var wg sync.WaitGroup
	for topic, h := range consumers(a) {
		wg.Add(1)
		go func(topic string, h jobqueue.Handler) {
			defer wg.Done()
			log.Info("consumer started", "topic", topic)
			if err := a.Jobs.Process(rootCtx, topic, h); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("consumer stopped", "topic", topic, "err", err)
				stop()
			}
		}(topic, h)
	}

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := runner.Stop(shutdownCtx); err != nil {
		log.Error("sweeper shutdown failed", "err", err)
	}
	wg.Wait()

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}

func every(d time.Duration) string {
	return fmt.Sprintf("@every %s", d)
}

func tasks(cfg config.Config, a *app.App) []sweeper.Task {
	return []sweeper.Task{
		{Name: "schedules.scan", Schedule: every(cfg.Scheduler.SweepInterval), Run: a.Scanner.Sweep},
		{Name: "tickets.transfer", Schedule: every(cfg.Routing.TransferSweep), Run: a.Transfers.Sweep},
		{Name: "tickets.rating_expiry", Schedule: every(cfg.Ticket.RatingSweep), Run: func(ctx context.Context) (int, error) {
			return a.Tickets.ExpireRatings(ctx, cfg.Ticket.RatingTimeout)
		}},
		{Name: "campaigns.discover", Schedule: every(cfg.Campaign.DiscoverInterval), Run: a.Campaigns.Discover},
	}
}

func consumers(a *app.App) map[string]jobqueue.Handler {
	return map[string]jobqueue.Handler{
		schedules.TopicDeliver:  a.Deliverer.Handle,
		campaigns.TopicProcess:  a.Campaigns.HandleProcess,
		campaigns.TopicDispatch: a.Campaigns.HandleDispatch,
	}
}
