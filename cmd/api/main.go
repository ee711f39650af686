package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/ticket-session/internal/api/http"
	"github.com/spec-kit/ticket-session/internal/api/http/handlers"
	"github.com/spec-kit/ticket-session/internal/config"
	"github.com/spec-kit/ticket-session/internal/events"
	"github.com/spec-kit/ticket-session/internal/lock"
	"github.com/spec-kit/ticket-session/internal/observability"
	"github.com/spec-kit/ticket-session/internal/persistence"
	"github.com/spec-kit/ticket-session/internal/session"
	"github.com/spec-kit/ticket-session/internal/store"
	"github.com/spec-kit/ticket-session/internal/store/memory"
	pgstore "github.com/spec-kit/ticket-session/internal/store/postgres"
	"github.com/spec-kit/ticket-session/internal/thread"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	var ticketStore store.TicketStore
	if pool := pg.PoolHandle(); pool != nil {
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pool, logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
		ticketStore = pgstore.New(pool)
	} else {
		logger.Warn("no postgres pool; using in-memory record store")
		ticketStore = memory.New()
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()
	relay := events.NewRedisRelay(redis.Client, cfg.Redis.EventChannel, logger)
	relay.RegisterHandlers(dispatcher)

	facade := session.NewFacade(session.Config{
		LeaseDuration:   cfg.Session.LeaseDuration(),
		RetryAttempts:   cfg.Session.RetryAttempts,
		RetryBackoff:    cfg.Session.RetryBackoff(),
		RetryBackoffMax: cfg.Session.RetryBackoffCap(),
	}, session.Dependencies{
		Store:      ticketStore,
		Locks:      lock.NewCoordinator(ticketStore),
		Threads:    thread.NewManager(ticketStore),
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Logger:     logger,
	})

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:   handlers.NewHealthHandler(redis, metrics),
		Tickets:  handlers.NewTicketsHandler(facade),
		Sessions: handlers.NewStaffSessionsHandler(facade),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
