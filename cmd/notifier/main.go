// Package main is the entry point of the ticket notification service.
//
// The service sends WhatsApp notifications for ticket lifecycle events:
// - consumes ticket events from RabbitMQ
// - exposes the notification REST API and the gateway delivery webhook
// - runs the SLA warning and risk expiry scans
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fibreflow/ticket-notify/config"
	"github.com/fibreflow/ticket-notify/internal/application/command"
	"github.com/fibreflow/ticket-notify/internal/application/eventhandler"
	"github.com/fibreflow/ticket-notify/internal/application/query"
	"github.com/fibreflow/ticket-notify/internal/domain/notification"
	"github.com/fibreflow/ticket-notify/internal/domain/shared"
	"github.com/fibreflow/ticket-notify/internal/infrastructure/external/waha"
	"github.com/fibreflow/ticket-notify/internal/infrastructure/messaging"
	"github.com/fibreflow/ticket-notify/internal/infrastructure/persistence/postgres"
	"github.com/fibreflow/ticket-notify/internal/infrastructure/persistence/redis"
	"github.com/fibreflow/ticket-notify/internal/infrastructure/scheduler"
	"github.com/fibreflow/ticket-notify/internal/infrastructure/scheduler/jobs"
	httpapi "github.com/fibreflow/ticket-notify/internal/interface/http"
	"github.com/fibreflow/ticket-notify/internal/interface/http/handlers"
	"github.com/fibreflow/ticket-notify/pkg/circuitbreaker"
	"github.com/fibreflow/ticket-notify/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION AND LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.Setup(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	log.Info("starting ticket notification service",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"timezone", cfg.App.Timezone,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. DATABASE
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database...")
	dbConn, err := postgres.NewConnection(ctx, cfg.Database.PostgresConfig())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection...")
		dbConn.Close()
	}()

	if cfg.Database.AutoMigrate {
		applied, err := postgres.NewMigrator(dbConn).Migrate(ctx)
		if err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database schema is up to date", "applied", applied)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. REDIS (optional: dedup guard and status publication)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		cache     *redis.Cache
		guard     notification.DedupGuard
		publisher *redis.StatusPublisher
	)
	if !cfg.Redis.Disabled {
		cache, err = redis.NewCache(cfg.Redis.CacheConfig())
		if err != nil {
			log.Warn("failed to connect to Redis, continuing without dedup guard", "error", err)
		} else {
			defer cache.Close()
			guard = redis.NewDedupGuard(cache)
			publisher = redis.NewStatusPublisher(cache, log)
			log.Info("Redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REPOSITORIES AND EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	notifications := postgres.NewNotificationRepository(dbConn)
	tickets := postgres.NewTicketRepository(dbConn)
	risks := postgres.NewRiskRepository(dbConn)
	directory := postgres.NewDirectoryRepository(dbConn)

	deadLetters := messaging.NewDeadLetterQueue(1000)
	defer func() {
		if n := deadLetters.Size(); n > 0 {
			log.Warn("dead-lettered events dropped at shutdown", "count", n)
		}
	}()

	busConfig := messaging.DefaultInMemoryEventBusConfig()
	busConfig.Logger = log
	bus := messaging.NewInMemoryEventBus(busConfig)
	defer func() {
		log.Info("closing event bus...")
		_ = bus.Close()
	}()

	if publisher != nil {
		publish := messaging.Wrap(publisher.Handle,
			messaging.RetryMiddleware("status_publisher", messaging.DefaultRetryConfig(), deadLetters, log),
		)
		for _, t := range []shared.EventType{
			shared.EventNotificationSent,
			shared.EventNotificationFailed,
			shared.EventNotificationStatusChanged,
		} {
			if err := bus.Subscribe(t, publish); err != nil {
				return fmt.Errorf("subscribe status publisher: %w", err)
			}
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. WHATSAPP GATEWAY
	// ─────────────────────────────────────────────────────────────────────────
	client, err := waha.NewClient(cfg.WAHA.ClientConfig(log, cfg.App.Debug))
	if err != nil {
		return fmt.Errorf("failed to create gateway client: %w", err)
	}
	breaker := circuitbreaker.GatewayBreaker(waha.IsRecoverable, func(name string, from, to circuitbreaker.State) {
		log.Warn("circuit breaker state changed", "breaker", name, "from", from, "to", to)
	})
	sender := waha.NewSender(client, waha.WithBreaker(breaker))

	if !client.IsSessionReady(ctx, client.Session()) {
		log.Warn("gateway session is not ready, sends will fail until it connects", "session", client.Session())
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. APPLICATION SERVICES
	// ─────────────────────────────────────────────────────────────────────────
	sendHandler := command.NewSendNotificationHandler(notifications, sender, bus, log)
	trigger := eventhandler.NewTriggerService(directory, notifications, guard, sendHandler, cfg.TriggerConfig(), log)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. HEALTH CHECKS
	// ─────────────────────────────────────────────────────────────────────────
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	health.AddCheck("database", handlers.NewPingCheck(dbConn))
	health.AddOptionalCheck("waha", handlers.NewGatewayCheck(client))
	health.AddOptionalCheck("waha_session", handlers.NewSessionCheck(client, client.Session()))
	health.AddOptionalCheck("waha_breaker", handlers.NewBreakerCheck(breaker))
	if cache != nil {
		health.AddOptionalCheck("redis", handlers.NewPingCheck(cache))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = setupScheduler(cfg, tickets, risks, trigger, log)
		if err != nil {
			return err
		}
	}

	deps := httpapi.Dependencies{
		Send:          sendHandler,
		Batch:         command.NewDispatchBatchHandler(sendHandler, tickets, directory, cfg.Notify.BatchConcurrency, log),
		Retry:         command.NewRetryNotificationHandler(notifications, sender, bus, log),
		Webhook:       command.NewApplyWebhookHandler(notifications, bus, log),
		Status:        query.NewGetNotificationStatusHandler(notifications),
		List:          query.NewListNotificationsHandler(notifications),
		Trigger:       trigger,
		Tickets:       tickets,
		HealthChecker: health,
		Logger:        log,
	}
	if sched != nil {
		deps.Jobs = sched
	}
	server := httpapi.NewServer(cfg.ServerConfig(), deps)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)

	// ─────────────────────────────────────────────────────────────────────────
	// 9. TICKET EVENT CONSUMER
	// ─────────────────────────────────────────────────────────────────────────
	if !cfg.RabbitMQ.Disabled {
		consumer, err := messaging.NewRabbitMQConsumer(cfg.RabbitMQ.ConsumerConfig(), trigger.HandleTicketEvent, log)
		if err != nil {
			return fmt.Errorf("failed to create event consumer: %w", err)
		}
		health.AddOptionalCheck("rabbitmq", func(context.Context) error {
			if !consumer.IsConnected() {
				return errors.New("not connected")
			}
			return nil
		})
		g.Go(func() error {
			if err := consumer.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("event consumer: %w", err)
			}
			return nil
		})
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 10. SCHEDULED JOBS
	// ─────────────────────────────────────────────────────────────────────────
	if sched != nil {
		if err := sched.Start(gctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	log.Info("ticket notification service is running", "address", cfg.ServerConfig().Address())

	// ─────────────────────────────────────────────────────────────────────────
	// 11. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	g.Go(func() error {
		<-gctx.Done()
		log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()

		if sched != nil {
			if err := sched.Stop(); err != nil {
				log.Warn("scheduler stop failed", "error", err)
			}
		}
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func setupScheduler(
	cfg *config.Config,
	tickets *postgres.TicketRepository,
	risks *postgres.RiskRepository,
	trigger *eventhandler.TriggerService,
	log *slog.Logger,
) (*scheduler.Scheduler, error) {
	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:   log,
		Timezone: cfg.App.Location,
	})

	slaSchedule, err := cfg.Scheduler.SLASchedule()
	if err != nil {
		return nil, fmt.Errorf("sla schedule: %w", err)
	}
	slaJob := jobs.NewSLAWarningJob(tickets, trigger, jobs.SLAWarningConfig{
		Lookahead: cfg.Scheduler.SLALookahead,
		Timeout:   cfg.Scheduler.JobTimeout,
	}, log)
	if err := sched.Register(slaJob, slaSchedule); err != nil {
		return nil, err
	}

	riskSchedule, err := cfg.Scheduler.RiskSchedule()
	if err != nil {
		return nil, fmt.Errorf("risk schedule: %w", err)
	}
	riskJob := jobs.NewRiskExpiryJob(risks, trigger, jobs.RiskExpiryConfig{
		DaysAhead: cfg.Scheduler.RiskDaysAhead,
		Location:  cfg.App.Location,
		Timeout:   cfg.Scheduler.JobTimeout,
	}, log)
	if err := sched.Register(riskJob, riskSchedule); err != nil {
		return nil, err
	}

	for _, j := range sched.ListJobs() {
		log.Info("job scheduled", "job", j.Name, "schedule", j.Schedule, "next_run", j.NextRun.Format(time.RFC3339))
	}
	return sched, nil
}
