package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-plt-approvals/internal/client"
	"github.com/pesio-ai/be-plt-approvals/internal/config"
	"github.com/pesio-ai/be-plt-approvals/internal/database"
	"github.com/pesio-ai/be-plt-approvals/internal/event"
	"github.com/pesio-ai/be-plt-approvals/internal/handler"
	"github.com/pesio-ai/be-plt-approvals/internal/notification"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).Level(level).With().
		Timestamp().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Logger()

	log.Info().
		Str("environment", cfg.Service.Environment).
		Msg("Starting Approvals Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Initialize NATS (mail transport)
	nc, err := nats.Connect(cfg.NATS.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		log.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("Failed to connect to NATS")
	}
	defer nc.Drain()
	log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")

	// Initialize repositories
	registry := repository.NewRegistry()
	registry.Register(repository.NewPurchaseRequestStore(db))
	registry.Register(repository.NewGoodsReceiptStore(db))
	registry.Register(repository.NewInvoiceStore(db))

	workflowConfigs := repository.NewWorkflowConfigRepository(db)
	audits := repository.NewApprovalAuditRepository(db)
	rejections := repository.NewRejectionRepository(db)
	mappings := repository.NewNotificationMappingRepository(db)
	notificationLogs := repository.NewNotificationLogRepository(db)
	notificationQueue := repository.NewNotificationQueueRepository(db)
	companyConfigs := repository.NewCompanyConfigRepository(db)
	directory := repository.NewDirectoryRepository(db)

	// Initialize event bus and services
	bus := event.NewBus(log)

	engine := service.NewWorkflowEngine(
		registry,
		workflowConfigs,
		audits,
		rejections,
		bus,
		cfg.Workflow.FallbackRejectRoles,
		log,
	)
	uiRules := service.NewUIRulesService(engine, rejections, log)

	// Initialize notification pipeline
	mailer := client.NewMailPublisher(nc, cfg.NATS.MailSubject, 5*time.Second, log)
	companyCache := notification.NewCompanyConfigCache(companyConfigs, 5*time.Minute)
	recipients := notification.NewRecipientResolver(directory, log)
	orchestrator := notification.NewOrchestrator(
		mappings,
		notificationLogs,
		notificationQueue,
		companyCache,
		workflowConfigs,
		recipients,
		mailer,
		cfg.Notifications,
		nil,
		log,
	)
	unsubscribe := bus.Subscribe(event.Wildcard, orchestrator.HandleEvent)
	defer unsubscribe()

	sweeper := notification.NewSweeper(orchestrator, cfg.Notifications.SweepInterval, log)
	sweeper.Start()

	// Setup HTTP server
	httpHandler := handler.NewWorkflowHandler(engine, uiRules, log)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	sweeper.Stop()
	// Let in-flight event listeners finish before the process exits.
	bus.Drain()

	log.Info().Msg("Server stopped")
}
