package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm/logger"

	"github.com/radiowatch/radiowatch/internal/aggregates"
	"github.com/radiowatch/radiowatch/internal/alerting"
	"github.com/radiowatch/radiowatch/internal/config"
	"github.com/radiowatch/radiowatch/internal/database"
	"github.com/radiowatch/radiowatch/internal/handlers"
	"github.com/radiowatch/radiowatch/internal/maintenance"
	"github.com/radiowatch/radiowatch/internal/metrics"
	"github.com/radiowatch/radiowatch/internal/middleware"
	"github.com/radiowatch/radiowatch/internal/retention"
)

func main() {
	// Load .env file if it exists (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading it (this is fine if using environment variables): %v", err)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting radiowatch...")

	if cfg.AdminPassword == "" {
		log.Fatalf("ADMIN_PASSWORD is not set")
	}

	// Hash the admin password
	passwordHash, err := middleware.HashPassword(cfg.AdminPassword)
	if err != nil {
		log.Fatalf("Failed to hash admin password: %v", err)
	}

	jwtAuthMiddleware := middleware.NewJWTAuthMiddleware(&middleware.JWTAuthConfig{
		Enabled:           true,
		AdminUsername:     cfg.AdminUsername,
		AdminPasswordHash: passwordHash,
		JWTSecret:         cfg.JWTSecret,
		JWTExpiryHours:    cfg.JWTExpiryHours,
		SkipPaths: []string{
			"/health",
			"/metrics",
			"/auth/login",
		},
	})
	log.Printf("JWT authentication enabled for user: %s", cfg.AdminUsername)

	// Initialize database connection
	if err := database.Connect(cfg.DatabaseURL, logger.Warn); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Run database migrations
	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	// Seed default alert rules (operator edits are never overwritten)
	defaultRules, err := config.LoadDefaultRules(cfg.RulesFile)
	if err != nil {
		log.Fatalf("Failed to load default alert rules: %v", err)
	}
	if err := database.SeedDefaultAlertRules(database.GetDB(), defaultRules); err != nil {
		log.Fatalf("Failed to seed default alert rules: %v", err)
	}

	// Register prometheus collectors
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Fatalf("Failed to register metrics: %v", err)
	}

	db := database.GetDB()

	// Alert notification channel
	var notifier alerting.Notifier = alerting.LogNotifier{}
	if cfg.SlackToken != "" {
		notifier = alerting.NewSlackNotifier(cfg.SlackToken, cfg.SlackChannel)
		log.Printf("Slack notifications enabled for channel %s", cfg.SlackChannel)
	} else {
		log.Printf("SLACK_BOT_TOKEN not set, alert notifications go to the log")
	}

	// Core components
	refresher := aggregates.NewRefresher(db)
	sampler := metrics.NewSampler(db)
	sweeper := retention.NewSweeper(db, cfg.SweepBatchSize)
	engine := alerting.NewEngine(db, notifier)

	// Lifecycle settings are re-read each cycle so RETENTION_DAYS,
	// PURGE_MULTIPLIER and the task deadline apply without restart
	tasks := maintenance.DefaultTasks(db, refresher, sampler, sweeper, func() database.RetentionPolicy {
		return config.LoadLifecycleSettings().Policy
	})
	orchestrator := maintenance.NewOrchestrator(db, tasks, func() time.Duration {
		return config.LoadLifecycleSettings().TaskSoftDeadline
	})

	// Schedule the periodic work
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.MaintenanceSchedule, func() {
		if _, err := orchestrator.RunCycle(time.Now().UTC()); err != nil {
			log.Printf("Maintenance cycle failed: %v", err)
		}
	}); err != nil {
		log.Fatalf("Invalid maintenance schedule %q: %v", cfg.MaintenanceSchedule, err)
	}
	if _, err := scheduler.AddFunc(fmt.Sprintf("@every %s", cfg.EvaluationInterval()), func() {
		now := time.Now().UTC()
		if _, err := sampler.CollectStoreSamples(now); err != nil {
			log.Printf("Metric sampling failed: %v", err)
		}
		if _, err := engine.EvaluateRules(now); err != nil {
			log.Printf("Alert evaluation failed: %v", err)
		}
	}); err != nil {
		log.Fatalf("Invalid evaluation interval: %v", err)
	}
	scheduler.Start()
	log.Printf("Scheduler started: maintenance %q, evaluation every %s", cfg.MaintenanceSchedule, cfg.EvaluationInterval())

	// Set up HTTP server routes
	mux := http.NewServeMux()
	handlers.NewHTTPHandler(db).SetupRoutes(mux)
	handlers.NewAPIHandler(db, refresher, orchestrator, engine).SetupRoutes(mux)
	handlers.NewAuthHandler(jwtAuthMiddleware).SetupRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Wrap all routes with CORS middleware first, then JWT authentication
	corsMiddleware := middleware.NewCORSMiddleware()
	rootHandler := corsMiddleware.Wrap(jwtAuthMiddleware.Wrap(middleware.RequestIDMiddleware(mux)))

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: rootHandler,
	}

	go func() {
		log.Printf("Starting HTTP server on port %d", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	log.Printf("Health check endpoint: http://localhost:%d/health", cfg.HTTPPort)
	log.Printf("API base URL: http://localhost:%d/api", cfg.HTTPPort)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Received shutdown signal, cleaning up...")

	stopCtx := scheduler.Stop()
	<-stopCtx.Done()
	log.Println("Scheduler stopped")

	if err := httpServer.Close(); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}
	if err := database.Close(); err != nil {
		log.Printf("Error closing database: %v", err)
	}

	log.Println("Shutdown complete")
}
