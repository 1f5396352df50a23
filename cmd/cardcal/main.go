package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cardcal/cardcal/internal/config"
	"github.com/cardcal/cardcal/internal/db"
	"github.com/cardcal/cardcal/internal/gcal"
	"github.com/cardcal/cardcal/internal/metrics"
	"github.com/cardcal/cardcal/internal/scheduler"
	"github.com/cardcal/cardcal/internal/slots"
	"github.com/cardcal/cardcal/internal/sync"
	"github.com/cardcal/cardcal/internal/web"
)

const (
	readTimeout     = 10 * time.Second
	writeTimeout    = 30 * time.Second
	idleTimeout     = 120 * time.Second
	shutdownTimeout = 30 * time.Second
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting cardcal...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Set Gin mode
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize database
	database, err := db.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}()

	// Initialize calendar service
	client := gcal.NewClient(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.RefreshToken)
	service := gcal.NewService(client, cfg.Google.CalendarID, cfg.Google.CalendarName, cfg.Google.TimeZone)

	if !service.Configured() {
		log.Println("Google Calendar credentials not set; sync is disabled")
	}

	location, err := time.LoadLocation(cfg.Google.TimeZone)
	if err != nil {
		log.Fatalf("Failed to load timezone: %v", err)
	}

	// Initialize metrics
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	// Initialize reconciliation engine and run controller
	engine := sync.NewEngine(service, location, cfg.Sync.EventDurationMin, cfg.Sync.VerifyInterval)
	runner := sync.NewRunner(engine, database, m, service.Configured())

	// Initialize slot finder
	finder := slots.NewFinder(service)

	// Initialize scheduler for daily forced resyncs
	sched := scheduler.New(runner, database, cfg.Sync.DailyResync && service.Configured())

	// Initialize handlers and router
	handlers := web.NewHandlers(cfg, database, runner, finder)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(web.RequestLogger())
	router.Use(web.SecurityHeaders())

	web.SetupRoutes(router, handlers, registry, cfg.RateLimiting.RPS, cfg.RateLimiting.Burst)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	// Start scheduler
	sched.Start()

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Stop scheduler
	sched.Stop()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
