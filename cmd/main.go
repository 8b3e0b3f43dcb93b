package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voltbird/octoflux/internal/cache"
	"github.com/voltbird/octoflux/internal/config"
	"github.com/voltbird/octoflux/internal/credstore"
	"github.com/voltbird/octoflux/internal/metrics"
	"github.com/voltbird/octoflux/internal/octopus"
	"github.com/voltbird/octoflux/internal/pipeline"
	"github.com/voltbird/octoflux/internal/ratelimit"
	"github.com/voltbird/octoflux/internal/server"
)

// Command octoflux serves the energy consumption analysis pipeline.
//
// The service supports:
//   - Consumption retrieval for electricity, gas or both
//   - 7, 30 and 90 day windows
//   - Tariff-aware cost summaries
//   - Chart specifications for an external renderer
//   - Prometheus metrics
//
// Usage:
//
//	octoflux [flags]
//
// The flags are:
//
//	-config string
//	      path to config file (default "config.yaml")
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	appConfig, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := newLogger(appConfig.Logging)

	logger.WithFields(logrus.Fields{
		"port": appConfig.Server.Port,
	}).Info("Starting server")

	loc, err := time.LoadLocation(appConfig.Series.Timezone)
	if err != nil {
		logger.Fatalf("Invalid timezone %q: %v", appConfig.Series.Timezone, err)
	}

	resultCache, err := cache.New(appConfig.Cache.Size)
	if err != nil {
		logger.Fatalf("Failed to create cache: %v", err)
	}

	collector := metrics.NewCollector()

	gate := ratelimit.NewGate(ratelimit.Config{
		GlobalRPS:    appConfig.RateLimit.GlobalRPS,
		GlobalBurst:  appConfig.RateLimit.GlobalBurst,
		Cooldown:     time.Duration(appConfig.RateLimit.CooldownMillis) * time.Millisecond,
		AccountBurst: appConfig.RateLimit.AccountBurst,
	})

	transport := octopus.NewTransport(
		&http.Client{Timeout: appConfig.API.Timeout()},
		gate,
		octopus.TransportConfig{
			MaxAttempts: appConfig.API.MaxAttempts,
			BaseBackoff: time.Duration(appConfig.API.BaseBackoffMillis) * time.Millisecond,
			MaxBackoff:  time.Duration(appConfig.API.MaxBackoffSeconds) * time.Second,
			MaxElapsed:  time.Duration(appConfig.API.MaxElapsedSeconds) * time.Second,
		},
		logger,
		collector,
	)

	client := octopus.NewClient(
		appConfig.API.BaseURL,
		transport,
		resultCache,
		time.Duration(appConfig.Cache.TTLMinutes)*time.Minute,
		logger,
		collector,
	)

	p := pipeline.New(client, loc, appConfig.Series.MissingThreshold, logger, collector)

	var creds credstore.Store
	if appConfig.Database.Host != "" {
		store, err := credstore.NewPostgresStore(appConfig.Database.ConnString())
		if err != nil {
			logger.Fatalf("Failed to open credential store: %v", err)
		}
		defer store.Close()
		creds = store
	} else {
		logger.Warn("No database configured; requests must carry inline credentials")
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", appConfig.Server.Host, appConfig.Server.Port),
		Handler: server.New(p, creds, logger, collector).Handler(),
	}

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		logger.Fatalf("Service error: %v", err)
	case sig := <-sigChan:
		logger.Printf("Received signal %v, initiating shutdown", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Shutdown error: %v", err)
	}
	logger.Println("Server stopped")
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}
