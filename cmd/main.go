package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adonis30/onix-payments-go/internal/cache"
	"github.com/adonis30/onix-payments-go/internal/db"
	"github.com/adonis30/onix-payments-go/internal/events"
	"github.com/adonis30/onix-payments-go/internal/flyer"
	httpapi "github.com/adonis30/onix-payments-go/internal/http"
	"github.com/adonis30/onix-payments-go/internal/payment"
	"github.com/adonis30/onix-payments-go/internal/provider"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags|log.Lmicroseconds)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- DB ---
	pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	if cfg.RunMigrations {
		if err := db.RunMigrations(cfg.DatabaseDSN, logger); err != nil {
			logger.Fatalf("db migrate: %v", err)
		}
	}

	payments := payment.NewPostgresRepository(pool)
	flyers := flyer.NewPostgresRepository(pool)

	// --- AMQP ---
	conn := events.MustDialRabbit(cfg.RabbitURL)
	defer conn.Close()

	publisher, err := events.NewPublisher(conn)
	if err != nil {
		logger.Fatalf("events publisher: %v", err)
	}
	defer publisher.Close()

	subscriber := events.NewSubscriber(conn, logger)

	// --- collaborators ---
	statusCache := cache.NewStatusCache(cfg.CacheSize, cfg.CacheTTL)

	providerClient, err := provider.NewClient(cfg.ProviderBaseURL, cfg.ProviderAPIKey, &http.Client{Timeout: cfg.ProviderTimeout})
	if err != nil {
		logger.Fatalf("provider client: %v", err)
	}

	svc := payment.NewService(payments, flyers, providerClient, statusCache, publisher, logger)

	// --- HTTP ---
	h := httpapi.NewHandler(svc, subscriber, statusCache, cfg.WebhookSecret, logger)
	r := httpapi.NewRouter(h)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		logger.Printf("http listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// --- graceful shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Printf("shutdown signal: %s", sig)
	case err := <-errCh:
		logger.Printf("fatal error: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = httpServer.Shutdown(shutdownCtx)
	cancel()

	logger.Printf("shutdown complete")
}
