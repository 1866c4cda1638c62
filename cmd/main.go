package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/paymentsys/txnengine/internal/api"
	"github.com/paymentsys/txnengine/internal/config"
	"github.com/paymentsys/txnengine/internal/events"
	"github.com/paymentsys/txnengine/internal/gateway"
	"github.com/paymentsys/txnengine/internal/interfaces"
	"github.com/paymentsys/txnengine/internal/locks"
	"github.com/paymentsys/txnengine/internal/offers"
	"github.com/paymentsys/txnengine/internal/repository"
	"github.com/paymentsys/txnengine/internal/service"
	"github.com/paymentsys/txnengine/internal/telemetry"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize telemetry
	if err := telemetry.InitTelemetry("transaction-engine"); err != nil {
		panic(fmt.Sprintf("Failed to initialize telemetry: %v", err))
	}
	defer telemetry.Shutdown(context.Background())

	telemetry.Logger.Info("Starting transaction engine")

	// Transaction repository: PostgreSQL when configured, in-memory otherwise
	var repo interfaces.TransactionRepository
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			telemetry.Logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		pgRepo := repository.NewPostgresTransactionRepository(db)
		if err := pgRepo.InitDB(); err != nil {
			telemetry.Logger.Fatal("Failed to initialize database", zap.Error(err))
		}
		repo = pgRepo
	} else {
		telemetry.Logger.Warn("DATABASE_URL not set, using in-memory transaction store")
		repo = repository.NewMemoryTransactionRepository()
	}

	// Transaction locks: Redis lease when configured, in-process otherwise
	var locker interfaces.Locker
	if cfg.RedisURL != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisURL,
		})
		locker = locks.NewRedisLocker(redisClient, cfg.LockTTL)
	} else {
		locker = locks.NewKeyedMutex()
	}

	// Event publisher: Kafka when configured
	var publisher interfaces.EventPublisher
	if cfg.KafkaBrokers != "" {
		kafkaPublisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.EventTopic)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	} else {
		publisher = events.NopPublisher{}
	}

	// Offer catalog
	catalog := offers.NewCatalog(2)

	// Gateway client
	gatewayClient := gateway.NewClient(gateway.Config{
		BaseURL:        cfg.GatewayBaseURL,
		MerchantLogin:  cfg.MerchantLogin,
		OutboundSecret: cfg.Password1,
		InboundSecret:  cfg.Password2,
		TestMode:       cfg.TestMode,
		Timeout:        cfg.GatewayTimeout,
		MaxRetries:     cfg.GatewayMaxRetries,
	})

	// Orchestrator and stuck-PROCESSING sweeper
	orchestrator := service.NewOrchestrator(repo, catalog, gatewayClient, locker, publisher, service.Options{
		MaxAmount:          cfg.MaxAmount,
		ProcessingDeadline: cfg.ProcessingDeadline,
		SweepInterval:      cfg.SweepInterval,
	})

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go orchestrator.RunSweeper(sweepCtx)

	// Setup HTTP server
	r := api.NewRouter(orchestrator, catalog)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	// Start server in goroutine
	go func() {
		telemetry.Logger.Info("Transaction engine starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			telemetry.Logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	telemetry.Logger.Info("Shutting down server...")
	stopSweeper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		telemetry.Logger.Error("Server forced to shutdown", zap.Error(err))
	}

	telemetry.Logger.Info("Server exited")
}
