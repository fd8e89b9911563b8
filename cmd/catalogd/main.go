package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	outbox "github.com/Contoso-Inc/eShopOnAzure/internal/outbox/repository"
	"github.com/Contoso-Inc/eShopOnAzure/internal/outbox/worker"
	"github.com/Contoso-Inc/eShopOnAzure/pkg/config"
	"github.com/Contoso-Inc/eShopOnAzure/pkg/db"
	kafka2 "github.com/Contoso-Inc/eShopOnAzure/pkg/kafka"
	"github.com/Contoso-Inc/eShopOnAzure/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
)

// catalogd is the event dispatcher daemon: it sweeps pending outbox rows and
// drives them to the broker, independently of the write path. The web layer
// serving the catalog API links the service packages directly and shares the
// same outbox tables.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.MustLoad()

	tp, err := utils.InitTracer(ctx, "catalog-dispatcher", cfg.Env)
	if err != nil {
		log.Fatalf("Error init tracer: %v", err)
	}

	pool, err := db.NewPostgresDB(cfg.Postgres.URL)
	if err != nil {
		log.Fatalf("Error creating new postgres DB: %v", err)
	}

	logger, err := config.NewLogger(config.LoggerConfig{
		Level: cfg.LogLevel,
		Env:   cfg.Env,
	})
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("catalog dispatcher started!")

	kafkaProducer, err := kafka2.NewProducer(cfg.Kafka.Brokers)
	if err != nil {
		log.Fatalf("error creating kafka producer: %v", err)
	}

	outboxRepository := outbox.NewOutboxRepository(pool, logger, cfg.Outbox.MaxAttempts)

	outboxProcessor := worker.NewOutboxProcessor(
		pool,
		outboxRepository,
		kafkaProducer,
		logger,
		cfg.Outbox.BatchSize,
		cfg.Outbox.Interval,
	)

	go outboxProcessor.Start(ctx)

	app := fiber.New()
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("Catalog Dispatcher is alive!")
	})

	go func() {
		log.Println("HTTP listening on port: " + cfg.HTTP.Port)
		if err := app.Listen(cfg.HTTP.Port); err != nil {
			log.Fatalf("Error listening HTTP on port %v: %v", cfg.HTTP.Port, err)
		}
	}()

	<-ctx.Done()

	log.Println("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}

	if err := kafkaProducer.Close(); err != nil {
		log.Printf("Error closing kafka producer: %v", err)
	}

	pool.Close()
	log.Println("Closed db pool successfully")

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error stopping telemetry: %v\n", err)
	}
}
