package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/api/http"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/app"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/config"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/logger"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/scheduler"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/trigger"
)

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	etl, err := app.New(ctx, cfg, app.Deps{})
	if err != nil {
		log.Fatalf("failed to build collector: %v", err)
	}

	code := 0
	switch cfg.RunMode {
	case "once":
		code = runOnce(ctx, etl)
	case "schedule":
		code = runSchedule(ctx, etl, cfg)
	case "serve":
		code = serve(ctx, etl, cfg)
	case "kafka":
		code = consume(ctx, etl, cfg)
	}

	if err := etl.Close(); err != nil {
		logger.Warnf("%v", err)
	}
	if code != 0 {
		os.Exit(code)
	}
}

func runOnce(ctx context.Context, etl *app.App) int {
	res, err := etl.RunOnce(ctx)
	if err != nil {
		logger.Errorf("run failed: %v", err)
		return 1
	}
	if etl.ExceedsFailureThreshold(res) {
		logger.Errorf("run %s failure ratio %.2f exceeds threshold", res.RunID, res.FailureRate())
		return 1
	}
	return 0
}

func runSchedule(ctx context.Context, etl *app.App, cfg *config.AppConfig) int {
	sched := scheduler.New(etl, cfg.ScheduleInterval, cfg.Location)
	if err := sched.Start(ctx); err != nil {
		logger.Errorf("failed to start scheduler: %v", err)
		return 1
	}
	defer sched.Stop()

	<-ctx.Done()
	return 0
}

func serve(ctx context.Context, etl *app.App, cfg *config.AppConfig) int {
	server := fiber.New(fiber.Config{
		AppName:               "copenhagen-etl",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		// A run triggered over HTTP takes minutes.
		WriteTimeout: cfg.RunTimeout + 30*time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	server.Use(fiberlogger.New())
	server.Use(recover.New())
	// Runs started over HTTP are cancelled on SIGINT/SIGTERM.
	server.Use(httpapi.WithBaseContext(ctx))

	server.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "copenhagen-etl",
		})
	})

	var reader httpapi.RecordReader
	if mem, ok := etl.Records(); ok {
		reader = mem
	}
	httpapi.RegisterRoutes(server, etl, reader)
	httpapi.RegisterMetrics(server, etl.Metrics().Registry)

	go func() {
		if err := server.Listen(":" + cfg.Port); err != nil {
			logger.Warnf("fiber server stopped: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Errorf("error during shutdown: %v", err)
		return 1
	}
	return 0
}

func consume(ctx context.Context, etl *app.App, cfg *config.AppConfig) int {
	consumer := trigger.NewKafkaConsumer(
		trigger.NewKafkaReader(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID),
		etl,
	)
	defer consumer.Close()

	if err := consumer.Consume(ctx); err != nil {
		logger.Errorf("kafka trigger stopped: %v", err)
		return 1
	}
	return 0
}
