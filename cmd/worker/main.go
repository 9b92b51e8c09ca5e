// Document intake worker entry point.
//
// Consumes scanned-page jobs from a Redis queue, runs each through the
// decision pipeline (orientation, classification verification, ranked OCR
// selection, field validation), persists the outcome to PostgreSQL and hands
// finalized documents to the structuring service.

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/veridoc/docintake-worker/internal/classifier"
	"github.com/veridoc/docintake-worker/internal/config"
	"github.com/veridoc/docintake-worker/internal/engines"
	apperrors "github.com/veridoc/docintake-worker/internal/errors"
	"github.com/veridoc/docintake-worker/internal/imaging"
	"github.com/veridoc/docintake-worker/internal/intake"
	"github.com/veridoc/docintake-worker/internal/logging"
	"github.com/veridoc/docintake-worker/internal/patterns"
	"github.com/veridoc/docintake-worker/internal/pipeline"
	"github.com/veridoc/docintake-worker/internal/queue"
	"github.com/veridoc/docintake-worker/internal/storage"
	"github.com/veridoc/docintake-worker/internal/structuring"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	rootLog := logging.NewLogger("worker", logging.ParseLevel(cfg.LogLevel))
	rootLog.Info("document intake worker starting",
		"queueDriver", cfg.QueueDriver, "queue", cfg.QueueName, "concurrency", cfg.WorkerConcurrency)

	tables, err := patterns.Load(cfg.PatternTablesPath)
	if err != nil {
		if apperrors.IsFatalConfig(err) {
			log.Fatalf("Pattern tables rejected: %v", err)
		}
		log.Fatalf("Failed to load pattern tables: %v", err)
	}

	store, err := storage.NewPostgresClient(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer store.Close()
	rootLog.Info("storage connected")

	source := imaging.NewFileImageSource(cfg.MaxImageEdge)
	tesseract := engines.NewTesseract(cfg.TesseractLangs, rootLog.WithPrefix("tesseract"))

	ranked := []pipeline.Engine{
		engines.NewDocAI(cfg.DocAIURL, cfg.DocAIAPIKey,
			time.Duration(cfg.EngineTimeout)*time.Millisecond, rootLog.WithPrefix("docai")),
	}
	if cfg.VisionAPIKey != "" {
		ranked = append(ranked, engines.NewVision(cfg.VisionAPIKey, cfg.VisionBaseURL,
			cfg.VisionModel, rootLog.WithPrefix("vision")))
	} else {
		rootLog.Warn("vision engine disabled, no API key configured")
	}
	ranked = append(ranked, tesseract)

	pipe, err := pipeline.New(pipeline.Options{
		Source:            source,
		TrialEngine:       tesseract,
		Engines:           ranked,
		Classifier:        classifier.New(cfg.ClassifierURL, time.Duration(cfg.ClassifierTimeout)*time.Millisecond, rootLog.WithPrefix("classifier")),
		Tables:            tables,
		AcceptConfidence:  cfg.AcceptConfidence,
		TrialTimeout:      time.Duration(cfg.TrialTimeout) * time.Millisecond,
		EngineTimeout:     time.Duration(cfg.EngineTimeout) * time.Millisecond,
		ClassifierTimeout: time.Duration(cfg.ClassifierTimeout) * time.Millisecond,
		Logger:            rootLog.WithPrefix("pipeline"),
	})
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	handoff := structuring.New(cfg.StructuringURL,
		time.Duration(cfg.EngineTimeout)*time.Millisecond, rootLog.WithPrefix("structuring"))
	if !handoff.Enabled() {
		rootLog.Warn("structuring handoff disabled, no URL configured")
	}

	svc, err := intake.NewService(pipe, store, handoff, cfg.MaxImageEdge, rootLog.WithPrefix("intake"))
	if err != nil {
		log.Fatalf("Failed to build intake service: %v", err)
	}

	stop, err := startConsumer(cfg, svc, rootLog)
	if err != nil {
		log.Fatalf("Failed to start queue consumer: %v", err)
	}
	rootLog.Info("worker ready, waiting for jobs")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigChan
	rootLog.Info("shutting down", "signal", sig.String())

	if err := stop(); err != nil {
		rootLog.Error("consumer shutdown error", "error", err)
	}
	rootLog.Info("shutdown complete")
}

// startConsumer launches the configured queue driver and returns its stop
// function.
func startConsumer(cfg *config.Config, svc *intake.Service, rootLog *logging.Logger) (func() error, error) {
	switch cfg.QueueDriver {
	case "redis":
		consumer, err := queue.NewRedisConsumer(&queue.RedisConsumerConfig{
			RedisURL:          cfg.RedisURL,
			QueueName:         cfg.QueueName,
			Concurrency:       cfg.WorkerConcurrency,
			Processor:         svc,
			ProcessingTimeout: int64(cfg.ProcessingTimeout),
			Logger:            rootLog.WithPrefix("queue"),
		})
		if err != nil {
			return nil, err
		}
		if err := consumer.Start(); err != nil {
			return nil, err
		}
		return consumer.Stop, nil
	default:
		consumer, err := queue.NewConsumer(&queue.ConsumerConfig{
			RedisURL:          cfg.RedisURL,
			QueueName:         cfg.QueueName,
			Concurrency:       cfg.WorkerConcurrency,
			Processor:         svc,
			ProcessingTimeout: int64(cfg.ProcessingTimeout),
			Logger:            rootLog.WithPrefix("queue"),
		})
		if err != nil {
			return nil, err
		}
		ctx := context.Background()
		if err := consumer.Start(ctx); err != nil {
			return nil, err
		}
		return func() error { return consumer.Stop(context.Background()) }, nil
	}
}
