// Queue consumers for the document intake worker.
//
// Jobs arrive on Redis either through asynq or a plain list; the driver is
// chosen by configuration. Both consumers hand jobs to the intake service
// and keep the job record updated.

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	apperrors "github.com/veridoc/docintake-worker/internal/errors"
	"github.com/veridoc/docintake-worker/internal/intake"
	"github.com/veridoc/docintake-worker/internal/logging"
	"github.com/veridoc/docintake-worker/internal/storage"
)

// TaskProcessDocument is the asynq task type for one intake job.
const TaskProcessDocument = "process-document"

// JobData is the queued job payload.
type JobData struct {
	JobID      string                 `json:"jobId"`
	DocumentID string                 `json:"documentId,omitempty"`
	SourceRef  string                 `json:"sourceRef"`
	ImageData  []byte                 `json:"imageData,omitempty"` // inline page, base64 on the wire
	Format     string                 `json:"format,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Consumer consumes intake jobs through asynq.
type Consumer struct {
	client    *asynq.Client
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor intake.DocumentProcessor
	config    *ConsumerConfig
	log       *logging.Logger
}

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         intake.DocumentProcessor
	ProcessingTimeout int64 // milliseconds per job
	Logger            *logging.Logger
}

// NewConsumer creates an asynq-backed queue consumer.
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger("queue", logging.LevelInfo)
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := asynq.NewClient(redisOpt)

	log := cfg.Logger
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				// Exponential backoff: 5s, 10s, 20s, capped at a minute.
				delay := time.Duration(5*(1<<uint(n))) * time.Second
				if delay > 60*time.Second {
					delay = 60 * time.Second
				}
				return delay
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Error("task processing error", "type", task.Type(), "error", err)
			}),
		},
	)

	mux := asynq.NewServeMux()

	consumer := &Consumer{
		client:    client,
		server:    server,
		mux:       mux,
		processor: cfg.Processor,
		config:    cfg,
		log:       log,
	}

	mux.HandleFunc(TaskProcessDocument, consumer.handleProcessDocument)

	return consumer, nil
}

// Start runs the consumer in the background.
func (c *Consumer) Start(ctx context.Context) error {
	c.log.Info("starting queue consumer",
		"concurrency", c.config.Concurrency, "queue", c.config.QueueName)

	go func() {
		if err := c.server.Run(c.mux); err != nil {
			c.log.Error("queue consumer stopped", "error", err)
		}
	}()

	return nil
}

// Stop shuts the consumer down gracefully.
func (c *Consumer) Stop(ctx context.Context) error {
	c.log.Info("stopping queue consumer")
	c.server.Shutdown()
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close client: %w", err)
	}
	return nil
}

func (c *Consumer) handleProcessDocument(ctx context.Context, task *asynq.Task) error {
	start := time.Now()

	var job JobData
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return fmt.Errorf("failed to unmarshal job data: %w", err)
	}

	c.log.Info("processing job", "job", job.JobID, "ref", job.SourceRef, "inlineBytes", len(job.ImageData))

	if err := c.processor.UpdateJobStatus(ctx, &storage.JobUpdate{
		JobID: job.JobID, Status: storage.StatusProcessing,
	}); err != nil {
		c.log.Warn("could not mark job processing", "job", job.JobID, "error", err)
	}

	timeout := 300000 * time.Millisecond
	if c.config.ProcessingTimeout > 0 {
		timeout = time.Duration(c.config.ProcessingTimeout) * time.Millisecond
	}
	processCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := c.processor.ProcessDocument(processCtx, &intake.ProcessRequest{
		JobID:      job.JobID,
		DocumentID: job.DocumentID,
		SourceRef:  job.SourceRef,
		ImageData:  job.ImageData,
		Format:     job.Format,
	})
	duration := time.Since(start)

	if err != nil {
		if processCtx.Err() == context.DeadlineExceeded {
			timeoutErr := apperrors.NewProcessingTimeoutError(job.JobID, timeout, err)
			c.log.Error("job timed out", "job", job.JobID, "timeout", timeout)
			c.failJob(ctx, job.JobID, string(timeoutErr.Code), timeoutErr.Error(), duration)
			return fmt.Errorf("processing timeout: %w", timeoutErr)
		}

		c.log.Error("job failed", "job", job.JobID, "duration", duration, "error", err)
		c.failJob(ctx, job.JobID, string(apperrors.CodeOf(err)), err.Error(), duration)
		return fmt.Errorf("document processing failed: %w", err)
	}

	status := storage.StatusCompleted
	if result.Degraded {
		status = storage.StatusDegraded
	}
	if err := c.processor.UpdateJobStatus(ctx, &storage.JobUpdate{
		JobID:      job.JobID,
		Status:     status,
		DocumentID: result.DocumentID,
		DurationMs: duration.Milliseconds(),
	}); err != nil {
		c.log.Warn("could not mark job finished", "job", job.JobID, "error", err)
	}

	c.log.Info("job finished", "job", job.JobID, "doc", result.DocumentID,
		"status", status, "label", result.Label, "durationMs", duration.Milliseconds())
	return nil
}

func (c *Consumer) failJob(ctx context.Context, jobID, code, message string, duration time.Duration) {
	if err := c.processor.UpdateJobStatus(ctx, &storage.JobUpdate{
		JobID:        jobID,
		Status:       storage.StatusFailed,
		ErrorCode:    code,
		ErrorMessage: message,
		DurationMs:   duration.Milliseconds(),
	}); err != nil {
		c.log.Warn("could not mark job failed", "job", jobID, "error", err)
	}
}
