package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/veridoc/docintake-worker/internal/errors"
	"github.com/veridoc/docintake-worker/internal/intake"
	"github.com/veridoc/docintake-worker/internal/logging"
	"github.com/veridoc/docintake-worker/internal/storage"
)

// redisJob wraps a queued payload with its delivery bookkeeping.
type redisJob struct {
	ID         string  `json:"id"`
	Payload    JobData `json:"payload"`
	Attempts   int     `json:"attempts"`
	MaxRetries int     `json:"maxRetries"`
}

// RedisConsumer consumes intake jobs from a plain Redis list, for deployers
// whose producers do not speak asynq. Job IDs are pushed to the list; the
// payload lives in a companion hash.
type RedisConsumer struct {
	client    *redis.Client
	processor intake.DocumentProcessor
	config    *RedisConsumerConfig
	log       *logging.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// RedisConsumerConfig holds consumer configuration.
type RedisConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         intake.DocumentProcessor
	ProcessingTimeout int64 // milliseconds per job
	Logger            *logging.Logger
}

// NewRedisConsumer creates a list-based queue consumer and verifies the
// Redis connection.
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		cfg.QueueName = "docintake:jobs"
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger("redis-queue", logging.LevelInfo)
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	consumerCtx, cancel := context.WithCancel(context.Background())

	return &RedisConsumer{
		client:    client,
		processor: cfg.Processor,
		config:    cfg,
		log:       cfg.Logger,
		ctx:       consumerCtx,
		cancel:    cancel,
	}, nil
}

// Start launches the worker goroutines.
func (c *RedisConsumer) Start() error {
	c.log.Info("starting redis queue consumer",
		"concurrency", c.config.Concurrency, "queue", c.config.QueueName)

	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}
	return nil
}

// Stop drains the workers and closes the connection.
func (c *RedisConsumer) Stop() error {
	c.log.Info("stopping redis queue consumer")
	c.cancel()
	c.wg.Wait()
	return c.client.Close()
}

func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()
	c.log.Debug("worker started", "worker", id)

	for {
		select {
		case <-c.ctx.Done():
			c.log.Debug("worker stopping", "worker", id)
			return
		default:
			if err := c.processNextJob(); err != nil {
				if err != errNoJobs {
					c.log.Warn("worker error", "worker", id, "error", err)
				}
				select {
				case <-c.ctx.Done():
				case <-time.After(time.Second):
				}
			}
		}
	}
}

var errNoJobs = fmt.Errorf("no jobs available")

func (c *RedisConsumer) dataKey() string {
	return fmt.Sprintf("%s:data", c.config.QueueName)
}

func (c *RedisConsumer) processNextJob() error {
	result, err := c.client.BRPop(c.ctx, 5*time.Second, c.config.QueueName).Result()
	if err != nil {
		if err == redis.Nil {
			return errNoJobs
		}
		return fmt.Errorf("failed to fetch job: %w", err)
	}
	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}
	jobID := result[1]

	jobData, err := c.client.HGet(c.ctx, c.dataKey(), jobID).Result()
	if err != nil {
		return fmt.Errorf("failed to get data for job %s: %w", jobID, err)
	}

	var job redisJob
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		return fmt.Errorf("failed to unmarshal job %s: %w", jobID, err)
	}
	if job.MaxRetries <= 0 {
		job.MaxRetries = 3
	}

	if err := c.processor.UpdateJobStatus(c.ctx, &storage.JobUpdate{
		JobID: job.Payload.JobID, Status: storage.StatusProcessing,
	}); err != nil {
		c.log.Warn("could not mark job processing", "job", job.Payload.JobID, "error", err)
	}
	c.publishStatus(job.Payload.JobID, storage.StatusProcessing, "")

	c.log.Info("processing job", "job", job.Payload.JobID, "ref", job.Payload.SourceRef)
	start := time.Now()
	result2, err := c.processJob(&job)
	duration := time.Since(start)

	if err != nil {
		c.log.Warn("job failed", "job", job.Payload.JobID, "attempt", job.Attempts+1, "error", err)

		job.Attempts++
		if job.Attempts < job.MaxRetries {
			updatedData, _ := json.Marshal(job)
			c.client.HSet(c.ctx, c.dataKey(), job.ID, updatedData)
			c.client.LPush(c.ctx, c.config.QueueName, job.ID)
			c.log.Info("job re-queued", "job", job.Payload.JobID,
				"attempt", job.Attempts, "maxRetries", job.MaxRetries)
			return nil
		}

		if updateErr := c.processor.UpdateJobStatus(c.ctx, &storage.JobUpdate{
			JobID:        job.Payload.JobID,
			Status:       storage.StatusFailed,
			ErrorCode:    string(apperrors.CodeOf(err)),
			ErrorMessage: err.Error(),
			DurationMs:   duration.Milliseconds(),
		}); updateErr != nil {
			c.log.Warn("could not mark job failed", "job", job.Payload.JobID, "error", updateErr)
		}
		c.publishStatus(job.Payload.JobID, storage.StatusFailed, err.Error())
		c.client.HDel(c.ctx, c.dataKey(), job.ID)
		return nil
	}

	status := storage.StatusCompleted
	if result2.Degraded {
		status = storage.StatusDegraded
	}
	if err := c.processor.UpdateJobStatus(c.ctx, &storage.JobUpdate{
		JobID:      job.Payload.JobID,
		Status:     status,
		DocumentID: result2.DocumentID,
		DurationMs: duration.Milliseconds(),
	}); err != nil {
		c.log.Warn("could not mark job finished", "job", job.Payload.JobID, "error", err)
	}
	c.publishStatus(job.Payload.JobID, status, "")
	c.client.HDel(c.ctx, c.dataKey(), job.ID)

	c.log.Info("job finished", "job", job.Payload.JobID,
		"doc", result2.DocumentID, "status", status, "durationMs", duration.Milliseconds())
	return nil
}

func (c *RedisConsumer) processJob(job *redisJob) (*intake.ProcessResult, error) {
	timeout := 300000 * time.Millisecond
	if c.config.ProcessingTimeout > 0 {
		timeout = time.Duration(c.config.ProcessingTimeout) * time.Millisecond
	}
	processCtx, cancel := context.WithTimeout(c.ctx, timeout)
	defer cancel()

	result, err := c.processor.ProcessDocument(processCtx, &intake.ProcessRequest{
		JobID:      job.Payload.JobID,
		DocumentID: job.Payload.DocumentID,
		SourceRef:  job.Payload.SourceRef,
		ImageData:  job.Payload.ImageData,
		Format:     job.Payload.Format,
	})
	if err != nil && processCtx.Err() == context.DeadlineExceeded {
		return nil, apperrors.NewProcessingTimeoutError(job.Payload.JobID, timeout, err)
	}
	return result, err
}

// publishStatus emits a job status event for subscribers such as the intake
// API's progress endpoint.
func (c *RedisConsumer) publishStatus(jobID, status, errMsg string) {
	event := map[string]interface{}{
		"jobId":  jobID,
		"status": status,
	}
	if errMsg != "" {
		event["error"] = errMsg
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := c.client.Publish(c.ctx, fmt.Sprintf("%s:events", c.config.QueueName), data).Err(); err != nil {
		c.log.Debug("status event not published", "job", jobID, "error", err)
	}
}

// GetStats returns queue depth and pending payload count.
func (c *RedisConsumer) GetStats() (map[string]int64, error) {
	depth, err := c.client.LLen(c.ctx, c.config.QueueName).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue depth: %w", err)
	}
	pending, err := c.client.HLen(c.ctx, c.dataKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read pending payloads: %w", err)
	}
	return map[string]int64{"depth": depth, "pending": pending}, nil
}
