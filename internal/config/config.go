// Configuration for the document intake worker.
//
// Loads configuration from environment variables matching .env.

package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds worker configuration
type Config struct {
	// Redis configuration
	RedisURL    string
	QueueDriver string // "asynq" or "redis"
	QueueName   string

	// PostgreSQL configuration
	DatabaseURL string

	// Engine endpoints and credentials
	DocAIURL       string
	DocAIAPIKey    string
	VisionAPIKey   string
	VisionBaseURL  string
	VisionModel    string
	TesseractLangs string

	// Collaborator services
	ClassifierURL  string
	StructuringURL string

	// Decision thresholds
	AcceptConfidence  float64 // OCR acceptance threshold
	PatternTablesPath string  // optional YAML override for pattern tables

	// Timeouts (milliseconds)
	TrialTimeout      int // one orientation trial
	EngineTimeout     int // one ranked engine invocation
	ClassifierTimeout int
	ProcessingTimeout int // whole document

	// Worker configuration
	WorkerConcurrency int
	MaxImageEdge      int // px; larger images are downscaled before remote OCR

	LogLevel string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:          getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
		QueueDriver:       getEnvOrDefault("QUEUE_DRIVER", "asynq"),
		QueueName:         getEnvOrDefault("QUEUE_NAME", "docintake:jobs"),
		DatabaseURL:       getEnvOrDefault("DATABASE_URL", ""),
		DocAIURL:          getEnvOrDefault("DOCAI_URL", "http://localhost:8085"),
		DocAIAPIKey:       getEnvOrDefault("DOCAI_API_KEY", ""),
		VisionAPIKey:      getEnvOrDefault("VISION_API_KEY", ""),
		VisionBaseURL:     getEnvOrDefault("VISION_BASE_URL", ""),
		VisionModel:       getEnvOrDefault("VISION_MODEL", "gpt-4o"),
		TesseractLangs:    getEnvOrDefault("TESSERACT_LANGS", "eng+ara"),
		ClassifierURL:     getEnvOrDefault("CLASSIFIER_URL", "http://localhost:8086"),
		StructuringURL:    getEnvOrDefault("STRUCTURING_URL", ""),
		AcceptConfidence:  getEnvAsFloatOrDefault("OCR_ACCEPT_CONFIDENCE", 0.30),
		PatternTablesPath: getEnvOrDefault("PATTERN_TABLES_PATH", ""),
		TrialTimeout:      getEnvAsIntOrDefault("TRIAL_TIMEOUT_MS", 15000),
		EngineTimeout:     getEnvAsIntOrDefault("ENGINE_TIMEOUT_MS", 60000),
		ClassifierTimeout: getEnvAsIntOrDefault("CLASSIFIER_TIMEOUT_MS", 10000),
		ProcessingTimeout: getEnvAsIntOrDefault("PROCESSING_TIMEOUT_MS", 300000), // 5 minutes
		WorkerConcurrency: getEnvAsIntOrDefault("WORKER_CONCURRENCY", 8),
		MaxImageEdge:      getEnvAsIntOrDefault("MAX_IMAGE_EDGE", 2600),
		LogLevel:          getEnvOrDefault("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.QueueDriver != "asynq" && c.QueueDriver != "redis" {
		return fmt.Errorf("QUEUE_DRIVER must be \"asynq\" or \"redis\", got %q", c.QueueDriver)
	}

	if c.AcceptConfidence < 0 || c.AcceptConfidence > 1 {
		return fmt.Errorf("OCR_ACCEPT_CONFIDENCE must be in [0,1], got %v", c.AcceptConfidence)
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.TrialTimeout < 100 {
		return fmt.Errorf("TRIAL_TIMEOUT_MS must be at least 100ms, got %d", c.TrialTimeout)
	}

	if c.EngineTimeout < 100 {
		return fmt.Errorf("ENGINE_TIMEOUT_MS must be at least 100ms, got %d", c.EngineTimeout)
	}

	if c.MaxImageEdge < 256 {
		return fmt.Errorf("MAX_IMAGE_EDGE must be at least 256px, got %d", c.MaxImageEdge)
	}

	return nil
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsFloatOrDefault gets environment variable as float64 or returns default
func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}
