package config

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

const (
	ModeProd = "prod"
	// ModeDev points object storage at a local LocalStack emulator.
	ModeDev = "dev"

	// LocalStackEndpoint is the emulator endpoint used in dev mode.
	LocalStackEndpoint = "http://localhost:4566"
)

// Config holds all configuration for the change-author function.
type Config struct {
	Mode string

	// Record store
	DatastoreType  string // "mongo"
	DBURL          string
	DBName         string
	DBMaxOpenConns int

	// Search index
	SearchType         string // "elasticsearch"
	ElasticsearchURL   string
	ElasticsearchIndex string

	// Object storage
	FilesType       string // "s3"
	S3Bucket        string
	S3Region        string
	S3Endpoint      string
	S3UsePathStyle  bool
	S3MaxListPages  int
	CopyConcurrency int

	// Document regeneration
	RegenType         string // "http"
	LearningObjectAPI string
	RegenTimeout      time.Duration

	// Transfer lock
	LockType string // "none" or "redis"
	RedisURL string
	LockTTL  time.Duration

	// Background fan-out
	BackgroundConcurrency int
	BackgroundTaskTimeout time.Duration
	DrainTimeout          time.Duration
	// LambdaAwaitBackground makes the Lambda handler wait for fan-out work
	// after writing the response, before the runtime freezes the process.
	LambdaAwaitBackground bool

	// Server
	Port        int
	MaxBodySize int64
	CORSOrigins string

	// Monitoring
	MetricsLabels string

	// Logging
	LogLevel  string
	LogFormat string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                  ModeProd,
		DatastoreType:         "mongo",
		DBName:                "onion",
		DBMaxOpenConns:        10,
		SearchType:            "elasticsearch",
		ElasticsearchIndex:    "learning-objects",
		FilesType:             "s3",
		S3Region:              "us-east-1",
		S3MaxListPages:        1000,
		CopyConcurrency:       16,
		RegenType:             "http",
		RegenTimeout:          30 * time.Second,
		LockType:              "none",
		LockTTL:               2 * time.Minute,
		BackgroundConcurrency: 32,
		BackgroundTaskTimeout: 5 * time.Minute,
		DrainTimeout:          30 * time.Second,
		Port:                  8080,
		MaxBodySize:           1024 * 1024,
		CORSOrigins:           "*",
		MetricsLabels:         "service=change-object-author",
		LogLevel:              "info",
		LogFormat:             "text",
	}
}

// ApplyMode fills in mode-dependent defaults. In dev mode object storage
// talks to LocalStack with path-style addressing unless an endpoint was given.
func (c *Config) ApplyMode() {
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if c.Mode == "" {
		c.Mode = ModeProd
	}
	if c.Mode == ModeDev && strings.TrimSpace(c.S3Endpoint) == "" {
		c.S3Endpoint = LocalStackEndpoint
		c.S3UsePathStyle = true
	}
}

// Validate reports the first missing or inconsistent setting.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeProd, ModeDev:
	default:
		return fmt.Errorf("invalid mode %q: expected %s or %s", c.Mode, ModeProd, ModeDev)
	}
	required := []struct {
		name  string
		value string
	}{
		{"db-url", c.DBURL},
		{"elasticsearch-url", c.ElasticsearchURL},
		{"s3-bucket", c.S3Bucket},
		{"learning-object-api", c.LearningObjectAPI},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("--%s is required", r.name)
		}
	}
	if c.LockType == "redis" && strings.TrimSpace(c.RedisURL) == "" {
		return fmt.Errorf("--redis-url is required when --lock-kind=redis")
	}
	if c.S3MaxListPages <= 0 {
		return fmt.Errorf("--s3-max-list-pages must be positive")
	}
	if c.CopyConcurrency <= 0 || c.BackgroundConcurrency <= 0 {
		return fmt.Errorf("concurrency limits must be positive")
	}
	return nil
}
