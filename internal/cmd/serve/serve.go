package serve

import (
	"context"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/clark-center/change-object-author/internal/config"
	registryfiles "github.com/clark-center/change-object-author/internal/registry/files"
	registrylock "github.com/clark-center/change-object-author/internal/registry/lock"
	registrysearch "github.com/clark-center/change-object-author/internal/registry/search"
	registrystore "github.com/clark-center/change-object-author/internal/registry/store"
	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"

	// Import all plugins to trigger init() registration
	_ "github.com/clark-center/change-object-author/internal/plugin/files/s3mirror"
	_ "github.com/clark-center/change-object-author/internal/plugin/lock/noop"
	_ "github.com/clark-center/change-object-author/internal/plugin/lock/redis"
	_ "github.com/clark-center/change-object-author/internal/plugin/regen/httpregen"
	_ "github.com/clark-center/change-object-author/internal/plugin/search/elastic"
	_ "github.com/clark-center/change-object-author/internal/plugin/store/mongo"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the change-author function as a long-lived HTTP server",
		Flags: append(Flags(&cfg), ServerFlags(&cfg)...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := Prepare(&cfg); err != nil {
				return err
			}
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

// Prepare applies mode defaults, validates cfg and configures logging.
func Prepare(cfg *config.Config) error {
	if err := config.ConfigureLogging(cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}
	cfg.ApplyMode()
	return cfg.Validate()
}

// ServerFlags are the flags only the long-lived server uses.
func ServerFlags(cfg *config.Config) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "port",
			Category:    "Server:",
			Sources:     cli.EnvVars("COA_PORT"),
			Destination: &cfg.Port,
			Value:       cfg.Port,
			Usage:       "HTTP server port",
		},
		&cli.StringFlag{
			Name:        "cors-origins",
			Category:    "Server:",
			Sources:     cli.EnvVars("COA_CORS_ORIGINS"),
			Destination: &cfg.CORSOrigins,
			Value:       cfg.CORSOrigins,
			Usage:       "Comma-separated list of allowed CORS origins (* for any)",
		},
		&cli.Int64Flag{
			Name:        "max-body-size",
			Category:    "Server:",
			Sources:     cli.EnvVars("COA_MAX_BODY_SIZE"),
			Destination: &cfg.MaxBodySize,
			Value:       cfg.MaxBodySize,
			Usage:       "Maximum request body size in bytes",
		},
		&cli.DurationFlag{
			Name:        "drain-timeout",
			Category:    "Server:",
			Sources:     cli.EnvVars("COA_DRAIN_TIMEOUT"),
			Destination: &cfg.DrainTimeout,
			Value:       cfg.DrainTimeout,
			Usage:       "How long shutdown waits for in-flight requests and background tasks",
		},
	}
}

// Flags returns the flags shared by every command that runs transfers.
func Flags(cfg *config.Config) []cli.Flag {
	return []cli.Flag{

		// ── General ───────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "mode",
			Category:    "General:",
			Sources:     cli.EnvVars("COA_MODE", "MODE"),
			Destination: &cfg.Mode,
			Value:       cfg.Mode,
			Usage:       "Deployment mode (prod|dev); dev points object storage at LocalStack",
		},
		&cli.StringFlag{
			Name:        "log-level",
			Category:    "General:",
			Sources:     cli.EnvVars("COA_LOG_LEVEL"),
			Destination: &cfg.LogLevel,
			Value:       cfg.LogLevel,
			Usage:       "Log level (debug|info|warn|error)",
		},
		&cli.StringFlag{
			Name:        "log-format",
			Category:    "General:",
			Sources:     cli.EnvVars("COA_LOG_FORMAT"),
			Destination: &cfg.LogFormat,
			Value:       cfg.LogFormat,
			Usage:       "Log format (text|json|logfmt)",
		},
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "General:",
			Sources:     cli.EnvVars("COA_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       cfg.MetricsLabels,
			Usage:       "Constant labels added to every metric (k=v,k2=v2)",
		},

		// ── Record Store ──────────────────────────────────────────
		&cli.StringFlag{
			Name:        "db-kind",
			Category:    "Record Store:",
			Sources:     cli.EnvVars("COA_DB_KIND"),
			Destination: &cfg.DatastoreType,
			Value:       cfg.DatastoreType,
			Usage:       "Record store (" + strings.Join(registrystore.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Record Store:",
			Sources:     cli.EnvVars("COA_DB_URL", "CLARK_DB_URI"),
			Destination: &cfg.DBURL,
			Usage:       "MongoDB connection URL",
		},
		&cli.StringFlag{
			Name:        "db-name",
			Category:    "Record Store:",
			Sources:     cli.EnvVars("COA_DB_NAME"),
			Destination: &cfg.DBName,
			Value:       cfg.DBName,
			Usage:       "Database holding the objects, users and file-access-ids collections",
		},
		&cli.IntFlag{
			Name:        "db-max-open-conns",
			Category:    "Record Store:",
			Sources:     cli.EnvVars("COA_DB_MAX_OPEN_CONNS"),
			Destination: &cfg.DBMaxOpenConns,
			Value:       cfg.DBMaxOpenConns,
			Usage:       "Maximum number of open database connections",
		},

		// ── Search Index ──────────────────────────────────────────
		&cli.StringFlag{
			Name:        "search-kind",
			Category:    "Search Index:",
			Sources:     cli.EnvVars("COA_SEARCH_KIND"),
			Destination: &cfg.SearchType,
			Value:       cfg.SearchType,
			Usage:       "Search index (" + strings.Join(registrysearch.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "elasticsearch-url",
			Category:    "Search Index:",
			Sources:     cli.EnvVars("COA_ELASTICSEARCH_URL", "ELASTIC_SEARCH_DOMAIN"),
			Destination: &cfg.ElasticsearchURL,
			Usage:       "Elasticsearch cluster URL",
		},
		&cli.StringFlag{
			Name:        "elasticsearch-index",
			Category:    "Search Index:",
			Sources:     cli.EnvVars("COA_ELASTICSEARCH_INDEX"),
			Destination: &cfg.ElasticsearchIndex,
			Value:       cfg.ElasticsearchIndex,
			Usage:       "Index holding learning-object documents",
		},

		// ── Object Storage ────────────────────────────────────────
		&cli.StringFlag{
			Name:        "files-kind",
			Category:    "Object Storage:",
			Sources:     cli.EnvVars("COA_FILES_KIND"),
			Destination: &cfg.FilesType,
			Value:       cfg.FilesType,
			Usage:       "File mirror (" + strings.Join(registryfiles.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "s3-bucket",
			Category:    "Object Storage:",
			Sources:     cli.EnvVars("COA_S3_BUCKET", "BUCKET_NAME"),
			Destination: &cfg.S3Bucket,
			Usage:       "Bucket holding learning-object files",
		},
		&cli.StringFlag{
			Name:        "s3-region",
			Category:    "Object Storage:",
			Sources:     cli.EnvVars("COA_S3_REGION", "AWS_REGION"),
			Destination: &cfg.S3Region,
			Value:       cfg.S3Region,
			Usage:       "AWS region of the bucket",
		},
		&cli.StringFlag{
			Name:        "s3-endpoint",
			Category:    "Object Storage:",
			Sources:     cli.EnvVars("COA_S3_ENDPOINT"),
			Destination: &cfg.S3Endpoint,
			Usage:       "Custom S3 endpoint (defaults to LocalStack in dev mode)",
		},
		&cli.BoolFlag{
			Name:        "s3-use-path-style",
			Category:    "Object Storage:",
			Sources:     cli.EnvVars("COA_S3_USE_PATH_STYLE"),
			Destination: &cfg.S3UsePathStyle,
			Usage:       "Use path-style S3 addressing (required for LocalStack/MinIO)",
		},
		&cli.IntFlag{
			Name:        "s3-max-list-pages",
			Category:    "Object Storage:",
			Sources:     cli.EnvVars("COA_S3_MAX_LIST_PAGES"),
			Destination: &cfg.S3MaxListPages,
			Value:       cfg.S3MaxListPages,
			Usage:       "Maximum listing pages walked per learning object",
		},
		&cli.IntFlag{
			Name:        "copy-concurrency",
			Category:    "Object Storage:",
			Sources:     cli.EnvVars("COA_COPY_CONCURRENCY"),
			Destination: &cfg.CopyConcurrency,
			Value:       cfg.CopyConcurrency,
			Usage:       "Parallel copies per listing page",
		},

		// ── Document Regeneration ─────────────────────────────────
		&cli.StringFlag{
			Name:        "learning-object-api",
			Category:    "Document Regeneration:",
			Sources:     cli.EnvVars("COA_LEARNING_OBJECT_API", "LEARNING_OBJECT_API"),
			Destination: &cfg.LearningObjectAPI,
			Usage:       "Base URL of the learning-object service",
		},
		&cli.DurationFlag{
			Name:        "regen-timeout",
			Category:    "Document Regeneration:",
			Sources:     cli.EnvVars("COA_REGEN_TIMEOUT"),
			Destination: &cfg.RegenTimeout,
			Value:       cfg.RegenTimeout,
			Usage:       "Timeout of one regeneration request",
		},

		// ── Transfer Lock ─────────────────────────────────────────
		&cli.StringFlag{
			Name:        "lock-kind",
			Category:    "Transfer Lock:",
			Sources:     cli.EnvVars("COA_LOCK_KIND"),
			Destination: &cfg.LockType,
			Value:       cfg.LockType,
			Usage:       "Transfer lock (" + strings.Join(registrylock.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Category:    "Transfer Lock:",
			Sources:     cli.EnvVars("COA_REDIS_URL"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis connection URL for the redis lock",
		},
		&cli.DurationFlag{
			Name:        "lock-ttl",
			Category:    "Transfer Lock:",
			Sources:     cli.EnvVars("COA_LOCK_TTL"),
			Destination: &cfg.LockTTL,
			Value:       cfg.LockTTL,
			Usage:       "Expiry of a held transfer lock",
		},

		// ── Background Tasks ──────────────────────────────────────
		&cli.IntFlag{
			Name:        "background-concurrency",
			Category:    "Background Tasks:",
			Sources:     cli.EnvVars("COA_BACKGROUND_CONCURRENCY"),
			Destination: &cfg.BackgroundConcurrency,
			Value:       cfg.BackgroundConcurrency,
			Usage:       "Maximum background tasks running at once",
		},
		&cli.DurationFlag{
			Name:        "background-task-timeout",
			Category:    "Background Tasks:",
			Sources:     cli.EnvVars("COA_BACKGROUND_TASK_TIMEOUT"),
			Destination: &cfg.BackgroundTaskTimeout,
			Value:       cfg.BackgroundTaskTimeout,
			Usage:       "Timeout of one background task",
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	srv, err := StartServer(ctx, &cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.DrainTimeout)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}

func maxBodySizeMiddleware(maxBodySize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBodySize <= 0 || c.Request.Body == nil {
			c.Next()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
		c.Next()
	}
}
