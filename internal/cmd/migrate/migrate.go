package migrate

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/clark-center/change-object-author/internal/config"
	registrymigrate "github.com/clark-center/change-object-author/internal/registry/migrate"
	"github.com/urfave/cli/v3"

	// Import plugins to trigger init() registration of their migrators.
	_ "github.com/clark-center/change-object-author/internal/plugin/search/elastic"
	_ "github.com/clark-center/change-object-author/internal/plugin/store/mongo"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create record store indexes and the search index",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "db-url",
				Sources:     cli.EnvVars("COA_DB_URL", "CLARK_DB_URI"),
				Destination: &cfg.DBURL,
				Usage:       "MongoDB connection URL",
			},
			&cli.StringFlag{
				Name:        "db-kind",
				Sources:     cli.EnvVars("COA_DB_KIND"),
				Destination: &cfg.DatastoreType,
				Value:       cfg.DatastoreType,
				Usage:       "Record store (mongo); empty skips record store migrations",
			},
			&cli.StringFlag{
				Name:        "db-name",
				Sources:     cli.EnvVars("COA_DB_NAME"),
				Destination: &cfg.DBName,
				Value:       cfg.DBName,
				Usage:       "Database name",
			},
			&cli.StringFlag{
				Name:        "search-kind",
				Sources:     cli.EnvVars("COA_SEARCH_KIND"),
				Destination: &cfg.SearchType,
				Value:       cfg.SearchType,
				Usage:       "Search index (elasticsearch); empty skips search migrations",
			},
			&cli.StringFlag{
				Name:        "elasticsearch-url",
				Sources:     cli.EnvVars("COA_ELASTICSEARCH_URL", "ELASTIC_SEARCH_DOMAIN"),
				Destination: &cfg.ElasticsearchURL,
				Usage:       "Elasticsearch cluster URL",
			},
			&cli.StringFlag{
				Name:        "elasticsearch-index",
				Sources:     cli.EnvVars("COA_ELASTICSEARCH_INDEX"),
				Destination: &cfg.ElasticsearchIndex,
				Value:       cfg.ElasticsearchIndex,
				Usage:       "Index holding learning-object documents",
			},
			&cli.StringFlag{
				Name:        "log-level",
				Sources:     cli.EnvVars("COA_LOG_LEVEL"),
				Destination: &cfg.LogLevel,
				Value:       cfg.LogLevel,
				Usage:       "Log level (debug|info|warn|error)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := config.ConfigureLogging(cfg.LogLevel, cfg.LogFormat); err != nil {
				return err
			}
			if cfg.DatastoreType == "mongo" && cfg.DBURL == "" {
				return fmt.Errorf("--db-url is required")
			}
			if cfg.SearchType == "elasticsearch" && cfg.ElasticsearchURL == "" {
				return fmt.Errorf("--elasticsearch-url is required")
			}
			ctx = config.WithContext(ctx, &cfg)

			log.Info("Running migrations...")
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}
