package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/clark-center/change-object-author/internal/cmd/lambda"
	"github.com/clark-center/change-object-author/internal/cmd/migrate"
	"github.com/clark-center/change-object-author/internal/cmd/serve"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
)

func main() {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn("Failed to load .env", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "change-object-author",
		Usage: "Transfer learning-object ownership between CLARK users",
		// The Lambda runtime starts the binary without arguments.
		DefaultCommand: "lambda",
		Commands: []*cli.Command{
			lambda.Command(),
			serve.Command(),
			migrate.Command(),
		},
	}
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
