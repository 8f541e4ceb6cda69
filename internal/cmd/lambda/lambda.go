package lambda

import (
	"context"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"
	awslambda "github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/charmbracelet/log"
	"github.com/clark-center/change-object-author/internal/cmd/serve"
	"github.com/clark-center/change-object-author/internal/config"
	"github.com/clark-center/change-object-author/internal/service"
	"github.com/urfave/cli/v3"
)

// awaitMargin is left before the invocation deadline when waiting for
// background tasks, so the response still reaches API Gateway.
const awaitMargin = 500 * time.Millisecond

// shutdownGrace fits inside the runtime's window between SIGTERM and SIGKILL.
const shutdownGrace = 400 * time.Millisecond

// Command returns the lambda sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "lambda",
		Usage: "Run the change-author function under the AWS Lambda runtime (API Gateway proxy events)",
		Flags: append(serve.Flags(&cfg),
			&cli.BoolFlag{
				Name:        "lambda-await-background",
				Category:    "Background Tasks:",
				Sources:     cli.EnvVars("COA_LAMBDA_AWAIT_BACKGROUND"),
				Destination: &cfg.LambdaAwaitBackground,
				Usage:       "Wait for file copies, re-indexing and regeneration before returning from each invocation",
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := serve.Prepare(&cfg); err != nil {
				return err
			}
			ctx = config.WithContext(ctx, &cfg)
			app, err := serve.Build(ctx, &cfg)
			if err != nil {
				return err
			}
			// StartWithOptions never returns; the runtime's SIGTERM is the only shutdown hook.
			awslambda.StartWithOptions(
				NewHandler(app, cfg.LambdaAwaitBackground),
				awslambda.WithContext(ctx),
				awslambda.WithEnableSIGTERM(func() { closeApp(app) }),
			)
			return nil
		},
	}
}

// Handler serves one API Gateway proxy event.
type Handler func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)

// NewHandler adapts the application's router to API Gateway proxy events.
func NewHandler(app *serve.App, awaitBackground bool) Handler {
	adapter := ginadapter.New(app.Router)
	return func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		// The function answers one operation whatever resource, stage or
		// custom-domain base path API Gateway invoked it under.
		if req.HTTPMethod == http.MethodPost {
			req.Path = "/"
		}
		resp, err := adapter.ProxyWithContext(ctx, req)
		if awaitBackground {
			awaitTasks(ctx, app.Background)
		}
		return resp, err
	}
}

func closeApp(app *serve.App) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := app.Close(ctx); err != nil {
		log.Warn("Lambda shutdown incomplete", "err", err)
	}
}

// awaitTasks keeps the invocation alive until background work finishes or
// the deadline is near. The runtime freezes the process once the handler
// returns, which would otherwise suspend in-flight tasks.
func awaitTasks(ctx context.Context, bg *service.Dispatcher) {
	waitCtx := ctx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithDeadline(ctx, deadline.Add(-awaitMargin))
		defer cancel()
	}
	if err := bg.Wait(waitCtx); err != nil {
		log.Warn("Returning before background tasks finished", "err", err)
	}
}
