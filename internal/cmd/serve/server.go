package serve

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/clark-center/change-object-author/internal/config"
	routesystem "github.com/clark-center/change-object-author/internal/plugin/route/system"
	"github.com/clark-center/change-object-author/internal/plugin/route/transfers"
	storemetrics "github.com/clark-center/change-object-author/internal/plugin/store/metrics"
	registryfiles "github.com/clark-center/change-object-author/internal/registry/files"
	registrylock "github.com/clark-center/change-object-author/internal/registry/lock"
	registrymigrate "github.com/clark-center/change-object-author/internal/registry/migrate"
	registryregen "github.com/clark-center/change-object-author/internal/registry/regen"
	registrysearch "github.com/clark-center/change-object-author/internal/registry/search"
	registrystore "github.com/clark-center/change-object-author/internal/registry/store"
	"github.com/clark-center/change-object-author/internal/security"
	"github.com/clark-center/change-object-author/internal/service"
	"github.com/gin-gonic/gin"
)

// App holds the dependencies shared by the serve and lambda commands.
// Clients are built once and reused for every request.
type App struct {
	Config     *config.Config
	Store      registrystore.RecordStore
	Transfers  *service.TransferService
	Background *service.Dispatcher
	Router     *gin.Engine
}

// Close waits for background tasks, then releases the record store.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.Background.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("background tasks did not finish: %w", err))
	}
	if err := a.Store.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Build initializes every plugin selected by cfg and the HTTP router.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	log.Info("Starting change-object-author",
		"mode", cfg.Mode,
		"db", cfg.DatastoreType,
		"search", cfg.SearchType,
		"files", cfg.FilesType,
		"regen", cfg.RegenType,
		"lock", cfg.LockType,
	)

	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize record store: %w", err)
	}
	store = storemetrics.Wrap(store)

	app, err := buildWithStore(ctx, cfg, store)
	if err != nil {
		_ = store.Close(ctx)
		return nil, err
	}
	return app, nil
}

func buildWithStore(ctx context.Context, cfg *config.Config, store registrystore.RecordStore) (*App, error) {
	searchLoader, err := registrysearch.Select(cfg.SearchType)
	if err != nil {
		return nil, err
	}
	search, err := searchLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize search index: %w", err)
	}

	filesLoader, err := registryfiles.Select(cfg.FilesType)
	if err != nil {
		return nil, err
	}
	files, err := filesLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize file mirror: %w", err)
	}

	regenLoader, err := registryregen.Select(cfg.RegenType)
	if err != nil {
		return nil, err
	}
	regen, err := regenLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize regeneration client: %w", err)
	}

	lockLoader, err := registrylock.Select(cfg.LockType)
	if err != nil {
		return nil, err
	}
	lock, err := lockLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize transfer lock: %w", err)
	}

	bg := service.NewDispatcher(cfg.BackgroundConcurrency, cfg.BackgroundTaskTimeout)
	svc := service.NewTransferService(service.Deps{
		Store:      store,
		Files:      files,
		Search:     search,
		Regen:      regen,
		Lock:       lock,
		Background: bg,
	})

	router, err := NewRouter(cfg, svc)
	if err != nil {
		return nil, err
	}
	return &App{
		Config:     cfg,
		Store:      store,
		Transfers:  svc,
		Background: bg,
		Router:     router,
	}, nil
}

// NewRouter builds the gin engine serving the change-author route and the
// management endpoints.
func NewRouter(cfg *config.Config, svc transfers.Transferer) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	router.Use(security.MetricsMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))
	router.Use(corsMiddleware(cfg.CORSOrigins))

	transfers.MountRoutes(router, svc, security.AuthTokenMiddleware())
	routesystem.MountRoutes(router)
	return router, nil
}

// Server is a running HTTP server and its application.
type Server struct {
	App     *App
	Running *RunningServer
}

// Shutdown stops accepting requests, then drains background tasks.
func (s *Server) Shutdown(ctx context.Context) error {
	routesystem.MarkDraining()
	if err := s.Running.Close(ctx); err != nil {
		log.Error("HTTP shutdown error", "err", err)
	}
	return s.App.Close(ctx)
}

// StartServer runs migrations, builds the application and starts listening.
// Use cfg.Port=0 for a random port. Actual port: Server.Running.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	app, err := Build(ctx, cfg)
	if err != nil {
		return nil, err
	}

	running, err := startHTTPServer(cfg.Port, app.Router)
	if err != nil {
		_ = app.Close(ctx)
		return nil, err
	}
	log.Info("Server listening", "port", running.Port)

	routesystem.MarkReady()
	return &Server{App: app, Running: running}, nil
}
