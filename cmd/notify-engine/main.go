package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-notify-engine/api/swagger"
	"github.com/noah-isme/sma-notify-engine/internal/handler"
	"github.com/noah-isme/sma-notify-engine/internal/middleware"
	"github.com/noah-isme/sma-notify-engine/internal/models"
	"github.com/noah-isme/sma-notify-engine/internal/repository"
	"github.com/noah-isme/sma-notify-engine/internal/service"
	"github.com/noah-isme/sma-notify-engine/pkg/config"
	"github.com/noah-isme/sma-notify-engine/pkg/database"
	"github.com/noah-isme/sma-notify-engine/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-notify-engine/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-notify-engine/pkg/middleware/requestid"
	"github.com/noah-isme/sma-notify-engine/pkg/storage"
)

const shutdownTimeout = 15 * time.Second

// @title SMA Notify Engine
// @version 1.0.0
// @description Derived notifications, read state and referential integrity over the shared task store.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("notify engine stopped", zap.Error(err))
	}
}

// backend is the selected store plus its optional cross-process channels.
type backend struct {
	kv          repository.KVStore
	broadcaster service.ChangeBroadcaster
	source      service.ChangeSource
	close       func()
}

func openBackend(ctx context.Context, cfg *config.Config, keys repository.Keyspace, logr *zap.Logger) (*backend, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverFile:
		files, err := storage.NewFileStore(cfg.Store.FileDir)
		if err != nil {
			return nil, fmt.Errorf("open file store: %w", err)
		}
		return &backend{kv: files, source: repository.NewKeyChangeSource(files, keys), close: func() {}}, nil
	case config.StoreDriverRedis:
		client, err := database.NewRedis(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		bus := repository.NewRedisChangeBus(client, cfg.Changes.Channel, logr)
		return &backend{kv: repository.NewRedisKV(client), broadcaster: bus, source: bus, close: func() { _ = client.Close() }}, nil
	case config.StoreDriverPostgres:
		db, err := database.NewPostgres(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		kv := repository.NewPostgresKV(db)
		if err := kv.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("prepare postgres schema: %w", err)
		}
		bus := repository.NewPostgresChangeBus(db, database.PostgresDSN(cfg.Database), cfg.Changes.Channel, logr)
		return &backend{kv: kv, broadcaster: bus, source: bus, close: func() { _ = db.Close() }}, nil
	default:
		return &backend{kv: repository.NewMemoryKV(), close: func() {}}, nil
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	metrics := service.NewMetricsService()
	keys := repository.Keyspace{Prefix: cfg.Store.KeyPrefix}

	store, err := openBackend(ctx, cfg, keys, logr)
	if err != nil {
		return err
	}
	defer store.close()

	propagator := service.NewChangePropagator(store.broadcaster, metrics, logr)
	repo := repository.NewCollectionRepository(store.kv, keys, logr,
		repository.WithChangeNotifier(propagator),
		repository.WithMalformedRecorder(metrics),
	)

	sweeper := service.NewSweeperService(repo, metrics, logr)
	scheduler := service.NewSweepScheduler(sweeper, cfg.Sweep.Interval, logr)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	var mutationSweeps service.SweepTrigger
	if cfg.Sweep.OnMutation {
		mutationSweeps = scheduler
	}

	validate := validator.New()
	derivation := service.NewDerivationService(repo, logr,
		service.WithPendingGraceWindow(cfg.Derive.PendingGraceWindow),
		service.WithDanglingSweepTrigger(mutationSweeps),
		service.WithDerivationMetrics(metrics),
	)
	reads := service.NewReadStateService(repo, derivation, metrics, logr)
	events := service.NewEventService(repo, validate, mutationSweeps, logr)
	maintenance := service.NewMaintenanceService(repo, sweeper, cfg.Derive.PendingGraceWindow, logr)
	tokens := service.NewTokenService(service.TokenConfig{Secret: cfg.JWT.Secret, Expiry: cfg.JWT.Expiration}, repo, logr)

	if store.source != nil {
		go func() {
			if err := propagator.Run(ctx, store.source); err != nil && !errors.Is(err, context.Canceled) {
				logr.Warn("change relay stopped", zap.Error(err))
			}
		}()
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	metricsHandler := handler.NewMetricsHandler(metrics, func(ctx context.Context) error {
		_, err := repo.LoadTasks(ctx)
		return err
	})
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	routes := routeHandlers{
		notifications: handler.NewNotificationHandler(derivation, reads),
		tasks:         handler.NewTaskEventHandler(events),
		maintenance:   handler.NewMaintenanceHandler(maintenance, validate),
	}
	if cfg.Changes.StreamEnable {
		routes.changes = handler.NewChangeStreamHandler(propagator, cfg.CORS.AllowedOrigins, logr)
	}
	registerRoutes(r.Group(cfg.APIPrefix, middleware.JWT(tokens)), routes)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logr.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("env", cfg.Env),
			zap.String("store", cfg.Store.Driver),
			zap.Duration("sweep_interval", cfg.Sweep.Interval))
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logr.Info("shutdown requested")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
		return server.Close()
	}
	return nil
}

type routeHandlers struct {
	notifications *handler.NotificationHandler
	tasks         *handler.TaskEventHandler
	maintenance   *handler.MaintenanceHandler
	changes       *handler.ChangeStreamHandler
}

func registerRoutes(api *gin.RouterGroup, h routeHandlers) {
	notifications := api.Group("/notifications")
	notifications.GET("/view", h.notifications.View)
	notifications.GET("/badge", h.notifications.Badge)
	notifications.POST("/read-all", h.notifications.MarkAllRead)
	notifications.POST("/:id/read", h.notifications.MarkRead)

	tasks := api.Group("/tasks")
	tasks.POST("", middleware.RequireRoles(models.RoleTeacher), h.tasks.Create)
	tasks.DELETE("/:id", middleware.RequireRoles(models.RoleTeacher, models.RoleAdmin), h.tasks.Delete)
	tasks.POST("/:id/read-all", h.notifications.MarkTaskRead)
	tasks.POST("/:id/submissions", middleware.RequireRoles(models.RoleStudent), h.tasks.Submit)
	tasks.POST("/:id/submissions/:student/grade", middleware.RequireRoles(models.RoleTeacher), h.tasks.Grade)
	tasks.POST("/:id/comments", middleware.RequireRoles(models.RoleTeacher, models.RoleStudent), h.tasks.Comment)
	tasks.POST("/:id/completions", middleware.RequireRoles(models.RoleStudent), h.tasks.Complete)
	tasks.POST("/:id/finalize", middleware.RequireRoles(models.RoleTeacher, models.RoleAdmin), h.tasks.Finalize)

	maintenance := api.Group("/maintenance", middleware.RequireRoles(models.RoleAdmin))
	maintenance.POST("/sweep", h.maintenance.Sweep)
	maintenance.GET("/badges/:username", h.maintenance.Badge)
	maintenance.POST("/migrate", h.maintenance.Migrate)
	maintenance.POST("/migrate-all", h.maintenance.MigrateAll)
	maintenance.GET("/report", h.maintenance.Report)

	if h.changes != nil {
		api.GET("/changes/ws", h.changes.Stream)
	}
}
