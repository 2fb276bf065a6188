package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"catalog-sync-service/internal/config"
	"catalog-sync-service/internal/database"
	"catalog-sync-service/internal/handlers"
	"catalog-sync-service/internal/logger"
	"catalog-sync-service/internal/middleware"
	"catalog-sync-service/internal/models"
	"catalog-sync-service/internal/platform"
	"catalog-sync-service/internal/platform/clover"
	"catalog-sync-service/internal/platform/shopify"
	"catalog-sync-service/internal/platform/square"
	"catalog-sync-service/internal/queue"
	"catalog-sync-service/internal/repository"
	"catalog-sync-service/internal/secrets"
	"catalog-sync-service/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	zapLog, err := logger.New(&logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer zapLog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(cfg.Database, zapLog)
	if err != nil {
		zapLog.Fatal("failed to connect to database", zap.Error(err))
	}
	if err := database.WaitForConnection(db, 5, 2*time.Second); err != nil {
		zapLog.Fatal("database not reachable", zap.Error(err))
	}

	vault, err := secrets.NewVault(ctx, cfg.Secrets)
	if err != nil {
		zapLog.Fatal("failed to initialize credential vault", zap.Error(err))
	}

	shopifyCfg := shopify.Config{
		APIVersion:    cfg.Platforms.ShopifyAPIVersion,
		WebhookSecret: cfg.Platforms.ShopifyWebhookSecret,
	}
	squareCfg := square.Config{
		BaseURL:      cfg.Platforms.SquareBaseURL,
		SignatureKey: cfg.Platforms.SquareWebhookSecret,
	}
	cloverCfg := clover.Config{
		BaseURL:    cfg.Platforms.CloverBaseURL,
		AuthSecret: cfg.Platforms.CloverWebhookSecret,
	}

	registry := platform.NewRegistry()
	registry.Register(models.PlatformShopify, shopify.NewFactory(shopifyCfg))
	registry.Register(models.PlatformSquare, square.NewFactory(squareCfg))
	registry.Register(models.PlatformClover, clover.NewFactory(cloverCfg))

	codecs := map[models.PlatformType]platform.WebhookCodec{
		models.PlatformShopify: shopify.NewWebhookCodec(shopifyCfg),
		models.PlatformSquare:  square.NewWebhookCodec(squareCfg),
		models.PlatformClover:  clover.NewWebhookCodec(cloverCfg),
	}

	connectionRepo := repository.NewConnectionRepository(db)
	productRepo := repository.NewProductRepository(db)
	inventoryRepo := repository.NewInventoryRepository(db)
	mappingRepo := repository.NewMappingRepository(db)
	webhookRepo := repository.NewWebhookRepository(db)
	activityRepo := repository.NewActivityRepository(db)

	var queueMetrics *queue.Metrics
	if cfg.HTTP.MetricsEnabled {
		queueMetrics = queue.NewMetrics(prometheus.DefaultRegisterer)
	}
	queues := queue.NewManager(db, zapLog, queueMetrics, cfg.Queue.PollInterval)

	var idempotency services.IdempotencyStore
	if cfg.Redis.IsConfigured() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		idempotency = services.NewRedisIdempotencyStore(client)
	} else {
		idempotency = services.NewMemoryIdempotencyStore()
	}

	activityService := services.NewActivityService(activityRepo, zapLog)
	scanService := services.NewScanService(connectionRepo, productRepo, inventoryRepo, activityService, vault, registry, zapLog)
	pushService := services.NewPushService(connectionRepo, productRepo, inventoryRepo, mappingRepo, activityService, vault, registry, queues, zapLog)
	webhookService := services.NewWebhookService(connectionRepo, productRepo, inventoryRepo, mappingRepo, webhookRepo,
		activityService, vault, registry, queues, pushService, idempotency, codecs, zapLog)
	connectionService := services.NewConnectionService(connectionRepo, productRepo, mappingRepo, inventoryRepo,
		activityService, vault, registry, queues, zapLog)

	for _, qc := range queue.DefaultConfigs(cfg.Queue.PushMinInterval) {
		switch qc.Name {
		case models.QueueInitialScan:
			queues.Register(qc, scanService.HandleInitialScan)
		case models.QueueReconciliation:
			queues.Register(qc, scanService.HandleReconciliation)
		case models.QueuePushOperations:
			queues.Register(qc, pushService.HandlePush)
		case models.QueueWebhooks:
			queues.Register(qc, webhookService.HandleEvent)
		}
	}

	if err := queues.Start(ctx, cfg.Queue.StallSweepCron); err != nil {
		zapLog.Fatal("failed to start queue manager", zap.Error(err))
	}
	defer queues.Stop()

	schedules := cron.New()
	if cfg.Reconciliation.Enabled {
		scheduler := services.NewReconciliationScheduler(connectionRepo, queues,
			cfg.Reconciliation.MaxAge, cfg.Reconciliation.PageSize, zapLog)
		if _, err := schedules.AddFunc(cfg.Reconciliation.Cron, func() {
			scheduler.Sweep(context.Background())
		}); err != nil {
			zapLog.Fatal("invalid reconciliation schedule", zap.Error(err))
		}
	}
	if _, err := schedules.AddFunc(cfg.Webhooks.PruneCron, func() {
		cutoff := time.Now().Add(-cfg.Webhooks.Retention)
		pruned, err := webhookRepo.DeleteOlderThan(context.Background(), cutoff)
		if err != nil {
			zapLog.Error("webhook event prune failed", zap.Error(err))
			return
		}
		if pruned > 0 {
			zapLog.Info("pruned webhook events", zap.Int64("count", pruned))
		}
	}); err != nil {
		zapLog.Fatal("invalid webhook prune schedule", zap.Error(err))
	}
	schedules.Start()
	defer schedules.Stop()

	router := setupRouter(cfg,
		handlers.NewHealthHandler(db),
		handlers.NewConnectionHandler(connectionService),
		handlers.NewPushHandler(pushService),
		handlers.NewWebhookHandler(webhookService),
		handlers.NewActivityHandler(activityService))

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		zapLog.Info("server starting",
			zap.String("port", cfg.App.Port),
			zap.String("env", cfg.App.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zapLog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("server shutdown failed", zap.Error(err))
	}
}

// setupRouter configures the HTTP router
func setupRouter(
	cfg *config.Config,
	healthHandler *handlers.HealthHandler,
	connectionHandler *handlers.ConnectionHandler,
	pushHandler *handlers.PushHandler,
	webhookHandler *handlers.WebhookHandler,
	activityHandler *handlers.ActivityHandler,
) *gin.Engine {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(middleware.SecurityHeaders())

	origins := cfg.HTTP.CORSAllowOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	router.Use(middleware.CORS(origins))
	router.Use(middleware.UserContext())

	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)
	if cfg.HTTP.MetricsEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// Webhook ingestion is public; authenticity comes from the platform
	// signature, not from a caller identity.
	router.POST("/webhook/:platform", webhookHandler.Handle)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.RequireUserID())
	{
		connections := v1.Group("/sync/connections")
		{
			connections.GET("", connectionHandler.List)
			connections.POST("", connectionHandler.Create)
			connections.GET("/:id", connectionHandler.Get)
			connections.PATCH("/:id", connectionHandler.SetEnabled)
			connections.DELETE("/:id", connectionHandler.Delete)
			connections.POST("/:id/start-scan", connectionHandler.StartScan)
			connections.GET("/:id/scan-summary", connectionHandler.ScanSummary)
			connections.GET("/:id/mapping-suggestions", connectionHandler.MappingSuggestions)
			connections.POST("/:id/confirm-mappings", connectionHandler.ConfirmMappings)
			connections.POST("/:id/activate-sync", connectionHandler.ActivateSync)
		}

		push := v1.Group("/sync/push")
		{
			push.POST("/products/:id", pushHandler.PushProduct)
			push.POST("/variants/:id/inventory", pushHandler.PushInventory)
		}

		v1.GET("/activity", activityHandler.List)
	}

	return router
}
