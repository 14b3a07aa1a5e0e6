// Package main runs the campus numbers HTTP API with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/campus-numbers/backend/config"
	"github.com/campus-numbers/backend/internal/access"
	"github.com/campus-numbers/backend/internal/auth"
	"github.com/campus-numbers/backend/internal/bulk"
	"github.com/campus-numbers/backend/internal/importer"
	"github.com/campus-numbers/backend/internal/middleware"
	"github.com/campus-numbers/backend/internal/models"
	"github.com/campus-numbers/backend/internal/numbers"
	"github.com/campus-numbers/backend/internal/organizations"
	"github.com/campus-numbers/backend/internal/scheduler"
	"github.com/campus-numbers/backend/pkg/database"
	"github.com/campus-numbers/backend/pkg/events"
	"github.com/campus-numbers/backend/pkg/queue"
	"github.com/campus-numbers/backend/pkg/redis"
	"github.com/campus-numbers/backend/pkg/response"
	"github.com/campus-numbers/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	// Redis is optional: without it there are no live events and no archiving.
	var (
		publisher  events.Publisher = events.Nop{}
		subscriber numbers.Subscriber
		archiver   importer.Archiver
	)
	if cfg.Redis.Enabled() {
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
		bus := events.NewRedisBus(rdb.Client, logger)
		publisher, subscriber = bus, bus
		archiver = queue.NewQueue(rdb.Client, logger)
	} else {
		logger.Warn("REDIS_ADDR not set; live events and import archiving disabled")
	}

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ImportsBucket:        cfg.AWS.ImportsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	userRepo := auth.NewRepository(pool)

	// Access scope
	orgRepo := organizations.NewRepository(pool)
	membershipRepo := access.NewRepository(pool)
	resolver := access.NewResolver(orgRepo, membershipRepo, logger)
	assigner := access.NewAssigner(resolver, userRepo, membershipRepo, logger)
	accessHandler := access.NewHandler(assigner, membershipRepo)

	// Organizations
	orgHandler := organizations.NewHandler(organizations.NewService(orgRepo, membershipRepo, logger))

	// Numbers
	numberRepo := numbers.NewRepository(pool)
	numberSvc := numbers.NewService(numberRepo, publisher, numbers.Config{
		ClaimTimeout:  time.Duration(cfg.Reservation.ClaimTimeoutMinutes) * time.Minute,
		DepositAmount: cfg.Reservation.DepositAmount,
		LockSentinel:  cfg.Reservation.LockSentinel,
	}, logger)
	numberSvc.SetClassifier(importer.Classify)
	numbers.RegisterValidators()
	numberHandler := numbers.NewHandler(numberSvc, subscriber, logger)

	// Import and bulk actions
	importSvc := importer.NewService(numberRepo, archiver, logger)
	if s3Client != nil {
		importSvc.SetArchiveStore(s3Client)
	}
	importHandler := importer.NewHandler(importSvc)
	bulkHandler := bulk.NewHandler(bulk.NewService(numberRepo, cfg.Reservation.LockSentinel, logger))

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Metrics())

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public storefront; a token, when sent, upgrades the listing to full records.
	public := router.Group("")
	public.Use(middleware.OptionalJWT(jwtService), middleware.LoadScope(resolver, logger))
	{
		public.GET("/numbers", numberHandler.List)
		public.GET("/numbers/events", numberHandler.Events)
		public.GET("/numbers/:id", numberHandler.Get)
		public.POST("/numbers/:id/claim", numberHandler.Claim)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService), middleware.LoadScope(resolver, logger))
	{
		api.GET("/me/scope", accessHandler.MyScope)

		api.GET("/organizations", orgHandler.ListOrganizations)
		api.POST("/organizations", middleware.RequireElevated(), orgHandler.CreateOrganization)
		api.PATCH("/organizations/:id", middleware.RequireElevated(), orgHandler.RenameOrganization)
		api.DELETE("/organizations/:id", middleware.RequireElevated(), orgHandler.DeleteOrganization)

		api.GET("/users/:id/organizations", middleware.RequireElevated(), accessHandler.ListMemberships)
		api.PUT("/users/:id/organizations", middleware.RequireElevated(), accessHandler.AssignMemberships)
	}

	admin := api.Group("/admin")
	admin.Use(middleware.RequireElevated())
	{
		admin.POST("/numbers", numberHandler.Create)
		admin.POST("/numbers/import", importHandler.Import)
		admin.POST("/numbers/sweep", middleware.RequireRole(models.RoleSuperAdmin), numberHandler.Sweep)
		admin.GET("/numbers/:id", numberHandler.AdminGet)
		admin.PATCH("/numbers/:id", numberHandler.Patch)
		admin.DELETE("/numbers/:id", numberHandler.Delete)
		admin.POST("/numbers/:id/release", numberHandler.Release)
		admin.POST("/bulk", bulkHandler.Execute)
		admin.GET("/imports/:id/archive", importHandler.ArchiveURL)
	}

	var sched *scheduler.Scheduler
	if cfg.Scheduler.SweepInServer {
		sched, err = scheduler.New(numberSvc, cfg.Scheduler.SweepSchedule, logger)
		if err != nil {
			logger.Fatal("scheduler", zap.Error(err))
		}
		sched.Start()
	}

	// WriteTimeout stays 0 by default so the event stream is not cut off.
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	if sched != nil {
		sched.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
