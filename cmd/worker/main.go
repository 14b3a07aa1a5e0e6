// Package main runs the background worker: import archiving to S3 and, when
// the API does not, the pending-claim expiry sweep.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/campus-numbers/backend/config"
	"github.com/campus-numbers/backend/internal/numbers"
	"github.com/campus-numbers/backend/internal/scheduler"
	"github.com/campus-numbers/backend/internal/worker"
	"github.com/campus-numbers/backend/pkg/database"
	"github.com/campus-numbers/backend/pkg/events"
	"github.com/campus-numbers/backend/pkg/queue"
	"github.com/campus-numbers/backend/pkg/redis"
	"github.com/campus-numbers/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if !cfg.Redis.Enabled() {
		logger.Fatal("worker requires REDIS_ADDR")
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		ImportsBucket:        cfg.AWS.ImportsBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := worker.NewArchiveProcessor(s3Client, jobQueue, logger)

	var sched *scheduler.Scheduler
	if !cfg.Scheduler.SweepInServer {
		numberSvc := numbers.NewService(numbers.NewRepository(pool), events.NewRedisBus(rdb.Client, logger), numbers.Config{
			ClaimTimeout:  time.Duration(cfg.Reservation.ClaimTimeoutMinutes) * time.Minute,
			DepositAmount: cfg.Reservation.DepositAmount,
			LockSentinel:  cfg.Reservation.LockSentinel,
		}, logger)
		sched, err = scheduler.New(numberSvc, cfg.Scheduler.SweepSchedule, logger)
		if err != nil {
			logger.Fatal("scheduler", zap.Error(err))
		}
		sched.Start()
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		processor.Run(workerCtx)
	}()
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	if sched != nil {
		sched.Stop()
	}
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn("archive worker did not stop in time")
	}
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
