// Package main runs the standalone encounter expiry sweep.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/coopquest/backend/config"
	"github.com/coopquest/backend/internal/challenges"
	"github.com/coopquest/backend/internal/encounters"
	"github.com/coopquest/backend/internal/realtime"
	"github.com/coopquest/backend/internal/teams"
	"github.com/coopquest/backend/internal/worker"
	"github.com/coopquest/backend/pkg/database"
	"github.com/coopquest/backend/pkg/redis"
)

// logNotifier stands in for the hub when Redis is disabled: the worker has no
// WebSocket clients, so broadcasts are only logged.
type logNotifier struct {
	logger *zap.Logger
}

func (n logNotifier) BroadcastToEvent(eventID uuid.UUID, event string, payload interface{}) {
	n.logger.Debug("broadcast dropped, no redis", zap.String("event_id", eventID.String()), zap.String("event", event))
}

func (n logNotifier) SendToTeam(teamID uuid.UUID, event string, payload interface{}) bool {
	return false
}

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.PoolOptions(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	var (
		notifier encounters.Notifier = logNotifier{logger: logger}
		locker   worker.Locker
	)
	if cfg.Redis.Enabled() {
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
		notifier = realtime.NewRedisPubSub(rdb.Client, logger)
		locker = rdb
	}

	coordinator := encounters.NewCoordinator(
		encounters.NewRepository(pool),
		teams.NewRepository(pool),
		challenges.NewRepository(pool),
		notifier,
		encounters.SystemClock{},
		encounters.Options{DefaultTimeLimit: cfg.Encounter.DefaultTimeLimit, PersonalQRPrefix: cfg.Encounter.PersonalQRPrefix},
		logger,
	)
	sweeper := worker.NewExpirySweeper(coordinator, locker, cfg.Encounter.SweepInterval, cfg.Encounter.SweepMaxBackoff, cfg.Encounter.SweepLockTTL, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		sweeper.Run(workerCtx)
		close(done)
	}()
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.Warn("sweep did not stop in time")
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
