// Package main runs the CoopQuest HTTP server with WebSocket and graceful shutdown.
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

	"github.com/coopquest/backend/config"
	"github.com/coopquest/backend/internal/auth"
	"github.com/coopquest/backend/internal/challenges"
	"github.com/coopquest/backend/internal/encounters"
	"github.com/coopquest/backend/internal/middleware"
	"github.com/coopquest/backend/internal/realtime"
	"github.com/coopquest/backend/internal/teams"
	"github.com/coopquest/backend/internal/worker"
	"github.com/coopquest/backend/pkg/database"
	"github.com/coopquest/backend/pkg/redis"
	"github.com/coopquest/backend/pkg/response"
)

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

	// Redis is optional: without it the hub delivers locally, scans are
	// limited in memory and every instance sweeps.
	var (
		rdb     *redis.Client
		hub     *realtime.Hub
		limiter middleware.WindowLimiter = middleware.NewLocalLimiter()
		locker  worker.Locker
	)
	if cfg.Redis.Enabled() {
		rdb, err = redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
		redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
		hub = realtime.NewHub(logger, redisPubSub, redisPubSub)
		limiter = rdb
		locker = rdb
	} else {
		logger.Warn("redis disabled, running single instance")
		hub = realtime.NewHub(logger, nil, nil)
	}
	defer hub.Close()

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// Teams and challenges
	teamRepo := teams.NewRepository(pool)
	leaderboard := teams.NewLeaderboard(teamRepo, hub, logger)
	teamHandler := teams.NewHandler(leaderboard, logger)
	challengeRepo := challenges.NewRepository(pool)
	challengeHandler := challenges.NewHandler(challengeRepo, logger)

	// Encounters
	encounterRepo := encounters.NewRepository(pool)
	coordinator := encounters.NewCoordinator(encounterRepo, teamRepo, challengeRepo, hub, encounters.SystemClock{}, encounters.Options{
		DefaultTimeLimit: cfg.Encounter.DefaultTimeLimit,
		PersonalQRPrefix: cfg.Encounter.PersonalQRPrefix,
		OnSettled:        leaderboard,
	}, logger)
	encounterHandler := encounters.NewHandler(coordinator, logger)

	jwtValidate := func(token string) (*realtime.Identity, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return nil, err
		}
		return &realtime.Identity{TeamID: claims.TeamID, EventID: claims.EventID}, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Metrics())

	// Health and metrics
	router.GET("/health", func(c *gin.Context) {
		pingCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			response.ServiceUnavailable(c, "database unavailable")
			return
		}
		response.OK(c, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public leaderboard
	router.GET("/events/:id/leaderboard", teamHandler.Leaderboard)

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		encounterHandler.RegisterRoutes(api, middleware.ScanRateLimit(limiter, cfg.Encounter.ScanRateWindow, logger))

		admin := api.Group("/admin", middleware.RequireRole(auth.RoleAdmin))
		admin.GET("/events/:id/encounters", encounterHandler.ListByEvent)
		admin.GET("/events/:id/challenges", challengeHandler.ListByEvent)
		admin.GET("/challenges/:id", challengeHandler.Get)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, logger, jwtValidate, middleware.OriginAllowed(cfg.Server.CORSAllowedOrigins)))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background expiry sweep
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if cfg.Encounter.SweepInServer {
		sweeper := worker.NewExpirySweeper(coordinator, locker, cfg.Encounter.SweepInterval, cfg.Encounter.SweepMaxBackoff, cfg.Encounter.SweepLockTTL, logger)
		go sweeper.Run(workerCtx)
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

	workerCancel()
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
