package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"wavelink-backend/internal/config"
	"wavelink-backend/internal/database"
	wsHandler "wavelink-backend/internal/handler/ws"
	"wavelink-backend/internal/middleware"
	"wavelink-backend/internal/registry"
	"wavelink-backend/internal/repository/cockroach"
	redisRepo "wavelink-backend/internal/repository/redis"
	callService "wavelink-backend/internal/service/call"
	negotiationService "wavelink-backend/internal/service/negotiation"
	presenceService "wavelink-backend/internal/service/presence"
	"wavelink-backend/pkg/constants"
	"wavelink-backend/pkg/env"
	"wavelink-backend/pkg/jwt"
	"wavelink-backend/pkg/logger"
	"wavelink-backend/pkg/metrics"
	"wavelink-backend/pkg/push"
)

func main() {
	logger.InitDefault()
	defer logger.Sync()

	cfg := config.Load()

	if len(cfg.JWTSecret) < 32 {
		logger.Fatal("JWT_SECRET must be set and at least 32 characters")
	}
	jwtManager := jwt.NewJWTManager(cfg.JWTSecret, constants.AccessTokenExpiry)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// CockroachDB holds room metadata; signaling cannot authorize invites
	// without it, so connection failure is fatal after retries
	db := connectDB(ctx, cfg)
	defer db.Close()
	roomRepo := cockroach.NewRoomRepository(db.Pool)

	// Redis runs in degraded mode on failure rather than blocking startup
	database.InitRedisMetrics()
	redisDB := database.NewRedisDB(&database.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
		DB:       cfg.RedisDB,
		PoolSize: cfg.RedisPoolSize,
		Timeout:  5 * time.Second,
	})
	defer redisDB.Close()
	if err := redisDB.HealthCheck(ctx); err != nil {
		logger.Warn("Redis unreachable at startup, presence will report unknown", zap.Error(err))
	}
	redisDB.StartHealthCheck(ctx, 10*time.Second)

	presenceRepo := redisRepo.NewPresenceRepository(redisDB, cfg.PresenceTTL)
	pushTokenRepo := redisRepo.NewPushTokenRepository(redisDB)
	blacklistRepo := redisRepo.NewTokenBlacklistRepository(redisDB)

	pushProvider, err := push.NewProvider()
	if err != nil {
		if cfg.IsProduction() {
			logger.Fatal("push provider initialization failed", zap.Error(err))
		}
		logger.Warn("push provider unavailable, using mock", zap.Error(err))
		pushProvider = &push.MockProvider{}
	}
	pushSvc := push.NewService(pushProvider, pushTokenRepo)

	appMetrics := metrics.NewMetrics("signaling-service")

	hub := wsHandler.NewHub(redisDB, appMetrics)
	sessionStore := registry.NewMemoryStore()

	callSvc := callService.NewService(sessionStore, hub, roomRepo, pushSvc, appMetrics, cfg.InviteTimeout)
	negotiationSvc := negotiationService.NewService(sessionStore, hub, appMetrics)
	presenceSvc := presenceService.NewService(presenceRepo, hub, appMetrics, cfg.HeartbeatInterval)
	go presenceSvc.RunWatcher(ctx)

	gateway := wsHandler.NewGateway(hub, callSvc, negotiationSvc, presenceSvc, roomRepo, appMetrics)

	router := setupRouter(cfg, appMetrics, jwtManager, blacklistRepo, gateway)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("signaling service starting",
			zap.String("port", cfg.Port),
			zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// connectDB dials CockroachDB with exponential backoff
func connectDB(ctx context.Context, cfg *config.Config) *database.DB {
	const maxRetries = 5
	baseDelay := 1 * time.Second
	maxDelay := 30 * time.Second

	var db *database.DB
	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		db, err = database.NewDB(ctx, cfg.DBConnectionString(), nil)
		if err == nil {
			logger.Info("connected to CockroachDB", zap.Int("attempt", attempt))
			return db
		}
		delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt-1)))
		if delay > maxDelay {
			delay = maxDelay
		}
		logger.Warn("CockroachDB connection failed",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", delay),
			zap.Error(err))
		select {
		case <-ctx.Done():
			logger.Fatal("interrupted while connecting to CockroachDB")
		case <-time.After(delay):
		}
	}
	logger.Fatal(fmt.Sprintf("failed to connect to CockroachDB after %d attempts", maxRetries), zap.Error(err))
	return nil
}

func setupRouter(cfg *config.Config, appMetrics *metrics.Metrics, jwtManager *jwt.JWTManager, revocation middleware.RevocationChecker, gateway *wsHandler.Gateway) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.SetTrustedProxies(nil)

	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware())
	router.Use(prometheusMiddleware.Handler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "signaling-service",
			"time":    time.Now().UTC(),
		})
	})
	router.GET("/metrics", middleware.MetricsHandler(appMetrics))

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(jwtManager, revocation))
	{
		v1.GET("/ws", gateway.ServeWS)
	}

	return router
}
