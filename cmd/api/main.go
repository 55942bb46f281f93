package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	redis "github.com/redis/go-redis/v9"

	v1 "github.com/LTPPPP/BrainStormEra-v2-sub002/cmd/api/router/v1"
	"github.com/LTPPPP/BrainStormEra-v2-sub002/internal/config"
	cacheadapter "github.com/LTPPPP/BrainStormEra-v2-sub002/internal/infrastructure/cache/adapter"
	cacheport "github.com/LTPPPP/BrainStormEra-v2-sub002/internal/infrastructure/cache/port"
	"github.com/LTPPPP/BrainStormEra-v2-sub002/internal/infrastructure/database"
	queueadapter "github.com/LTPPPP/BrainStormEra-v2-sub002/internal/infrastructure/queue/adapter"
	queueport "github.com/LTPPPP/BrainStormEra-v2-sub002/internal/infrastructure/queue/port"
	"github.com/LTPPPP/BrainStormEra-v2-sub002/internal/infrastructure/realtime"
	"github.com/LTPPPP/BrainStormEra-v2-sub002/internal/observability"
	"github.com/LTPPPP/BrainStormEra-v2-sub002/internal/pkg/chat/application/dispatch"
	"github.com/LTPPPP/BrainStormEra-v2-sub002/internal/pkg/chat/application/usecase"
	repoadapter "github.com/LTPPPP/BrainStormEra-v2-sub002/internal/pkg/chat/persistence/repository/adapter"
)

func main() {
	// .env is optional outside development
	_ = godotenv.Load()

	cfg := config.Load()
	logger := observability.NewLogger(cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	pool, err := database.Connect(connectCtx, cfg.DBURL)
	cancel()
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Queue backend is decided once here: Redis when configured, otherwise
	// the in-memory fallback. Logged once at startup, not per component.
	var (
		queue    queueport.Store
		presence cacheport.Cache
	)
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		client := redis.NewClient(opt)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err = client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer client.Close()

		queue, err = queueadapter.NewRedisQueue(client)
		if err != nil {
			logger.Error("failed to build redis queue", "error", err)
			os.Exit(1)
		}
		presence, err = cacheadapter.NewRedisCache(client)
		if err != nil {
			logger.Error("failed to build redis cache", "error", err)
			os.Exit(1)
		}
		logger.Info("using redis message queue", "pending", "chat:message_queue")
	} else {
		queue = queueadapter.NewMemoryQueue()
		logger.Warn("REDIS_URL not set, using in-memory message queue; queued messages do not survive restarts")
	}

	hub := realtime.NewHub()
	defer hub.Close()

	repo := repoadapter.NewPgChatRepository(pool)
	dlq := repoadapter.NewPgDeadLetterRepository(pool)
	dispatcher := dispatch.NewDispatcher(queue, repo, dlq, hub, logger, cfg.Dispatch)

	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		_ = dispatcher.Run(ctx)
	}()

	sendMessageUC := usecase.NewSendMessageUseCase(queue, hub, logger)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		pingCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "postgres": err.Error()})
			return
		}
		if presence != nil {
			if err := presence.Ping(pingCtx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})
	v1.RegisterRoutes(r, hub, sendMessageUC, presence, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		logger.Info("http server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	<-dispatcherDone
	logger.Info("shutdown complete")
}
