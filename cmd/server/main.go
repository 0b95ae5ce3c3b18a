// Package main runs the poll API server with WebSocket events and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/basepoll/backend/config"
	"github.com/basepoll/backend/internal/auth"
	"github.com/basepoll/backend/internal/middleware"
	"github.com/basepoll/backend/internal/polls"
	"github.com/basepoll/backend/internal/realtime"
	"github.com/basepoll/backend/internal/transactions"
	"github.com/basepoll/backend/internal/worker"
	"github.com/basepoll/backend/pkg/database"
	"github.com/basepoll/backend/pkg/ledger"
	"github.com/basepoll/backend/pkg/queue"
	"github.com/basepoll/backend/pkg/redis"
	"github.com/basepoll/backend/pkg/response"
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

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	contract, closeLedger, err := ledger.Dial(ctx, cfg.Ledger.RPCURL, cfg.Ledger.ContractAddress, cfg.Ledger.SignerKey, cfg.Ledger.ChainID, logger)
	if err != nil {
		logger.Fatal("ledger", zap.Error(err))
	}
	defer closeLedger()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	chain, err := ledger.NewInstrumented(contract, registry)
	if err != nil {
		logger.Fatal("ledger metrics", zap.Error(err))
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// Realtime events, shared across instances through Redis
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(redisPubSub, logger)
	subCtx, subCancel := context.WithCancel(context.Background())
	defer subCancel()
	if err := redisPubSub.Subscribe(subCtx, hub.Deliver); err != nil {
		logger.Fatal("redis subscribe", zap.Error(err))
	}

	// Auth
	authHandler := auth.NewHandler(auth.NewRedisNonceStore(rdb.Client), jwtService, logger)

	// Transactions
	txRepo := transactions.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, cfg.Worker.ReceiptMaxAttempts, logger)
	tracker := transactions.NewTracker(txRepo, jobQueue, hub, logger)
	txHandler := transactions.NewHandler(txRepo)

	// Polls
	pollService := polls.NewService(chain, logger, polls.WithConcurrency(cfg.Polls.ListConcurrency))
	pollHandler := polls.NewHandler(pollService, tracker, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) {
		if !rdb.Healthy(c.Request.Context(), time.Second) {
			response.ServiceUnavailable(c, "redis unavailable")
			return
		}
		response.OK(c, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	// Wallet sign-in
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/nonce", authHandler.Nonce)
		authGroup.POST("/verify", authHandler.Verify)
	}

	// Reads: a signed-in wallet only fills has_voted
	read := router.Group("")
	read.Use(middleware.OptionalWallet(jwtService))
	{
		read.GET("/polls", pollHandler.List)
		read.GET("/polls/:id", pollHandler.Get)
		read.GET("/polls/:id/votes", pollHandler.OptionVotes)
		read.GET("/transactions/:hash", txHandler.Get)
		read.POST("/polls/prepare", pollHandler.PrepareCreate)
		read.POST("/polls/:id/vote/prepare", pollHandler.PrepareVote)
	}

	// Writes forward a transaction signed by the signed-in wallet (createPoll may use the server relay)
	write := router.Group("")
	write.Use(middleware.RequireWallet(jwtService))
	{
		write.POST("/polls", pollHandler.Create)
		write.POST("/polls/:id/vote", pollHandler.Vote)
	}

	router.GET("/ws", realtime.ServeWs(hub, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background receipt watcher; run it here or in cmd/worker
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if cfg.Worker.RunInProcess {
		watcher := worker.NewReceiptWatcher(jobQueue, chain, txRepo, hub, time.Duration(cfg.Worker.ReceiptRetrySec)*time.Second, logger)
		go watcher.Run(workerCtx)
		logger.Info("receipt worker started")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.Bool("create_relay", !cfg.Ledger.ReadOnly()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	subCancel()
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
