// Package main runs the receipt watcher: it follows relayed transactions until they are mined or dropped.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/basepoll/backend/config"
	"github.com/basepoll/backend/internal/realtime"
	"github.com/basepoll/backend/internal/transactions"
	"github.com/basepoll/backend/internal/worker"
	"github.com/basepoll/backend/pkg/database"
	"github.com/basepoll/backend/pkg/ledger"
	"github.com/basepoll/backend/pkg/queue"
	"github.com/basepoll/backend/pkg/redis"
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

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	// Receipts only need reads; never load the signer key here.
	contract, closeLedger, err := ledger.Dial(ctx, cfg.Ledger.RPCURL, cfg.Ledger.ContractAddress, "", cfg.Ledger.ChainID, logger)
	if err != nil {
		logger.Fatal("ledger", zap.Error(err))
	}
	defer closeLedger()

	// Outcomes reach API instances through the shared Redis channel.
	hub := realtime.NewHub(realtime.NewRedisPubSub(rdb.Client, logger), logger)
	jobQueue := queue.NewQueue(rdb.Client, cfg.Worker.ReceiptMaxAttempts, logger)
	watcher := worker.NewReceiptWatcher(
		jobQueue,
		contract,
		transactions.NewRepository(pool),
		hub,
		time.Duration(cfg.Worker.ReceiptRetrySec)*time.Second,
		logger,
	)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		watcher.Run(workerCtx)
		close(done)
	}()
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
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
