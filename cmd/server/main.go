package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"food_order/internal/config"
	"food_order/internal/middleware"
	"food_order/internal/queue"
	"food_order/internal/router"
	"food_order/internal/service"
	"food_order/internal/store"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. 连接数据库，自动建表
	db, err := store.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		slog.Error("db open", "driver", cfg.DBDriver, "error", err)
		os.Exit(1)
	}
	if err := store.Migrate(db); err != nil {
		slog.Error("db migrate", "error", err)
		os.Exit(1)
	}

	// 2. Redis（可选）：连不上时降级为无限流、无下单锁、无幂等
	var rdb *rd.Client
	if cfg.RedisEnabled {
		rdb = rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			slog.Warn("redis unavailable, checkout guards disabled", "addr", cfg.RedisAddr, "error", err)
			_ = rdb.Close()
			rdb = nil
		}
		cancel()
	}
	if rdb != nil {
		defer rdb.Close()
	}

	svc := service.New(db)

	// 3. Kafka（可选）：outbox relay 发布订单事件，consumer 接收外部状态指令
	var wg sync.WaitGroup
	if cfg.KafkaEnabled {
		producer := queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaEventTopic)
		defer producer.Close()
		relay := queue.NewRelay(db, producer, cfg.RelayInterval, cfg.RelayBatchSize, logger.With("component", "relay"))

		consumer := queue.NewConsumer(cfg.KafkaBrokers, cfg.KafkaCommandTopic, cfg.KafkaGroupID, svc.Lifecycle, logger.With("component", "consumer"))
		defer consumer.Close()

		wg.Add(2)
		go func() {
			defer wg.Done()
			relay.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			consumer.Run(ctx)
		}()
		slog.Info("kafka workers started", "brokers", cfg.KafkaBrokers,
			"event_topic", cfg.KafkaEventTopic, "command_topic", cfg.KafkaCommandTopic)
	}

	// 4. HTTP
	r := gin.New()
	r.Use(gin.Recovery(), middleware.AccessLog(logger))
	router.Setup(r, svc, rdb, cfg)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("http server listening", "addr", cfg.HTTPAddr, "db_driver", cfg.DBDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
	}
	wg.Wait()

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
