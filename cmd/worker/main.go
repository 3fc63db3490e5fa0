package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/unclebandit/smsleopard-dispatch/internal/cache"
	"github.com/unclebandit/smsleopard-dispatch/internal/config"
	"github.com/unclebandit/smsleopard-dispatch/internal/logger"
	"github.com/unclebandit/smsleopard-dispatch/internal/queue"
	"github.com/unclebandit/smsleopard-dispatch/internal/service"
)

func main() {
	cfg, err := config.LoadWorker()
	if err != nil {
		log.Fatal(err)
	}
	zlog, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer zlog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		zlog.Fatal("redis unavailable", zap.Error(err))
	}
	worker := service.NewWorker(cache.NewStatsCache(rdb, cfg.Stats.CacheTTL), zlog)

	// Connect to RabbitMQ
	conn, err := amqp.Dial(cfg.AMQP.URL)
	if err != nil {
		zlog.Fatal("failed to connect to RabbitMQ", zap.Error(err))
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		zlog.Fatal("failed to open a channel", zap.Error(err))
	}
	defer ch.Close()

	done := make(chan error, 1)
	go func() {
		done <- queue.Consume(ch, cfg.AMQP.Exchange, cfg.AMQP.Queue, queue.TopicDeliveryRecorded, zlog, worker.Handle)
	}()

	zlog.Info("worker running, waiting for delivery events", zap.String("queue", cfg.AMQP.Queue))
	select {
	case <-ctx.Done():
	case err := <-done:
		if err != nil {
			zlog.Error("consumer stopped", zap.Error(err))
		} else {
			zlog.Warn("channel closed")
		}
	}
}
