// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/unclebandit/smsleopard-dispatch/internal/cache"
	"github.com/unclebandit/smsleopard-dispatch/internal/config"
	"github.com/unclebandit/smsleopard-dispatch/internal/controller"
	"github.com/unclebandit/smsleopard-dispatch/internal/db"
	"github.com/unclebandit/smsleopard-dispatch/internal/gateway"
	"github.com/unclebandit/smsleopard-dispatch/internal/handler"
	"github.com/unclebandit/smsleopard-dispatch/internal/lock"
	"github.com/unclebandit/smsleopard-dispatch/internal/logger"
	"github.com/unclebandit/smsleopard-dispatch/internal/queue"
	"github.com/unclebandit/smsleopard-dispatch/internal/repository"
	"github.com/unclebandit/smsleopard-dispatch/internal/service"
)

func main() {
	cfg, err := config.Load()
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

	// Init DB
	conn, err := db.Open(ctx, cfg.DB.DSN(), zlog)
	if err != nil {
		zlog.Fatal("database unavailable", zap.Error(err))
	}
	defer conn.Close()
	if err := db.Migrate(ctx, conn); err != nil {
		zlog.Fatal("migration failed", zap.Error(err))
	}

	// Redis backs the quota lock and the stats cache; without it both stay in-process.
	var (
		locker     lock.Locker = lock.NewLocal()
		statsCache cache.StatsCacheInterface
	)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			zlog.Fatal("redis unavailable", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		locker = lock.NewRedis(rdb, "quota:lock:", cfg.Redis.LockTTL)
		statsCache = cache.NewStatsCache(rdb, cfg.Stats.CacheTTL)
	}

	// Delivery events go to RabbitMQ when configured, otherwise to the in-memory queue.
	var q queue.Queue
	if cfg.AMQP.URL != "" {
		amqpConn, err := amqp.Dial(cfg.AMQP.URL)
		if err != nil {
			zlog.Fatal("failed to connect to RabbitMQ", zap.Error(err))
		}
		defer amqpConn.Close()
		pub, err := queue.NewAMQPPublisher(amqpConn, cfg.AMQP.Exchange)
		if err != nil {
			zlog.Fatal("failed to set up publisher", zap.Error(err))
		}
		defer pub.Close()
		q = pub
	} else {
		mem := queue.NewInMemoryQueue(zlog)
		if statsCache != nil {
			_ = mem.Subscribe(queue.TopicDeliveryRecorded, service.NewWorker(statsCache, zlog).Handle)
		}
		q = mem
	}

	messageRepo := &repository.MessageRepository{DB: conn}
	deliveryRepo := &repository.DeliveryRepository{DB: conn}
	quotaRepo := &repository.QuotaRepository{DB: conn}
	accountRepo := &repository.AccountRepository{DB: conn}

	gw := gateway.NewClient(gateway.Config{
		BaseURL:           cfg.Gateway.BaseURL,
		Timeout:           cfg.Gateway.Timeout,
		MaxAttempts:       cfg.Gateway.MaxAttempts,
		DefaultRetryAfter: cfg.Gateway.DefaultRetryAfter,
		RatePerSec:        cfg.Gateway.RatePerSec,
	}, gateway.WithLogger(zlog))

	rnd := service.NewRand(time.Now().UnixNano())
	deliveryLog := service.NewDeliveryLog(deliveryRepo, q, zlog)
	dispatchService := service.NewDispatchService(
		messageRepo, accountRepo, gw, deliveryLog,
		service.NewHumanizer(rnd),
		service.NewWindowPacer(cfg.Dispatch.MinDelay, cfg.Dispatch.MaxDelay, rnd),
		zlog,
	)
	ledger := service.NewQuotaLedger(quotaRepo, locker, zlog)
	groupService := service.NewGroupService(accountRepo, gw, ledger, zlog)
	statsService := service.NewStatsService(deliveryRepo, statsCache, zlog)

	r := newRouter(
		controller.NewMessageController(dispatchService, zlog),
		controller.NewGroupController(groupService, zlog),
		handler.NewStatsHandler(statsService, zlog),
	)

	// No write timeout: a dispatch runs inside the request and paces recipients.
	srv := &http.Server{Addr: cfg.HTTP.Address, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		zlog.Info("server running", zap.String("addr", cfg.HTTP.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("shutdown", zap.Error(err))
	}
	if mem, ok := q.(*queue.InMemoryQueue); ok {
		mem.Wait()
	}
}
