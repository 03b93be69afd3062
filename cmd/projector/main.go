package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-order-stock/internal/config"
	kafkax "github.com/ariefcatur/go-order-stock/internal/kafka"
	"github.com/ariefcatur/go-order-stock/internal/logger"
	"github.com/ariefcatur/go-order-stock/internal/observability"
	"github.com/ariefcatur/go-order-stock/internal/orders"
	"github.com/ariefcatur/go-order-stock/internal/projector"
	"github.com/ariefcatur/go-order-stock/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logger.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serviceName := cfg.ServiceName + "-projector"
	shutdownTracing, err := observability.SetupTracing(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		log.Fatal("tracing setup", zap.Error(err))
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		log.Fatal("redis", zap.Error(err))
	}

	p := &projector.Projector{
		Store:       redisx.NewCache(rdb, log),
		ServiceName: serviceName,
		Logger:      log,
	}

	// Consumer
	topics := orders.Topics()
	cons := kafkax.NewConsumer(cfg.KafkaBrokers(), cfg.ProjectorGroup, topics, cfg.ProjectorWorkers, log)

	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info("projector consumer started",
			zap.String("group", cfg.ProjectorGroup),
			zap.Strings("topics", topics),
			zap.Int("workers", cfg.ProjectorWorkers),
		)
		if err := cons.Start(ctx, p.HandleMessage); err != nil {
			log.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down consumer...")
	cancel()
	<-done

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := shutdownTracing(ctx2); err != nil {
		log.Warn("tracing shutdown", zap.Error(err))
	}
}
