package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-order-stock/internal/config"
	"github.com/ariefcatur/go-order-stock/internal/httpx"
	kafkax "github.com/ariefcatur/go-order-stock/internal/kafka"
	"github.com/ariefcatur/go-order-stock/internal/logger"
	"github.com/ariefcatur/go-order-stock/internal/memstore"
	"github.com/ariefcatur/go-order-stock/internal/metrics"
	"github.com/ariefcatur/go-order-stock/internal/observability"
	"github.com/ariefcatur/go-order-stock/internal/orders"
	"github.com/ariefcatur/go-order-stock/internal/postgres"
	"github.com/ariefcatur/go-order-stock/internal/redisx"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
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

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.ServiceName, cfg.OTelEndpoint)
	if err != nil {
		log.Fatal("tracing setup", zap.Error(err))
	}

	// Store
	var store orders.Store
	switch cfg.StoreDriver {
	case config.DriverMemory:
		log.Warn("using in-memory store; data is lost on restart")
		store = memstore.New()
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresPool)
		if err != nil {
			log.Fatal("db connect", zap.Error(err))
		}
		defer db.Close()
		store = postgres.NewStore(db, log, cfg.TxMaxRetries)
	}

	m := metrics.New("orders")
	svc := &orders.Service{
		Store:                  store,
		Recorder:               m,
		Logger:                 log,
		ServiceName:            cfg.ServiceName,
		AllowStatusCorrections: cfg.AllowStatusCorrections,
	}

	// Redis, optional: the service runs uncached if it is down at boot
	var idem httpx.Idempotency
	if cfg.CacheEnabled {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		if err := redisx.Ping(ctx, rdb); err != nil {
			log.Warn("redis unreachable, continuing; cache breaker will recover", zap.Error(err))
		}
		cache := redisx.NewCache(rdb, log)
		svc.Cache = cache
		idem = cache
	}

	// Kafka producer
	var prod *kafkax.Producer
	if cfg.EventsEnabled {
		prod = kafkax.NewProducer(cfg.KafkaBrokers(), 1024, log)
		prod.Start(ctx)
		svc.Publisher = kafkax.NewPublisher(prod, log)
	}

	router := httpx.NewRouter(m)
	httpx.NewHandler(svc, idem, log, cfg.RequestTimeout).Register(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(router, "http.server"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	if prod != nil {
		prod.Close()      // tutup inbox -> flush & close writer
		prod.WaitClosed() // drain
	}
	cancel()
	if err := shutdownTracing(ctx2); err != nil {
		log.Warn("tracing shutdown", zap.Error(err))
	}
}
