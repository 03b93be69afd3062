package main

import (
	"github.com/ariefcatur/go-order-stock/internal/config"
	"github.com/ariefcatur/go-order-stock/internal/logger"
	"github.com/ariefcatur/go-order-stock/internal/postgres"
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

	if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}
	log.Info("schema up to date")
}
