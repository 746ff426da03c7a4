package main

import (
	"context"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	webAdapter "distro-backend/internal/adapters/web"
	"distro-backend/internal/cache"
	"distro-backend/internal/config"
	"distro-backend/internal/core"
	"distro-backend/internal/db"
)

func main() {
	_ = godotenv.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg := config.Load()

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()

	var stockCache core.StockPositionCache = cache.NoopStockCache{}
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisStockCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warnf("redis unavailable, stock listing cache disabled: %v", err)
		} else {
			stockCache = redisCache
			defer redisCache.Close()
		}
	}

	costing := core.NewCostingService(pool)
	svc := webAdapter.Services{
		Catalog: core.NewCatalogService(pool),
		Ledger:  core.NewLedgerService(pool, costing),
		Stock:   core.NewStockService(pool, stockCache, time.Duration(cfg.StockCacheTTLSeconds)*time.Second),
		Costing: costing,
		Profit:  core.NewProfitService(pool),
	}

	handler := webAdapter.NewHandler(svc, cfg.AllowedOrigins, log)

	log.Infof("server starting on %s", cfg.Address())
	if err := http.ListenAndServe(cfg.Address(), handler); err != nil {
		log.Fatalf("server: %v", err)
	}
}
