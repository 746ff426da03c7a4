package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                 string
	AllowedOrigins       []string
	DatabaseURL          string
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	StockCacheTTLSeconds int
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	ttl, err := strconv.Atoi(getEnv("STOCK_CACHE_TTL_SECONDS", "15"))
	if err != nil || ttl < 1 {
		ttl = 15
	}

	return Config{
		Port:                 getEnv("PORT", "8080"),
		AllowedOrigins:       splitOrigins(getEnv("ALLOWED_ORIGINS", "http://127.0.0.1:3000")),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              redisDB,
		StockCacheTTLSeconds: ttl,
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
