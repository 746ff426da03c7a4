package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("STOCK_CACHE_TTL_SECONDS", "")
	t.Setenv("ALLOWED_ORIGINS", "")

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.StockCacheTTLSeconds != 15 {
		t.Fatalf("expected default cache TTL 15, got %d", cfg.StockCacheTTLSeconds)
	}
	if len(cfg.AllowedOrigins) != 1 {
		t.Fatalf("expected one default origin, got %v", cfg.AllowedOrigins)
	}
}

func TestLoadRejectsBadTTL(t *testing.T) {
	t.Setenv("STOCK_CACHE_TTL_SECONDS", "-3")
	if cfg := Load(); cfg.StockCacheTTLSeconds != 15 {
		t.Fatalf("expected fallback TTL 15 for negative input, got %d", cfg.StockCacheTTLSeconds)
	}
	t.Setenv("STOCK_CACHE_TTL_SECONDS", "abc")
	if cfg := Load(); cfg.StockCacheTTLSeconds != 15 {
		t.Fatalf("expected fallback TTL 15 for garbage input, got %d", cfg.StockCacheTTLSeconds)
	}
}

func TestLoadSplitsOrigins(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", "http://a.example, http://b.example ,")
	cfg := Load()
	if len(cfg.AllowedOrigins) != 2 {
		t.Fatalf("expected two origins, got %v", cfg.AllowedOrigins)
	}
	if cfg.AllowedOrigins[1] != "http://b.example" {
		t.Fatalf("expected trimmed origin, got %q", cfg.AllowedOrigins[1])
	}
}
