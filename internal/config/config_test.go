package config

import "testing"

func TestLoad_DefaultsWithoutEnv(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:8080" {
		t.Fatalf("unexpected default listen addr: %s", cfg.ListenAddr)
	}
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	t.Setenv("IMAGE_LAB_LISTEN_ADDR", "0.0.0.0:9999")
	t.Setenv("IMAGE_LAB_NOISE_SEED", "42")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:9999" {
		t.Fatalf("expected overridden listen addr, got %s", cfg.ListenAddr)
	}
	if cfg.NoiseSeed != 42 {
		t.Fatalf("expected overridden noise seed, got %d", cfg.NoiseSeed)
	}
}

func TestLoad_RejectsMalformedInt(t *testing.T) {
	t.Setenv("IMAGE_LAB_NOISE_SEED", "not-a-number")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed IMAGE_LAB_NOISE_SEED")
	}
}

func TestLoad_SpecNamedKeysDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MetricsWindowSeconds != 60 {
		t.Fatalf("expected default metrics_window_seconds 60, got %d", cfg.MetricsWindowSeconds)
	}
	if cfg.SSEQueueSize != 100 {
		t.Fatalf("expected default sse_queue_size 100, got %d", cfg.SSEQueueSize)
	}
	if cfg.MaxChunkSize != 262144 {
		t.Fatalf("expected default max_chunk_size 262144, got %d", cfg.MaxChunkSize)
	}
	if cfg.DefaultRSN != 120 {
		t.Fatalf("expected default default_rs_n 120, got %d", cfg.DefaultRSN)
	}
	if cfg.DefaultRSK != 100 {
		t.Fatalf("expected default default_rs_k 100, got %d", cfg.DefaultRSK)
	}
}

func TestLoad_HTTPRateLimitDefaultsAndOverride(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPRatePerMinute != 600 || cfg.HTTPRateBurst != 100 {
		t.Fatalf("unexpected http rate limit defaults: %+v", cfg)
	}

	t.Setenv("IMAGE_LAB_HTTP_RATE_PER_MINUTE", "120")
	t.Setenv("IMAGE_LAB_HTTP_RATE_BURST", "20")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPRatePerMinute != 120 || cfg.HTTPRateBurst != 20 {
		t.Fatalf("http rate limit overrides not applied: %+v", cfg)
	}
}

func TestLoad_SpecNamedKeysOverride(t *testing.T) {
	t.Setenv("IMAGE_LAB_METRICS_WINDOW_SECONDS", "30")
	t.Setenv("IMAGE_LAB_SSE_QUEUE_SIZE", "50")
	t.Setenv("IMAGE_LAB_MAX_CHUNK_SIZE", "131072")
	t.Setenv("IMAGE_LAB_DEFAULT_RS_N", "16")
	t.Setenv("IMAGE_LAB_DEFAULT_RS_K", "12")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MetricsWindowSeconds != 30 || cfg.SSEQueueSize != 50 || cfg.MaxChunkSize != 131072 ||
		cfg.DefaultRSN != 16 || cfg.DefaultRSK != 12 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}
