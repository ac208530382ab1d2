package config

import (
	"log/slog"
	"testing"
	"time"
)

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func TestLoadDefaultsForDevProfile(t *testing.T) {
	lookup := mapLookup(map[string]string{})
	cfg, err := Load("dataomen-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.Query.MaxAttempts != 3 {
		t.Fatalf("Query.MaxAttempts = %d", cfg.Query.MaxAttempts)
	}
	if cfg.Query.TopK != 10 {
		t.Fatalf("Query.TopK = %d", cfg.Query.TopK)
	}
	if cfg.AI.EmbeddingDimensions != 1536 {
		t.Fatalf("AI.EmbeddingDimensions = %d", cfg.AI.EmbeddingDimensions)
	}
	if cfg.Anomaly.Strategy != "seasonal_ema" {
		t.Fatalf("Anomaly.Strategy = %q", cfg.Anomaly.Strategy)
	}
	if cfg.Anomaly.EMASpan != 30 || cfg.Anomaly.ZScoreSpan != 14 {
		t.Fatalf("Anomaly spans = %d/%d", cfg.Anomaly.EMASpan, cfg.Anomaly.ZScoreSpan)
	}
	if cfg.Anomaly.VarianceThreshold != 0.20 {
		t.Fatalf("Anomaly.VarianceThreshold = %v", cfg.Anomaly.VarianceThreshold)
	}
	if cfg.Watchdog.LookbackDays != 60 {
		t.Fatalf("Watchdog.LookbackDays = %d", cfg.Watchdog.LookbackDays)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	lookup := mapLookup(map[string]string{"DATAOMEN_PROFILE": "prod"})
	cfg, err := Load("dataomen-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should default to true in prod")
	}
	if !cfg.Watchdog.Enabled {
		t.Fatal("Watchdog.Enabled should default to true in prod")
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should default to true in prod")
	}
}

func TestLoadAppliesOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"DATAOMEN_HTTP_ADDR":                  ":9999",
		"DATAOMEN_QUERY_MAX_ATTEMPTS":         "5",
		"DATAOMEN_ANOMALY_STRATEGY":           "zscore",
		"DATAOMEN_ANOMALY_VARIANCE_THRESHOLD": "0.35",
		"DATAOMEN_WATCHDOG_INTERVAL":          "6h",
		"DATAOMEN_AI_EMBEDDING_DIMENSIONS":    "512",
	})
	cfg, err := Load("dataomen-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Query.MaxAttempts != 5 {
		t.Fatalf("Query.MaxAttempts = %d", cfg.Query.MaxAttempts)
	}
	if cfg.Anomaly.Strategy != "zscore" {
		t.Fatalf("Anomaly.Strategy = %q", cfg.Anomaly.Strategy)
	}
	if cfg.Anomaly.VarianceThreshold != 0.35 {
		t.Fatalf("Anomaly.VarianceThreshold = %v", cfg.Anomaly.VarianceThreshold)
	}
	if cfg.Watchdog.Interval != 6*time.Hour {
		t.Fatalf("Watchdog.Interval = %v", cfg.Watchdog.Interval)
	}
	if cfg.AI.EmbeddingDimensions != 512 {
		t.Fatalf("AI.EmbeddingDimensions = %d", cfg.AI.EmbeddingDimensions)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"bad profile", map[string]string{"DATAOMEN_PROFILE": "staging"}},
		{"bad duration", map[string]string{"DATAOMEN_HTTP_READ_TIMEOUT": "soon"}},
		{"bad strategy", map[string]string{"DATAOMEN_ANOMALY_STRATEGY": "holt-winters"}},
		{"bad attempts", map[string]string{"DATAOMEN_QUERY_MAX_ATTEMPTS": "0"}},
		{"bad dimensions", map[string]string{"DATAOMEN_AI_EMBEDDING_DIMENSIONS": "-1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load("dataomen-api", mapLookup(tc.env)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
