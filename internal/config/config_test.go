package config

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Server.Port == 0 {
		t.Error("expected Server.Port to be non-zero")
	}
	if cfg.Database.Name == "" {
		t.Error("expected Database.Name to be set")
	}
	if cfg.Log.Level == "" {
		t.Error("expected Log.Level to be set")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
}

func TestConfig_EngineDefaults(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Engine.Suggestions.Threshold != 0.35 {
		t.Errorf("threshold = %v, want 0.35", cfg.Engine.Suggestions.Threshold)
	}
	if cfg.Engine.Batch.ChunkSize != 200 {
		t.Errorf("chunk size = %d, want 200", cfg.Engine.Batch.ChunkSize)
	}
	if cfg.Engine.SLA.WarnRatio != 0.75 {
		t.Errorf("warn ratio = %v, want 0.75", cfg.Engine.SLA.WarnRatio)
	}
	if cfg.Engine.SLA.Deadlines["high"] != 4*time.Hour {
		t.Errorf("high deadline = %v, want 4h", cfg.Engine.SLA.Deadlines["high"])
	}
	if cfg.Engine.Clusters.Seed != 42 {
		t.Errorf("cluster seed = %d, want 42", cfg.Engine.Clusters.Seed)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"threshold above one", func(c *Config) { c.Engine.Suggestions.Threshold = 1.2 }, "threshold"},
		{"negative threshold", func(c *Config) { c.Engine.Suggestions.Threshold = -0.1 }, "threshold"},
		{"zero chunk", func(c *Config) { c.Engine.Batch.ChunkSize = 0 }, "chunk_size"},
		{"zero clusters", func(c *Config) { c.Engine.Clusters.Count = 0 }, "clusters.count"},
		{"zero warn ratio", func(c *Config) { c.Engine.SLA.WarnRatio = 0 }, "warn_ratio"},
		{"negative deadline", func(c *Config) { c.Engine.SLA.Deadlines["low"] = -time.Hour }, "deadlines.low"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestLoad_MergesViperValues(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	viper.Set("engine.suggestions.threshold", 0.5)
	viper.Set("engine.sla.deadlines.high", "2h")
	viper.Set("database.driver", "sqlite")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Engine.Suggestions.Threshold != 0.5 {
		t.Errorf("threshold = %v, want 0.5", cfg.Engine.Suggestions.Threshold)
	}
	if cfg.Engine.SLA.Deadlines["high"] != 2*time.Hour {
		t.Errorf("high deadline = %v, want 2h", cfg.Engine.SLA.Deadlines["high"])
	}
	if cfg.Engine.SLA.Deadlines["low"] != 72*time.Hour {
		t.Errorf("low deadline lost during merge: %v", cfg.Engine.SLA.Deadlines["low"])
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("driver = %q, want sqlite", cfg.Database.Driver)
	}
}

func TestDatabaseConfig_PostgresDSN(t *testing.T) {
	d := GetDefaultConfig().Database
	dsn := d.PostgresDSN()
	if !strings.Contains(dsn, "host=localhost") || !strings.Contains(dsn, "port=5432") {
		t.Errorf("unexpected dsn: %s", dsn)
	}
	d.DSN = "postgres://u:p@db/x"
	if d.PostgresDSN() != "postgres://u:p@db/x" {
		t.Errorf("explicit DSN should win")
	}
}

func TestConfigureLogger(t *testing.T) {
	logger := logrus.New()
	if err := ConfigureLogger(logger, LogConfig{Level: "debug", Format: "text", Output: "stdout"}); err != nil {
		t.Fatalf("ConfigureLogger: %v", err)
	}
	if logger.GetLevel() != logrus.DebugLevel {
		t.Errorf("level = %v, want debug", logger.GetLevel())
	}
	if _, ok := logger.Formatter.(*logrus.TextFormatter); !ok {
		t.Errorf("expected text formatter, got %T", logger.Formatter)
	}

	// 非法级别回退到 info
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	if err := ConfigureLogger(logger, LogConfig{Level: "loud", Format: "json", Output: "file", FilePath: filepath.Join(t.TempDir(), "logs", "engine.log")}); err != nil {
		t.Fatalf("ConfigureLogger file: %v", err)
	}
	if logger.GetLevel() != logrus.InfoLevel {
		t.Errorf("level = %v, want info", logger.GetLevel())
	}
	if !strings.Contains(buf.String(), "Invalid log level") {
		t.Errorf("expected warning about invalid level, got %q", buf.String())
	}
}
