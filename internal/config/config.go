package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Database   DatabaseConfig   `yaml:"database" mapstructure:"database"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Engine     EngineConfig     `yaml:"engine" mapstructure:"engine"`
	Breaker    BreakerConfig    `yaml:"breaker" mapstructure:"breaker"`
}

type ServerConfig struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver" mapstructure:"driver"` // postgres, sqlite
	DSN             string        `yaml:"dsn" mapstructure:"dsn"`       // 设置后覆盖其它连接参数
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	User            string        `yaml:"user" mapstructure:"user"`
	Password        string        `yaml:"password" mapstructure:"password"`
	Name            string        `yaml:"name" mapstructure:"name"`
	SSLMode         string        `yaml:"sslmode" mapstructure:"sslmode"`
	TimeZone        string        `yaml:"timezone" mapstructure:"timezone"`
	SQLitePath      string        `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	LogLevel        string        `yaml:"log_level" mapstructure:"log_level"` // silent, error, warn, info
}

// PostgresDSN 组装 Postgres DSN
func (d DatabaseConfig) PostgresDSN() string {
	if d.DSN != "" {
		return d.DSN
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=%s",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode, d.TimeZone)
}

type RedisConfig struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	Password     string        `yaml:"password" mapstructure:"password"`
	DB           int           `yaml:"db" mapstructure:"db"`
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	AlertChannel string        `yaml:"alert_channel" mapstructure:"alert_channel"` // SLA 告警发布频道
	LockPrefix   string        `yaml:"lock_prefix" mapstructure:"lock_prefix"`
	LockTTL      time.Duration `yaml:"lock_ttl" mapstructure:"lock_ttl"`
}

// Addr host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Format     string `yaml:"format" mapstructure:"format"` // json, text
	Output     string `yaml:"output" mapstructure:"output"` // stdout, file, both
	FilePath   string `yaml:"file_path" mapstructure:"file_path"`
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`       // MB
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`         // days
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"` // number of backup files
	Compress   bool   `yaml:"compress" mapstructure:"compress"`       // compress backup files
}

type MonitoringConfig struct {
	Enabled     bool          `yaml:"enabled" mapstructure:"enabled"`
	MetricsPath string        `yaml:"metrics_path" mapstructure:"metrics_path"`
	Tracing     TracingConfig `yaml:"tracing" mapstructure:"tracing"`
}

// TracingConfig OpenTelemetry 追踪配置
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" mapstructure:"enabled"`
	Endpoint    string  `yaml:"endpoint" mapstructure:"endpoint"`         // OTLP gRPC 端点，例如 http://otel-collector:4317
	Insecure    bool    `yaml:"insecure" mapstructure:"insecure"`         // 是否使用明文（本地/开发）
	SampleRatio float64 `yaml:"sample_ratio" mapstructure:"sample_ratio"` // 采样率 0.0~1.0
	ServiceName string  `yaml:"service_name" mapstructure:"service_name"` // 缺省使用 "ticketintel"
}

// EngineConfig 批处理引擎配置
type EngineConfig struct {
	Batch       BatchConfig       `yaml:"batch" mapstructure:"batch"`
	Suggestions SuggestionsConfig `yaml:"suggestions" mapstructure:"suggestions"`
	Clusters    ClustersConfig    `yaml:"clusters" mapstructure:"clusters"`
	SLA         SLAConfig         `yaml:"sla" mapstructure:"sla"`
}

type BatchConfig struct {
	ChunkSize int `yaml:"chunk_size" mapstructure:"chunk_size"`
}

type SuggestionsConfig struct {
	Threshold    float64       `yaml:"threshold" mapstructure:"threshold"`
	ScoreEpsilon float64       `yaml:"score_epsilon" mapstructure:"score_epsilon"`
	Interval     time.Duration `yaml:"interval" mapstructure:"interval"` // 定时重算间隔，0 表示不调度
	OnlyOpen     bool          `yaml:"only_open" mapstructure:"only_open"`
}

type ClustersConfig struct {
	Count         int   `yaml:"count" mapstructure:"count"`
	Seed          int64 `yaml:"seed" mapstructure:"seed"`
	MaxIterations int   `yaml:"max_iterations" mapstructure:"max_iterations"`
}

type SLAConfig struct {
	WarnRatio       float64                  `yaml:"warn_ratio" mapstructure:"warn_ratio"`
	Deadlines       map[string]time.Duration `yaml:"deadlines" mapstructure:"deadlines"` // priority → deadline
	DefaultDeadline time.Duration            `yaml:"default_deadline" mapstructure:"default_deadline"`
	Interval        time.Duration            `yaml:"interval" mapstructure:"interval"`
}

type BreakerConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	MaxFailures     int           `yaml:"max_failures" mapstructure:"max_failures"`
	ResetTimeout    time.Duration `yaml:"reset_timeout" mapstructure:"reset_timeout"`
	HalfOpenMaxReqs int           `yaml:"half_open_max_requests" mapstructure:"half_open_max_requests"`
}

// Load 以默认配置为基础合并 viper 中的配置
func Load() (*Config, error) {
	cfg := GetDefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验引擎相关配置
func (c *Config) Validate() error {
	s := c.Engine.Suggestions
	if s.Threshold < 0 || s.Threshold > 1 {
		return fmt.Errorf("engine.suggestions.threshold must be within [0,1], got %v", s.Threshold)
	}
	if s.ScoreEpsilon < 0 {
		return fmt.Errorf("engine.suggestions.score_epsilon must not be negative")
	}
	if c.Engine.Batch.ChunkSize <= 0 {
		return fmt.Errorf("engine.batch.chunk_size must be positive")
	}
	if c.Engine.Clusters.Count <= 0 {
		return fmt.Errorf("engine.clusters.count must be positive")
	}
	sla := c.Engine.SLA
	if sla.WarnRatio <= 0 || sla.WarnRatio > 1 {
		return fmt.Errorf("engine.sla.warn_ratio must be within (0,1], got %v", sla.WarnRatio)
	}
	for priority, d := range sla.Deadlines {
		if d <= 0 {
			return fmt.Errorf("engine.sla.deadlines.%s must be positive", priority)
		}
	}
	if sla.DefaultDeadline <= 0 {
		return fmt.Errorf("engine.sla.default_deadline must be positive")
	}
	return nil
}

// GetDefaultConfig 返回默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Password:        "password",
			Name:            "helpdesk",
			SSLMode:         "disable",
			TimeZone:        "UTC",
			SQLitePath:      "./data/ticketintel.db",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 3600 * time.Second,
			LogLevel:        "warn",
		},
		Redis: RedisConfig{
			Enabled:      false,
			Host:         "localhost",
			Port:         6379,
			DB:           0,
			PoolSize:     10,
			MinIdleConns: 2,
			AlertChannel: "ticketintel:sla_alerts",
			LockPrefix:   "ticketintel:lock:",
			LockTTL:      30 * time.Minute,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			FilePath:   "./logs/ticketintel.log",
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
			Compress:   true,
		},
		Monitoring: MonitoringConfig{
			Enabled:     true,
			MetricsPath: "/metrics",
			Tracing: TracingConfig{
				Enabled:     false,
				Endpoint:    "http://localhost:4317",
				Insecure:    true,
				SampleRatio: 0.1,
				ServiceName: "ticketintel",
			},
		},
		Engine: EngineConfig{
			Batch: BatchConfig{
				ChunkSize: 200,
			},
			Suggestions: SuggestionsConfig{
				Threshold:    0.35,
				ScoreEpsilon: 0.005,
				Interval:     0,
				OnlyOpen:     true,
			},
			Clusters: ClustersConfig{
				Count:         5,
				Seed:          42,
				MaxIterations: 50,
			},
			SLA: SLAConfig{
				WarnRatio: 0.75,
				Deadlines: map[string]time.Duration{
					"low":      72 * time.Hour,
					"medium":   24 * time.Hour,
					"high":     4 * time.Hour,
					"critical": 1 * time.Hour,
				},
				DefaultDeadline: 72 * time.Hour,
				Interval:        5 * time.Minute,
			},
		},
		Breaker: BreakerConfig{
			Enabled:         true,
			MaxFailures:     5,
			ResetTimeout:    60 * time.Second,
			HalfOpenMaxReqs: 3,
		},
	}
}
