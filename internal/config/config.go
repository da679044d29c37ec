package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the process-wide configuration for the master, loaded from
// environment variables at startup.
type Config struct {
	Chain    string
	Scaling  ScalingConfig
	Indexer  IndexerConfig
	Features FeaturesConfig
	Broker   BrokerConfig
	Tracing  TracingConfig
	Alert    AlertConfig
	Server   ServerConfig
	Log      LogConfig
}

// ScalingConfig mirrors spec section 4.2's scaling.* knobs.
type ScalingConfig struct {
	Readers        int
	BatchSize      int
	DSQueues       int
	DSThreads      int
	IndexingQueues int
	AdIdxQueues    int
	DSPoolSize     int
}

// IndexerConfig mirrors spec section 4.2's indexer.* knobs.
type IndexerConfig struct {
	StartOn        int64
	StopOn         int64
	LiveReader     bool
	LiveOnlyMode   bool
	ABIScanMode    bool
	DisableReading bool
	Rewrite        bool
	Preview        bool
	LogInterval    time.Duration
	AutoStop       time.Duration
	ErrorLogPath   string
}

// FeaturesConfig mirrors spec section 4.2's features.* knobs.
type FeaturesConfig struct {
	IndexDeltas       bool
	StreamingEnable   bool
	StreamingDeltas   bool
	StreamingTraces   bool
	EnabledTables     []string
	RepairMode        bool
	RepairRulesPath   string
}

type BrokerConfig struct {
	RedisURL string
}

type TracingConfig struct {
	Endpoint string
	Insecure bool
}

type AlertConfig struct {
	SlackWebhookURL   string
	GenericWebhookURL string
	CooldownSeconds   int
}

type ServerConfig struct {
	HealthPort int
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		Chain: getEnv("CHAIN", "ethereum"),
		Scaling: ScalingConfig{
			Readers:        getEnvInt("SCALING_READERS", 4),
			BatchSize:      getEnvInt("SCALING_BATCH_SIZE", 1000),
			DSQueues:       getEnvInt("SCALING_DS_QUEUES", 2),
			DSThreads:      getEnvInt("SCALING_DS_THREADS", 2),
			IndexingQueues: getEnvInt("SCALING_INDEXING_QUEUES", 1),
			AdIdxQueues:    getEnvInt("SCALING_AD_IDX_QUEUES", 1),
			DSPoolSize:     getEnvInt("SCALING_DS_POOL_SIZE", 4),
		},
		Indexer: IndexerConfig{
			StartOn:        getEnvInt64("INDEXER_START_ON", 0),
			StopOn:         getEnvInt64("INDEXER_STOP_ON", 0),
			LiveReader:     getEnvBool("INDEXER_LIVE_READER", true),
			LiveOnlyMode:   getEnvBool("INDEXER_LIVE_ONLY_MODE", false),
			ABIScanMode:    getEnvBool("INDEXER_ABI_SCAN_MODE", false),
			DisableReading: getEnvBool("INDEXER_DISABLE_READING", false),
			Rewrite:        getEnvBool("INDEXER_REWRITE", false),
			Preview:        getEnvBool("INDEXER_PREVIEW", false),
			LogInterval:    time.Duration(getEnvInt("INDEXER_LOG_INTERVAL_SEC", 5)) * time.Second,
			AutoStop:       time.Duration(getEnvInt("INDEXER_AUTO_STOP_SEC", 0)) * time.Second,
			ErrorLogPath:   getEnv("INDEXER_ERROR_LOG_PATH", "logs/deserialization_errors.log"),
		},
		Features: FeaturesConfig{
			IndexDeltas:     getEnvBool("FEATURES_INDEX_DELTAS", true),
			StreamingEnable: getEnvBool("FEATURES_STREAMING_ENABLE", false),
			StreamingDeltas: getEnvBool("FEATURES_STREAMING_DELTAS", false),
			StreamingTraces: getEnvBool("FEATURES_STREAMING_TRACES", false),
			RepairMode:      getEnvBool("FEATURES_REPAIR_MODE", false),
			RepairRulesPath: getEnv("FEATURES_REPAIR_RULES_PATH", ""),
		},
		Broker: BrokerConfig{
			RedisURL: getEnv("REDIS_URL", ""),
		},
		Tracing: TracingConfig{
			Endpoint: getEnv("TRACING_ENDPOINT", ""),
			Insecure: getEnvBool("TRACING_INSECURE", true),
		},
		Alert: AlertConfig{
			SlackWebhookURL:   getEnv("ALERT_SLACK_WEBHOOK_URL", ""),
			GenericWebhookURL: getEnv("ALERT_WEBHOOK_URL", ""),
			CooldownSeconds:   getEnvInt("ALERT_COOLDOWN_SEC", 300),
		},
		Server: ServerConfig{
			HealthPort: getEnvInt("HEALTH_PORT", 8080),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if tables := getEnv("FEATURES_ENABLED_TABLES", ""); tables != "" {
		for _, t := range strings.Split(tables, ",") {
			t = strings.TrimSpace(t)
			if t != "" {
				cfg.Features.EnabledTables = append(cfg.Features.EnabledTables, t)
			}
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Chain == "" {
		return fmt.Errorf("CHAIN is required")
	}
	if c.Scaling.Readers <= 0 {
		return fmt.Errorf("SCALING_READERS must be positive")
	}
	if c.Scaling.BatchSize <= 0 {
		return fmt.Errorf("SCALING_BATCH_SIZE must be positive")
	}
	if c.Scaling.DSPoolSize <= 0 {
		return fmt.Errorf("SCALING_DS_POOL_SIZE must be positive")
	}
	if c.Indexer.StopOn != 0 && c.Indexer.StartOn != 0 && c.Indexer.StopOn < c.Indexer.StartOn {
		return fmt.Errorf("INDEXER_STOP_ON must not precede INDEXER_START_ON")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
