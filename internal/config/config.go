package config

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config 配置
type Config struct {
	Service      ServiceConfig      `yaml:"service" json:"service"`
	Postgres     PostgresConfig     `yaml:"postgres" json:"postgres"`
	Redis        RedisConfig        `yaml:"redis" json:"redis"`
	Kafka        KafkaConfig        `yaml:"kafka" json:"kafka"`
	Blockchain   BlockchainConfig   `yaml:"blockchain" json:"blockchain"`
	Marketplaces MarketplacesConfig `yaml:"marketplaces" json:"marketplaces"`
	LooksRare    LooksRareConfig    `yaml:"looksrare" json:"looksrare"`
	WalletSync   WalletSyncConfig   `yaml:"walletsync" json:"walletsync"`
	Notifier     NotifierConfig     `yaml:"notifier" json:"notifier"`
	Log          LogConfig          `yaml:"log" json:"log"`
}

// ServiceConfig 服务配置
type ServiceConfig struct {
	Name        string `yaml:"name" json:"name"`
	Env         string `yaml:"env" json:"env"`
	MetricsPort int    `yaml:"metrics_port" json:"metrics_port"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port"`
	Database        string `yaml:"database" json:"database"`
	User            string `yaml:"user" json:"user"`
	Password        string `yaml:"password" json:"password"`
	MaxConnections  int    `yaml:"max_connections" json:"max_connections"`
	MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addresses []string `yaml:"addresses" json:"addresses"`
	Password  string   `yaml:"password" json:"password"`
	DB        int      `yaml:"db" json:"db"`
	PoolSize  int      `yaml:"pool_size" json:"pool_size"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers" json:"brokers"`
	ClientID string   `yaml:"client_id" json:"client_id"`
}

// BlockchainConfig 区块链配置
type BlockchainConfig struct {
	RPCURL             string   `yaml:"rpc_url" json:"rpc_url"`
	BackupRPCURLs      []string `yaml:"backup_rpc_urls" json:"backup_rpc_urls"`
	ChainID            int64    `yaml:"chain_id" json:"chain_id"`
	TimestampCacheSize int      `yaml:"timestamp_cache_size" json:"timestamp_cache_size"`
	MetadataCacheSize  int      `yaml:"metadata_cache_size" json:"metadata_cache_size"`
	ResubscribeDelay   int      `yaml:"resubscribe_delay" json:"resubscribe_delay"` // 秒
}

// MarketplacesConfig 启用的市场，空表示全部
type MarketplacesConfig struct {
	Enabled []string `yaml:"enabled" json:"enabled"`
}

// LooksRareConfig 订单簿轮询配置
type LooksRareConfig struct {
	BaseURL           string `yaml:"base_url" json:"base_url"`
	APIKey            string `yaml:"api_key" json:"api_key"`
	RequestsPerMinute int    `yaml:"requests_per_minute" json:"requests_per_minute"`
	BatchSize         int    `yaml:"batch_size" json:"batch_size"`
	OrderPollInterval int    `yaml:"order_poll_interval" json:"order_poll_interval"` // 秒
	EventPollInterval int    `yaml:"event_poll_interval" json:"event_poll_interval"` // 秒
	MaxRetries        int    `yaml:"max_retries" json:"max_retries"`
}

// WalletSyncConfig 钱包持仓同步配置
type WalletSyncConfig struct {
	Interval int `yaml:"interval" json:"interval"` // 秒
}

// NotifierConfig 通知分发配置
type NotifierConfig struct {
	RecencyWindowMinutes           int    `yaml:"recency_window_minutes" json:"recency_window_minutes"`
	StalenessMinutes               int    `yaml:"staleness_minutes" json:"staleness_minutes"`
	DefaultMaxOfferFloorDifference string `yaml:"default_max_offer_floor_difference" json:"default_max_offer_floor_difference"`
	PollInterval                   int    `yaml:"poll_interval" json:"poll_interval"` // 秒
	TotalShards                    int    `yaml:"total_shards" json:"total_shards"`
	InstanceID                     string `yaml:"instance_id" json:"instance_id"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Load 加载配置
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// 环境变量替换
	content := string(data)
	content = expandEnvVars(content)

	var cfg Config
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil, err
	}

	// 设置默认值
	setDefaults(&cfg)

	return &cfg, nil
}

// expandEnvVars 展开环境变量 ${VAR:default}
func expandEnvVars(s string) string {
	result := s
	for {
		start := strings.Index(result, "${")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}")
		if end == -1 {
			break
		}
		end += start

		expr := result[start+2 : end]
		parts := strings.SplitN(expr, ":", 2)
		varName := parts[0]
		defaultVal := ""
		if len(parts) > 1 {
			defaultVal = parts[1]
		}

		value := os.Getenv(varName)
		if value == "" {
			value = defaultVal
		}

		result = result[:start] + value + result[end+1:]
	}
	return result
}

// setDefaults 设置默认值
func setDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "flipance"
	}
	if cfg.Service.Env == "" {
		cfg.Service.Env = "dev"
	}
	if cfg.Service.MetricsPort == 0 {
		cfg.Service.MetricsPort = 9090
	}

	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.MaxConnections == 0 {
		cfg.Postgres.MaxConnections = 50
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 10
	}
	if cfg.Postgres.ConnMaxLifetime == 0 {
		cfg.Postgres.ConnMaxLifetime = 3600
	}

	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 50
	}

	if cfg.Kafka.ClientID == "" {
		cfg.Kafka.ClientID = "flipance"
	}

	if cfg.Blockchain.ChainID == 0 {
		cfg.Blockchain.ChainID = 1 // 以太坊主网
	}
	if cfg.Blockchain.TimestampCacheSize == 0 {
		cfg.Blockchain.TimestampCacheSize = 4096
	}
	if cfg.Blockchain.MetadataCacheSize == 0 {
		cfg.Blockchain.MetadataCacheSize = 8192
	}
	if cfg.Blockchain.ResubscribeDelay == 0 {
		cfg.Blockchain.ResubscribeDelay = 5
	}

	if cfg.LooksRare.RequestsPerMinute == 0 {
		cfg.LooksRare.RequestsPerMinute = 120
	}
	if cfg.LooksRare.BatchSize == 0 {
		cfg.LooksRare.BatchSize = 40
	}
	if cfg.LooksRare.OrderPollInterval == 0 {
		cfg.LooksRare.OrderPollInterval = 60
	}
	if cfg.LooksRare.EventPollInterval == 0 {
		cfg.LooksRare.EventPollInterval = 30
	}
	if cfg.LooksRare.MaxRetries == 0 {
		cfg.LooksRare.MaxRetries = 3
	}

	if cfg.WalletSync.Interval == 0 {
		cfg.WalletSync.Interval = 3600
	}

	if cfg.Notifier.RecencyWindowMinutes == 0 {
		cfg.Notifier.RecencyWindowMinutes = 60
	}
	if cfg.Notifier.StalenessMinutes == 0 {
		cfg.Notifier.StalenessMinutes = 10
	}
	if cfg.Notifier.DefaultMaxOfferFloorDifference == "" {
		cfg.Notifier.DefaultMaxOfferFloorDifference = "15"
	}
	if cfg.Notifier.PollInterval == 0 {
		cfg.Notifier.PollInterval = 60
	}
	if cfg.Notifier.TotalShards == 0 {
		cfg.Notifier.TotalShards = 1
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// GetEnvInt 获取环境变量整数值
func GetEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// GetEnvString 获取环境变量字符串值
func GetEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
