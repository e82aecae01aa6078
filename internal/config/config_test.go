package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestExpandEnvVars 测试环境变量展开
func TestExpandEnvVars(t *testing.T) {
	t.Run("simple variable", func(t *testing.T) {
		os.Setenv("TEST_VAR", "hello")
		defer os.Unsetenv("TEST_VAR")

		result := expandEnvVars("value is ${TEST_VAR}")
		assert.Equal(t, "value is hello", result)
	})

	t.Run("variable with default", func(t *testing.T) {
		// 不设置环境变量，使用默认值
		result := expandEnvVars("value is ${NOT_EXISTS:default_value}")
		assert.Equal(t, "value is default_value", result)
	})

	t.Run("variable with default overridden", func(t *testing.T) {
		os.Setenv("MY_VAR", "actual_value")
		defer os.Unsetenv("MY_VAR")

		result := expandEnvVars("value is ${MY_VAR:default_value}")
		assert.Equal(t, "value is actual_value", result)
	})

	t.Run("multiple variables", func(t *testing.T) {
		os.Setenv("VAR1", "first")
		os.Setenv("VAR2", "second")
		defer os.Unsetenv("VAR1")
		defer os.Unsetenv("VAR2")

		result := expandEnvVars("${VAR1} and ${VAR2}")
		assert.Equal(t, "first and second", result)
	})

	t.Run("no variables", func(t *testing.T) {
		result := expandEnvVars("no variables here")
		assert.Equal(t, "no variables here", result)
	})

	t.Run("empty default", func(t *testing.T) {
		result := expandEnvVars("value is ${NOT_EXISTS:}")
		assert.Equal(t, "value is ", result)
	})

	t.Run("default with colon", func(t *testing.T) {
		result := expandEnvVars("value is ${NOT_EXISTS:default:with:colons}")
		assert.Equal(t, "value is default:with:colons", result)
	})
}

// TestSetDefaults 测试默认值设置
func TestSetDefaults(t *testing.T) {
	t.Run("all defaults", func(t *testing.T) {
		cfg := &Config{}
		setDefaults(cfg)

		assert.Equal(t, "flipance", cfg.Service.Name)
		assert.Equal(t, "dev", cfg.Service.Env)
		assert.Equal(t, 9090, cfg.Service.MetricsPort)

		assert.Equal(t, 5432, cfg.Postgres.Port)
		assert.Equal(t, 50, cfg.Postgres.MaxConnections)
		assert.Equal(t, 10, cfg.Postgres.MaxIdleConns)
		assert.Equal(t, 3600, cfg.Postgres.ConnMaxLifetime)

		assert.Equal(t, 50, cfg.Redis.PoolSize)

		assert.Equal(t, int64(1), cfg.Blockchain.ChainID)
		assert.Equal(t, 4096, cfg.Blockchain.TimestampCacheSize)

		assert.Equal(t, 120, cfg.LooksRare.RequestsPerMinute)
		assert.Equal(t, 40, cfg.LooksRare.BatchSize)
		assert.Equal(t, 60, cfg.LooksRare.OrderPollInterval)
		assert.Equal(t, 30, cfg.LooksRare.EventPollInterval)

		assert.Equal(t, 3600, cfg.WalletSync.Interval)

		assert.Equal(t, 60, cfg.Notifier.RecencyWindowMinutes)
		assert.Equal(t, 10, cfg.Notifier.StalenessMinutes)
		assert.Equal(t, "15", cfg.Notifier.DefaultMaxOfferFloorDifference)
		assert.Equal(t, 1, cfg.Notifier.TotalShards)

		assert.Equal(t, "info", cfg.Log.Level)
		assert.Equal(t, "json", cfg.Log.Format)
	})

	t.Run("partial config", func(t *testing.T) {
		cfg := &Config{
			Service: ServiceConfig{
				Name:        "custom-name",
				MetricsPort: 9999,
			},
			LooksRare: LooksRareConfig{
				RequestsPerMinute: 240,
			},
		}
		setDefaults(cfg)

		// 已设置的值不应该被覆盖
		assert.Equal(t, "custom-name", cfg.Service.Name)
		assert.Equal(t, 9999, cfg.Service.MetricsPort)
		assert.Equal(t, 240, cfg.LooksRare.RequestsPerMinute)

		// 未设置的值应该使用默认值
		assert.Equal(t, "dev", cfg.Service.Env)
		assert.Equal(t, 5432, cfg.Postgres.Port)
		assert.Equal(t, 40, cfg.LooksRare.BatchSize)
	})
}

// TestGetEnvInt 测试获取环境变量整数值
func TestGetEnvInt(t *testing.T) {
	t.Run("env variable exists", func(t *testing.T) {
		os.Setenv("TEST_INT", "42")
		defer os.Unsetenv("TEST_INT")

		result := GetEnvInt("TEST_INT", 0)
		assert.Equal(t, 42, result)
	})

	t.Run("env variable not exists", func(t *testing.T) {
		result := GetEnvInt("NOT_EXISTS_INT", 100)
		assert.Equal(t, 100, result)
	})

	t.Run("env variable invalid", func(t *testing.T) {
		os.Setenv("TEST_INVALID_INT", "not-a-number")
		defer os.Unsetenv("TEST_INVALID_INT")

		result := GetEnvInt("TEST_INVALID_INT", 50)
		assert.Equal(t, 50, result)
	})

	t.Run("env variable empty", func(t *testing.T) {
		os.Setenv("TEST_EMPTY_INT", "")
		defer os.Unsetenv("TEST_EMPTY_INT")

		result := GetEnvInt("TEST_EMPTY_INT", 25)
		assert.Equal(t, 25, result)
	})
}

// TestGetEnvString 测试获取环境变量字符串值
func TestGetEnvString(t *testing.T) {
	t.Run("env variable exists", func(t *testing.T) {
		os.Setenv("TEST_STRING", "hello")
		defer os.Unsetenv("TEST_STRING")

		result := GetEnvString("TEST_STRING", "default")
		assert.Equal(t, "hello", result)
	})

	t.Run("env variable not exists", func(t *testing.T) {
		result := GetEnvString("NOT_EXISTS_STRING", "default")
		assert.Equal(t, "default", result)
	})

	t.Run("env variable empty", func(t *testing.T) {
		os.Setenv("TEST_EMPTY_STRING", "")
		defer os.Unsetenv("TEST_EMPTY_STRING")

		result := GetEnvString("TEST_EMPTY_STRING", "default")
		assert.Equal(t, "default", result)
	})
}

// TestLoad 测试配置加载
func TestLoad(t *testing.T) {
	t.Run("file not exists", func(t *testing.T) {
		_, err := Load("/path/to/nonexistent/config.yaml")
		assert.Error(t, err)
	})

	t.Run("valid config file", func(t *testing.T) {
		// 创建临时配置文件
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.yaml")

		configContent := `
service:
  name: flipance-test
  env: test
  metrics_port: 9191

postgres:
  host: localhost
  port: 5432
  database: flipance_test
  user: postgres
  password: ${DB_PASSWORD:test_password}

redis:
  addresses:
    - localhost:6379
  password: ""

kafka:
  brokers:
    - localhost:9092
  client_id: flipance-test

blockchain:
  rpc_url: ws://localhost:8546
  chain_id: 1

looksrare:
  api_key: ${LOOKSRARE_API_KEY:}
  requests_per_minute: 60
  batch_size: 20

notifier:
  staleness_minutes: 10
  total_shards: 10

log:
  level: debug
  format: console
`
		err := os.WriteFile(configPath, []byte(configContent), 0644)
		assert.NoError(t, err)

		cfg, err := Load(configPath)
		assert.NoError(t, err)
		assert.NotNil(t, cfg)

		// 验证配置值
		assert.Equal(t, "flipance-test", cfg.Service.Name)
		assert.Equal(t, 9191, cfg.Service.MetricsPort)
		assert.Equal(t, "test", cfg.Service.Env)
		assert.Equal(t, "localhost", cfg.Postgres.Host)
		assert.Equal(t, "test_password", cfg.Postgres.Password) // 使用默认值
		assert.Equal(t, 60, cfg.LooksRare.RequestsPerMinute)
		assert.Equal(t, 20, cfg.LooksRare.BatchSize)
		assert.Equal(t, 10, cfg.Notifier.TotalShards)
		assert.Equal(t, "debug", cfg.Log.Level)
	})

	t.Run("config with env override", func(t *testing.T) {
		// 创建临时配置文件
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.yaml")

		configContent := `
service:
  name: flipance

postgres:
  password: ${DB_PASSWORD:default_pw}
`
		err := os.WriteFile(configPath, []byte(configContent), 0644)
		assert.NoError(t, err)

		// 设置环境变量
		os.Setenv("DB_PASSWORD", "secret_password")
		defer os.Unsetenv("DB_PASSWORD")

		cfg, err := Load(configPath)
		assert.NoError(t, err)
		assert.Equal(t, "secret_password", cfg.Postgres.Password)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "invalid.yaml")

		// 无效的 YAML
		invalidContent := `
service:
  name: [this is not valid
  metrics_port 9090
`
		err := os.WriteFile(configPath, []byte(invalidContent), 0644)
		assert.NoError(t, err)

		_, err = Load(configPath)
		assert.Error(t, err)
	})
}

// TestConfigStructs 测试配置结构体
func TestConfigStructs(t *testing.T) {
	t.Run("BlockchainConfig", func(t *testing.T) {
		cfg := BlockchainConfig{
			RPCURL:             "wss://mainnet.infura.io/ws/v3/key",
			BackupRPCURLs:      []string{"wss://backup.example.com"},
			ChainID:            1,
			TimestampCacheSize: 2048,
		}

		assert.Equal(t, int64(1), cfg.ChainID)
		assert.Len(t, cfg.BackupRPCURLs, 1)
		assert.Equal(t, 2048, cfg.TimestampCacheSize)
	})

	t.Run("LooksRareConfig", func(t *testing.T) {
		cfg := LooksRareConfig{
			BaseURL:           "https://api.looksrare.org",
			APIKey:            "key",
			RequestsPerMinute: 120,
			BatchSize:         40,
		}

		assert.Equal(t, 120, cfg.RequestsPerMinute)
		assert.Equal(t, 40, cfg.BatchSize)
	})

	t.Run("NotifierConfig", func(t *testing.T) {
		cfg := NotifierConfig{
			RecencyWindowMinutes:           60,
			StalenessMinutes:               10,
			DefaultMaxOfferFloorDifference: "15",
			TotalShards:                    10,
			InstanceID:                     "worker-1",
		}

		assert.Equal(t, 10, cfg.StalenessMinutes)
		assert.Equal(t, "worker-1", cfg.InstanceID)
	})
}
