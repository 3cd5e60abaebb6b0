// =============================================================================
// 📦 LLMRelay 默认配置
// =============================================================================
package config

import (
	"os"
	"path/filepath"
	"time"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Log:       DefaultLogConfig(),
		Cache:     DefaultCacheConfig(),
		Retry:     DefaultRetryConfig(),
		Upstream:  DefaultUpstreamConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Metrics:   DefaultMetricsConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultCacheConfig 返回默认缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Dir:              defaultCacheDir(),
		EnableCaching:    true,
		Expiration:       24 * time.Hour,
		MaxItems:         10000,
		MaxSizeBytes:     1 << 30, // 1 GiB
		CleanupOnStartup: false,
		Backend:          "memory",
		FlushTimeout:     5 * time.Second,
	}
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "llmrelay")
	}
	return filepath.Join(os.TempDir(), "llmrelay")
}

// DefaultRetryConfig 返回默认重试配置
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   2,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// DefaultUpstreamConfig 返回默认出站配置
func DefaultUpstreamConfig() UpstreamConfig {
	return UpstreamConfig{
		Timeout:        5 * time.Minute,
		RateLimitRPS:   0,
		RateLimitBurst: 1,
		UserAgent:      "llmrelay",
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:                "localhost:6379",
		DB:                  0,
		KeyPrefix:           "llmrelay:response:",
		PoolSize:            10,
		MinIdleConns:        2,
		MaxRetries:          3,
		HealthCheckInterval: 30 * time.Second,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:              "sqlite",
		Host:                "localhost",
		Port:                5432,
		User:                "llmrelay",
		SSLMode:             "disable",
		MaxOpenConns:        25,
		MaxIdleConns:        5,
		ConnMaxLifetime:     5 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "llmrelay",
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stderr"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		Insecure:     true,
		ServiceName:  "llmrelay",
		SampleRate:   0.1,
	}
}
