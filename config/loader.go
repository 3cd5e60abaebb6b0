// =============================================================================
// 📦 LLMRelay 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("llmrelay.yaml").
//	    WithEnvPrefix("LLMRELAY").
//	    WithValidator((*config.Config).Validate).
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	llmconfig "github.com/BaSui01/llmrelay/llm/config"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 LLMRelay 的完整配置结构
type Config struct {
	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Cache 响应缓存配置
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Retry 重试策略
	Retry RetryConfig `yaml:"retry" env:"RETRY"`

	// Upstream 出站 HTTP 配置
	Upstream UpstreamConfig `yaml:"upstream" env:"UPSTREAM"`

	// Redis 缓存后端配置（cache.backend = redis）
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 缓存后端配置（cache.backend = sql）
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Metrics 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Models 模型与提供商（只从文件加载）
	Models []llmconfig.ModelConfig `yaml:"models" env:"-"`
}

// CacheConfig 响应缓存配置
type CacheConfig struct {
	// 缓存目录（sqlite 后端的默认文件位置）
	Dir string `yaml:"dir" env:"DIR"`
	// 是否启用缓存
	EnableCaching bool `yaml:"enable_caching" env:"ENABLE_CACHING"`
	// 记录有效期
	Expiration time.Duration `yaml:"expiration" env:"EXPIRATION"`
	// 内存后端最大条目数
	MaxItems int `yaml:"max_items" env:"MAX_ITEMS"`
	// 内存后端最大字节数
	MaxSizeBytes int64 `yaml:"max_size_bytes" env:"MAX_SIZE_BYTES"`
	// 启动时清理过期记录
	CleanupOnStartup bool `yaml:"cleanup_on_startup" env:"CLEANUP_ON_STARTUP"`
	// 存储后端: memory, redis, sql
	Backend string `yaml:"backend" env:"BACKEND"`
	// 关闭响应体时等待写入的最长时间
	FlushTimeout time.Duration `yaml:"flush_timeout" env:"FLUSH_TIMEOUT"`
	// 按键分片加锁（默认全局串行写入）
	PerKeyLocks bool `yaml:"per_key_locks" env:"PER_KEY_LOCKS"`
	// 不缓存未读完的响应体
	SkipPartial bool `yaml:"skip_partial" env:"SKIP_PARTIAL"`
}

// RetryConfig 重试策略配置
type RetryConfig struct {
	// 最大重试次数（不含首次）
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 首次重试延迟
	InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	// 最大延迟
	MaxDelay time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	// 退避倍数
	Multiplier float64 `yaml:"multiplier" env:"MULTIPLIER"`
}

// UpstreamConfig 出站 HTTP 配置
type UpstreamConfig struct {
	// 单次请求超时（覆盖到响应体读完）
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 每秒请求数，0 表示不限
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 突发上限
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// User-Agent
	UserAgent string `yaml:"user_agent" env:"USER_AGENT"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 命令重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 启用 TLS
	TLS bool `yaml:"tls" env:"TLS"`
	// 健康检查间隔
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: sqlite, postgres, mysql
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名；sqlite 为文件路径，为空时使用 <cache.dir>/cache.db
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// 健康检查间隔
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 指标命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 不使用 TLS 连接 OTLP 端点
	Insecure bool `yaml:"insecure" env:"INSECURE"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "LLMRELAY",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置；文件不存在时保留默认值
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段，键名为 PREFIX_SECTION_FIELD
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// setFieldValue 按字段类型解析字符串
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// Load 从文件加载并校验配置
func Load(path string) (*Config, error) {
	return NewLoader().WithConfigPath(path).WithValidator((*Config).Validate).Load()
}

// AppConfig 模型配置视图
func (c *Config) AppConfig() *llmconfig.AppConfig {
	return &llmconfig.AppConfig{Models: c.Models}
}

var (
	validBackends  = map[string]bool{"memory": true, "redis": true, "sql": true}
	validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
)

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("invalid log level %q", c.Log.Level))
	}

	if !validBackends[c.Cache.Backend] {
		errs = append(errs, fmt.Sprintf("invalid cache backend %q (memory, redis, sql)", c.Cache.Backend))
	}
	if c.Cache.Expiration <= 0 {
		errs = append(errs, "cache expiration must be positive")
	}
	if c.Cache.FlushTimeout <= 0 {
		errs = append(errs, "cache flush_timeout must be positive")
	}
	if c.Cache.MaxItems < 0 || c.Cache.MaxSizeBytes < 0 {
		errs = append(errs, "cache budgets must be non-negative")
	}

	if c.Retry.MaxRetries < 0 {
		errs = append(errs, "retry max_retries must be non-negative")
	}
	if c.Retry.InitialDelay < 0 || c.Retry.MaxDelay < 0 {
		errs = append(errs, "retry delays must be non-negative")
	}
	if c.Retry.Multiplier != 0 && c.Retry.Multiplier < 1 {
		errs = append(errs, "retry multiplier must be >= 1")
	}

	if c.Upstream.RateLimitRPS < 0 {
		errs = append(errs, "upstream rate_limit_rps must be non-negative")
	}

	if c.Cache.Backend == "sql" && c.Database.Driver == "" {
		errs = append(errs, "database driver is required for the sql cache backend")
	}

	if err := c.AppConfig().Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN 返回数据库连接字符串；sqlite 未指定文件时放在 cacheDir 下
func (d *DatabaseConfig) DSN(cacheDir string) string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		if d.Name != "" {
			return d.Name
		}
		return filepath.Join(cacheDir, "cache.db")
	default:
		return ""
	}
}
