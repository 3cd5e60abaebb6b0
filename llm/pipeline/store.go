package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/llmrelay/config"
	rediscache "github.com/BaSui01/llmrelay/internal/cache"
	"github.com/BaSui01/llmrelay/internal/database"
	"github.com/BaSui01/llmrelay/internal/metrics"
	"github.com/BaSui01/llmrelay/internal/telemetry"
	"github.com/BaSui01/llmrelay/llm/cache"
	"github.com/BaSui01/llmrelay/llm/retry"
)

// telemetryShutdownTimeout 关闭时导出剩余 span 的上限
const telemetryShutdownTimeout = 5 * time.Second

// closerFunc 适配 io.Closer
type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// NewStore 按 cache.backend 创建存储后端
// 返回的 Closer 释放后端连接，memory 后端为 nil。
func NewStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (cache.Store, io.Closer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		store  cache.Store
		closer io.Closer
	)
	switch cfg.Cache.Backend {
	case "", "memory":
		store = cache.NewMemoryStore(cache.MemoryLimits{
			MaxItems: cfg.Cache.MaxItems,
			MaxBytes: cfg.Cache.MaxSizeBytes,
		})

	case "redis":
		mgr, err := rediscache.NewManager(rediscache.Config{
			Addr:                cfg.Redis.Addr,
			Password:            cfg.Redis.Password,
			DB:                  cfg.Redis.DB,
			KeyPrefix:           cfg.Redis.KeyPrefix,
			MaxRetries:          cfg.Redis.MaxRetries,
			PoolSize:            cfg.Redis.PoolSize,
			MinIdleConns:        cfg.Redis.MinIdleConns,
			TLS:                 cfg.Redis.TLS,
			HealthCheckInterval: cfg.Redis.HealthCheckInterval,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		store, closer = cache.NewRedisStore(mgr.Client(), mgr.KeyPrefix()), mgr

	case "sql":
		pm, err := database.Open(cfg.Database.Driver, cfg.Database.DSN(cfg.Cache.Dir), database.PoolConfig{
			MaxOpenConns:        cfg.Database.MaxOpenConns,
			MaxIdleConns:        cfg.Database.MaxIdleConns,
			ConnMaxLifetime:     cfg.Database.ConnMaxLifetime,
			HealthCheckInterval: cfg.Database.HealthCheckInterval,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		s, err := cache.NewSQLStore(pm.DB())
		if err != nil {
			_ = pm.Close()
			return nil, nil, err
		}
		store, closer = s, pm

	default:
		return nil, nil, fmt.Errorf("unsupported cache backend: %s", cfg.Cache.Backend)
	}

	if cfg.Cache.CleanupOnStartup {
		if p, ok := store.(cache.Pruner); ok {
			n, err := p.Prune(ctx, time.Now())
			if err != nil {
				logger.Warn("startup cache cleanup failed", zap.Error(err))
			} else {
				logger.Info("startup cache cleanup", zap.Int("removed", n))
			}
		}
	}

	logger.Info("cache store ready", zap.String("backend", cfg.Cache.Backend))
	return store, closer, nil
}

// RetryPolicy 由配置生成重试策略
func RetryPolicy(cfg config.RetryConfig) *retry.RetryPolicy {
	return &retry.RetryPolicy{
		MaxRetries:   cfg.MaxRetries,
		InitialDelay: cfg.InitialDelay,
		MaxDelay:     cfg.MaxDelay,
		Multiplier:   cfg.Multiplier,
	}
}

// CacheOptions 由配置生成缓存行为
func CacheOptions(cfg config.CacheConfig) cache.Options {
	return cache.Options{
		EnableCaching: cfg.EnableCaching,
		Expiration:    cfg.Expiration,
		FlushTimeout:  cfg.FlushTimeout,
		PerKeyLocks:   cfg.PerKeyLocks,
		SkipPartial:   cfg.SkipPartial,
	}
}

// FromConfig 根据完整配置组装管线：存储后端、指标、遥测、限流与重试
func FromConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := Options{
		Cache:     CacheOptions(cfg.Cache),
		Retry:     RetryPolicy(cfg.Retry),
		Timeout:   cfg.Upstream.Timeout,
		UserAgent: cfg.Upstream.UserAgent,
	}
	cleanup := func() {
		for i := len(opts.Closers) - 1; i >= 0; i-- {
			_ = opts.Closers[i].Close()
		}
	}

	if cfg.Metrics.Enabled {
		opts.Metrics = metrics.NewCollector(cfg.Metrics.Namespace, logger)
	}
	if cfg.Upstream.RateLimitRPS > 0 {
		opts.RateLimiter = rate.NewLimiter(rate.Limit(cfg.Upstream.RateLimitRPS), max(cfg.Upstream.RateLimitBurst, 1))
	}

	providers, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	opts.Tracer = providers.Tracer()
	opts.Closers = append(opts.Closers, closerFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		return providers.Shutdown(ctx)
	}))

	store, closer, err := NewStore(ctx, cfg, logger)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("init cache store: %w", err)
	}
	opts.Store = store
	if closer != nil {
		opts.Closers = append(opts.Closers, closer)
	}

	p, err := New(cfg.AppConfig(), opts, logger)
	if err != nil {
		cleanup()
		return nil, err
	}
	return p, nil
}

// Metrics 返回指标收集器，未启用时为 nil
func (p *Pipeline) Metrics() *metrics.Collector {
	return p.metrics
}
