package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy 定义重试策略配置
// delay(attempt) = min(InitialDelay * Multiplier^(attempt-1), MaxDelay)
type RetryPolicy struct {
	MaxRetries   int                                               // 最大重试次数（0 表示不重试，总尝试次数为 MaxRetries+1）
	InitialDelay time.Duration                                     // 初始延迟时间
	MaxDelay     time.Duration                                     // 最大延迟时间
	Multiplier   float64                                           // 延迟时间倍增因子（指数退避）
	OnRetry      func(attempt int, err error, delay time.Duration) // 重试回调（指标采集用）
}

// DefaultRetryPolicy 返回默认的重试策略
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   2,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// Delay 计算第 attempt 次重试（从 1 开始）前的等待时间
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) || math.IsInf(delay, 0) || math.IsNaN(delay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// normalized 返回补齐默认值后的副本，调用方的策略不被修改
func (p *RetryPolicy) normalized() *RetryPolicy {
	if p == nil {
		return DefaultRetryPolicy()
	}
	cp := *p
	if cp.MaxRetries < 0 {
		cp.MaxRetries = 0
	}
	if cp.InitialDelay <= 0 {
		cp.InitialDelay = 1 * time.Second
	}
	if cp.MaxDelay <= 0 {
		cp.MaxDelay = 30 * time.Second
	}
	if cp.MaxDelay < cp.InitialDelay {
		cp.MaxDelay = cp.InitialDelay
	}
	if cp.Multiplier < 1.0 {
		cp.Multiplier = 2.0
	}
	return &cp
}

// Executor 基于指数退避的重试执行器
// 只懂状态码/错误分类，不关心 HTTP 以外的语义
type Executor struct {
	policy *RetryPolicy
	logger *zap.Logger
}

// NewExecutor 创建重试执行器
func NewExecutor(policy *RetryPolicy, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		policy: policy.normalized(),
		logger: logger.With(zap.String("component", "retry")),
	}
}

// Policy 返回生效的策略副本
func (e *Executor) Policy() RetryPolicy {
	return *e.policy
}

// Do 执行函数，失败且可重试时按策略重试
func (e *Executor) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return e.run(ctx, func(ctx context.Context, _ bool) error {
		return fn(ctx)
	})
}

// run 核心重试循环
// 严格串行；不可重试的错误立即返回，不消耗重试次数；
// 次数耗尽后原样返回最后一次错误。
func (e *Executor) run(ctx context.Context, fn func(ctx context.Context, last bool) error) error {
	var lastErr error

	for attempt := 0; attempt <= e.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := e.policy.Delay(attempt)

			e.logger.Warn("retrying after transient failure",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", e.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)

			if e.policy.OnRetry != nil {
				e.policy.OnRetry(attempt, lastErr, delay)
			}

			if err := sleep(ctx, delay); err != nil {
				return fmt.Errorf("retry cancelled before attempt %d: %w", attempt+1, errors.Join(err, lastErr))
			}
		}

		lastErr = fn(ctx, attempt == e.policy.MaxRetries)
		if lastErr == nil {
			if attempt > 0 {
				e.logger.Info("retry succeeded", zap.Int("attempt", attempt))
			}
			return nil
		}

		if !IsRetryableError(lastErr) {
			e.logger.Debug("error not retryable", zap.Error(lastErr))
			return lastErr
		}
	}

	e.logger.Warn("retries exhausted",
		zap.Int("attempts", e.policy.MaxRetries+1),
		zap.Error(lastErr),
	)
	return lastErr
}

// sleep 可取消的等待
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryableError 可重试的错误类型
// 用于显式标记某个错误应该触发重试
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// WrapRetryable 将错误包装为可重试错误
func WrapRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}
