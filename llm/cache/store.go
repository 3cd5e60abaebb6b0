package cache

import (
	"context"
	"errors"
	"time"
)

// ErrRecordTooLarge 单条记录超过存储的字节预算
var ErrRecordTooLarge = errors.New("cache record exceeds store size budget")

// Store 缓存存储
// Get 未找到时返回 (nil, false, nil)；实现需保证单个键的读写原子。
type Store interface {
	Get(ctx context.Context, key string) (*Record, bool, error)
	Set(ctx context.Context, key string, rec *Record) error
	Keys(ctx context.Context) ([]string, error)
}

// Pruner 可选能力：删除 now 之前已过期的记录，返回删除条数
type Pruner interface {
	Prune(ctx context.Context, now time.Time) (int, error)
}
