package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix Redis 键前缀
const DefaultRedisPrefix = "llmrelay:response:"

// redisRetention 记录过期后在 Redis 中额外保留的时间
// 过期记录由读取方忽略、由新写入覆盖，Redis TTL 只负责最终回收。
const redisRetention = time.Hour

// RedisStore 基于 Redis 的存储，记录以 JSON 保存
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore 创建 Redis 存储；client 的生命周期由调用方管理
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Record, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("decode cached record: %w", err)
	}
	return &rec, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode cached record: %w", err)
	}

	var ttl time.Duration
	if !rec.ExpiresAt.IsZero() {
		ttl = time.Until(rec.ExpiresAt) + redisRetention
		if ttl < time.Second {
			ttl = time.Second
		}
	}
	if err := s.client.Set(ctx, s.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Keys 用 SCAN 遍历前缀下的所有键，不阻塞 Redis
func (s *RedisStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return keys, nil
}

// Prune 删除已过期的记录；无法解码的记录一并删除
func (s *RedisStore) Prune(ctx context.Context, now time.Time) (int, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, key := range keys {
		rec, found, err := s.Get(ctx, key)
		if !found && err == nil {
			continue
		}
		if err == nil && rec.Fresh(now) {
			continue
		}
		n, err := s.client.Del(ctx, s.prefix+key).Result()
		if err != nil {
			return removed, fmt.Errorf("redis del: %w", err)
		}
		removed += int(n)
	}
	return removed, nil
}
