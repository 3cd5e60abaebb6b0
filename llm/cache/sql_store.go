package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// cacheEntry cache_entries 表的一行
type cacheEntry struct {
	CacheKey     string    `gorm:"column:cache_key;primaryKey;size:64"`
	StatusCode   int       `gorm:"column:status_code"`
	ReasonPhrase string    `gorm:"column:reason_phrase;size:128"`
	Content      string    `gorm:"column:content;type:text"`
	ContentType  string    `gorm:"column:content_type;size:255"`
	Headers      string    `gorm:"column:headers;type:text"`
	CachedAt     time.Time `gorm:"column:cached_at"`
	ExpiresAt    time.Time `gorm:"column:expires_at;index"`
}

func (cacheEntry) TableName() string { return "cache_entries" }

func (e *cacheEntry) record() (*Record, error) {
	var headers map[string][]string
	if e.Headers != "" {
		if err := json.Unmarshal([]byte(e.Headers), &headers); err != nil {
			return nil, fmt.Errorf("decode cached headers: %w", err)
		}
	}
	return &Record{
		StatusCode:   e.StatusCode,
		ReasonPhrase: e.ReasonPhrase,
		Content:      e.Content,
		ContentType:  e.ContentType,
		Headers:      headers,
		CachedAt:     e.CachedAt,
		ExpiresAt:    e.ExpiresAt,
	}, nil
}

// SQLStore 基于 gorm 的存储（sqlite / postgres / mysql）
type SQLStore struct {
	db *gorm.DB
}

// NewSQLStore 创建 SQL 存储并迁移 cache_entries 表
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	if err := db.AutoMigrate(&cacheEntry{}); err != nil {
		return nil, fmt.Errorf("migrate cache_entries: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Get(ctx context.Context, key string) (*Record, bool, error) {
	var e cacheEntry
	err := s.db.WithContext(ctx).Where("cache_key = ?", key).Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query cache entry: %w", err)
	}

	rec, err := e.record()
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// Set 以 upsert 方式整体替换同键记录
func (s *SQLStore) Set(ctx context.Context, key string, rec *Record) error {
	headers, err := json.Marshal(rec.Headers)
	if err != nil {
		return fmt.Errorf("encode cached headers: %w", err)
	}

	e := cacheEntry{
		CacheKey:     key,
		StatusCode:   rec.StatusCode,
		ReasonPhrase: rec.ReasonPhrase,
		Content:      rec.Content,
		ContentType:  rec.ContentType,
		Headers:      string(headers),
		CachedAt:     rec.CachedAt,
		ExpiresAt:    rec.ExpiresAt,
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cache_key"}},
			UpdateAll: true,
		}).
		Create(&e).Error
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

func (s *SQLStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).Model(&cacheEntry{}).Order("cached_at").Pluck("cache_key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("list cache keys: %w", err)
	}
	return keys, nil
}

func (s *SQLStore) Prune(ctx context.Context, now time.Time) (int, error) {
	res := s.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&cacheEntry{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune cache entries: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}
