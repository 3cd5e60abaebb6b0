package tokenizer

import (
	"strings"
	"sync"
)

// Counter 统计一段文本的 token 数
type Counter interface {
	CountTokens(text string) (int, error)
	Name() string
}

// Registry 按模型名前缀登记计数器，最长前缀优先
type Registry struct {
	mu       sync.RWMutex
	counters map[string]Counter
	fallback Counter
}

// NewRegistry 创建空注册表，未命中的模型使用字符估算器
func NewRegistry() *Registry {
	return &Registry{
		counters: make(map[string]Counter),
		fallback: NewEstimator(),
	}
}

// DefaultRegistry 预先登记 OpenAI 系列编码的注册表
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for prefix, encoding := range openAIEncodings {
		r.Register(prefix, NewTiktoken(encoding))
	}
	return r
}

// Register 为模型名前缀登记计数器
func (r *Registry) Register(prefix string, c Counter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[strings.ToLower(prefix)] = c
}

// Lookup 返回模型对应的计数器；没有匹配的前缀时返回估算器
func (r *Registry) Lookup(model string) Counter {
	model = strings.ToLower(model)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.counters[model]; ok {
		return c
	}

	var (
		best    Counter
		bestLen int
	)
	for prefix, c := range r.counters {
		if len(prefix) > bestLen && strings.HasPrefix(model, prefix) {
			best, bestLen = c, len(prefix)
		}
	}
	if best == nil {
		return r.fallback
	}
	return best
}

// Count 统计 token 数，精确计数失败时退回估算，不返回错误
func (r *Registry) Count(model, text string) int {
	if text == "" {
		return 0
	}
	if n, err := r.Lookup(model).CountTokens(text); err == nil {
		return n
	}
	n, _ := r.fallback.CountTokens(text)
	return n
}
