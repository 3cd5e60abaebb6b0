// =============================================================================
// 💾 MockStore - 缓存存储模拟实现
// =============================================================================
// 包装内存存储，记录调用次数并支持错误注入与写入阻塞
//
// 使用方法:
//
//	store := mocks.NewMockStore().WithGetError(errors.New("boom"))
//	transport := cache.NewTransport(upstream, store, opts, logger)
//	assert.Equal(t, 0, store.SetCalls())
// =============================================================================
package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/llmrelay/llm/cache"
)

// MockStore 是 cache.Store 的模拟实现
type MockStore struct {
	mu    sync.Mutex
	inner *cache.MemoryStore

	// 错误注入
	getErr  error
	setErr  error
	keysErr error

	// 写入前阻塞，直到通道关闭
	setGate chan struct{}

	// 调用记录
	getCalls  int
	setCalls  int
	keysCalls int

	// 并发 Set 统计
	setsInFlight    int
	maxSetsInFlight int
}

// NewMockStore 创建不限容量的 MockStore
func NewMockStore() *MockStore {
	return &MockStore{inner: cache.NewMemoryStore(cache.MemoryLimits{})}
}

// WithGetError 设置 Get 返回的错误
func (m *MockStore) WithGetError(err error) *MockStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getErr = err
	return m
}

// WithSetError 设置 Set 返回的错误
func (m *MockStore) WithSetError(err error) *MockStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setErr = err
	return m
}

// WithKeysError 设置 Keys 返回的错误
func (m *MockStore) WithKeysError(err error) *MockStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keysErr = err
	return m
}

// WithSetGate 让 Set 阻塞到 gate 关闭（或 ctx 结束）
func (m *MockStore) WithSetGate(gate chan struct{}) *MockStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setGate = gate
	return m
}

// =============================================================================
// 🎯 cache.Store 实现
// =============================================================================

func (m *MockStore) Get(ctx context.Context, key string) (*cache.Record, bool, error) {
	m.mu.Lock()
	m.getCalls++
	err := m.getErr
	m.mu.Unlock()

	if err != nil {
		return nil, false, err
	}
	return m.inner.Get(ctx, key)
}

func (m *MockStore) Set(ctx context.Context, key string, rec *cache.Record) error {
	m.mu.Lock()
	m.setCalls++
	m.setsInFlight++
	if m.setsInFlight > m.maxSetsInFlight {
		m.maxSetsInFlight = m.setsInFlight
	}
	err := m.setErr
	gate := m.setGate
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.setsInFlight--
		m.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	return m.inner.Set(ctx, key, rec)
}

func (m *MockStore) Keys(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	m.keysCalls++
	err := m.keysErr
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return m.inner.Keys(ctx)
}

// =============================================================================
// 📊 查询方法
// =============================================================================

// GetCalls 返回 Get 调用次数
func (m *MockStore) GetCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getCalls
}

// SetCalls 返回 Set 调用次数
func (m *MockStore) SetCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setCalls
}

// SetsInFlight 返回正在执行的 Set 数量
func (m *MockStore) SetsInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setsInFlight
}

// MaxSetsInFlight 返回观察到的最大并发 Set 数量
func (m *MockStore) MaxSetsInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxSetsInFlight
}

// TotalCalls 返回所有操作的调用次数
func (m *MockStore) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getCalls + m.setCalls + m.keysCalls
}

// Len 返回已存储的记录数
func (m *MockStore) Len() int {
	return m.inner.Len()
}

// Put 直接写入底层存储，不计入调用次数
func (m *MockStore) Put(key string, rec *cache.Record) {
	_ = m.inner.Set(context.Background(), key, rec)
}
