package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryLimits 内存存储的软预算，0 表示不限
type MemoryLimits struct {
	MaxItems int
	MaxBytes int64
}

// MemoryStore 进程内存储
// 双向链表按写入时间排列，超出预算时从最旧的一端淘汰，所有操作 O(1)。
type MemoryStore struct {
	mu     sync.RWMutex
	limits MemoryLimits
	items  map[string]*memNode
	head   *memNode // 最新写入
	tail   *memNode // 最旧写入
	bytes  int64
}

type memNode struct {
	key  string
	rec  *Record
	size int64
	prev *memNode
	next *memNode
}

// NewMemoryStore 创建内存存储
func NewMemoryStore(limits MemoryLimits) *MemoryStore {
	return &MemoryStore{
		limits: limits,
		items:  make(map[string]*memNode),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.items[key]
	if !ok {
		return nil, false, nil
	}
	return node.rec, true, nil
}

// Set 写入或整体替换记录，随后按预算淘汰最旧的记录
func (s *MemoryStore) Set(_ context.Context, key string, rec *Record) error {
	size := rec.Size()
	if s.limits.MaxBytes > 0 && size > s.limits.MaxBytes {
		return ErrRecordTooLarge
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if node, ok := s.items[key]; ok {
		s.unlink(node)
		delete(s.items, key)
		s.bytes -= node.size
	}

	node := &memNode{key: key, rec: rec, size: size}
	s.items[key] = node
	s.pushFront(node)
	s.bytes += size

	for s.tail != nil && s.tail != node && s.overBudget() {
		s.evict(s.tail)
	}
	return nil
}

// Keys 按写入时间从旧到新返回所有键
func (s *MemoryStore) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.items))
	for n := s.tail; n != nil; n = n.prev {
		keys = append(keys, n.key)
	}
	return keys, nil
}

// Prune 删除已过期的记录
func (s *MemoryStore) Prune(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for n := s.tail; n != nil; {
		prev := n.prev
		if !n.rec.Fresh(now) {
			s.evict(n)
			removed++
		}
		n = prev
	}
	return removed, nil
}

// Len 当前记录数
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Bytes 当前估算占用字节数
func (s *MemoryStore) Bytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bytes
}

func (s *MemoryStore) overBudget() bool {
	if s.limits.MaxItems > 0 && len(s.items) > s.limits.MaxItems {
		return true
	}
	return s.limits.MaxBytes > 0 && s.bytes > s.limits.MaxBytes
}

func (s *MemoryStore) evict(n *memNode) {
	s.unlink(n)
	delete(s.items, n.key)
	s.bytes -= n.size
}

func (s *MemoryStore) pushFront(n *memNode) {
	n.prev = nil
	n.next = s.head
	if s.head != nil {
		s.head.prev = n
	}
	s.head = n
	if s.tail == nil {
		s.tail = n
	}
}

func (s *MemoryStore) unlink(n *memNode) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		s.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		s.tail = n.prev
	}
	n.prev, n.next = nil, nil
}
