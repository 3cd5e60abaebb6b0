package cache

import (
	"context"
	"hash/fnv"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/llmrelay/llm/retry"
	"github.com/BaSui01/llmrelay/types"
)

// 缓存事件，用于统计与指标
const (
	EventHit        = "hit"
	EventMiss       = "miss"
	EventBypass     = "bypass"
	EventWrite      = "write"
	EventWriteError = "write_error"
)

// storeWriteTimeout 后台写入的上限，避免存储卡死时 goroutine 无限挂起
const storeWriteTimeout = 30 * time.Second

// Options 缓存行为配置
type Options struct {
	EnableCaching bool
	Expiration    time.Duration // 记录有效期，默认 24h
	FlushTimeout  time.Duration // 关闭响应体时等待写入的上限，默认 5s
	PerKeyLocks   bool          // 按键分片加锁代替全局写信号量
	SkipPartial   bool          // 未读到 EOF 就被关闭的响应体不写入

	Retry   *retry.Executor    // 未命中时转发所用的重试执行器，nil 表示直接转发
	Now     func() time.Time   // 时钟，测试用
	OnEvent func(event string) // 缓存事件回调（指标）
}

// DefaultOptions 默认配置
func DefaultOptions() Options {
	return Options{
		EnableCaching: true,
		Expiration:    24 * time.Hour,
		FlushTimeout:  5 * time.Second,
	}
}

// Stats 缓存统计
type Stats struct {
	Hits          uint64
	Misses        uint64
	Bypasses      uint64
	Writes        uint64
	WriteFailures uint64
}

// Transport 带缓存的 http.RoundTripper
type Transport struct {
	inner  http.RoundTripper
	store  Store
	opts   Options
	logger *zap.Logger

	writeSem *semaphore.Weighted
	keyLocks *keyLocks

	mu      sync.RWMutex
	closed  bool
	pending sync.WaitGroup

	hits, misses, bypasses, writes, writeFailures atomic.Uint64
}

// NewTransport 创建缓存传输层
// inner 为 nil 时使用 http.DefaultTransport；store 为 nil 时所有请求直接转发。
func NewTransport(inner http.RoundTripper, store Store, opts Options, logger *zap.Logger) *Transport {
	if inner == nil {
		inner = http.DefaultTransport
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Expiration <= 0 {
		opts.Expiration = 24 * time.Hour
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	t := &Transport{
		inner:  inner,
		store:  store,
		opts:   opts,
		logger: logger.With(zap.String("component", "response_cache")),
	}
	if opts.PerKeyLocks {
		t.keyLocks = newKeyLocks(64)
	} else {
		t.writeSem = semaphore.NewWeighted(1)
	}
	return t
}

// RoundTrip 实现 http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.isClosed() {
		return nil, types.NewDisposedError("cache transport")
	}

	if !t.opts.EnableCaching || req.Method != http.MethodPost || t.store == nil {
		t.event(EventBypass)
		return t.forward(req)
	}

	ctx := req.Context()
	key, fwd, err := requestKey(req)
	if err != nil {
		t.logger.Warn("cache key derivation failed, forwarding directly", zap.Error(err))
		return t.inner.RoundTrip(fwd)
	}

	rec, found, err := t.store.Get(ctx, key)
	switch {
	case err != nil:
		t.logger.Warn("cache lookup failed, treating as miss", zap.String("key", key), zap.Error(err))
	case found && rec != nil && rec.Fresh(t.opts.Now()):
		t.event(EventHit)
		t.logger.Debug("cache hit", zap.String("key", key))
		return rec.Response(req), nil
	case found:
		t.logger.Debug("cache entry expired", zap.String("key", key))
	}
	t.event(EventMiss)

	resp, err := t.forward(fwd)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 || resp.Body == nil {
		return resp, nil
	}

	snapshot := &http.Response{StatusCode: resp.StatusCode, Status: resp.Status, Header: resp.Header.Clone()}
	resp.Body = newTeeBody(resp.Body, t.opts.FlushTimeout, func(data []byte, complete bool) {
		if !complete && t.opts.SkipPartial {
			t.logger.Debug("response body closed before EOF, not cached", zap.String("key", key))
			return
		}
		t.write(key, newRecord(snapshot, data, t.opts.Now(), t.opts.Expiration))
	})
	return resp, nil
}

// forward 经重试执行器发送；每次尝试使用独立的请求副本
func (t *Transport) forward(req *http.Request) (*http.Response, error) {
	if t.opts.Retry == nil {
		return t.inner.RoundTrip(req)
	}

	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		buffered, _, err := bufferBody(req)
		if err != nil {
			return t.inner.RoundTrip(buffered)
		}
		req = buffered
	}

	first := true
	return t.opts.Retry.RoundTrip(req.Context(), func(ctx context.Context) (*http.Response, error) {
		attempt := req.Clone(ctx)
		if !first && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			attempt.Body = body
		}
		first = false
		return t.inner.RoundTrip(attempt)
	})
}

// write 在后台串行写入存储；关闭后不再写入
func (t *Transport) write(key string, rec *Record) {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return
	}
	t.pending.Add(1)
	t.mu.RUnlock()
	defer t.pending.Done()

	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancel()

	unlock, err := t.lock(ctx, key)
	if err != nil {
		t.fail(key, err)
		return
	}
	defer unlock()

	if err := t.store.Set(ctx, key, rec); err != nil {
		t.fail(key, err)
		return
	}
	t.event(EventWrite)
	t.logger.Debug("response cached",
		zap.String("key", key),
		zap.Int("bytes", len(rec.Content)),
		zap.Time("expires_at", rec.ExpiresAt))
}

func (t *Transport) fail(key string, err error) {
	t.event(EventWriteError)
	t.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
}

func (t *Transport) lock(ctx context.Context, key string) (func(), error) {
	if t.keyLocks != nil {
		m := t.keyLocks.get(key)
		m.Lock()
		return m.Unlock, nil
	}
	if err := t.writeSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { t.writeSem.Release(1) }, nil
}

func (t *Transport) event(name string) {
	switch name {
	case EventHit:
		t.hits.Add(1)
	case EventMiss:
		t.misses.Add(1)
	case EventBypass:
		t.bypasses.Add(1)
	case EventWrite:
		t.writes.Add(1)
	case EventWriteError:
		t.writeFailures.Add(1)
	}
	if t.opts.OnEvent != nil {
		t.opts.OnEvent(name)
	}
}

// Stats 返回统计快照
func (t *Transport) Stats() Stats {
	return Stats{
		Hits:          t.hits.Load(),
		Misses:        t.misses.Load(),
		Bypasses:      t.bypasses.Load(),
		Writes:        t.writes.Load(),
		WriteFailures: t.writeFailures.Load(),
	}
}

// Flush 等待进行中的写入，最多等待 timeout；全部完成返回 true
func (t *Transport) Flush(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		t.pending.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// Close 停止接收请求并等待进行中的写入（最多 FlushTimeout）
// 不关闭存储，存储的生命周期由创建方管理。重复调用无副作用。
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	if !t.Flush(t.opts.FlushTimeout) {
		t.logger.Warn("pending cache writes did not finish before close",
			zap.Duration("flush_timeout", t.opts.FlushTimeout))
	}
	if ci, ok := t.inner.(interface{ CloseIdleConnections() }); ok {
		ci.CloseIdleConnections()
	}
	return nil
}

func (t *Transport) isClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}

// keyLocks 按键哈希分片的互斥锁
type keyLocks struct {
	shards []sync.Mutex
}

func newKeyLocks(n int) *keyLocks {
	return &keyLocks{shards: make([]sync.Mutex, n)}
}

func (k *keyLocks) get(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = io.WriteString(h, key)
	return &k.shards[h.Sum32()%uint32(len(k.shards))]
}
