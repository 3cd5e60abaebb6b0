package cache_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/llmrelay/llm/cache"
	"github.com/BaSui01/llmrelay/llm/retry"
	"github.com/BaSui01/llmrelay/testutil"
	"github.com/BaSui01/llmrelay/testutil/fixtures"
	"github.com/BaSui01/llmrelay/testutil/mocks"
	"github.com/BaSui01/llmrelay/types"
)

func newMessagesRequest(t *testing.T, method string) *http.Request {
	t.Helper()
	var body io.Reader
	if method == http.MethodPost {
		body = strings.NewReader(fixtures.MessagesRequest)
	}
	req, err := http.NewRequestWithContext(testutil.TestContext(t), method, fixtures.MessagesURL, body)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer sk-ant-test")
	req.Header.Set("Content-Type", "application/json")
	return req
}

func sseUpstream() *mocks.MockTransport {
	return mocks.NewMockTransport().WithStep(mocks.MockStep{
		Status:  http.StatusOK,
		Body:    fixtures.MessagesSSE,
		Headers: map[string]string{"Content-Type": "text/event-stream", "Request-Id": "req_01"},
	})
}

func newClient(t *testing.T, upstream http.RoundTripper, store cache.Store, opts cache.Options) (*http.Client, *cache.Transport) {
	t.Helper()
	tr := cache.NewTransport(upstream, store, opts, zap.NewNop())
	t.Cleanup(func() { _ = tr.Close() })
	return &http.Client{Transport: tr}, tr
}

func TestTransport_StreamedResponseIsReplayedFromCache(t *testing.T) {
	upstream := sseUpstream()
	store := mocks.NewMockStore()
	client, tr := newClient(t, upstream, store, cache.DefaultOptions())

	first, err := client.Do(newMessagesRequest(t, http.MethodPost))
	require.NoError(t, err)
	firstBody := testutil.ReadAllString(t, first)

	second, err := client.Do(newMessagesRequest(t, http.MethodPost))
	require.NoError(t, err)
	secondBody := testutil.ReadAllString(t, second)

	assert.Equal(t, 1, upstream.RequestCount(), "第二次请求不应访问网络")
	assert.Equal(t, fixtures.MessagesSSE, firstBody)
	assert.Equal(t, firstBody, secondBody, "回放内容逐字节一致")
	assert.Equal(t, http.StatusOK, second.StatusCode)
	assert.Equal(t, "200 OK", second.Status)
	assert.Equal(t, "text/event-stream", second.Header.Get("Content-Type"))
	assert.Equal(t, "req_01", second.Header.Get("Request-Id"))
	assert.Equal(t, int64(len(fixtures.MessagesSSE)), second.ContentLength)

	stats := tr.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(1), stats.Writes)

	call, ok := upstream.LastCall()
	require.True(t, ok)
	assert.JSONEq(t, fixtures.MessagesRequest, string(call.Body), "转发的请求体完整")
}

func TestTransport_ReplayedHeadersMatchLiveResponse(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Request-Id", "req_live")
		_, _ = io.WriteString(w, `{"text":"ok"}`)
	}))
	defer srv.Close()

	client, _ := newClient(t, srv.Client().Transport, mocks.NewMockStore(), cache.DefaultOptions())
	send := func() (*http.Response, string) {
		req, err := http.NewRequestWithContext(testutil.TestContext(t), http.MethodPost, srv.URL+"/v1/messages", strings.NewReader(fixtures.MessagesRequest))
		require.NoError(t, err)
		resp, err := client.Do(req)
		require.NoError(t, err)
		return resp, testutil.ReadAllString(t, resp)
	}

	live, liveBody := send()
	replay, replayBody := send()

	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, "13", live.Header.Get("Content-Length"))
	assert.Equal(t, live.Header, replay.Header, "回放的响应头与直连一致")
	assert.Equal(t, live.Status, replay.Status)
	assert.Equal(t, liveBody, replayBody)
}

func TestTransport_ExpiredEntryCausesExactlyOneFreshCall(t *testing.T) {
	upstream := sseUpstream()
	store := mocks.NewMockStore()
	clock := testutil.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	opts := cache.DefaultOptions()
	opts.Expiration = time.Hour
	opts.Now = clock.Now
	client, _ := newClient(t, upstream, store, opts)

	do := func() string {
		resp, err := client.Do(newMessagesRequest(t, http.MethodPost))
		require.NoError(t, err)
		return testutil.ReadAllString(t, resp)
	}

	do()
	clock.Advance(time.Hour)
	do() // now == expiresAt 仍然有效
	assert.Equal(t, 1, upstream.RequestCount())

	clock.Advance(time.Second)
	do()
	assert.Equal(t, 2, upstream.RequestCount(), "过期后恰好一次新的网络请求")
	assert.Equal(t, 1, store.Len(), "过期记录被新记录覆盖而不是删除")

	do()
	assert.Equal(t, 2, upstream.RequestCount(), "刷新后的记录再次命中")
}

func TestTransport_NonPostBypassesStore(t *testing.T) {
	upstream := mocks.NewMockTransport().WithBody(http.StatusOK, `{"data":[]}`)
	store := mocks.NewMockStore()
	client, tr := newClient(t, upstream, store, cache.DefaultOptions())

	for i := 0; i < 3; i++ {
		resp, err := client.Do(newMessagesRequest(t, http.MethodGet))
		require.NoError(t, err)
		testutil.ReadAllString(t, resp)
	}

	assert.Equal(t, 3, upstream.RequestCount())
	assert.Equal(t, 0, store.TotalCalls(), "非 POST 请求完全不触碰存储")
	assert.Equal(t, uint64(3), tr.Stats().Bypasses)
}

func TestTransport_DisabledCachingBypassesStore(t *testing.T) {
	upstream := sseUpstream()
	store := mocks.NewMockStore()
	opts := cache.DefaultOptions()
	opts.EnableCaching = false
	client, _ := newClient(t, upstream, store, opts)

	for i := 0; i < 2; i++ {
		resp, err := client.Do(newMessagesRequest(t, http.MethodPost))
		require.NoError(t, err)
		testutil.ReadAllString(t, resp)
	}

	assert.Equal(t, 2, upstream.RequestCount())
	assert.Equal(t, 0, store.TotalCalls())
}

func TestTransport_NonSuccessResponsesAreNotCached(t *testing.T) {
	upstream := mocks.NewMockTransport().WithBody(http.StatusBadRequest, `{"error":{"message":"bad"}}`)
	store := mocks.NewMockStore()
	client, _ := newClient(t, upstream, store, cache.DefaultOptions())

	for i := 0; i < 2; i++ {
		resp, err := client.Do(newMessagesRequest(t, http.MethodPost))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		testutil.ReadAllString(t, resp)
	}

	assert.Equal(t, 2, upstream.RequestCount())
	assert.Equal(t, 0, store.SetCalls())
}

func TestTransport_LookupFailureFallsBackToNetwork(t *testing.T) {
	upstream := sseUpstream()
	store := mocks.NewMockStore().WithGetError(errors.New("store offline"))
	client, _ := newClient(t, upstream, store, cache.DefaultOptions())

	resp, err := client.Do(newMessagesRequest(t, http.MethodPost))
	require.NoError(t, err)
	assert.Equal(t, fixtures.MessagesSSE, testutil.ReadAllString(t, resp))
	assert.Equal(t, 1, upstream.RequestCount())
}

func TestTransport_WriteFailureIsInvisibleToCaller(t *testing.T) {
	upstream := sseUpstream()
	store := mocks.NewMockStore().WithSetError(errors.New("disk full"))
	client, tr := newClient(t, upstream, store, cache.DefaultOptions())

	resp, err := client.Do(newMessagesRequest(t, http.MethodPost))
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NoError(t, resp.Body.Close(), "缓存错误不会从 Close 返回")
	assert.Equal(t, fixtures.MessagesSSE, string(data))

	assert.Equal(t, uint64(1), tr.Stats().WriteFailures)
	assert.Equal(t, 0, store.Len())
}

func TestTransport_CloseWaitsAtMostFlushTimeout(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)

	upstream := sseUpstream()
	store := mocks.NewMockStore().WithSetGate(gate)
	opts := cache.DefaultOptions()
	opts.FlushTimeout = 50 * time.Millisecond
	client, _ := newClient(t, upstream, store, opts)

	resp, err := client.Do(newMessagesRequest(t, http.MethodPost))
	require.NoError(t, err)
	_, err = io.ReadAll(resp.Body)
	require.NoError(t, err)

	start := time.Now()
	assert.NoError(t, resp.Body.Close())
	assert.Less(t, time.Since(start), time.Second, "写入卡住时 Close 也不会无限阻塞")
}

func TestTransport_PartialBodyWrittenUnlessSkipped(t *testing.T) {
	for _, skip := range []bool{false, true} {
		upstream := sseUpstream()
		store := mocks.NewMockStore()
		opts := cache.DefaultOptions()
		opts.SkipPartial = skip
		client, _ := newClient(t, upstream, store, opts)

		resp, err := client.Do(newMessagesRequest(t, http.MethodPost))
		require.NoError(t, err)
		buf := make([]byte, 10)
		_, err = io.ReadFull(resp.Body, buf)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())

		if skip {
			assert.Equal(t, 0, store.SetCalls())
			continue
		}
		require.Equal(t, 1, store.Len())
		keys, _ := store.Keys(context.Background())
		rec, _, _ := store.Get(context.Background(), keys[0])
		assert.Equal(t, fixtures.MessagesSSE[:10], rec.Content)
	}
}

func TestTransport_RetriesTransientFailuresOnMiss(t *testing.T) {
	upstream := mocks.NewMockTransport().
		WithBody(http.StatusServiceUnavailable, "overloaded").
		WithBody(http.StatusBadGateway, "bad gateway").
		WithBody(http.StatusOK, fixtures.ChatCompletionJSON)
	store := mocks.NewMockStore()

	opts := cache.DefaultOptions()
	opts.Retry = retry.NewExecutor(&retry.RetryPolicy{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}, zap.NewNop())
	client, _ := newClient(t, upstream, store, opts)

	resp, err := client.Do(newMessagesRequest(t, http.MethodPost))
	require.NoError(t, err)
	assert.Equal(t, fixtures.ChatCompletionJSON, testutil.ReadAllString(t, resp))
	assert.Equal(t, 3, upstream.RequestCount())

	for _, call := range upstream.Calls() {
		assert.JSONEq(t, fixtures.MessagesRequest, string(call.Body), "每次重试都发送完整请求体")
	}

	resp, err = client.Do(newMessagesRequest(t, http.MethodPost))
	require.NoError(t, err)
	testutil.ReadAllString(t, resp)
	assert.Equal(t, 3, upstream.RequestCount(), "成功响应已缓存")
}

func TestTransport_AuthSchemeIsPartOfKey(t *testing.T) {
	upstream := sseUpstream()
	store := mocks.NewMockStore()
	client, _ := newClient(t, upstream, store, cache.DefaultOptions())

	send := func(auth string) {
		req := newMessagesRequest(t, http.MethodPost)
		req.Header.Set("Authorization", auth)
		resp, err := client.Do(req)
		require.NoError(t, err)
		testutil.ReadAllString(t, resp)
	}

	send("Bearer key-one")
	send("Bearer key-two")
	assert.Equal(t, 1, upstream.RequestCount(), "只有认证方案参与键计算")

	send("Basic dXNlcjpwYXNz")
	assert.Equal(t, 2, upstream.RequestCount())
}

func TestTransport_ConcurrentIdenticalRequestsAreNotCoalesced(t *testing.T) {
	const n = 5
	gate := make(chan struct{})

	upstream := sseUpstream()
	store := mocks.NewMockStore().WithSetGate(gate)
	opts := cache.DefaultOptions()
	opts.FlushTimeout = 10 * time.Millisecond
	client, tr := newClient(t, upstream, store, opts)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := client.Do(newMessagesRequest(t, http.MethodPost))
			if assert.NoError(t, err) {
				_, _ = io.ReadAll(resp.Body)
				_ = resp.Body.Close()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, n, upstream.RequestCount())

	close(gate)
	testutil.AssertEventuallyTrue(t, func() bool { return tr.Stats().Writes == n }, 2*time.Second)
	assert.Equal(t, n, store.SetCalls())
	assert.Equal(t, 1, store.Len())
}

// distinctRequests 并发发送 n 个请求体互不相同的 POST，读完后返回
func distinctRequests(t *testing.T, client *http.Client, n int) {
	t.Helper()
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := testutil.MustJSON(map[string]any{"model": "claude-3-5-sonnet", "stream": true, "seq": i})
			req, err := http.NewRequestWithContext(testutil.TestContext(t), http.MethodPost, fixtures.MessagesURL, strings.NewReader(body))
			if !assert.NoError(t, err) {
				return
			}
			resp, err := client.Do(req)
			if assert.NoError(t, err) {
				_, _ = io.ReadAll(resp.Body)
				_ = resp.Body.Close()
			}
		}(i)
	}
	wg.Wait()
}

func TestTransport_WritesAcrossKeysAreSequential(t *testing.T) {
	const n = 5
	gate := make(chan struct{})

	upstream := sseUpstream()
	store := mocks.NewMockStore().WithSetGate(gate)
	opts := cache.DefaultOptions()
	opts.FlushTimeout = 10 * time.Millisecond
	client, tr := newClient(t, upstream, store, opts)

	distinctRequests(t, client, n)
	assert.Equal(t, n, upstream.RequestCount())

	testutil.AssertEventuallyTrue(t, func() bool { return store.SetCalls() >= 1 }, 2*time.Second)
	// 第一个写入阻塞期间，其余写入只能排队等待信号量
	assert.False(t, testutil.WaitFor(func() bool { return store.SetCalls() > 1 }, 100*time.Millisecond))
	assert.Equal(t, 1, store.SetsInFlight())

	close(gate)
	testutil.AssertEventuallyTrue(t, func() bool { return tr.Stats().Writes == n }, 2*time.Second)
	assert.Equal(t, 1, store.MaxSetsInFlight(), "不同键的写入也严格串行")
	assert.Equal(t, n, store.Len())
}

func TestTransport_PerKeyLocksAllowConcurrentWritesAcrossKeys(t *testing.T) {
	const n = 5
	gate := make(chan struct{})

	upstream := sseUpstream()
	store := mocks.NewMockStore().WithSetGate(gate)
	opts := cache.DefaultOptions()
	opts.FlushTimeout = 10 * time.Millisecond
	opts.PerKeyLocks = true
	client, tr := newClient(t, upstream, store, opts)

	distinctRequests(t, client, n)

	testutil.AssertEventuallyTrue(t, func() bool { return store.SetsInFlight() > 1 }, 2*time.Second)
	close(gate)
	testutil.AssertEventuallyTrue(t, func() bool { return tr.Stats().Writes == n }, 2*time.Second)
	assert.Greater(t, store.MaxSetsInFlight(), 1)
	assert.Equal(t, n, store.Len())
}

func TestTransport_PerKeyLocks(t *testing.T) {
	upstream := sseUpstream()
	store := mocks.NewMockStore()
	opts := cache.DefaultOptions()
	opts.PerKeyLocks = true
	client, _ := newClient(t, upstream, store, opts)

	for i := 0; i < 2; i++ {
		resp, err := client.Do(newMessagesRequest(t, http.MethodPost))
		require.NoError(t, err)
		testutil.ReadAllString(t, resp)
	}
	assert.Equal(t, 1, upstream.RequestCount())
}

func TestTransport_ClosedTransportReturnsDisposed(t *testing.T) {
	upstream := sseUpstream()
	client, tr := newClient(t, upstream, mocks.NewMockStore(), cache.DefaultOptions())

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close(), "重复关闭无副作用")

	_, err := client.Do(newMessagesRequest(t, http.MethodPost))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrDisposed)
	assert.Equal(t, 0, upstream.RequestCount())
}

func TestTransport_OnEventHook(t *testing.T) {
	var mu sync.Mutex
	var events []string

	opts := cache.DefaultOptions()
	opts.OnEvent = func(e string) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}
	client, _ := newClient(t, sseUpstream(), mocks.NewMockStore(), opts)

	for i := 0; i < 2; i++ {
		resp, err := client.Do(newMessagesRequest(t, http.MethodPost))
		require.NoError(t, err)
		testutil.ReadAllString(t, resp)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{cache.EventMiss, cache.EventWrite, cache.EventHit}, events)
}
