// MockTransport 的上游 HTTP 测试模拟实现。
//
// 记录每次请求（含请求体），按脚本依次返回响应或错误。
package mocks

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"sync"
)

// --- MockTransport 结构 ---

// MockStep 一次调用的脚本
type MockStep struct {
	Status  int
	Body    string
	Headers map[string]string
	Err     error
}

// MockCall 记录单次调用
type MockCall struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// MockTransport 是 http.RoundTripper 的模拟实现
// 脚本用完后重复最后一步。
type MockTransport struct {
	mu    sync.Mutex
	steps []MockStep
	calls []MockCall

	// 自定义处理函数，优先于脚本
	handler func(req *http.Request) (*http.Response, error)
}

// --- 构造函数和 Builder 方法 ---

// NewMockTransport 创建默认返回 200 空响应的 MockTransport
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// WithBody 追加一步：返回指定状态码与响应体
func (m *MockTransport) WithBody(status int, body string) *MockTransport {
	return m.WithStep(MockStep{Status: status, Body: body})
}

// WithError 追加一步：返回传输层错误
func (m *MockTransport) WithError(err error) *MockTransport {
	return m.WithStep(MockStep{Err: err})
}

// WithStep 追加一步
func (m *MockTransport) WithStep(step MockStep) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, step)
	return m
}

// WithHandler 设置自定义处理函数
func (m *MockTransport) WithHandler(fn func(req *http.Request) (*http.Response, error)) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = fn
	return m
}

// --- http.RoundTripper 实现 ---

// RoundTrip 记录请求并按脚本返回
func (m *MockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		_ = req.Body.Close()
	}

	m.mu.Lock()
	idx := len(m.calls)
	m.calls = append(m.calls, MockCall{
		Method: req.Method,
		URL:    req.URL.String(),
		Header: req.Header.Clone(),
		Body:   body,
	})
	handler := m.handler
	var step MockStep
	switch {
	case len(m.steps) == 0:
		step = MockStep{Status: http.StatusOK}
	case idx < len(m.steps):
		step = m.steps[idx]
	default:
		step = m.steps[len(m.steps)-1]
	}
	m.mu.Unlock()

	if handler != nil {
		req.Body = io.NopCloser(bytes.NewReader(body))
		return handler(req)
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return NewResponse(req, step.Status, step.Body, step.Headers), nil
}

// NewResponse 构造一个响应
func NewResponse(req *http.Request, status int, body string, headers map[string]string) *http.Response {
	h := make(http.Header)
	for k, v := range headers {
		h.Set(k, v)
	}
	return &http.Response{
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewBufferString(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

// --- 查询方法 ---

// RequestCount 返回调用次数
func (m *MockTransport) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Calls 返回所有调用记录
func (m *MockTransport) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// LastCall 返回最后一次调用
func (m *MockTransport) LastCall() (MockCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return MockCall{}, false
	}
	return m.calls[len(m.calls)-1], true
}

// Reset 清空调用记录
func (m *MockTransport) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
