package cache

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Record 缓存的一次成功响应
// 创建后不再修改，只会被同键的新记录整体替换。
type Record struct {
	StatusCode   int                 `json:"statusCode"`
	ReasonPhrase string              `json:"reasonPhrase"`
	Content      string              `json:"content"`
	ContentType  string              `json:"contentType"`
	Headers      map[string][]string `json:"headers"`
	CachedAt     time.Time           `json:"cachedAt"`
	ExpiresAt    time.Time           `json:"expiresAt"`
}

// Fresh now <= ExpiresAt 时记录有效
func (r *Record) Fresh(now time.Time) bool {
	return !now.After(r.ExpiresAt)
}

// Size 估算记录占用的字节数（用于内存预算）
func (r *Record) Size() int64 {
	n := len(r.Content) + len(r.ReasonPhrase) + len(r.ContentType)
	for k, vs := range r.Headers {
		n += len(k)
		for _, v := range vs {
			n += len(v)
		}
	}
	return int64(n)
}

// 逐跳头不落盘；Content-Length 落盘，回放时按 Content 重新计算
var skippedHeaders = map[string]bool{
	"Transfer-Encoding": true,
	"Connection":        true,
	"Keep-Alive":        true,
}

// newRecord 从上游响应与完整响应体构造记录
func newRecord(resp *http.Response, body []byte, now time.Time, ttl time.Duration) *Record {
	headers := make(map[string][]string, len(resp.Header))
	for k, vs := range resp.Header {
		if skippedHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		headers[k] = append([]string(nil), vs...)
	}

	return &Record{
		StatusCode:   resp.StatusCode,
		ReasonPhrase: reasonPhrase(resp),
		Content:      string(body),
		ContentType:  resp.Header.Get("Content-Type"),
		Headers:      headers,
		CachedAt:     now,
		ExpiresAt:    now.Add(ttl),
	}
}

// Response 把记录重建为 HTTP 响应，与直连网络得到的响应无法区分
func (r *Record) Response(req *http.Request) *http.Response {
	header := make(http.Header, len(r.Headers)+1)
	for k, vs := range r.Headers {
		header[k] = append([]string(nil), vs...)
	}
	if r.ContentType != "" {
		header.Set("Content-Type", r.ContentType)
	}
	if _, ok := header["Content-Length"]; ok {
		header.Set("Content-Length", strconv.Itoa(len(r.Content)))
	}

	status := strconv.Itoa(r.StatusCode)
	if r.ReasonPhrase != "" {
		status += " " + r.ReasonPhrase
	}

	return &http.Response{
		Status:        status,
		StatusCode:    r.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(r.Content)),
		ContentLength: int64(len(r.Content)),
		Request:       req,
	}
}

func reasonPhrase(resp *http.Response) string {
	if resp.Status != "" {
		prefix := fmt.Sprintf("%d ", resp.StatusCode)
		if strings.HasPrefix(resp.Status, prefix) {
			return strings.TrimPrefix(resp.Status, prefix)
		}
	}
	return http.StatusText(resp.StatusCode)
}
