package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DeriveKey 缓存键：hex(SHA256(url + body + "auth:" + scheme))
// 只包含认证方案，不包含凭证本身。
func DeriveKey(url string, body []byte, authScheme string) string {
	h := sha256.New()
	h.Write([]byte(url))
	h.Write(body)
	h.Write([]byte("auth:"))
	h.Write([]byte(authScheme))
	return hex.EncodeToString(h.Sum(nil))
}

// authScheme 取 Authorization 头的方案部分，例如 "Bearer"
func authScheme(req *http.Request) string {
	v := strings.TrimSpace(req.Header.Get("Authorization"))
	if v == "" {
		return ""
	}
	if i := strings.IndexByte(v, ' '); i > 0 {
		return v[:i]
	}
	return v
}

// bufferBody 读出请求体并返回可重复发送的请求副本
// 原请求不被修改；读取失败时副本的请求体由已读部分与剩余部分拼接，仍可转发一次。
func bufferBody(req *http.Request) (*http.Request, []byte, error) {
	out := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		out.Body = http.NoBody
		out.GetBody = func() (io.ReadCloser, error) { return http.NoBody, nil }
		return out, nil, nil
	}

	data, err := io.ReadAll(req.Body)
	if err != nil {
		out.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(data), req.Body), req.Body}
		out.GetBody = nil
		return out, nil, fmt.Errorf("read request body: %w", err)
	}
	_ = req.Body.Close()

	out.Body = io.NopCloser(bytes.NewReader(data))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	out.ContentLength = int64(len(data))
	return out, data, nil
}

// requestKey 计算请求的缓存键，返回可转发的请求副本
func requestKey(req *http.Request) (string, *http.Request, error) {
	out, body, err := bufferBody(req)
	if err != nil {
		return "", out, err
	}
	return DeriveKey(req.URL.String(), body, authScheme(req)), out, nil
}
