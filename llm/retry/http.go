package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/BaSui01/llmrelay/types"
)

// maxDiagnosticBody 诊断信息最多读取的响应体字节数
const maxDiagnosticBody = 64 << 10

// SendFunc 发出一次 HTTP 请求；每次尝试都会被重新调用，
// 需要可重复读取的请求体请在内部重建。
type SendFunc func(ctx context.Context) (*http.Response, error)

// RoundTrip 以传输层语义重试：可重试的状态码/错误会被重试，
// 但最终不把状态码转成错误，最后一次响应原样交给调用方。
func (e *Executor) RoundTrip(ctx context.Context, send SendFunc) (*http.Response, error) {
	var final *http.Response

	err := e.run(ctx, func(ctx context.Context, last bool) error {
		resp, err := send(ctx)
		if err != nil {
			return err
		}
		if !IsRetryableStatus(resp.StatusCode) || last {
			final = resp
			return nil
		}
		// 中间失败的响应读尽并关闭，释放连接
		statusErr := ResponseError(resp, "")
		return statusErr
	})
	if err != nil {
		return nil, err
	}
	return final, nil
}

// DoHTTP 发送请求，成功时交给 process 处理
// 非 2xx 响应会读取响应体转为 *types.Error；429/5xx 按策略重试，
// 其余状态立即返回，不消耗重试次数。
func DoHTTP[T any](ctx context.Context, e *Executor, send SendFunc, process func(*http.Response) (T, error)) (T, error) {
	return Do(ctx, e, func(ctx context.Context) (T, error) {
		var zero T

		resp, err := send(ctx)
		if err != nil {
			return zero, err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return zero, ResponseError(resp, "")
		}
		return process(resp)
	})
}

// ResponseError 读取响应体（用于诊断）并关闭，返回映射后的错误。
// 响应体读不出来时退回通用描述。
func ResponseError(resp *http.Response, provider string) *types.Error {
	defer resp.Body.Close()
	msg := ReadErrorMessage(io.LimitReader(resp.Body, maxDiagnosticBody))
	if msg == "" {
		msg = fmt.Sprintf("request failed with status %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return MapHTTPError(resp.StatusCode, msg, provider)
}

// MapHTTPError 将 HTTP 状态码映射为带有合适重试标记的错误
func MapHTTPError(status int, msg string, provider string) *types.Error {
	var code types.ErrorCode
	switch status {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		code = types.ErrInvalidRequest
	case http.StatusUnauthorized:
		code = types.ErrUnauthorized
	case http.StatusForbidden:
		code = types.ErrForbidden
	case http.StatusTooManyRequests:
		code = types.ErrRateLimited
	case http.StatusServiceUnavailable:
		code = types.ErrServiceUnavailable
	case http.StatusGatewayTimeout:
		code = types.ErrUpstreamTimeout
	case 529: // 部分厂商用于模型过载
		code = types.ErrModelOverloaded
	default:
		code = types.ErrUpstreamError
	}

	return types.NewError(code, msg).
		WithHTTPStatus(status).
		WithRetryable(IsRetryableStatus(status)).
		WithProvider(provider)
}

// ReadErrorMessage 读取响应体中的错误消息
// 尝试解析 JSON 错误响应，失败则回退到原始文本
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil {
		return ""
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}

	return strings.TrimSpace(string(data))
}
