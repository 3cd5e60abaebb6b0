package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"regexp"
	"strings"
	"syscall"

	"github.com/BaSui01/llmrelay/types"
)

// IsRetryableStatus 429 与所有 5xx 可重试
func IsRetryableStatus(code int) bool {
	return code == 429 || (code >= 500 && code <= 599)
}

// embeddedServerStatus 匹配错误文本中携带的 5xx 状态码，例如 "status code: 503"
var embeddedServerStatus = regexp.MustCompile(`(?i)(status|code|http)[^0-9a-z]{0,8}5\d\d\b`)

// transientFragments 传输层瞬时故障的典型文本
var transientFragments = []string{
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"broken pipe",
	"unexpected eof",
	"server closed idle connection",
	"prematurely",
	"response ended",
}

// IsRetryableError 对传输层错误分类
// 调用方主动取消的 context 不重试；超时、连接重置、提前断开、
// 文本里带 5xx 状态码的错误视为瞬时故障。
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var re *RetryableError
	if errors.As(err, &re) {
		return true
	}
	if e, ok := types.AsError(err); ok {
		return e.Retryable
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, f := range transientFragments {
		if strings.Contains(msg, f) {
			return true
		}
	}
	return embeddedServerStatus.MatchString(msg)
}
