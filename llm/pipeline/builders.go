package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/BaSui01/llmrelay/llm/router"
)

// BodyFunc 为候选生成请求体
type BodyFunc func(res *router.Resolution) ([]byte, error)

// StaticBody 所有候选共用同一个请求体
func StaticBody(data []byte) BodyFunc {
	return func(*router.Resolution) ([]byte, error) {
		return data, nil
	}
}

// WithModel 把 JSON 请求体的 "model" 字段替换为候选实际使用的模型名
// 输出按键名排序，相同输入得到相同字节（缓存键稳定）。
func WithModel(data []byte) BodyFunc {
	return func(res *router.Resolution) ([]byte, error) {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("request body is not a JSON object: %w", err)
		}
		model, err := json.Marshal(res.EffectiveModelName())
		if err != nil {
			return nil, err
		}
		fields["model"] = model
		return json.Marshal(fields)
	}
}

// JSONBuilder 以 BaseURL + path 构造 POST JSON 请求
func JSONBuilder(path string, body BodyFunc) RequestBuilder {
	return func(ctx context.Context, res *router.Resolution) (*http.Request, error) {
		data, err := body(res)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, JoinURL(res.Connection.BaseURL, path), bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}
}
