package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// openAIEncodings 模型名前缀 → tiktoken 编码
var openAIEncodings = map[string]string{
	"gpt-4o":         "o200k_base",
	"gpt-4.1":        "o200k_base",
	"o1":             "o200k_base",
	"o3":             "o200k_base",
	"gpt-4":          "cl100k_base",
	"gpt-3.5-turbo":  "cl100k_base",
	"text-embedding": "cl100k_base",
}

// Tiktoken 使用 tiktoken 编码精确计数
// 编码表在第一次使用时加载（可能需要下载），加载失败的错误会被缓存。
type Tiktoken struct {
	encoding string

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// NewTiktoken 创建指定编码的计数器
func NewTiktoken(encoding string) *Tiktoken {
	return &Tiktoken{encoding: encoding}
}

func (t *Tiktoken) load() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("load tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *Tiktoken) CountTokens(text string) (int, error) {
	if err := t.load(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

func (t *Tiktoken) Name() string {
	return "tiktoken[" + t.encoding + "]"
}
