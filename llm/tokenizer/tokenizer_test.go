package tokenizer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fixedCounter struct {
	name string
	n    int
	err  error
}

func (f fixedCounter) CountTokens(string) (int, error) { return f.n, f.err }
func (f fixedCounter) Name() string                    { return f.name }

func TestEstimator_CountTokens(t *testing.T) {
	e := NewEstimator()

	n, err := e.CountTokens("")
	assert.NoError(t, err)
	assert.Equal(t, 0, n)

	n, _ = e.CountTokens("hi")
	assert.Equal(t, 1, n, "非空文本至少 1 个 token")

	n, _ = e.CountTokens("abcdefghijklmnop") // 16 ASCII
	assert.Equal(t, 4, n)

	n, _ = e.CountTokens("你好世界你好") // 6 CJK
	assert.Equal(t, 4, n)
}

func TestRegistry_LongestPrefixWins(t *testing.T) {
	r := NewRegistry()
	r.Register("gpt-4", fixedCounter{name: "gpt-4", n: 1})
	r.Register("gpt-4o", fixedCounter{name: "gpt-4o", n: 2})

	assert.Equal(t, "gpt-4o", r.Lookup("gpt-4o-mini").Name())
	assert.Equal(t, "gpt-4", r.Lookup("GPT-4-turbo").Name())
	assert.Equal(t, "estimator", r.Lookup("claude-3-5-sonnet").Name())
}

func TestRegistry_CountFallsBackOnError(t *testing.T) {
	r := NewRegistry()
	r.Register("broken", fixedCounter{name: "broken", err: errors.New("no encoding")})

	assert.Equal(t, 4, r.Count("broken-model", "abcdefghijklmnop"))
	assert.Equal(t, 0, r.Count("broken-model", ""))
}

func TestDefaultRegistry_CountsOpenAIModels(t *testing.T) {
	r := DefaultRegistry()
	assert.Contains(t, r.Lookup("gpt-4o-mini").Name(), "o200k_base")

	// 离线环境下编码加载失败也会退回估算
	assert.Greater(t, r.Count("gpt-4o-mini", "hello world, this is a test"), 0)
}
