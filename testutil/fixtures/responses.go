// =============================================================================
// 📦 测试数据工厂 - 上游请求与响应样例
// =============================================================================
package fixtures

import (
	"github.com/BaSui01/llmrelay/llm/config"
)

// MessagesURL Anthropic Messages API 地址
const MessagesURL = "https://api.anthropic.com/v1/messages"

// MessagesRequest 一个流式 /v1/messages 请求体
const MessagesRequest = `{"model":"claude-3-5-sonnet-20241022","max_tokens":256,"stream":true,` +
	`"messages":[{"role":"user","content":"Say hello"}]}`

// MessagesSSE 与 MessagesRequest 对应的 SSE 响应流
const MessagesSSE = "event: message_start\n" +
	`data: {"type":"message_start","message":{"id":"msg_01","type":"message","role":"assistant","model":"claude-3-5-sonnet-20241022"}}` + "\n\n" +
	"event: content_block_delta\n" +
	`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}` + "\n\n" +
	"event: content_block_delta\n" +
	`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"!"}}` + "\n\n" +
	"event: message_stop\n" +
	`data: {"type":"message_stop"}` + "\n\n"

// ChatCompletionJSON 非流式 OpenAI 风格响应
const ChatCompletionJSON = `{"id":"chatcmpl-1","object":"chat.completion","choices":[{"index":0,` +
	`"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}]}`

// Pricing 每百万 token 价格
func Pricing(prompt, completion float64) config.PricingConfig {
	return config.PricingConfig{PromptPerMillion: prompt, CompletionPerMillion: completion}
}

// AppConfig 两个模型、带 Sub-provider 的样例配置，baseURL 指向测试服务器
func AppConfig(baseURL string) *config.AppConfig {
	return &config.AppConfig{
		Models: []config.ModelConfig{
			{
				ID:           "claude-3-5-sonnet",
				Capabilities: []string{"streaming", "tools"},
				Providers: []config.ProviderConfig{
					{
						Name:       "anthropic",
						Model:      "claude-3-5-sonnet-20241022",
						Priority:   10,
						Pricing:    Pricing(3, 15),
						Tags:       []string{"streaming", "direct"},
						BaseURL:    baseURL,
						APIKey:     "sk-ant-test",
						AuthScheme: "Bearer",
						Headers:    map[string]string{"anthropic-version": "2023-06-01"},
					},
					{
						Name:     "openrouter",
						Model:    "anthropic/claude-3.5-sonnet",
						Priority: 5,
						Pricing:  Pricing(3.5, 16),
						Tags:     []string{"streaming", "aggregator"},
						BaseURL:  baseURL,
						APIKey:   "sk-or-test",
						SubProviders: []config.SubProviderConfig{
							{Name: "bedrock", Model: "anthropic.claude-3-5-sonnet", Priority: 2, Pricing: Pricing(3.2, 15.5)},
						},
					},
				},
			},
			{
				ID: "gpt-4o-mini",
				Providers: []config.ProviderConfig{
					{Name: "openai", Priority: 1, Pricing: Pricing(0.15, 0.6), BaseURL: baseURL, APIKey: "sk-test"},
				},
			},
		},
	}
}
