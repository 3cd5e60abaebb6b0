// Package tokenizer 提供按模型名选择的 token 计数器，
// OpenAI 系列模型走 tiktoken 精确计数，其余模型或编码不可用时退回字符估算，
// 供成本模型估算单次请求费用。
package tokenizer
