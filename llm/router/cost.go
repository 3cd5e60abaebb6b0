package router

import (
	"sort"

	"github.com/BaSui01/llmrelay/llm/config"
	"github.com/BaSui01/llmrelay/llm/tokenizer"
)

const tokensPerMillion = 1_000_000.0

// TotalCost 线性计费：prompt × 单价 / 1e6 + completion × 单价 / 1e6
func TotalCost(promptTokens, completionTokens int, pricing config.PricingConfig) float64 {
	return float64(promptTokens)*pricing.PromptPerMillion/tokensPerMillion +
		float64(completionTokens)*pricing.CompletionPerMillion/tokensPerMillion
}

// CostOption 参与比较的一个报价
type CostOption struct {
	Name            string
	ReliabilityTier string
	Pricing         config.PricingConfig
	Cost            float64 // Compare 填充
}

// Comparison 成本比较结果
// Cheapest/MostExpensive 是全局极值，不区分可靠性等级
type Comparison struct {
	Cheapest      *CostOption
	MostExpensive *CostOption
	ByTier        map[string][]CostOption // 每组按成本升序
}

// Compare 计算每个选项在给定 token 数下的成本并分组排序
// 成本相同时保持输入顺序。
func Compare(options []CostOption, promptTokens, completionTokens int) Comparison {
	cmp := Comparison{ByTier: make(map[string][]CostOption)}
	if len(options) == 0 {
		return cmp
	}

	priced := make([]CostOption, len(options))
	for i, o := range options {
		o.Cost = TotalCost(promptTokens, completionTokens, o.Pricing)
		priced[i] = o
	}

	cheapest, priciest := 0, 0
	for i := range priced {
		if priced[i].Cost < priced[cheapest].Cost {
			cheapest = i
		}
		if priced[i].Cost > priced[priciest].Cost {
			priciest = i
		}
		cmp.ByTier[priced[i].ReliabilityTier] = append(cmp.ByTier[priced[i].ReliabilityTier], priced[i])
	}
	cmp.Cheapest = &priced[cheapest]
	cmp.MostExpensive = &priced[priciest]

	for tier := range cmp.ByTier {
		group := cmp.ByTier[tier]
		sort.SliceStable(group, func(i, j int) bool { return group[i].Cost < group[j].Cost })
	}
	return cmp
}

var defaultCounters = tokenizer.DefaultRegistry()

// EstimateTokens 估算文本在指定模型下的 token 数
func EstimateTokens(model, text string) int {
	return defaultCounters.Count(model, text)
}

// EstimateRequestCost 用 prompt 文本估算一次请求的成本
// completionTokens 由调用方给出（通常是 max_tokens）。
func EstimateRequestCost(model, prompt string, completionTokens int, pricing config.PricingConfig) float64 {
	return TotalCost(EstimateTokens(model, prompt), completionTokens, pricing)
}
