package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/llmrelay/llm/config"
)

func TestTotalCost_Linear(t *testing.T) {
	pricing := config.PricingConfig{PromptPerMillion: 3, CompletionPerMillion: 15}

	assert.InDelta(t, 0.0, TotalCost(0, 0, pricing), 1e-12)
	assert.InDelta(t, 0.003, TotalCost(1000, 0, pricing), 1e-12)
	assert.InDelta(t, 0.015, TotalCost(0, 1000, pricing), 1e-12)
	assert.InDelta(t, 18.0, TotalCost(1_000_000, 1_000_000, pricing), 1e-9)
}

func TestCompare(t *testing.T) {
	options := []CostOption{
		{Name: "a", ReliabilityTier: "premium", Pricing: config.PricingConfig{PromptPerMillion: 10, CompletionPerMillion: 30}},
		{Name: "b", ReliabilityTier: "standard", Pricing: config.PricingConfig{PromptPerMillion: 0.5, CompletionPerMillion: 1.5}},
		{Name: "c", ReliabilityTier: "premium", Pricing: config.PricingConfig{PromptPerMillion: 3, CompletionPerMillion: 15}},
		{Name: "d", ReliabilityTier: "standard", Pricing: config.PricingConfig{PromptPerMillion: 0.5, CompletionPerMillion: 1.5}},
	}

	cmp := Compare(options, 1000, 1000)

	require.NotNil(t, cmp.Cheapest)
	require.NotNil(t, cmp.MostExpensive)
	assert.Equal(t, "b", cmp.Cheapest.Name, "成本相同取第一个")
	assert.Equal(t, "a", cmp.MostExpensive.Name)
	assert.InDelta(t, 0.04, cmp.MostExpensive.Cost, 1e-12)

	require.Len(t, cmp.ByTier["premium"], 2)
	assert.Equal(t, "c", cmp.ByTier["premium"][0].Name)
	assert.Equal(t, "a", cmp.ByTier["premium"][1].Name)
	assert.Equal(t, []string{"b", "d"}, names(cmp.ByTier["standard"]))
}

func TestCompare_Empty(t *testing.T) {
	cmp := Compare(nil, 1000, 1000)
	assert.Nil(t, cmp.Cheapest)
	assert.Nil(t, cmp.MostExpensive)
	assert.Empty(t, cmp.ByTier)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens("claude-3-5-sonnet", ""))
	assert.Equal(t, 4, EstimateTokens("claude-3-5-sonnet", "abcdefghijklmnop"))
	assert.Greater(t, EstimateTokens("gpt-4o", "hello there"), 0)

	pricing := config.PricingConfig{PromptPerMillion: 1_000_000, CompletionPerMillion: 0}
	assert.InDelta(t, 4.0, EstimateRequestCost("claude-3-5-sonnet", "abcdefghijklmnop", 500, pricing), 1e-9)
}

func names(opts []CostOption) []string {
	out := make([]string, len(opts))
	for i, o := range opts {
		out[i] = o.Name
	}
	return out
}
