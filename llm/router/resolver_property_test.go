package router

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/BaSui01/llmrelay/llm/config"
)

// PreferLowerCost 时输出按成本非降序，且与优先级无关
func TestProperty_CostOrderingIsMonotonic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("resolved costs are non-decreasing", prop.ForAll(
		func(prices []float64, priorities []int) bool {
			if len(prices) == 0 || len(priorities) == 0 {
				return true
			}
			model := &config.ModelConfig{ID: "m"}
			for i, p := range prices {
				model.Providers = append(model.Providers, config.ProviderConfig{
					Name:     fmt.Sprintf("p%d", i),
					Priority: priorities[i%len(priorities)],
					Pricing:  config.PricingConfig{PromptPerMillion: p, CompletionPerMillion: p},
				})
			}

			res, err := NewResolver(nil).Resolve(model, &Criteria{PreferLowerCost: true})
			if err != nil || len(res) != len(prices) {
				return false
			}
			for i := 1; i < len(res); i++ {
				if res[i].EstimatedCost(1000, 1000) < res[i-1].EstimatedCost(1000, 1000) {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(6, gen.Float64Range(0, 100)),
		gen.SliceOfN(3, gen.IntRange(-10, 10)),
	))

	properties.TestingRun(t)
}
