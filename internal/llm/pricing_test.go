package llm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookupPricingKnownModel(t *testing.T) {
	p := lookupPricing(openAIPricing, "gpt-4o-mini", openAIDefaultPricing)
	require.InDelta(t, 0.00015, p.Input, 1e-12)
	require.InDelta(t, 0.0006, p.Output, 1e-12)
}

// An unknown model must never price below any known family member, so
// budget gating over-charges instead of under-charging.
func TestUnknownModelFallbackNeverUndercharges(t *testing.T) {
	families := map[string]struct {
		table    map[string]Pricing
		fallback Pricing
	}{
		"openai": {openAIPricing, openAIDefaultPricing},
		"claude": {claudePricing, claudeDefaultPricing},
		"qwen":   {qwenPricing, qwenDefaultPricing},
	}
	for name, f := range families {
		got := lookupPricing(f.table, "some-future-model", f.fallback)
		for model, known := range f.table {
			fallbackCost := costFor(got, 1000, 1000)
			knownCost := costFor(known, 1000, 1000)
			require.GreaterOrEqual(t, fallbackCost, knownCost,
				"%s fallback prices below %s", name, model)
		}
	}
}

func TestCostFor(t *testing.T) {
	cost := costFor(Pricing{Input: 0.01, Output: 0.03}, 2000, 500)
	require.InDelta(t, 0.035, cost, 1e-9)
}
