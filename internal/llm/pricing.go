package llm

// Pricing holds per-1k-token prices for one model.
type Pricing struct {
	Input  float64 // per 1k input tokens
	Output float64 // per 1k output tokens
}

// Price tables per provider family. Unknown models fall back to the
// family's most expensive pricing so budget gating can only over-charge,
// never under-charge.
var (
	openAIPricing = map[string]Pricing{
		"gpt-4o":        {Input: 0.005, Output: 0.015},
		"gpt-4o-mini":   {Input: 0.00015, Output: 0.0006},
		"gpt-4-turbo":   {Input: 0.01, Output: 0.03},
		"gpt-3.5-turbo": {Input: 0.0005, Output: 0.0015},
	}
	openAIDefaultPricing = openAIPricing["gpt-4-turbo"]

	claudePricing = map[string]Pricing{
		"claude-3-5-sonnet-20241022": {Input: 0.003, Output: 0.015},
		"claude-3-5-haiku-20241022":  {Input: 0.0008, Output: 0.004},
		"claude-3-opus-20240229":     {Input: 0.015, Output: 0.075},
		"claude-3-haiku-20240307":    {Input: 0.00025, Output: 0.00125},
	}
	claudeDefaultPricing = claudePricing["claude-3-opus-20240229"]

	qwenPricing = map[string]Pricing{
		"qwen-max":   {Input: 0.02, Output: 0.02},
		"qwen-turbo": {Input: 0.003, Output: 0.003},
		"qwen-plus":  {Input: 0.008, Output: 0.008},
	}
	qwenDefaultPricing = qwenPricing["qwen-max"]
)

func lookupPricing(table map[string]Pricing, model string, fallback Pricing) Pricing {
	if p, ok := table[model]; ok {
		return p
	}
	return fallback
}

func costFor(p Pricing, inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000*p.Input + float64(outputTokens)/1000*p.Output
}
