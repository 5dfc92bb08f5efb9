package completion

// Cost per 1M tokens (USD). Update when the provider changes pricing.
type pricing struct {
	input  float64
	output float64
}

var modelPricing = map[string]pricing{
	"claude-sonnet-4-20250514": {input: 3.00, output: 15.00},
	"claude-opus-4-20250514":   {input: 15.00, output: 75.00},
}

var defaultPricing = pricing{input: 3.00, output: 15.00}

// CostFor computes the USD cost of a call from token counts.
// Unknown models fall back to the default tier pricing.
func CostFor(model string, inputTokens, outputTokens int) float64 {
	p, ok := modelPricing[model]
	if !ok {
		p = defaultPricing
	}
	return float64(inputTokens)*p.input/1_000_000 +
		float64(outputTokens)*p.output/1_000_000
}
