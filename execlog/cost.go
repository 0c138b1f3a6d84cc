package execlog

import (
	"strings"
	"sync"
)

// ModelPricing defines input and output token costs for LLM models, in USD
// per 1M tokens.
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// Static pricing for major providers. Prices change; update as needed or
// register overrides at runtime.
var defaultModelPricing = map[string]ModelPricing{
	"gpt-4o":                     {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":                {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4-turbo":                {InputPer1M: 10.00, OutputPer1M: 30.00},
	"gpt-3.5-turbo":              {InputPer1M: 0.50, OutputPer1M: 1.50},
	"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3.5-sonnet":          {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-opus":              {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-3-haiku":             {InputPer1M: 0.25, OutputPer1M: 1.25},
	"gemini-1.5-pro":             {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash":           {InputPer1M: 0.075, OutputPer1M: 0.30},
}

// CostCalculator converts token counts to USD using a pricing table.
type CostCalculator struct {
	mu      sync.RWMutex
	pricing map[string]ModelPricing
}

// NewCostCalculator returns a calculator seeded with the default table.
func NewCostCalculator() *CostCalculator {
	pricing := make(map[string]ModelPricing, len(defaultModelPricing))
	for k, v := range defaultModelPricing {
		pricing[k] = v
	}
	return &CostCalculator{pricing: pricing}
}

// Register adds or overrides pricing for a model.
func (c *CostCalculator) Register(model string, pricing ModelPricing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pricing[model] = pricing
}

// Cost computes the USD cost for a usage. Unknown models cost zero; a
// prefix match handles dated model variants (e.g. "gpt-4o-2024-08-06"),
// with the longest matching model name winning.
func (c *CostCalculator) Cost(model string, promptTokens, completionTokens int) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pricing, ok := c.pricing[model]
	if !ok {
		best := ""
		for name, p := range c.pricing {
			if strings.HasPrefix(model, name) && len(name) > len(best) {
				pricing, ok, best = p, true, name
			}
		}
	}
	if !ok {
		return 0
	}
	return float64(promptTokens)/1e6*pricing.InputPer1M +
		float64(completionTokens)/1e6*pricing.OutputPer1M
}
