// Package cost estimates spend for completion, search and reader calls.
package cost

import "github.com/sells-group/intellimesh/internal/config"

// Rates holds per-provider pricing configuration.
type Rates struct {
	Anthropic       map[string]ModelRate
	JinaPerMTok     float64
	PerplexityQuery float64
	SerperQuery     float64
}

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input  float64
	Output float64
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001":  {Input: 1.00, Output: 5.00},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
			"claude-opus-4-6":            {Input: 15.00, Output: 75.00},
		},
		JinaPerMTok:     0.02,
		PerplexityQuery: 0.005,
		SerperQuery:     0.001,
	}
}

// RatesFromConfig overlays configured prices on the defaults.
func RatesFromConfig(pc config.PricingConfig) Rates {
	r := DefaultRates()
	for model, p := range pc.Anthropic {
		r.Anthropic[model] = ModelRate{Input: p.Input, Output: p.Output}
	}
	if pc.Jina.PerMTok > 0 {
		r.JinaPerMTok = pc.Jina.PerMTok
	}
	if pc.Perplexity.PerQuery > 0 {
		r.PerplexityQuery = pc.Perplexity.PerQuery
	}
	if pc.Serper.PerQuery > 0 {
		r.SerperQuery = pc.Serper.PerQuery
	}
	return r
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Claude computes the cost for a Claude API call. Unknown models cost 0.
func (c *Calculator) Claude(model string, input, output int) float64 {
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}
	return (float64(input)/1e6)*rate.Input + (float64(output)/1e6)*rate.Output
}

// Jina computes the cost for Jina Reader token usage.
func (c *Calculator) Jina(tokens int) float64 {
	return (float64(tokens) / 1e6) * c.rates.JinaPerMTok
}

// PerplexityQuery returns the flat cost per Perplexity request.
func (c *Calculator) PerplexityQuery() float64 {
	return c.rates.PerplexityQuery
}

// SerperQuery returns the flat cost per Serper search.
func (c *Calculator) SerperQuery() float64 {
	return c.rates.SerperQuery
}
