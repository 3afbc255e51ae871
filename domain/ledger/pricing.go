package ledger

import "fmt"

// pricePerMillion is USD cost per million tokens, input and output priced
// separately as providers typically do.
type pricePerMillion struct {
	Input  float64
	Output float64
}

// pricingKey identifies a (provider, model) pair in the pricing table.
type pricingKey struct {
	Provider string
	Model    string
}

// pricingTable is the internal pricing table keyed by (provider, model),
// spec §4.7: "Cost is computed from an internal pricing table keyed by
// (provider, model); unknown model → cost 0 plus a warning."
var pricingTable = map[pricingKey]pricePerMillion{
	{"anthropic", "claude-opus-4"}:   {Input: 15.00, Output: 75.00},
	{"anthropic", "claude-sonnet-4"}: {Input: 3.00, Output: 15.00},
	{"anthropic", "claude-haiku-4"}:  {Input: 0.80, Output: 4.00},
	{"openai", "gpt-4o"}:             {Input: 2.50, Output: 10.00},
	{"openai", "gpt-4o-mini"}:        {Input: 0.15, Output: 0.60},
	{"bedrock", "anthropic.claude-3-5-sonnet"}: {Input: 3.00, Output: 15.00},
}

// EstimateCost computes the USD cost of a call against the pricing table.
// An unknown (provider, model) returns cost 0 and a non-nil warning error
// the caller should log, never fail on (spec §4.7).
func EstimateCost(provider, model string, inputTokens, outputTokens int) (float64, error) {
	price, ok := pricingTable[pricingKey{Provider: provider, Model: model}]
	if !ok {
		return 0, fmt.Errorf("ledger: no pricing entry for provider=%q model=%q", provider, model)
	}
	cost := float64(inputTokens)/1_000_000*price.Input + float64(outputTokens)/1_000_000*price.Output
	return cost, nil
}
