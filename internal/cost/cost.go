// Package cost turns provider token usage into a USD figure. It is the
// direct descendant of internal/cost/tokens.go, minus the
// regex-scraping fallback (providers here report usage structurally, so
// there is no agent-output text to scrape) and with the price table keyed
// by model identifier rather than passed in positionally.
package cost

import "github.com/antigravity-dev/videoloom/internal/model"

// Price is one model's USD-per-million-token price.
type Price struct {
	InputPerMtok  float64
	OutputPerMtok float64
}

// PriceTable maps a model identifier to its Price.
type PriceTable map[string]Price

// Calculate returns the USD cost of usage at the given per-model price.
// Local providers are free: price tables for local models should carry
// zero in both fields, which this still computes correctly (0 cost).
func Calculate(usage model.TokensUsed, price Price) float64 {
	inputCost := (float64(usage.Input) / 1_000_000.0) * price.InputPerMtok
	outputCost := (float64(usage.Output) / 1_000_000.0) * price.OutputPerMtok
	return inputCost + outputCost
}

// Add combines two usage totals, for accumulating metrics across chunked
// calls within a single stage (e.g. Longread's MAP phase).
func Add(a, b model.TokensUsed) model.TokensUsed {
	return model.TokensUsed{Input: a.Input + b.Input, Output: a.Output + b.Output}
}

// EstimateTokens provides a rough chars-per-token estimate for text that
// never goes through a model call (the Chunk stage's total_tokens field).
// The ratio is a fixed constant per language: Cyrillic text runs
// noticeably fewer chars/token than Latin text in practice, so the two
// are calibrated separately.
const (
	charsPerTokenCyrillic = 2.8
	charsPerTokenLatin    = 4.0
)

// EstimateTokens estimates a token count from rune count and a language
// hint ("ru" selects the Cyrillic ratio; anything else uses the Latin one).
func EstimateTokens(runeCount int, language string) int {
	ratio := charsPerTokenLatin
	if language == "ru" {
		ratio = charsPerTokenCyrillic
	}
	if runeCount == 0 {
		return 0
	}
	tokens := int(float64(runeCount) / ratio)
	if tokens == 0 {
		return 1
	}
	return tokens
}
