// Package pricing implements token estimation and cost arithmetic over a
// model price table.
package pricing

import (
	"math"

	"github.com/user/model-router-go/internal/models"
)

// bytesPerToken is the crude length heuristic used for pre-call estimates.
// It is an approximation, not a provider-accurate tokenizer: adequate for
// comparative routing decisions, never for billing. Committed costs use
// provider-reported usage whenever the stream includes it.
const bytesPerToken = 4

// costPrecision rounds costs to 6 decimal places so repeated ledger
// aggregation does not accumulate floating drift.
const costPrecision = 1e6

// EstimateTokens returns a cheap length-based token estimate for text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + bytesPerToken - 1) / bytesPerToken
}

// Cost computes the dollar cost of a call from the model's per-million-token
// prices, rounded to 6 decimal places.
func Cost(price models.ModelPrice, inputTokens, outputTokens int) float64 {
	c := float64(inputTokens)/1e6*price.InputPerMTok + float64(outputTokens)/1e6*price.OutputPerMTok
	return math.Round(c*costPrecision) / costPrecision
}
