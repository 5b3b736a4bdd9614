//go:build !integration && !e2e

package pricing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/user/model-router-go/internal/models"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty text", "", 0},
		{"shorter than one token", "abc", 1},
		{"exact multiple", "abcdefgh", 2},
		{"rounds up", "abcdefghi", 3},
		{"long text", strings.Repeat("x", 4000), 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateTokens(tt.text))
		})
	}
}

func TestCost(t *testing.T) {
	price := models.ModelPrice{InputPerMTok: 3, OutputPerMTok: 15}

	tests := []struct {
		name         string
		inputTokens  int
		outputTokens int
		want         float64
	}{
		{"zero usage", 0, 0, 0},
		{"input only", 1_000_000, 0, 3},
		{"output only", 0, 1_000_000, 15},
		{"mixed", 1000, 2000, 0.033},
		{"small usage rounds to 6 places", 10, 10, 0.00018},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Cost(price, tt.inputTokens, tt.outputTokens), 1e-9)
		})
	}
}

func TestCostIsNonNegative(t *testing.T) {
	got := Cost(models.ModelPrice{}, 100000, 100000)
	assert.GreaterOrEqual(t, got, 0.0)
}
