package reasoning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFencedJSON(t *testing.T) {
	raw := "Some analysis preamble.\n\n```json\n{\"gate_passed\": true, \"recommendation\": \"buy\", \"confidence\": 76, \"expected_value_pct\": 4.5, \"entry_price\": 120.5}\n```\n\nTrailing commentary."

	p := Parse(raw)
	assert.True(t, p.GatePassed)
	assert.Equal(t, "BUY", p.Recommendation)
	assert.Equal(t, 76, p.Confidence)
	assert.Equal(t, 4.5, p.ExpectedValuePct)
	require.NotNil(t, p.EntryPrice)
	assert.Equal(t, 120.5, *p.EntryPrice)
	assert.Nil(t, p.StopPrice)
}

func TestParseLeadingObject(t *testing.T) {
	raw := `{"recommendation": "WAIT", "confidence": 55} followed by prose`
	p := Parse(raw)
	assert.Equal(t, "WAIT", p.Recommendation)
	assert.Equal(t, 55, p.Confidence)
	assert.False(t, p.GatePassed)
}

func TestParseUnrecognizedRecommendation(t *testing.T) {
	p := Parse(`{"recommendation": "YOLO", "confidence": 50}`)
	assert.Equal(t, "UNKNOWN", p.Recommendation)
}

func TestParseConfidenceClamped(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{"above", `{"confidence": 140}`, 100},
		{"below", `{"confidence": -10}`, 0},
		{"float", `{"confidence": 72.8}`, 72},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.raw).Confidence)
		})
	}
}

func TestParseNoJSON(t *testing.T) {
	p := Parse("The model produced prose only, no structured verdict.")
	assert.False(t, p.GatePassed)
	assert.Equal(t, "UNKNOWN", p.Recommendation)
	assert.Equal(t, 0, p.Confidence)
	assert.Equal(t, 0.0, p.ExpectedValuePct)
}

func TestParseMalformedJSON(t *testing.T) {
	p := Parse("```json\n{\"recommendation\": \"BUY\", \n```")
	assert.Equal(t, "UNKNOWN", p.Recommendation)
}

func TestParseBracesInsideStrings(t *testing.T) {
	raw := `{"recommendation": "HOLD", "rationale": "range {support} held", "confidence": 60}`
	p := Parse(raw)
	assert.Equal(t, "HOLD", p.Recommendation)
	assert.Equal(t, "range {support} held", p.Rationale)
}

func TestParsePicksFirstObject(t *testing.T) {
	raw := "```\n{\"recommendation\": \"SELL\", \"confidence\": 40}\n```\n```\n{\"recommendation\": \"BUY\", \"confidence\": 90}\n```"
	p := Parse(raw)
	assert.Equal(t, "SELL", p.Recommendation)
	assert.Equal(t, 40, p.Confidence)
}
