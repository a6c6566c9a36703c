package pipeline

import (
	"fmt"
	"strings"
)

// Analysis kinds accepted by the pipeline.
const (
	KindStock      = "stock"
	KindEarnings   = "earnings"
	KindScan       = "scan"
	KindReview     = "review"
	KindPostmortem = "postmortem"
	KindCustom     = "custom"
)

// ValidKind reports whether kind names a known analysis kind.
func ValidKind(kind string) bool {
	switch kind {
	case KindStock, KindEarnings, KindScan, KindReview, KindPostmortem, KindCustom:
		return true
	}
	return false
}

var kindInstructions = map[string]string{
	KindStock:      "Perform a full stock analysis: thesis, catalysts, risks, and a concrete trade structure.",
	KindEarnings:   "Analyze the upcoming or just-reported earnings event and the expected post-earnings move.",
	KindScan:       "Run the market scan for setups matching the configured criteria.",
	KindReview:     "Review the current portfolio positions and flag anything that needs action.",
	KindPostmortem: "Write a postmortem of the closed position: what the thesis was, what happened, what to learn.",
	KindCustom:     "Follow the custom analysis instructions for this ticker.",
}

// buildPrompt assembles the reasoning prompt for one run. When
// historicalContext is non-empty (legacy variant) it is injected ahead
// of the instructions; the four-phase variant passes "" so phase 1
// stays unbiased.
func buildPrompt(ticker, kind, historicalContext string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Analysis Request: %s (%s)\n\n", ticker, kind)
	if historicalContext != "" {
		b.WriteString(historicalContext)
		b.WriteString("\n")
	}
	b.WriteString(kindInstructions[kind])
	b.WriteString("\n\n")
	b.WriteString(`Finish with a fenced JSON block containing your verdict:

` + "```json" + `
{
  "gate_passed": bool,
  "recommendation": "BUY|SELL|HOLD|WAIT|BULLISH|BEARISH|LONG|SHORT",
  "confidence": 0-100,
  "expected_value_pct": float,
  "entry_price": float|null,
  "stop_price": float|null,
  "target_price": float|null,
  "position_size_pct": float|null,
  "trade_structure": string,
  "rationale": string
}
` + "```" + `
`)
	return b.String()
}
