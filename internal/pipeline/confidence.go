package pipeline

import (
	"github.com/mhalvorsen/lookout/internal/retrieval"
)

// Pattern labels shown in the synthesis summary line.
const (
	PatternFirstAnalysis = "First analysis - establishing baseline"
	PatternConfirms      = "Confirms recent historical sentiment"
	PatternContradicts   = "⚠️ Contradicts recent historical sentiment"
	PatternNone          = "No clear pattern from history"
)

// Modifier factor names, in the order they render in the adjustment
// table.
var modifierOrder = []string{
	"first_analysis",
	"sparse_history",
	"no_graph",
	"bias_warnings",
	"pattern_confirms",
	"pattern_contradicts",
}

type sentiment int

const (
	sentimentNeutral sentiment = iota
	sentimentBullish
	sentimentBearish
)

func classify(recommendation string) sentiment {
	switch recommendation {
	case "BUY", "BULLISH", "LONG":
		return sentimentBullish
	case "SELL", "BEARISH", "SHORT":
		return sentimentBearish
	}
	return sentimentNeutral
}

// majoritySentiment votes over the given recommendations. Ties break
// toward neutral so a split history never adjusts confidence.
func majoritySentiment(recommendations []string) sentiment {
	var bullish, bearish, neutral int
	for _, rec := range recommendations {
		switch classify(rec) {
		case sentimentBullish:
			bullish++
		case sentimentBearish:
			bearish++
		default:
			neutral++
		}
	}
	if bullish > bearish && bullish > neutral {
		return sentimentBullish
	}
	if bearish > bullish && bearish > neutral {
		return sentimentBearish
	}
	return sentimentNeutral
}

// Adjustment is the outcome of the confidence ladder.
type Adjustment struct {
	Original  int
	Adjusted  int
	Modifiers map[string]int
	Pattern   string
}

// adjustConfidence applies the modifier ladder to the original
// confidence. pastRecommendations are the most recent persisted
// recommendations, newest first; only the first three vote.
func adjustConfidence(original int, hc *retrieval.HybridContext, currentRecommendation string, pastRecommendations []string) *Adjustment {
	adj := &Adjustment{
		Original:  original,
		Modifiers: map[string]int{},
		Pattern:   PatternNone,
	}

	if hc.IsFirstAnalysis {
		adj.Modifiers["first_analysis"] = -10
		adj.Pattern = PatternFirstAnalysis
	} else if hc.HistoryCount >= 1 && hc.HistoryCount <= 2 {
		adj.Modifiers["sparse_history"] = -5
	}
	if !hc.HasGraphData {
		adj.Modifiers["no_graph"] = -5
	}

	if n := len(hc.BiasWarnings); n > 0 {
		total := 0
		for _, w := range hc.BiasWarnings {
			total += w.Occurrences
		}
		penalty := total * 3
		if penalty > 15 {
			penalty = 15
		}
		adj.Modifiers["bias_warnings"] = -penalty
	}

	if !hc.IsFirstAnalysis {
		votes := pastRecommendations
		if len(votes) > 3 {
			votes = votes[:3]
		}
		current := classify(currentRecommendation)
		majority := majoritySentiment(votes)
		switch {
		case current == sentimentNeutral || majority == sentimentNeutral:
			// No directional pattern either way.
		case current == majority:
			adj.Modifiers["pattern_confirms"] = 5
			adj.Pattern = PatternConfirms
		default:
			adj.Modifiers["pattern_contradicts"] = -10
			adj.Pattern = PatternContradicts
		}
	}

	adjusted := original
	for _, v := range adj.Modifiers {
		adjusted += v
	}
	if adjusted < 0 {
		adjusted = 0
	}
	if adjusted > 100 {
		adjusted = 100
	}
	adj.Adjusted = adjusted
	return adj
}
