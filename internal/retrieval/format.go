package retrieval

import (
	"fmt"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// FormatMarkdown renders a hybrid context as the markdown block that is
// appended to the synthesis prompt. Output is deterministic for a given
// context: sections appear in a fixed order and only when they have
// content.
func FormatMarkdown(hc *HybridContext) string {
	var b strings.Builder

	b.WriteString("## Historical Context\n\n")
	if hc.IsFirstAnalysis {
		b.WriteString("This is the first analysis of " + hc.Ticker + ". No prior history or graph data exists.\n")
		return b.String()
	}

	if hc.HasHistory {
		fmt.Fprintf(&b, "### Prior Analyses (%d)\n\n", hc.HistoryCount)
		for _, r := range hc.VectorResults {
			fmt.Fprintf(&b, "- **%s** (%s, similarity %.2f): recommendation %s, confidence %s\n",
				r.DocID, r.DocDate, r.Similarity, r.Recommendation, r.Confidence)
			if r.Content != "" {
				fmt.Fprintf(&b, "  > %s\n", firstLine(r.Content))
			}
		}
		b.WriteString("\n")
		if s := historyStats(hc.VectorResults); s != "" {
			b.WriteString(s)
		}
	} else {
		b.WriteString("No prior analyses found.\n\n")
	}

	if hc.HasGraphData {
		b.WriteString("### Graph Context\n\n")
		if len(hc.Graph.Peers) > 0 {
			fmt.Fprintf(&b, "- Peers: %s\n", strings.Join(hc.Graph.Peers, ", "))
		}
		if len(hc.Graph.Risks) > 0 {
			fmt.Fprintf(&b, "- Known risks: %s\n", strings.Join(hc.Graph.Risks, ", "))
		}
		b.WriteString("\n")
	}

	if len(hc.BiasWarnings) > 0 {
		b.WriteString("### Bias Warnings\n\n")
		for _, w := range hc.BiasWarnings {
			scope := "global"
			if w.TickerSpecific {
				scope = hc.Ticker
			}
			fmt.Fprintf(&b, "- %s (%s, seen %d times): %s\n", w.Bias, scope, w.Occurrences, w.LastImpact)
		}
		b.WriteString("\n")
	}

	if len(hc.Strategies) > 0 {
		b.WriteString("### Strategy Performance\n\n")
		for _, s := range hc.Strategies {
			fmt.Fprintf(&b, "- %s: %.0f%% win rate over %d trades\n", s.Name, s.WinRate*100, s.Sample)
		}
		b.WriteString("\n")
	}

	return b.String()
}

// historyStats summarizes the confidence of prior analyses. Hits whose
// confidence never got persisted ("N/A") are skipped; the section is
// omitted when fewer than two hits carry numbers.
func historyStats(results []SearchResult) string {
	var confidences []float64
	for _, r := range results {
		v, err := strconv.ParseFloat(r.Confidence, 64)
		if err != nil {
			continue
		}
		confidences = append(confidences, v)
	}
	if len(confidences) < 2 {
		return ""
	}
	mean, std := stat.MeanStdDev(confidences, nil)
	return fmt.Sprintf("Historical confidence: mean %.1f, stddev %.1f over %d analyses.\n\n",
		mean, std, len(confidences))
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > 200 {
		s = s[:200] + "…"
	}
	return strings.TrimSpace(s)
}
