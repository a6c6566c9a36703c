package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mhalvorsen/lookout/internal/modules/runs"
	"github.com/mhalvorsen/lookout/internal/retrieval"
)

const synthesisHeader = "## Historical Comparison (Auto-Generated)"

const (
	maxHistoryRows = 5
	maxPeers       = 6
	maxRisks       = 4
)

// renderSynthesis builds the markdown block appended to the phase 1
// artifact. Output is fully determined by its inputs.
func renderSynthesis(hc *retrieval.HybridContext, past []*runs.AnalysisResult, adj *Adjustment) string {
	var b strings.Builder

	b.WriteString("\n---\n\n")
	b.WriteString(synthesisHeader + "\n\n")

	if len(past) > 0 {
		rows := past
		if len(rows) > maxHistoryRows {
			rows = rows[:maxHistoryRows]
		}
		b.WriteString("### Past Recommendations\n\n")
		b.WriteString("| Date | Recommendation | Confidence |\n")
		b.WriteString("|------|----------------|------------|\n")
		for _, r := range rows {
			fmt.Fprintf(&b, "| %s | %s | %d |\n",
				r.CreatedAt.Format("2006-01-02"), r.Recommendation, r.Confidence)
		}
		b.WriteString("\n")
	}

	if len(hc.BiasWarnings) > 0 {
		b.WriteString("### Bias Warnings\n\n")
		for _, w := range hc.BiasWarnings {
			fmt.Fprintf(&b, "- **%s** (seen %d times): %s\n", w.Bias, w.Occurrences, w.LastImpact)
		}
		b.WriteString("\n")
	}

	if hc.Graph != nil && len(hc.Graph.Peers) > 0 {
		peers := hc.Graph.Peers
		if len(peers) > maxPeers {
			peers = peers[:maxPeers]
		}
		fmt.Fprintf(&b, "**Sector peers:** %s\n\n", strings.Join(peers, ", "))
	}
	if hc.Graph != nil && len(hc.Graph.Risks) > 0 {
		risks := hc.Graph.Risks
		if len(risks) > maxRisks {
			risks = risks[:maxRisks]
		}
		b.WriteString("**Known risks:**\n\n")
		for _, r := range risks {
			fmt.Fprintf(&b, "- %s\n", r)
		}
		b.WriteString("\n")
	}

	b.WriteString("### Confidence Adjustment\n\n")
	b.WriteString("| Factor | Adjustment |\n")
	b.WriteString("|--------|------------|\n")
	for _, name := range modifierOrder {
		v, ok := adj.Modifiers[name]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "| %s | %+d |\n", name, v)
	}
	fmt.Fprintf(&b, "\n**Confidence:** %d → %d\n\n", adj.Original, adj.Adjusted)
	fmt.Fprintf(&b, "**Historical Pattern:** %s\n", adj.Pattern)

	return b.String()
}

// appendSynthesis appends block to the artifact atomically: the full
// new content goes to a temporary sibling which is renamed over the
// original, so a concurrent reader sees either the old file or the new
// one, never a torn write.
func appendSynthesis(path, block string) error {
	existing, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read artifact: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(existing, []byte(block)...), 0o644); err != nil {
		return fmt.Errorf("failed to write synthesis: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace artifact: %w", err)
	}
	return nil
}

// artifactPath builds {dir}/{TICKER}_{KIND}_{YYYYMMDDThhmm}.md.
func artifactPath(dir, ticker, kind, stamp string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s_%s.md", ticker, kind, stamp))
}
