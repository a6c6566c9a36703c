// Package pipeline orchestrates the four-phase analysis flow: unbiased
// generation, dual ingest, retrieval, and synthesis with confidence
// adjustment. Phases 2 through 4 degrade on failure; only phase 1 can
// fail a run.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mhalvorsen/lookout/internal/retrieval"
)

// IngestOutcome reports the per-store results of ingesting one
// artifact. Errors holds one message per failed sub-store; DocID is
// empty when the vector embed failed.
type IngestOutcome struct {
	Vector *retrieval.EmbedResult
	Graph  *retrieval.ExtractResult
	DocID  string
	Errors []string
}

// Ingester fans an artifact out to the vector and graph stores.
type Ingester struct {
	vector retrieval.VectorStore
	graph  retrieval.GraphStore
	log    zerolog.Logger
}

func NewIngester(vector retrieval.VectorStore, graph retrieval.GraphStore, log zerolog.Logger) *Ingester {
	return &Ingester{
		vector: vector,
		graph:  graph,
		log:    log.With().Str("component", "ingest").Logger(),
	}
}

// Ingest embeds and extracts path concurrently. The two sub-calls are
// independent: one failing never aborts the other, and the outcome
// always comes back non-nil.
func (ing *Ingester) Ingest(ctx context.Context, path string) *IngestOutcome {
	out := &IngestOutcome{}
	var mu sync.Mutex
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		embed, err := ing.vector.EmbedDocument(ctx, path)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			ing.log.Warn().Err(err).Str("path", path).Msg("vector embed failed")
			out.Errors = append(out.Errors, fmt.Sprintf("vector: %v", err))
			return
		}
		out.Vector = embed
		out.DocID = embed.DocID
	}()
	go func() {
		defer wg.Done()
		extract, err := ing.graph.ExtractDocument(ctx, path, true)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			ing.log.Warn().Err(err).Str("path", path).Msg("graph extract failed")
			out.Errors = append(out.Errors, fmt.Sprintf("graph: %v", err))
			return
		}
		out.Graph = extract
	}()
	wg.Wait()

	return out
}

// IngestVectorOnly embeds path without touching the graph store. The
// legacy pipeline variant uses this; it intentionally skips graph
// extraction.
func (ing *Ingester) IngestVectorOnly(ctx context.Context, path string) *IngestOutcome {
	out := &IngestOutcome{}
	embed, err := ing.vector.EmbedDocument(ctx, path)
	if err != nil {
		ing.log.Warn().Err(err).Str("path", path).Msg("vector embed failed")
		out.Errors = append(out.Errors, fmt.Sprintf("vector: %v", err))
		return out
	}
	out.Vector = embed
	out.DocID = embed.DocID
	return out
}
