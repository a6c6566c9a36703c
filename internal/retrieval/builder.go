package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mhalvorsen/lookout/internal/modules/runs"
)

const defaultTopK = 5

// HybridContext is everything retrieval produces for the synthesis
// phase. Missing stores show up as empty slices and cleared flags, not
// as errors.
type HybridContext struct {
	Ticker        string         `json:"ticker" msgpack:"ticker"`
	VectorResults []SearchResult `json:"vector_results" msgpack:"vector_results"`
	Graph         *GraphContext  `json:"graph_context,omitempty" msgpack:"graph_context"`
	BiasWarnings  []BiasWarning  `json:"bias_warnings" msgpack:"bias_warnings"`
	Strategies    []StrategyStat `json:"strategy_recommendations" msgpack:"strategy_recommendations"`

	HasHistory      bool `json:"has_history" msgpack:"has_history"`
	HistoryCount    int  `json:"history_count" msgpack:"history_count"`
	HasGraphData    bool `json:"has_graph_data" msgpack:"has_graph_data"`
	IsFirstAnalysis bool `json:"is_first_analysis" msgpack:"is_first_analysis"`
}

// Enricher joins persisted analysis results onto retrieval hits.
type Enricher interface {
	EnrichByDocIDs(docIDs []string) (map[string]runs.Enrichment, error)
}

// ContextCache stores rendered contexts between watchlist passes.
type ContextCache interface {
	Put(key string, value any, ttl time.Duration) error
	Get(key string, dest any) (bool, error)
}

// Builder assembles hybrid contexts from the vector and graph stores.
type Builder struct {
	vector   VectorStore
	graph    GraphStore
	enricher Enricher
	cache    ContextCache
	cacheTTL time.Duration
	log      zerolog.Logger
}

// NewBuilder wires a Builder. cache may be nil; enricher must not be.
func NewBuilder(vector VectorStore, graph GraphStore, enricher Enricher, cache ContextCache, log zerolog.Logger) *Builder {
	return &Builder{
		vector:   vector,
		graph:    graph,
		enricher: enricher,
		cache:    cache,
		cacheTTL: 15 * time.Minute,
		log:      log.With().Str("component", "retrieval").Logger(),
	}
}

// Build assembles the hybrid context for one ticker. The vector and
// graph stores are queried concurrently; a failure on either side is
// logged and replaced with empty results so synthesis always gets a
// context. excludeDocID keeps the run's own freshly ingested document
// out of its history.
func (b *Builder) Build(ctx context.Context, ticker, query, kind, excludeDocID string) (*HybridContext, error) {
	if cached := b.fromCache(ticker, kind, excludeDocID); cached != nil {
		return cached, nil
	}

	hc := &HybridContext{
		Ticker:        ticker,
		VectorResults: []SearchResult{},
		BiasWarnings:  []BiasWarning{},
		Strategies:    []StrategyStat{},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		results, err := b.vector.Search(gctx, SearchQuery{
			Query:        query,
			Ticker:       ticker,
			Kind:         kind,
			ExcludeDocID: excludeDocID,
			TopK:         defaultTopK,
		})
		if err != nil {
			b.log.Warn().Err(err).Str("ticker", ticker).Msg("vector search failed, continuing without history")
			return nil
		}
		hc.VectorResults = results
		return nil
	})

	g.Go(func() error {
		graph, err := b.graph.GetTickerContext(gctx, ticker)
		if err != nil {
			b.log.Warn().Err(err).Str("ticker", ticker).Msg("graph context failed, continuing without graph")
			return nil
		}
		hc.Graph = graph

		warnings, err := b.graph.GetBiasWarnings(gctx, ticker)
		if err == nil && warnings != nil {
			hc.BiasWarnings = warnings
		}
		strategies, err := b.graph.GetStrategyRecommendations(gctx, ticker)
		if err == nil && strategies != nil {
			hc.Strategies = strategies
		}
		return nil
	})

	// Goroutines only log; the group never carries an error.
	_ = g.Wait()

	b.enrich(hc)
	sortResults(hc.VectorResults)

	hc.HistoryCount = len(hc.VectorResults)
	hc.HasHistory = hc.HistoryCount > 0
	hc.HasGraphData = !hc.Graph.Empty()
	hc.IsFirstAnalysis = !hc.HasHistory && !hc.HasGraphData

	b.toCache(ticker, kind, excludeDocID, hc)
	return hc, nil
}

// enrich joins persisted recommendations onto the hits. Hits with no
// persisted result render as "N/A".
func (b *Builder) enrich(hc *HybridContext) {
	docIDs := make([]string, 0, len(hc.VectorResults))
	for _, r := range hc.VectorResults {
		docIDs = append(docIDs, r.DocID)
	}
	enriched, err := b.enricher.EnrichByDocIDs(docIDs)
	if err != nil {
		b.log.Warn().Err(err).Msg("result enrichment failed")
		enriched = nil
	}
	for i := range hc.VectorResults {
		r := &hc.VectorResults[i]
		if e, ok := enriched[r.DocID]; ok {
			r.Recommendation = e.Recommendation
			r.Confidence = strconv.Itoa(e.Confidence)
		} else {
			r.Recommendation = "N/A"
			r.Confidence = "N/A"
		}
		if r.AnalyzedAt == "" {
			r.AnalyzedAt = r.DocDate
		}
	}
}

// sortResults orders hits by similarity descending, ties broken by
// doc_date descending then doc_id ascending, so the rendered context
// is stable across runs.
func sortResults(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		if results[i].DocDate != results[j].DocDate {
			return results[i].DocDate > results[j].DocDate
		}
		return results[i].DocID < results[j].DocID
	})
}

func cacheKey(ticker, kind, excludeDocID string) string {
	return fmt.Sprintf("hctx:%s:%s:%s", ticker, kind, excludeDocID)
}

func (b *Builder) fromCache(ticker, kind, excludeDocID string) *HybridContext {
	if b.cache == nil {
		return nil
	}
	var hc HybridContext
	hit, err := b.cache.Get(cacheKey(ticker, kind, excludeDocID), &hc)
	if err != nil || !hit {
		return nil
	}
	return &hc
}

func (b *Builder) toCache(ticker, kind, excludeDocID string, hc *HybridContext) {
	if b.cache == nil {
		return
	}
	if err := b.cache.Put(cacheKey(ticker, kind, excludeDocID), hc, b.cacheTTL); err != nil {
		b.log.Warn().Err(err).Msg("context cache write failed")
	}
}
