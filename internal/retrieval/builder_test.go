package retrieval

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhalvorsen/lookout/internal/modules/runs"
)

type stubVectorStore struct {
	results []SearchResult
	err     error
	lastQ   SearchQuery
}

func (s *stubVectorStore) EmbedDocument(ctx context.Context, path string) (*EmbedResult, error) {
	return &EmbedResult{DocID: "stub-doc", ChunkCount: 1}, nil
}

func (s *stubVectorStore) Search(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	s.lastQ = q
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

type stubGraphStore struct {
	ctx        *GraphContext
	warnings   []BiasWarning
	strategies []StrategyStat
	err        error
}

func (s *stubGraphStore) ExtractDocument(ctx context.Context, path string, commit bool) (*ExtractResult, error) {
	return &ExtractResult{Entities: 1, Relations: 1}, nil
}

func (s *stubGraphStore) GetTickerContext(ctx context.Context, ticker string) (*GraphContext, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.ctx, nil
}

func (s *stubGraphStore) GetBiasWarnings(ctx context.Context, ticker string) ([]BiasWarning, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.warnings, nil
}

func (s *stubGraphStore) GetStrategyRecommendations(ctx context.Context, ticker string) ([]StrategyStat, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.strategies, nil
}

type stubEnricher struct {
	byDoc map[string]runs.Enrichment
}

func (s *stubEnricher) EnrichByDocIDs(docIDs []string) (map[string]runs.Enrichment, error) {
	out := make(map[string]runs.Enrichment)
	for _, id := range docIDs {
		if e, ok := s.byDoc[id]; ok {
			out[id] = e
		}
	}
	return out, nil
}

func newTestBuilder(v VectorStore, g GraphStore, e Enricher) *Builder {
	return NewBuilder(v, g, e, nil, zerolog.Nop())
}

func TestBuildFirstAnalysis(t *testing.T) {
	b := newTestBuilder(&stubVectorStore{}, &stubGraphStore{}, &stubEnricher{})

	hc, err := b.Build(context.Background(), "NVDA", "NVDA outlook", "stock", "")
	require.NoError(t, err)

	assert.True(t, hc.IsFirstAnalysis)
	assert.False(t, hc.HasHistory)
	assert.False(t, hc.HasGraphData)
	assert.Equal(t, 0, hc.HistoryCount)
	assert.Empty(t, hc.VectorResults)
}

func TestBuildWithHistoryAndGraph(t *testing.T) {
	vector := &stubVectorStore{results: []SearchResult{
		{DocID: "NVDA_stock_20260810T0930", DocDate: "2026-08-10", Similarity: 0.91},
		{DocID: "NVDA_stock_20260801T0930", DocDate: "2026-08-01", Similarity: 0.84},
	}}
	graph := &stubGraphStore{
		ctx:      &GraphContext{Peers: []string{"AMD", "INTC"}},
		warnings: []BiasWarning{{Bias: "loss-aversion", Occurrences: 2}},
	}
	enricher := &stubEnricher{byDoc: map[string]runs.Enrichment{
		"NVDA_stock_20260810T0930": {Recommendation: "BUY", Confidence: 80},
	}}

	b := newTestBuilder(vector, graph, enricher)
	hc, err := b.Build(context.Background(), "NVDA", "NVDA outlook", "stock", "")
	require.NoError(t, err)

	assert.True(t, hc.HasHistory)
	assert.Equal(t, 2, hc.HistoryCount)
	assert.True(t, hc.HasGraphData)
	assert.False(t, hc.IsFirstAnalysis)

	// Enriched hit carries the persisted values; the other falls back
	// to "N/A".
	assert.Equal(t, "BUY", hc.VectorResults[0].Recommendation)
	assert.Equal(t, "80", hc.VectorResults[0].Confidence)
	assert.Equal(t, "N/A", hc.VectorResults[1].Recommendation)
	assert.Equal(t, "N/A", hc.VectorResults[1].Confidence)
}

func TestGraphContextEmptyIgnoresStrategies(t *testing.T) {
	var nilCtx *GraphContext
	assert.True(t, nilCtx.Empty())
	assert.True(t, (&GraphContext{}).Empty())

	// Strategy stats alone are not graph data.
	strategiesOnly := &GraphContext{Strategies: []StrategyStat{{Name: "momentum", WinRate: 0.6, Sample: 12}}}
	assert.True(t, strategiesOnly.Empty())

	assert.False(t, (&GraphContext{Peers: []string{"AMD"}}).Empty())
	assert.False(t, (&GraphContext{Risks: []string{"export controls"}}).Empty())

	graph := &stubGraphStore{ctx: strategiesOnly}
	b := newTestBuilder(&stubVectorStore{}, graph, &stubEnricher{})
	hc, err := b.Build(context.Background(), "NVDA", "NVDA outlook", "stock", "")
	require.NoError(t, err)
	assert.False(t, hc.HasGraphData)
	assert.True(t, hc.IsFirstAnalysis)
}

func TestBuildBothStoresDown(t *testing.T) {
	b := newTestBuilder(
		&stubVectorStore{err: ErrVectorUnavailable},
		&stubGraphStore{err: ErrGraphUnavailable},
		&stubEnricher{},
	)

	hc, err := b.Build(context.Background(), "AAPL", "AAPL outlook", "stock", "")
	require.NoError(t, err)

	assert.True(t, hc.IsFirstAnalysis)
	assert.NotNil(t, hc.VectorResults)
	assert.NotNil(t, hc.BiasWarnings)
}

func TestBuildPassesExcludeDocID(t *testing.T) {
	vector := &stubVectorStore{}
	b := newTestBuilder(vector, &stubGraphStore{}, &stubEnricher{})

	_, err := b.Build(context.Background(), "AAPL", "q", "stock", "AAPL_stock_20260826T0930")
	require.NoError(t, err)
	assert.Equal(t, "AAPL_stock_20260826T0930", vector.lastQ.ExcludeDocID)
	assert.Equal(t, defaultTopK, vector.lastQ.TopK)
}

func TestSortResultsDeterministic(t *testing.T) {
	results := []SearchResult{
		{DocID: "b", DocDate: "2026-08-01", Similarity: 0.8},
		{DocID: "a", DocDate: "2026-08-01", Similarity: 0.8},
		{DocID: "c", DocDate: "2026-08-10", Similarity: 0.8},
		{DocID: "d", DocDate: "2026-07-01", Similarity: 0.95},
	}
	sortResults(results)

	ids := []string{results[0].DocID, results[1].DocID, results[2].DocID, results[3].DocID}
	assert.Equal(t, []string{"d", "c", "a", "b"}, ids)
}

func TestFormatMarkdownFirstAnalysis(t *testing.T) {
	out := FormatMarkdown(&HybridContext{Ticker: "NVDA", IsFirstAnalysis: true})
	assert.Contains(t, out, "first analysis of NVDA")
}

func TestFormatMarkdownSections(t *testing.T) {
	hc := &HybridContext{
		Ticker:       "NVDA",
		HasHistory:   true,
		HistoryCount: 2,
		VectorResults: []SearchResult{
			{DocID: "NVDA_stock_20260810T0930", DocDate: "2026-08-10", Similarity: 0.9, Recommendation: "BUY", Confidence: "80"},
			{DocID: "NVDA_stock_20260801T0930", DocDate: "2026-08-01", Similarity: 0.8, Recommendation: "WAIT", Confidence: "60"},
		},
		Graph:        &GraphContext{Peers: []string{"AMD"}},
		HasGraphData: true,
		BiasWarnings: []BiasWarning{{Bias: "recency", Occurrences: 1, TickerSpecific: true}},
		Strategies:   []StrategyStat{{Name: "put-spread", WinRate: 0.7, Sample: 10}},
	}
	out := FormatMarkdown(hc)

	assert.Contains(t, out, "### Prior Analyses (2)")
	assert.Contains(t, out, "### Graph Context")
	assert.Contains(t, out, "### Bias Warnings")
	assert.Contains(t, out, "### Strategy Performance")
	assert.Contains(t, out, "mean 70.0")
	// Deterministic: rendering twice yields the same text.
	assert.Equal(t, out, FormatMarkdown(hc))
	assert.True(t, strings.HasPrefix(out, "## Historical Context"))
}
