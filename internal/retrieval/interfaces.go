// Package retrieval builds the hybrid context that feeds the synthesis
// phase: similarity hits from the vector store, structural neighbors
// from the graph store, and bias/strategy history. Either store may be
// unavailable; the builder degrades instead of failing.
package retrieval

import (
	"context"
	"errors"
)

// ErrVectorUnavailable is returned by vector store implementations when
// the store cannot be reached.
var ErrVectorUnavailable = errors.New("vector store unavailable")

// ErrGraphUnavailable is returned by graph store implementations when
// the store cannot be reached.
var ErrGraphUnavailable = errors.New("graph store unavailable")

// SearchResult is one similarity hit from the vector store, enriched
// with the persisted analysis it came from when one exists.
type SearchResult struct {
	DocID        string  `json:"doc_id" msgpack:"doc_id"`
	FilePath     string  `json:"file_path" msgpack:"file_path"`
	DocType      string  `json:"doc_type" msgpack:"doc_type"`
	Ticker       string  `json:"ticker" msgpack:"ticker"`
	DocDate      string  `json:"doc_date" msgpack:"doc_date"`
	SectionLabel string  `json:"section_label" msgpack:"section_label"`
	Content      string  `json:"content" msgpack:"content"`
	Similarity   float64 `json:"similarity" msgpack:"similarity"`

	// Enrichment joined from persisted analysis results. "N/A" when no
	// result carries this doc id.
	Recommendation string `json:"recommendation" msgpack:"recommendation"`
	Confidence     string `json:"confidence" msgpack:"confidence"`
	AnalyzedAt     string `json:"analyzed_at" msgpack:"analyzed_at"`
}

// SearchQuery parameterizes a vector search.
type SearchQuery struct {
	Query        string
	Ticker       string
	Kind         string
	ExcludeDocID string
	TopK         int
}

// EmbedResult is the outcome of embedding a document.
type EmbedResult struct {
	DocID      string
	ChunkCount int
}

// VectorStore is the similarity side of retrieval.
// Implementations return ErrVectorUnavailable on any reachability
// failure; callers never see partial results with an error.
type VectorStore interface {
	EmbedDocument(ctx context.Context, path string) (*EmbedResult, error)
	Search(ctx context.Context, q SearchQuery) ([]SearchResult, error)
}

// StrategyStat is one strategy with its historical performance.
type StrategyStat struct {
	Name    string  `json:"name" msgpack:"name"`
	WinRate float64 `json:"win_rate" msgpack:"win_rate"`
	Sample  int     `json:"sample" msgpack:"sample"`
}

// GraphContext is the structural neighborhood of a ticker. Empty when
// the graph knows nothing about the ticker.
type GraphContext struct {
	Peers      []string       `json:"peers,omitempty" msgpack:"peers"`
	Risks      []string       `json:"risks,omitempty" msgpack:"risks"`
	Strategies []StrategyStat `json:"strategies,omitempty" msgpack:"strategies"`
}

// Empty reports whether the graph returned no usable context. Only
// peers and risks count; strategy stats alone are not graph data even
// though they still render in the formatted context.
func (g *GraphContext) Empty() bool {
	return g == nil || (len(g.Peers) == 0 && len(g.Risks) == 0)
}

// BiasWarning is one recorded decision bias for a ticker or globally.
type BiasWarning struct {
	Bias           string `json:"bias" msgpack:"bias"`
	Occurrences    int    `json:"occurrences" msgpack:"occurrences"`
	LastImpact     string `json:"last_impact" msgpack:"last_impact"`
	TickerSpecific bool   `json:"ticker_specific" msgpack:"ticker_specific"`
}

// ExtractResult is the outcome of graph entity extraction.
type ExtractResult struct {
	Entities  int
	Relations int
}

// GraphStore is the structural side of retrieval.
// Implementations return ErrGraphUnavailable on reachability failures.
type GraphStore interface {
	ExtractDocument(ctx context.Context, path string, commit bool) (*ExtractResult, error)
	GetTickerContext(ctx context.Context, ticker string) (*GraphContext, error)
	GetBiasWarnings(ctx context.Context, ticker string) ([]BiasWarning, error)
	GetStrategyRecommendations(ctx context.Context, ticker string) ([]StrategyStat, error)
}
