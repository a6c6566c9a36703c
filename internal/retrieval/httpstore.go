package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPVectorStore talks to the indexer sidecar over its JSON API.
type HTTPVectorStore struct {
	baseURL string
	client  *http.Client
}

// NewHTTPVectorStore builds a client for the vector sidecar at baseURL,
// e.g. "http://127.0.0.1:8801".
func NewHTTPVectorStore(baseURL string) *HTTPVectorStore {
	return &HTTPVectorStore{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (s *HTTPVectorStore) EmbedDocument(ctx context.Context, path string) (*EmbedResult, error) {
	var out struct {
		DocID      string `json:"doc_id"`
		ChunkCount int    `json:"chunk_count"`
	}
	err := postJSON(ctx, s.client, s.baseURL+"/v1/embed", map[string]string{"path": path}, &out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVectorUnavailable, err)
	}
	return &EmbedResult{DocID: out.DocID, ChunkCount: out.ChunkCount}, nil
}

func (s *HTTPVectorStore) Search(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	req := map[string]any{
		"query":          q.Query,
		"ticker":         q.Ticker,
		"kind":           q.Kind,
		"exclude_doc_id": q.ExcludeDocID,
		"top_k":          q.TopK,
	}
	var out struct {
		Results []SearchResult `json:"results"`
	}
	if err := postJSON(ctx, s.client, s.baseURL+"/v1/search", req, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVectorUnavailable, err)
	}
	// The sidecar is asked to filter, but a stale index may still echo
	// the excluded id back.
	if q.ExcludeDocID == "" {
		return out.Results, nil
	}
	filtered := out.Results[:0]
	for _, r := range out.Results {
		if r.DocID != q.ExcludeDocID {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

// HTTPGraphStore talks to the graph sidecar over its JSON API.
type HTTPGraphStore struct {
	baseURL string
	client  *http.Client
}

func NewHTTPGraphStore(baseURL string) *HTTPGraphStore {
	return &HTTPGraphStore{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (s *HTTPGraphStore) ExtractDocument(ctx context.Context, path string, commit bool) (*ExtractResult, error) {
	var out struct {
		Entities  int `json:"entities"`
		Relations int `json:"relations"`
	}
	req := map[string]any{"path": path, "commit": commit}
	if err := postJSON(ctx, s.client, s.baseURL+"/v1/extract", req, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGraphUnavailable, err)
	}
	return &ExtractResult{Entities: out.Entities, Relations: out.Relations}, nil
}

func (s *HTTPGraphStore) GetTickerContext(ctx context.Context, ticker string) (*GraphContext, error) {
	var out GraphContext
	if err := getJSON(ctx, s.client, s.baseURL+"/v1/context/"+ticker, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGraphUnavailable, err)
	}
	return &out, nil
}

func (s *HTTPGraphStore) GetBiasWarnings(ctx context.Context, ticker string) ([]BiasWarning, error) {
	var out struct {
		Warnings []BiasWarning `json:"warnings"`
	}
	if err := getJSON(ctx, s.client, s.baseURL+"/v1/biases/"+ticker, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGraphUnavailable, err)
	}
	return out.Warnings, nil
}

func (s *HTTPGraphStore) GetStrategyRecommendations(ctx context.Context, ticker string) ([]StrategyStat, error) {
	var out struct {
		Strategies []StrategyStat `json:"strategies"`
	}
	if err := getJSON(ctx, s.client, s.baseURL+"/v1/strategies/"+ticker, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGraphUnavailable, err)
	}
	return out.Strategies, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, body, dest any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return doJSON(client, req, dest)
}

func getJSON(ctx context.Context, client *http.Client, url string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return doJSON(client, req, dest)
}

func doJSON(client *http.Client, req *http.Request, dest any) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}
