package retrieval

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

func newStoreBreaker(name string, log zerolog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("store breaker state change")
		},
	})
}

// BreakerVectorStore wraps a VectorStore with a circuit breaker so a
// dead store fails fast instead of burning the phase timeout on every
// call.
type BreakerVectorStore struct {
	inner VectorStore
	cb    *gobreaker.CircuitBreaker
}

// NewBreakerVectorStore wraps inner with a breaker that opens after
// three consecutive failures and probes again after 30 seconds.
func NewBreakerVectorStore(inner VectorStore, log zerolog.Logger) *BreakerVectorStore {
	return &BreakerVectorStore{
		inner: inner,
		cb:    newStoreBreaker("vector", log),
	}
}

func (s *BreakerVectorStore) EmbedDocument(ctx context.Context, path string) (*EmbedResult, error) {
	out, err := s.cb.Execute(func() (interface{}, error) {
		return s.inner.EmbedDocument(ctx, path)
	})
	if err != nil {
		return nil, breakerErr(err, ErrVectorUnavailable)
	}
	return out.(*EmbedResult), nil
}

func (s *BreakerVectorStore) Search(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	out, err := s.cb.Execute(func() (interface{}, error) {
		return s.inner.Search(ctx, q)
	})
	if err != nil {
		return nil, breakerErr(err, ErrVectorUnavailable)
	}
	return out.([]SearchResult), nil
}

// BreakerGraphStore wraps a GraphStore with a circuit breaker.
type BreakerGraphStore struct {
	inner GraphStore
	cb    *gobreaker.CircuitBreaker
}

func NewBreakerGraphStore(inner GraphStore, log zerolog.Logger) *BreakerGraphStore {
	return &BreakerGraphStore{
		inner: inner,
		cb:    newStoreBreaker("graph", log),
	}
}

func (s *BreakerGraphStore) ExtractDocument(ctx context.Context, path string, commit bool) (*ExtractResult, error) {
	out, err := s.cb.Execute(func() (interface{}, error) {
		return s.inner.ExtractDocument(ctx, path, commit)
	})
	if err != nil {
		return nil, breakerErr(err, ErrGraphUnavailable)
	}
	return out.(*ExtractResult), nil
}

func (s *BreakerGraphStore) GetTickerContext(ctx context.Context, ticker string) (*GraphContext, error) {
	out, err := s.cb.Execute(func() (interface{}, error) {
		return s.inner.GetTickerContext(ctx, ticker)
	})
	if err != nil {
		return nil, breakerErr(err, ErrGraphUnavailable)
	}
	return out.(*GraphContext), nil
}

func (s *BreakerGraphStore) GetBiasWarnings(ctx context.Context, ticker string) ([]BiasWarning, error) {
	out, err := s.cb.Execute(func() (interface{}, error) {
		return s.inner.GetBiasWarnings(ctx, ticker)
	})
	if err != nil {
		return nil, breakerErr(err, ErrGraphUnavailable)
	}
	return out.([]BiasWarning), nil
}

func (s *BreakerGraphStore) GetStrategyRecommendations(ctx context.Context, ticker string) ([]StrategyStat, error) {
	out, err := s.cb.Execute(func() (interface{}, error) {
		return s.inner.GetStrategyRecommendations(ctx, ticker)
	})
	if err != nil {
		return nil, breakerErr(err, ErrGraphUnavailable)
	}
	return out.([]StrategyStat), nil
}

// breakerErr maps open-breaker and too-many-requests errors onto the
// store's unavailable sentinel so callers treat a tripped breaker the
// same as a dead store.
func breakerErr(err, unavailable error) error {
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return unavailable
	}
	return err
}
