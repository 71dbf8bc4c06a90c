package retrieve

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/intellimesh/internal/llm"
	"github.com/sells-group/intellimesh/internal/model"
	"github.com/sells-group/intellimesh/internal/resilience"
	"github.com/sells-group/intellimesh/pkg/serper"
)

// SerperSearcher searches Google through Serper.
type SerperSearcher struct {
	client  serper.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker

	// QueryCost is recorded on the run meter for each successful search.
	QueryCost float64
}

// NewSerper creates a SerperSearcher. limiter and breaker may be nil.
func NewSerper(client serper.Client, limiter *rate.Limiter, breaker *resilience.CircuitBreaker) *SerperSearcher {
	return &SerperSearcher{client: client, limiter: limiter, breaker: breaker}
}

// Search implements Searcher.
func (s *SerperSearcher) Search(ctx context.Context, query string, topK int) ([]model.Source, error) {
	if topK <= 0 {
		return nil, nil
	}

	resp, err := guarded(ctx, s.limiter, s.breaker, func(ctx context.Context) (*serper.SearchResponse, error) {
		return s.client.Search(ctx, serper.SearchRequest{Query: query, Num: topK})
	})
	if err != nil {
		return nil, eris.Wrap(err, "retrieve: serper search")
	}
	llm.MeterFrom(ctx).Spend(s.QueryCost)

	var out []model.Source
	for _, o := range resp.Organic {
		if o.Link == "" {
			continue
		}
		out = append(out, model.Source{URL: o.Link, Title: o.Title, Snippet: o.Snippet})
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

func guarded[T any](ctx context.Context, limiter *rate.Limiter, cb *resilience.CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			var zero T
			return zero, eris.Wrap(err, "rate limiter wait")
		}
	}
	if cb == nil {
		return fn(ctx)
	}
	return resilience.ExecuteVal(ctx, cb, fn)
}
