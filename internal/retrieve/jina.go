package retrieve

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/intellimesh/internal/model"
	"github.com/sells-group/intellimesh/internal/resilience"
	"github.com/sells-group/intellimesh/pkg/jina"
)

// JinaSearcher searches the web through Jina AI Search.
type JinaSearcher struct {
	client  jina.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
}

// NewJina creates a JinaSearcher. limiter and breaker may be nil.
func NewJina(client jina.Client, limiter *rate.Limiter, breaker *resilience.CircuitBreaker) *JinaSearcher {
	return &JinaSearcher{client: client, limiter: limiter, breaker: breaker}
}

// Search implements Searcher.
func (s *JinaSearcher) Search(ctx context.Context, query string, topK int) ([]model.Source, error) {
	if topK <= 0 {
		return nil, nil
	}

	resp, err := guarded(ctx, s.limiter, s.breaker, func(ctx context.Context) (*jina.SearchResponse, error) {
		return s.client.Search(ctx, query, jina.WithCount(topK))
	})
	if err != nil {
		return nil, eris.Wrap(err, "retrieve: jina search")
	}

	var out []model.Source
	for _, r := range resp.Data {
		if r.URL == "" {
			continue
		}
		snippet := r.Description
		if snippet == "" {
			snippet = r.Content
		}
		out = append(out, model.Source{URL: r.URL, Title: r.Title, Snippet: snippet})
		if len(out) == topK {
			break
		}
	}
	return out, nil
}
