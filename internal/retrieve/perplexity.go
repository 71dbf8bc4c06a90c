package retrieve

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/intellimesh/internal/llm"
	"github.com/sells-group/intellimesh/internal/model"
	"github.com/sells-group/intellimesh/internal/resilience"
	"github.com/sells-group/intellimesh/pkg/perplexity"
)

const perplexitySearchPrompt = "Find up to %d authoritative web pages that answer the following question. Answer briefly and cite every page you used.\n\nQuestion: %s"

// PerplexitySearcher uses the pages a Perplexity completion cites as search
// results. The completion text itself is discarded.
type PerplexitySearcher struct {
	client    perplexity.Client
	limiter   *rate.Limiter
	breaker   *resilience.CircuitBreaker
	queryCost float64
}

// NewPerplexitySearch creates a PerplexitySearcher. limiter and breaker may
// be nil; queryCost is recorded on the run meter per request.
func NewPerplexitySearch(client perplexity.Client, limiter *rate.Limiter, breaker *resilience.CircuitBreaker, queryCost float64) *PerplexitySearcher {
	return &PerplexitySearcher{client: client, limiter: limiter, breaker: breaker, queryCost: queryCost}
}

// Search implements Searcher.
func (s *PerplexitySearcher) Search(ctx context.Context, query string, topK int) ([]model.Source, error) {
	if topK <= 0 {
		return nil, nil
	}

	resp, err := guarded(ctx, s.limiter, s.breaker, func(ctx context.Context) (*perplexity.ChatCompletionResponse, error) {
		return s.client.ChatCompletion(ctx, perplexity.UserPrompt(fmt.Sprintf(perplexitySearchPrompt, topK, query)))
	})
	if err != nil {
		return nil, eris.Wrap(err, "retrieve: perplexity search")
	}
	llm.MeterFrom(ctx).Record(resp.Usage.PromptTokens, resp.Usage.CompletionTokens, s.queryCost)

	var out []model.Source
	for _, sr := range resp.Sources() {
		out = append(out, model.Source{URL: sr.URL, Title: sr.Title, Snippet: sr.Snippet})
		if len(out) == topK {
			break
		}
	}
	return out, nil
}
