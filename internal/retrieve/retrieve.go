// Package retrieve turns a query into candidate sources via a web search provider.
package retrieve

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/intellimesh/internal/config"
	"github.com/sells-group/intellimesh/internal/cost"
	"github.com/sells-group/intellimesh/internal/model"
	"github.com/sells-group/intellimesh/internal/resilience"
	"github.com/sells-group/intellimesh/internal/runlog"
	"github.com/sells-group/intellimesh/pkg/jina"
	"github.com/sells-group/intellimesh/pkg/perplexity"
	"github.com/sells-group/intellimesh/pkg/serper"
)

// Searcher runs a web search. Zero results is not an error.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]model.Source, error)
}

// SearchFunc adapts a function to the Searcher interface.
type SearchFunc func(ctx context.Context, query string, topK int) ([]model.Source, error)

// Search calls f.
func (f SearchFunc) Search(ctx context.Context, query string, topK int) ([]model.Source, error) {
	return f(ctx, query, topK)
}

// NewSearcher builds the searcher selected by cfg.Search.Provider.
func NewSearcher(cfg *config.Config, breakers *resilience.Breakers) (Searcher, error) {
	limit := rate.Limit(cfg.Search.RateLimit)
	if limit <= 0 {
		limit = rate.Inf
	}
	limiter := rate.NewLimiter(limit, 1)
	calc := cost.NewCalculator(cost.RatesFromConfig(cfg.Pricing))

	switch cfg.Search.Provider {
	case "", "serper":
		var opts []serper.Option
		if cfg.Serper.BaseURL != "" {
			opts = append(opts, serper.WithBaseURL(cfg.Serper.BaseURL))
		}
		s := NewSerper(serper.NewClient(cfg.Serper.Key, opts...), limiter, breakers.Get("serper"))
		s.QueryCost = calc.SerperQuery()
		return s, nil
	case "perplexity":
		var opts []perplexity.Option
		if cfg.Perplexity.BaseURL != "" {
			opts = append(opts, perplexity.WithBaseURL(cfg.Perplexity.BaseURL))
		}
		if cfg.Perplexity.Model != "" {
			opts = append(opts, perplexity.WithModel(cfg.Perplexity.Model))
		}
		client := perplexity.NewClient(cfg.Perplexity.Key, opts...)
		return NewPerplexitySearch(client, limiter, breakers.Get("perplexity_search"), calc.PerplexityQuery()), nil
	case "jina":
		var opts []jina.Option
		if cfg.Jina.BaseURL != "" {
			opts = append(opts, jina.WithBaseURL(cfg.Jina.BaseURL))
		}
		if cfg.Jina.SearchBaseURL != "" {
			opts = append(opts, jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL))
		}
		return NewJina(jina.NewClient(cfg.Jina.Key, opts...), limiter, breakers.Get("jina_search")), nil
	default:
		return nil, eris.Errorf("retrieve: unknown search provider %q", cfg.Search.Provider)
	}
}

// Retriever binds a Searcher to a run log.
type Retriever struct {
	searcher Searcher
	topK     int
	log      runlog.Sink
}

// NewRetriever creates a Retriever returning up to topK sources per query.
func NewRetriever(s Searcher, topK int, log runlog.Sink) *Retriever {
	if log == nil {
		log = runlog.Discard{}
	}
	return &Retriever{searcher: s, topK: topK, log: log}
}

// Retrieve returns the initial candidate set for query.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]model.Source, error) {
	return r.search(ctx, query, r.topK)
}

// Resupply fetches count fresh candidates for the acquisition loop.
func (r *Retriever) Resupply(ctx context.Context, query string, count int) ([]model.Source, error) {
	return r.search(ctx, query, count)
}

func (r *Retriever) search(ctx context.Context, query string, topK int) ([]model.Source, error) {
	r.log.Write(fmt.Sprintf("Retriever: Searching for '%s'", query))
	sources, err := r.searcher.Search(ctx, query, topK)
	if err != nil {
		return nil, eris.Wrap(err, "retrieve: search")
	}
	r.log.Write(fmt.Sprintf("Retriever: Found %d URLs", len(sources)))
	return sources, nil
}
