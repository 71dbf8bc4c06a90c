// Package scrape fetches web pages as text through a chain of scrapers,
// falling back from a local fetch to hosted readers.
package scrape

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intellimesh/internal/config"
	"github.com/sells-group/intellimesh/internal/cost"
	"github.com/sells-group/intellimesh/internal/model"
	"github.com/sells-group/intellimesh/internal/resilience"
	"github.com/sells-group/intellimesh/pkg/firecrawl"
	"github.com/sells-group/intellimesh/pkg/jina"
)

// Chain tries scrapers in priority order, returning the first success.
type Chain struct {
	PathMatcher *PathMatcher
	scrapers    []Scraper
}

// NewChain creates a Chain with the given path matcher and scrapers.
// Scrapers are tried in order; the first successful result is returned.
func NewChain(matcher *PathMatcher, scrapers ...Scraper) *Chain {
	if matcher == nil {
		matcher = NewPathMatcher(nil)
	}
	return &Chain{
		PathMatcher: matcher,
		scrapers:    scrapers,
	}
}

// NewChainFromConfig builds the chain named by cfg.Scrape.Chain. Hosted
// scrapers without an API key are left out.
func NewChainFromConfig(cfg *config.Config, breakers *resilience.Breakers) (*Chain, error) {
	calc := cost.NewCalculator(cost.RatesFromConfig(cfg.Pricing))
	var scrapers []Scraper
	for _, name := range cfg.Scrape.Chain {
		switch name {
		case "local":
			scrapers = append(scrapers, NewLocalScraper(LocalOptions{
				UserAgent:    cfg.Scrape.UserAgent,
				Timeout:      time.Duration(cfg.Scrape.TimeoutSecs) * time.Second,
				MaxBodyBytes: cfg.Scrape.MaxBodyBytes,
			}))
		case "jina":
			if cfg.Jina.Key == "" {
				continue
			}
			var opts []jina.Option
			if cfg.Jina.BaseURL != "" {
				opts = append(opts, jina.WithBaseURL(cfg.Jina.BaseURL))
			}
			reader := NewJinaAdapter(jina.NewClient(cfg.Jina.Key, opts...), breakers.Get("jina_reader"))
			reader.TokenCost = calc.Jina
			scrapers = append(scrapers, reader)
		case "firecrawl":
			if cfg.Firecrawl.Key == "" {
				continue
			}
			var opts []firecrawl.Option
			if cfg.Firecrawl.BaseURL != "" {
				opts = append(opts, firecrawl.WithBaseURL(cfg.Firecrawl.BaseURL))
			}
			scrapers = append(scrapers, NewFirecrawlAdapter(firecrawl.NewClient(cfg.Firecrawl.Key, opts...), breakers.Get("firecrawl")))
		default:
			return nil, eris.Errorf("scrape: unknown scraper %q", name)
		}
	}
	if len(scrapers) == 0 {
		return nil, eris.New("scrape: no scrapers configured")
	}
	return NewChain(NewPathMatcher(cfg.Scrape.ExcludePatterns), scrapers...), nil
}

// Scrape tries each scraper in order for a single URL.
// Returns the first successful result, or an error if all fail.
func (c *Chain) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	if c.PathMatcher.IsExcluded(targetURL) {
		return nil, eris.Errorf("scrape: url excluded by path matcher: %s", targetURL)
	}

	var lastErr error
	for _, s := range c.scrapers {
		if !s.Supports(targetURL) {
			continue
		}
		result, err := s.Scrape(ctx, targetURL)
		if err == nil && result != nil {
			return result, nil
		}
		if err != nil {
			zap.L().Debug("scrape: scraper failed, trying next",
				zap.String("scraper", s.Name()),
				zap.String("url", targetURL),
				zap.Error(err),
			)
			lastErr = err
		}
	}
	if lastErr != nil {
		return nil, eris.Wrap(lastErr, "scrape: all scrapers failed")
	}
	return nil, eris.Errorf("scrape: no suitable scraper for url: %s", targetURL)
}

// Fetch returns the text of targetURL as a Document.
func (c *Chain) Fetch(ctx context.Context, targetURL string) (model.Document, error) {
	res, err := c.Scrape(ctx, targetURL)
	if err != nil {
		return model.Document{}, err
	}
	return res.Document, nil
}
