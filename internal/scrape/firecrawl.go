package scrape

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intellimesh/internal/model"
	"github.com/sells-group/intellimesh/internal/resilience"
	"github.com/sells-group/intellimesh/pkg/firecrawl"
)

// FirecrawlAdapter wraps a Firecrawl client as a Scraper for single-page scrapes.
type FirecrawlAdapter struct {
	client  firecrawl.Client
	breaker *resilience.CircuitBreaker
}

// NewFirecrawlAdapter creates a FirecrawlAdapter. breaker may be nil.
func NewFirecrawlAdapter(client firecrawl.Client, breaker *resilience.CircuitBreaker) *FirecrawlAdapter {
	return &FirecrawlAdapter{client: client, breaker: breaker}
}

// Name implements Scraper.
func (f *FirecrawlAdapter) Name() string { return "firecrawl" }

// Supports reports whether the adapter can be tried. Firecrawl handles any
// URL, so only an open breaker rules it out.
func (f *FirecrawlAdapter) Supports(_ string) bool {
	return f.breaker == nil || f.breaker.State() != resilience.CircuitOpen
}

// Scrape fetches a single URL via Firecrawl's scrape API.
func (f *FirecrawlAdapter) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	call := func(ctx context.Context) (*firecrawl.ScrapeResponse, error) {
		return f.client.Scrape(ctx, firecrawl.ScrapeRequest{
			URL:             targetURL,
			Formats:         []string{"markdown"},
			OnlyMainContent: true,
		})
	}

	var (
		resp *firecrawl.ScrapeResponse
		err  error
	)
	if f.breaker != nil {
		resp, err = resilience.ExecuteVal(ctx, f.breaker, call)
	} else {
		resp, err = call(ctx)
	}
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		if resp.Error != "" {
			return nil, eris.Errorf("firecrawl: scrape not successful: %s", resp.Error)
		}
		return nil, eris.New("firecrawl: scrape not successful")
	}

	url := resp.Data.Metadata.SourceURL
	if url == "" {
		url = targetURL
	}
	return &Result{
		Document: model.Document{
			URL:     url,
			Title:   resp.Data.Metadata.Title,
			Content: resp.Data.Markdown,
		},
		Source: "firecrawl",
	}, nil
}
