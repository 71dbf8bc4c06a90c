package scrape

import (
	"context"

	"github.com/sells-group/intellimesh/internal/model"
)

// Result holds a scraped document with the scraper that produced it.
type Result struct {
	Document model.Document
	Source   string // e.g. "local_http", "jina", "firecrawl"
}

// Scraper fetches a single URL and returns its text content.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*Result, error)
	Name() string
	Supports(url string) bool
}
