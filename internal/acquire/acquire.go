// Package acquire turns candidate sources into readable documents, backfilling
// from the search provider until enough pages survive the quality gates.
package acquire

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intellimesh/internal/config"
	"github.com/sells-group/intellimesh/internal/model"
	"github.com/sells-group/intellimesh/internal/runlog"
)

// Fetcher returns the text of a single URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (model.Document, error)
}

// Resupplier returns count fresh candidates for query.
type Resupplier interface {
	Resupply(ctx context.Context, query string, count int) ([]model.Source, error)
}

// ResupplyFunc adapts a function to the Resupplier interface.
type ResupplyFunc func(ctx context.Context, query string, count int) ([]model.Source, error)

// Resupply calls f.
func (f ResupplyFunc) Resupply(ctx context.Context, query string, count int) ([]model.Source, error) {
	return f(ctx, query, count)
}

// Options bounds the acquisition loop.
type Options struct {
	TargetCount      int
	MaxRounds        int
	MinContentLength int
	// ResupplyBase is added to the round index to scale each resupply request.
	ResupplyBase int
	BlockMarkers []string
}

// OptionsFromConfig converts the acquire section of the application config.
func OptionsFromConfig(c config.AcquireConfig) Options {
	markers := c.BlockMarkers
	if len(markers) == 0 {
		markers = config.DefaultBlockMarkers
	}
	return Options{
		TargetCount:      c.TargetCount,
		MaxRounds:        c.MaxRounds,
		MinContentLength: c.MinContentLength,
		ResupplyBase:     c.ResupplyBase,
		BlockMarkers:     markers,
	}
}

// Acquirer fetches candidates round by round. It is not safe for concurrent
// use by multiple runs; build one per run.
type Acquirer struct {
	fetcher Fetcher
	opts    Options
	log     runlog.Sink
}

// New creates an Acquirer that writes progress to log.
func New(fetcher Fetcher, opts Options, log runlog.Sink) *Acquirer {
	if opts.ResupplyBase <= 0 {
		opts.ResupplyBase = 2
	}
	if log == nil {
		log = runlog.Discard{}
	}
	return &Acquirer{fetcher: fetcher, opts: opts, log: log}
}

// Acquire fetches candidates until TargetCount documents pass the quality
// gates or MaxRounds rounds have run. No URL is fetched twice. A short
// result is not an error. Context cancellation and resupply failures are
// returned along with the documents gathered so far.
func (a *Acquirer) Acquire(ctx context.Context, candidates []model.Source, resupply Resupplier, query string) ([]model.Document, error) {
	var results []model.Document
	attempted := make(map[string]struct{})

	for round := 0; len(results) < a.opts.TargetCount && round < a.opts.MaxRounds; round++ {
		a.logf("Scraper: Attempt %d, %d results so far", round+1, len(results))

		for _, src := range candidates {
			if err := ctx.Err(); err != nil {
				return results, err
			}
			if _, seen := attempted[src.URL]; seen {
				continue
			}
			attempted[src.URL] = struct{}{}

			if doc, ok := a.fetch(ctx, src); ok {
				results = append(results, doc)
			}
		}

		if len(results) >= a.opts.TargetCount || round == a.opts.MaxRounds-1 || resupply == nil {
			continue
		}

		deficit := a.opts.TargetCount - len(results)
		a.logf("Scraper: Fetching %d more URLs from retriever...", deficit)
		next, err := resupply.Resupply(ctx, query, deficit*(round+a.opts.ResupplyBase))
		if err != nil {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			a.logf("Scraper: Resupply failed: %v", err)
			return results, eris.Wrap(err, "acquire: resupply")
		}
		candidates = next
	}

	a.logf("Scraper: Final scraped results: %d", len(results))
	return results, nil
}

// fetch retrieves one candidate and applies the block and length gates.
func (a *Acquirer) fetch(ctx context.Context, src model.Source) (model.Document, bool) {
	a.logf("Scraper: Scraping %s", src.URL)

	doc, err := a.fetcher.Fetch(ctx, src.URL)
	if err != nil {
		a.logf("Scraper: Exception scraping %s: %v", src.URL, err)
		return model.Document{}, false
	}

	content := doc.Content
	length := utf8.RuneCountInString(content)
	a.logf("Scraper: Content length %d", length)

	if a.blocked(content) {
		a.logf("Scraper: Blocked or JS required for %s", src.URL)
		return model.Document{}, false
	}
	if length < a.opts.MinContentLength || strings.TrimSpace(content) == "" {
		a.logf("Scraper: Content too short for %s", src.URL)
		return model.Document{}, false
	}

	title := src.Title
	if title == "" {
		title = doc.Title
	}
	return model.Document{URL: src.URL, Title: title, Content: content}, true
}

func (a *Acquirer) blocked(content string) bool {
	for _, m := range a.opts.BlockMarkers {
		if m != "" && strings.Contains(content, m) {
			return true
		}
	}
	return false
}

func (a *Acquirer) logf(format string, args ...any) {
	a.log.Write(fmt.Sprintf(format, args...))
}
