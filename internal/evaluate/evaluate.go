// Package evaluate filters, deduplicates and ranks candidate sources so the
// most relevant and most trusted ones reach the index.
package evaluate

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/sells-group/intellimesh/internal/config"
	"github.com/sells-group/intellimesh/internal/runlog"
)

// Item is anything with a locator and a text body, such as a search result
// or a fetched document.
type Item interface {
	Locator() string
	Body() string
}

// Options controls filtering and selection.
type Options struct {
	MinLength      int
	TopK           int
	TrustedDomains []string
}

// OptionsFromConfig converts the evaluate section of the application config.
func OptionsFromConfig(c config.EvaluateConfig) Options {
	trusted := c.TrustedDomains
	if len(trusted) == 0 {
		trusted = config.DefaultTrustedDomains
	}
	return Options{MinLength: c.MinLength, TopK: c.TopK, TrustedDomains: trusted}
}

// Evaluate returns at most opts.TopK items from in. Items whose trimmed body
// is shorter than MinLength are dropped, then duplicates by non-empty
// locator. When query is non-empty the rest are stable-sorted by how many
// distinct query words their body contains. Trusted items are selected
// before the others, each group keeping its ranked order.
func Evaluate[T Item](in []T, query string, opts Options, log runlog.Sink) []T {
	if log == nil {
		log = runlog.Discard{}
	}

	filtered := make([]T, 0, len(in))
	for _, it := range in {
		if utf8.RuneCountInString(strings.TrimSpace(it.Body())) >= opts.MinLength {
			filtered = append(filtered, it)
			continue
		}
		log.Write(fmt.Sprintf("Evaluator: Skipping short content from %s", it.Locator()))
	}

	seen := make(map[string]struct{}, len(filtered))
	deduped := make([]T, 0, len(filtered))
	for _, it := range filtered {
		loc := it.Locator()
		if loc == "" {
			deduped = append(deduped, it)
			continue
		}
		if _, dup := seen[loc]; dup {
			continue
		}
		seen[loc] = struct{}{}
		deduped = append(deduped, it)
	}

	if query != "" {
		words := queryWords(query)
		type scored struct {
			item  T
			score int
		}
		ranked := make([]scored, len(deduped))
		for i, it := range deduped {
			ranked[i] = scored{item: it, score: relevance(strings.ToLower(it.Body()), words)}
		}
		slices.SortStableFunc(ranked, func(a, b scored) int { return b.score - a.score })
		for i, r := range ranked {
			deduped[i] = r.item
		}
	}

	var trusted, others []T
	for _, it := range deduped {
		if isTrusted(it.Locator(), opts.TrustedDomains) {
			trusted = append(trusted, it)
		} else {
			others = append(others, it)
		}
	}

	final := make([]T, 0, max(0, min(opts.TopK, len(deduped))))
	for _, group := range [][]T{trusted, others} {
		for _, it := range group {
			if len(final) >= opts.TopK {
				break
			}
			final = append(final, it)
		}
	}

	log.Write(fmt.Sprintf("Evaluator: Selected %d sources (trusted: %d) out of %d input sources.",
		len(final), len(trusted), len(in)))
	return final
}

// queryWords returns the distinct lowercase whitespace-separated words of q.
func queryWords(q string) []string {
	var words []string
	seen := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(q)) {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		words = append(words, w)
	}
	return words
}

func relevance(body string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(body, w) {
			n++
		}
	}
	return n
}

func isTrusted(loc string, domains []string) bool {
	for _, d := range domains {
		if d != "" && strings.Contains(loc, d) {
			return true
		}
	}
	return false
}
