// Package synth turns indexed passages into a cited answer.
package synth

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intellimesh/internal/config"
	"github.com/sells-group/intellimesh/internal/llm"
	"github.com/sells-group/intellimesh/internal/model"
	"github.com/sells-group/intellimesh/internal/runlog"
)

// NoInformation is returned when the index yields no passages.
const NoInformation = "No relevant information could be found for this query."

const answerMarker = "Answer:"

const researchPrompt = "Using only the context below, write a nuanced and engaging summary answering the question. " +
	"Explain how the topic is changing research practice, giving concrete examples where possible. " +
	"Discuss both the benefits and the most pressing challenges, making connections between them. " +
	"Write in a clear, professional, but lively style as if for a research newsletter. " +
	"Do not list sources; they are appended separately.\n\n" +
	"Context:\n%s\n\n" +
	"Question: %s\n" +
	"Answer:"

const generalPrompt = "Using only the context below, write a clear, engaging, and accurate summary answering the question. " +
	"Focus on the main facts, insights, and relevant details. " +
	"Do not list sources; they are appended separately.\n\n" +
	"Context:\n%s\n\n" +
	"Question: %s\n" +
	"Answer:"

var (
	noteLine       = regexp.MustCompile(`(?im)^[ \t]*Note:[^\n]*(?:\n|$)`)
	repeatSummary  = regexp.MustCompile(`(?is)(\nSummary:.*?)(\nSummary:)`)
	sourcesSection = regexp.MustCompile(`(?is)(?:^|\n)[#*\s]*Sources:.*$`)
	blankRuns      = regexp.MustCompile(`\n{3,}`)
)

// Querier returns the passages most relevant to a text.
type Querier interface {
	Query(ctx context.Context, text string) ([]model.Passage, error)
}

// Synthesizer answers a query from an index using a completion service.
type Synthesizer struct {
	llm      llm.Completer
	research *regexp.Regexp
	log      runlog.Sink
}

// New creates a Synthesizer. Keywords select the research prompt register
// when any of them occurs in the query as a whole word; nil keywords use the
// configured defaults.
func New(c llm.Completer, keywords []string, log runlog.Sink) *Synthesizer {
	if keywords == nil {
		keywords = config.DefaultResearchKeywords
	}
	if log == nil {
		log = runlog.Discard{}
	}
	return &Synthesizer{llm: c, research: keywordPattern(keywords), log: log}
}

// Synthesize queries idx for query and asks the model for an answer built
// only from the returned passages. The answer ends with the deduplicated
// sources of those passages.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, idx Querier) (string, error) {
	passages, err := idx.Query(ctx, query)
	if err != nil {
		return "", eris.Wrap(err, "synth: query index")
	}
	if len(passages) == 0 {
		s.log.Write("Synthesizer: No passages found.")
		return NoInformation, nil
	}

	s.log.Write(fmt.Sprintf("Synthesizer: Synthesizing answer from %d passages.", len(passages)))

	var buf strings.Builder
	cited := newCitations()
	for _, p := range passages {
		cited.add(p.URL, p.Title)
		buf.WriteString(p.Content)
		buf.WriteString("\n\n")
	}

	resp, err := s.llm.Complete(ctx, s.Prompt(query, buf.String()))
	if err != nil {
		return "", eris.Wrap(err, "synth: complete")
	}

	answer := Clean(resp)
	if !cited.empty() {
		answer += "\n\nSources:\n" + cited.String()
	}
	return answer, nil
}

// Research reports whether query selects the research prompt register.
func (s *Synthesizer) Research(query string) bool {
	return s.research != nil && s.research.MatchString(query)
}

// Prompt renders the completion prompt for query over the passage text body.
func (s *Synthesizer) Prompt(query, body string) string {
	tmpl := generalPrompt
	if s.Research(query) {
		tmpl = researchPrompt
	}
	return fmt.Sprintf(tmpl, body, query)
}

// Clean strips the preamble before the answer marker, note lines, repeated
// summaries and any model-written sources section.
func Clean(resp string) string {
	answer := resp
	if _, after, ok := strings.Cut(answer, answerMarker); ok {
		answer = strings.TrimSpace(after)
	}
	answer = noteLine.ReplaceAllString(answer, "")
	answer = repeatSummary.ReplaceAllString(answer, "${2}")
	answer = sourcesSection.ReplaceAllString(answer, "")
	answer = blankRuns.ReplaceAllString(answer, "\n\n")
	return strings.TrimSpace(answer)
}

func keywordPattern(keywords []string) *regexp.Regexp {
	var quoted []string
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			quoted = append(quoted, regexp.QuoteMeta(strings.ToLower(k)))
		}
	}
	if len(quoted) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

// citations keeps url to title in first-seen order.
type citations struct {
	order  []string
	titles map[string]string
}

func newCitations() *citations {
	return &citations{titles: make(map[string]string)}
}

func (c *citations) add(url, title string) {
	if url == "" {
		return
	}
	if _, ok := c.titles[url]; ok {
		return
	}
	if title == "" {
		title = url
	}
	c.titles[url] = title
	c.order = append(c.order, url)
}

func (c *citations) empty() bool { return len(c.order) == 0 }

func (c *citations) String() string {
	lines := make([]string, len(c.order))
	for i, url := range c.order {
		lines[i] = fmt.Sprintf("- [%s](%s)", c.titles[url], url)
	}
	return strings.Join(lines, "\n")
}
