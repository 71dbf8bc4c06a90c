// Package planner picks the pipeline shape for a research request.
package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intellimesh/internal/llm"
	"github.com/sells-group/intellimesh/internal/model"
)

// DocumentReason is the reason given when an uploaded document forces flow 3.
const DocumentReason = "User uploaded a PDF. Using PDF chunking flow."

// fallbackResponse stands in for the model when no completer is configured.
const fallbackResponse = "2: Default to most robust pipeline."

const promptTemplate = `Given the user query: "%s", pick a task pipeline from:
1. Retrieve > Scrape > Synthesize
2. Retrieve > Scrape > Evaluate > Synthesize
3. Load PDF > Chunk > Synthesize
Just return the flow number and a one-line reason.`

// Planner asks a completion model which flow fits a query.
type Planner struct {
	llm llm.Completer
}

// New creates a Planner. A nil completer always yields the default flow.
func New(c llm.Completer) *Planner {
	return &Planner{llm: c}
}

// Prompt renders the planning prompt for query.
func Prompt(query string) string {
	return fmt.Sprintf(promptTemplate, query)
}

// Decide returns the flow for query. An uploaded document always selects the
// document flow without consulting the model. A completion error is returned
// to the caller; a malformed completion falls back to the default flow.
func (p *Planner) Decide(ctx context.Context, query string, documentUploaded bool) (model.Decision, error) {
	if documentUploaded {
		return model.Decision{Flow: model.FlowDocument, Reason: DocumentReason}, nil
	}

	resp := fallbackResponse
	if p.llm != nil {
		out, err := p.llm.Complete(ctx, Prompt(query))
		if err != nil {
			return model.Decision{}, eris.Wrap(err, "planner: complete")
		}
		resp = out
	}

	d := Parse(resp)
	zap.L().Debug("planner: decided",
		zap.Int("flow", int(d.Flow)),
		zap.String("reason", d.Reason),
	)
	return d, nil
}

// Parse extracts a decision from a model response. The first non-blank line
// starting with 1, 2 or 3 wins and everything after its first two characters
// is the reason. Without such a line the default flow is returned with an
// empty reason.
func Parse(resp string) model.Decision {
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		switch line[0] {
		case '1', '2', '3':
		default:
			continue
		}
		reason := ""
		if r := []rune(line); len(r) > 2 {
			reason = strings.TrimSpace(string(r[2:]))
		}
		return model.Decision{Flow: model.FlowID(line[0] - '0'), Reason: reason}
	}
	return model.Decision{Flow: model.DefaultFlow}
}
