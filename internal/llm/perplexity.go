package llm

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intellimesh/pkg/perplexity"
)

// PerplexityCompleter sends single-turn prompts to Perplexity chat completions.
type PerplexityCompleter struct {
	client perplexity.Client
	s      settings
}

// NewPerplexity creates a completer using the client's default model.
func NewPerplexity(client perplexity.Client, opts ...Option) *PerplexityCompleter {
	return &PerplexityCompleter{client: client, s: newSettings(opts)}
}

// Complete implements Completer.
func (p *PerplexityCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	req := perplexity.UserPrompt(prompt)

	resp, err := call(ctx, p.s, "perplexity", func(ctx context.Context) (*perplexity.ChatCompletionResponse, error) {
		return p.client.ChatCompletion(ctx, req)
	})
	if err != nil {
		return "", eris.Wrap(err, "llm: perplexity complete")
	}

	MeterFrom(ctx).Record(resp.Usage.PromptTokens, resp.Usage.CompletionTokens, p.s.calc.PerplexityQuery())
	return resp.Text(), nil
}
