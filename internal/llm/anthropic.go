package llm

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intellimesh/internal/config"
	"github.com/sells-group/intellimesh/pkg/anthropic"
)

// AnthropicCompleter sends single-turn prompts to the Messages API.
type AnthropicCompleter struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	temp      float64
	s         settings
}

// NewAnthropic creates a completer for the configured Claude model.
func NewAnthropic(client anthropic.Client, cfg config.AnthropicConfig, opts ...Option) *AnthropicCompleter {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &AnthropicCompleter{
		client:    client,
		model:     cfg.Model,
		maxTokens: maxTokens,
		temp:      cfg.Temp,
		s:         newSettings(opts),
	}
}

// Complete implements Completer.
func (a *AnthropicCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	temp := a.temp
	req := anthropic.MessageRequest{
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
	}

	resp, err := call(ctx, a.s, "anthropic", func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return a.client.CreateMessage(ctx, req)
	})
	if err != nil {
		return "", eris.Wrap(err, "llm: anthropic complete")
	}

	in, out := int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens)
	MeterFrom(ctx).Record(in, out, a.s.calc.Claude(a.model, in, out))
	return resp.Text(), nil
}
