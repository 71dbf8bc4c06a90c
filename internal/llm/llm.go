// Package llm adapts chat completion providers to a single prompt-in,
// text-out interface used by the planner, synthesizer and bench judges.
package llm

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intellimesh/internal/config"
	"github.com/sells-group/intellimesh/internal/cost"
	"github.com/sells-group/intellimesh/internal/resilience"
	"github.com/sells-group/intellimesh/pkg/anthropic"
	"github.com/sells-group/intellimesh/pkg/perplexity"
)

// Completer turns a prompt into generated text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Func adapts an ordinary function to the Completer interface.
type Func func(ctx context.Context, prompt string) (string, error)

// Complete calls f(ctx, prompt).
func (f Func) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// New builds the completer selected by cfg.LLM.Provider.
func New(cfg *config.Config, breakers *resilience.Breakers) (Completer, error) {
	retry := resilience.FromConfig(cfg.Retry)
	calc := cost.NewCalculator(cost.RatesFromConfig(cfg.Pricing))

	switch cfg.LLM.Provider {
	case "", "anthropic":
		var opts []anthropic.Option
		if cfg.Anthropic.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.Anthropic.BaseURL))
		}
		// Retries are handled by resilience.DoVal.
		opts = append(opts, anthropic.WithMaxRetries(0))
		client := anthropic.NewClient(cfg.Anthropic.Key, opts...)
		return NewAnthropic(client, cfg.Anthropic,
			WithRetry(retry),
			WithBreaker(breakers.Get("anthropic")),
			WithCalculator(calc),
		), nil
	case "perplexity":
		var opts []perplexity.Option
		if cfg.Perplexity.BaseURL != "" {
			opts = append(opts, perplexity.WithBaseURL(cfg.Perplexity.BaseURL))
		}
		if cfg.Perplexity.Model != "" {
			opts = append(opts, perplexity.WithModel(cfg.Perplexity.Model))
		}
		client := perplexity.NewClient(cfg.Perplexity.Key, opts...)
		return NewPerplexity(client,
			WithRetry(retry),
			WithBreaker(breakers.Get("perplexity")),
			WithCalculator(calc),
		), nil
	default:
		return nil, eris.Errorf("llm: unknown provider %q", cfg.LLM.Provider)
	}
}

// Option configures a provider-backed completer.
type Option func(*settings)

type settings struct {
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	calc    *cost.Calculator
}

// WithRetry sets the retry policy for transient provider failures.
func WithRetry(rc resilience.RetryConfig) Option {
	return func(s *settings) { s.retry = rc }
}

// WithBreaker routes calls through a circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(s *settings) { s.breaker = cb }
}

// WithCalculator prices token usage recorded on a Meter.
func WithCalculator(c *cost.Calculator) Option {
	return func(s *settings) { s.calc = c }
}

func newSettings(opts []Option) settings {
	s := settings{
		retry: resilience.DefaultRetryConfig(),
		calc:  cost.NewCalculator(cost.DefaultRates()),
	}
	for _, o := range opts {
		o(&s)
	}
	return s
}

// call runs fn with retries, behind the breaker when one is set.
func call[T any](ctx context.Context, s settings, service string, fn func(ctx context.Context) (T, error)) (T, error) {
	rc := s.retry
	if rc.OnRetry == nil {
		rc.OnRetry = resilience.RetryLogger(service, "complete")
	}
	return resilience.DoVal(ctx, rc, func(ctx context.Context) (T, error) {
		if s.breaker == nil {
			return fn(ctx)
		}
		return resilience.ExecuteVal(ctx, s.breaker, fn)
	})
}
