package llm

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intellimesh/internal/config"
	"github.com/sells-group/intellimesh/internal/cost"
	"github.com/sells-group/intellimesh/internal/resilience"
	"github.com/sells-group/intellimesh/pkg/anthropic"
	anthropicmocks "github.com/sells-group/intellimesh/pkg/anthropic/mocks"
	"github.com/sells-group/intellimesh/pkg/perplexity"
	perplexitymocks "github.com/sells-group/intellimesh/pkg/perplexity/mocks"
)

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Multiplier:     2,
	}
}

func textResponse(text string, in, out int64) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: in, OutputTokens: out},
	}
}

func TestFunc(t *testing.T) {
	var c Completer = Func(func(_ context.Context, prompt string) (string, error) {
		return "echo: " + prompt, nil
	})
	out, err := c.Complete(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", out)
}

func TestAnthropicCompleter(t *testing.T) {
	client := anthropicmocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == "claude-haiku-4-5-20251001" &&
			req.MaxTokens == 512 &&
			len(req.Messages) == 1 &&
			req.Messages[0].Content == "Which flow?" &&
			req.Temperature != nil && *req.Temperature == 0.2
	})).Return(textResponse("2\nWeb sources need vetting.", 1000, 200), nil).Once()

	c := NewAnthropic(client, config.AnthropicConfig{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 512,
		Temp:      0.2,
	}, WithRetry(fastRetry()), WithCalculator(cost.NewCalculator(cost.DefaultRates())))

	meter := &Meter{}
	out, err := Metered(c, meter).Complete(context.Background(), "Which flow?")
	require.NoError(t, err)
	assert.Equal(t, "2\nWeb sources need vetting.", out)

	usage := meter.Usage()
	assert.Equal(t, 1000, usage.InputTokens)
	assert.Equal(t, 200, usage.OutputTokens)
	assert.Equal(t, 1, usage.Calls)
	assert.InDelta(t, 0.002, usage.Cost, 1e-9)
}

func TestAnthropicCompleter_RetriesTransient(t *testing.T) {
	client := anthropicmocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, &anthropic.APIError{StatusCode: http.StatusServiceUnavailable, Message: "overloaded"}).Once()
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse("ok", 1, 1), nil).Once()

	c := NewAnthropic(client, config.AnthropicConfig{Model: "m"}, WithRetry(fastRetry()))
	out, err := c.Complete(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestAnthropicCompleter_PermanentError(t *testing.T) {
	client := anthropicmocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, &anthropic.APIError{StatusCode: http.StatusUnauthorized, Message: "bad key"}).Once()

	c := NewAnthropic(client, config.AnthropicConfig{Model: "m"}, WithRetry(fastRetry()))
	_, err := c.Complete(context.Background(), "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm: anthropic complete")

	var apiErr *anthropic.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, resilience.ClassPermanent, resilience.Classify(err))
}

func TestAnthropicCompleter_BreakerOpens(t *testing.T) {
	client := anthropicmocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, &anthropic.APIError{StatusCode: http.StatusBadRequest}).Once()

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Hour,
	})
	c := NewAnthropic(client, config.AnthropicConfig{Model: "m"},
		WithRetry(resilience.RetryConfig{MaxAttempts: 1}),
		WithBreaker(cb),
	)

	_, err := c.Complete(context.Background(), "p")
	require.Error(t, err)
	assert.Equal(t, resilience.CircuitOpen, cb.State())

	_, err = c.Complete(context.Background(), "p")
	require.Error(t, err)
}

func TestPerplexityCompleter(t *testing.T) {
	client := perplexitymocks.NewMockClient(t)
	client.On("ChatCompletion", mock.Anything, mock.Anything).Return(&perplexity.ChatCompletionResponse{
		Choices: []perplexity.Choice{{Message: perplexity.Message{Role: "assistant", Content: " 1\nFast path. "}}},
		Usage:   perplexity.Usage{PromptTokens: 40, CompletionTokens: 6},
	}, nil).Once()

	rates := cost.DefaultRates()
	rates.PerplexityQuery = 0.005
	c := NewPerplexity(client, WithRetry(fastRetry()), WithCalculator(cost.NewCalculator(rates)))

	meter := &Meter{}
	out, err := c.Complete(WithMeter(context.Background(), meter), "Which flow?")
	require.NoError(t, err)
	assert.Equal(t, "1\nFast path.", out)
	assert.Equal(t, 40, meter.Usage().InputTokens)
	assert.InDelta(t, 0.005, meter.Usage().Cost, 1e-9)
}

func TestMeter_Spend(t *testing.T) {
	m := &Meter{}
	m.Record(10, 2, 0.01)
	m.Spend(0.002)
	m.Spend(0)

	u := m.Usage()
	assert.Equal(t, 1, u.Calls)
	assert.Equal(t, 12, u.InputTokens+u.OutputTokens)
	assert.InDelta(t, 0.012, u.Cost, 1e-9)
}

func TestMeter_NilSafe(t *testing.T) {
	var m *Meter
	m.Record(1, 2, 3)
	m.Spend(4)
	assert.Equal(t, 0, m.Usage().Calls)
	assert.Nil(t, MeterFrom(context.Background()))
}

func TestNew(t *testing.T) {
	breakers := resilience.NewBreakers(resilience.DefaultCircuitBreakerConfig())

	c, err := New(&config.Config{LLM: config.LLMConfig{Provider: "anthropic"}}, breakers)
	require.NoError(t, err)
	assert.IsType(t, &AnthropicCompleter{}, c)

	c, err = New(&config.Config{LLM: config.LLMConfig{Provider: "perplexity"}}, breakers)
	require.NoError(t, err)
	assert.IsType(t, &PerplexityCompleter{}, c)

	_, err = New(&config.Config{LLM: config.LLMConfig{Provider: "gpt"}}, breakers)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}
