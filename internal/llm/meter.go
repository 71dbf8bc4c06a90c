package llm

import (
	"context"
	"sync"

	"github.com/sells-group/intellimesh/internal/model"
)

// Meter accumulates token usage and spend for one run. A nil Meter discards.
type Meter struct {
	mu    sync.Mutex
	usage model.TokenUsage
}

type meterKey struct{}

// WithMeter attaches m to ctx so completers record into it.
func WithMeter(ctx context.Context, m *Meter) context.Context {
	return context.WithValue(ctx, meterKey{}, m)
}

// MeterFrom returns the Meter attached to ctx, or nil.
func MeterFrom(ctx context.Context) *Meter {
	m, _ := ctx.Value(meterKey{}).(*Meter)
	return m
}

// Record adds one completion call.
func (m *Meter) Record(input, output int, cost float64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage.Add(model.TokenUsage{
		InputTokens:  input,
		OutputTokens: output,
		Calls:        1,
		Cost:         cost,
	})
}

// Spend adds cost without counting a completion call. Search and reader
// requests bill through it.
func (m *Meter) Spend(cost float64) {
	if m == nil || cost == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage.Cost += cost
}

// Usage returns a snapshot of the accumulated usage.
func (m *Meter) Usage() model.TokenUsage {
	if m == nil {
		return model.TokenUsage{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage
}

// Metered returns a Completer that records every call made through c into m.
func Metered(c Completer, m *Meter) Completer {
	return Func(func(ctx context.Context, prompt string) (string, error) {
		return c.Complete(WithMeter(ctx, m), prompt)
	})
}
