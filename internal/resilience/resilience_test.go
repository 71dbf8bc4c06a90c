package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intellimesh/internal/config"
)

type statusErr struct{ code int }

func (e *statusErr) Error() string   { return fmt.Sprintf("status %d", e.code) }
func (e *statusErr) HTTPStatus() int { return e.code }

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit transient", Transient(errors.New("x"), 503), true},
		{"wrapped transient", eris.Wrap(Transient(errors.New("x"), 0), "llm: complete"), true},
		{"status 429", &statusErr{http.StatusTooManyRequests}, true},
		{"status 400", &statusErr{http.StatusBadRequest}, false},
		{"wrapped status 502", eris.Wrap(&statusErr{http.StatusBadGateway}, "serper: search"), true},
		{"connection reset text", errors.New("read: connection reset by peer"), true},
		{"plain", errors.New("invalid api key"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ClassTransient, Classify(&statusErr{http.StatusServiceUnavailable}))
	assert.Equal(t, ClassPermanent, Classify(errors.New("boom")))
}

func TestDoVal_RetriesTransient(t *testing.T) {
	calls := 0
	var retried []int
	cfg := fastRetry(3)
	cfg.OnRetry = func(attempt int, _ error) { retried = append(retried, attempt) }

	val, err := DoVal(context.Background(), cfg, func(_ context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", Transient(errors.New("busy"), 503)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", val)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDoVal_StopsOnPermanent(t *testing.T) {
	calls := 0
	_, err := DoVal(context.Background(), fastRetry(5), func(_ context.Context) (int, error) {
		calls++
		return 0, errors.New("bad request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetry(2), func(_ context.Context) error {
		calls++
		return Transient(errors.New("timeout"), 0)
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, fastRetry(5), func(_ context.Context) error {
		calls++
		cancel()
		return Transient(errors.New("timeout"), 0)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.RetryConfig{MaxAttempts: 4, InitialBackoffMs: 100, MaxBackoffMs: 1000})
	assert.Equal(t, 4, cfg.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, time.Second, cfg.MaxBackoff)

	def := FromConfig(config.RetryConfig{})
	assert.Equal(t, DefaultRetryConfig().MaxAttempts, def.MaxAttempts)
}

func TestRetryDelay_Capped(t *testing.T) {
	cfg := withDefaults(RetryConfig{InitialBackoff: time.Second, MaxBackoff: 3 * time.Second})
	assert.Equal(t, time.Second, cfg.delay(0))
	assert.Equal(t, 2*time.Second, cfg.delay(1))
	assert.Equal(t, 3*time.Second, cfg.delay(5))
}

func TestRetryDelay_Jitter(t *testing.T) {
	cfg := withDefaults(RetryConfig{InitialBackoff: time.Second, MaxBackoff: time.Minute, JitterFraction: 0.5})
	for range 20 {
		d := cfg.delay(1)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 3*time.Second)
	}
}

func failing(msg string) func(context.Context) (struct{}, error) {
	return func(context.Context) (struct{}, error) { return struct{}{}, errors.New(msg) }
}

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	clock := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	var moves []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		OnStateChange:    func(from, to CircuitState) { moves = append(moves, from.String()+">"+to.String()) },
	})
	cb.now = func() time.Time { return clock }
	ctx := context.Background()

	_, _ = ExecuteVal(ctx, cb, failing("serper 502"))
	assert.Equal(t, CircuitClosed, cb.State())
	_, _ = ExecuteVal(ctx, cb, failing("serper 502"))
	assert.Equal(t, CircuitOpen, cb.State())

	_, err := ExecuteVal(ctx, cb, func(context.Context) (int, error) {
		t.Error("call went through an open circuit")
		return 0, nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)

	clock = clock.Add(2 * time.Minute)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	got, err := ExecuteVal(ctx, cb, func(context.Context) (string, error) { return "probe", nil })
	require.NoError(t, err)
	assert.Equal(t, "probe", got)
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, []string{"closed>open", "open>half-open", "half-open>closed"}, moves)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second})
	cb.now = func() time.Time { return clock }

	_, _ = ExecuteVal(context.Background(), cb, failing("down"))
	clock = clock.Add(2 * time.Second)
	_, _ = ExecuteVal(context.Background(), cb, failing("still down"))

	assert.Equal(t, CircuitOpen, cb.state)
	assert.Equal(t, 2, cb.failures)
	assert.Equal(t, clock, cb.openedAt)
}

func TestCircuitBreaker_NeedsAllProbes(t *testing.T) {
	clock := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second, HalfOpenMaxProbes: 2})
	cb.now = func() time.Time { return clock }
	ok := func(context.Context) (struct{}, error) { return struct{}{}, nil }

	_, _ = ExecuteVal(context.Background(), cb, failing("down"))
	clock = clock.Add(time.Second)

	_, err := ExecuteVal(context.Background(), cb, ok)
	require.NoError(t, err)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	_, err = ExecuteVal(context.Background(), cb, ok)
	require.NoError(t, err)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_ShouldTrip(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ShouldTrip:       IsTransient,
	})
	_, _ = ExecuteVal(context.Background(), cb, failing("not found"))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitFromConfig(t *testing.T) {
	cfg := CircuitFromConfig(config.CircuitConfig{FailureThreshold: 3, ResetTimeoutSecs: 10})
	assert.Equal(t, 3, cfg.FailureThreshold)
	assert.Equal(t, 10*time.Second, cfg.ResetTimeout)

	assert.Equal(t, DefaultCircuitBreakerConfig().FailureThreshold, CircuitFromConfig(config.CircuitConfig{}).FailureThreshold)
}

func TestBreakers_GetIsStable(t *testing.T) {
	b := NewBreakers(DefaultCircuitBreakerConfig())
	jina := b.Get("jina")
	assert.Same(t, jina, b.Get("jina"))
	assert.NotSame(t, jina, b.Get("firecrawl"))
	assert.Len(t, b.all, 2)
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}
