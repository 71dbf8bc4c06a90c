package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/intellimesh/internal/resilience"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent   string
	Timeout     time.Duration
	MaxRetries  int
	BaseBackoff time.Duration
	// HostRate is the starting request rate for each host.
	HostRate rate.Limit
}

// HostLimiter paces requests to one host. Successful responses ease the
// rate back up to twice its start and 429s halve it, never below a quarter.
type HostLimiter struct {
	mu      sync.Mutex
	lim     *rate.Limiter
	current rate.Limit
	floor   rate.Limit
	ceiling rate.Limit
}

// NewHostLimiter creates a HostLimiter starting at r.
func NewHostLimiter(r rate.Limit, burst int) *HostLimiter {
	return &HostLimiter{
		lim:     rate.NewLimiter(r, burst),
		current: r,
		floor:   r / 4,
		ceiling: r * 2,
	}
}

// Wait blocks until a request may go out.
func (h *HostLimiter) Wait(ctx context.Context) error {
	return h.lim.Wait(ctx)
}

// Ease raises the rate by a fifth.
func (h *HostLimiter) Ease() {
	h.set(func(r rate.Limit) rate.Limit { return min(r*1.2, h.ceiling) })
}

// Throttle halves the rate.
func (h *HostLimiter) Throttle() {
	r := h.set(func(r rate.Limit) rate.Limit { return max(r/2, h.floor) })
	zap.L().Warn("fetcher: host throttled", zap.Float64("rate", float64(r)))
}

func (h *HostLimiter) set(next func(rate.Limit) rate.Limit) rate.Limit {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = next(h.current)
	h.lim.SetLimit(h.current)
	return h.current
}

// Limit returns the current rate.
func (h *HostLimiter) Limit() rate.Limit {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// statusError is a response status that retrying will not fix.
type statusError struct {
	code int
	url  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.code, e.url)
}

func (e *statusError) HTTPStatus() int { return e.code }

// HTTPFetcher downloads over HTTP with retries and per-host pacing.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions

	mu    sync.Mutex
	hosts map[string]*HostLimiter
}

// NewHTTPFetcher creates an HTTPFetcher, filling unset options with
// defaults.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseBackoff == 0 {
		opts.BaseBackoff = time.Second
	}
	if opts.HostRate == 0 {
		opts.HostRate = 5
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "intellimesh/1.0"
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:  opts,
		hosts: make(map[string]*HostLimiter),
	}
}

func (f *HTTPFetcher) limiterFor(rawURL string) *HostLimiter {
	var host string
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Host
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hosts[host]
	if !ok {
		h = NewHostLimiter(f.opts.HostRate, max(int(f.opts.HostRate), 1))
		f.hosts[host] = h
	}
	return h
}

func (f *HTTPFetcher) retryPolicy() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    f.opts.MaxRetries,
		InitialBackoff: f.opts.BaseBackoff,
		MaxBackoff:     30 * f.opts.BaseBackoff,
		Multiplier:     2,
		JitterFraction: 0.25,
		ShouldRetry: func(err error) bool {
			var se *statusError
			return !errors.As(err, &se)
		},
		OnRetry: resilience.RetryLogger("fetcher", "download"),
	}
}

// Download fetches rawURL and returns the open body of a 200 response.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "download: create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	host := f.limiterFor(rawURL)

	body, err := resilience.DoVal(ctx, f.retryPolicy(), func(ctx context.Context) (io.ReadCloser, error) {
		if err := host.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limiter wait")
		}
		resp, err := f.client.Do(req.Clone(ctx))
		if err != nil {
			return nil, err
		}
		switch {
		case resp.StatusCode == http.StatusOK:
			host.Ease()
			return resp.Body, nil
		case resp.StatusCode == http.StatusTooManyRequests:
			host.Throttle()
			_ = resp.Body.Close()
			return nil, resilience.Transient(eris.Errorf("http 429 from %s", rawURL), resp.StatusCode)
		case resp.StatusCode >= 500:
			_ = resp.Body.Close()
			return nil, resilience.Transient(eris.Errorf("http %d from %s", resp.StatusCode, rawURL), resp.StatusCode)
		default:
			_ = resp.Body.Close()
			return nil, &statusError{code: resp.StatusCode, url: rawURL}
		}
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "download")
		}
		var se *statusError
		if errors.As(err, &se) {
			return nil, eris.Wrap(err, "download")
		}
		return nil, eris.Wrap(err, "download: all retries exhausted")
	}
	return body, nil
}

// DownloadToFile fetches rawURL into path.
func (f *HTTPFetcher) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	return writeFile(path, body)
}

func writeFile(path string, r io.Reader) (int64, error) {
	out, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "create file")
	}
	defer out.Close() //nolint:errcheck

	n, err := io.Copy(out, r)
	if err != nil {
		return n, eris.Wrap(err, "write file")
	}
	return n, nil
}
