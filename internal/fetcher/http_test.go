package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/intellimesh/internal/resilience"
)

func newTestFetcher(retries int) *HTTPFetcher {
	return NewHTTPFetcher(HTTPOptions{
		UserAgent:   "test-agent",
		Timeout:     5 * time.Second,
		MaxRetries:  retries,
		BaseBackoff: time.Millisecond,
		HostRate:    1000,
	})
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("%PDF-1.4 body"))
	}))
	defer srv.Close()

	body, err := newTestFetcher(3).Download(context.Background(), srv.URL+"/paper.pdf")
	require.NoError(t, err)
	defer body.Close() //nolint:errcheck

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 body", string(data))
}

func TestDownloadToFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("file content here"))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "out.txt")
	n, err := newTestFetcher(3).DownloadToFile(context.Background(), srv.URL+"/notes.txt", path)
	require.NoError(t, err)
	assert.Equal(t, int64(17), n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "file content here", string(data))
}

func TestDownloadToFile_CreateFileError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	_, err := newTestFetcher(1).DownloadToFile(context.Background(), srv.URL, "/nonexistent/dir/out.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create file")
}

func TestRetryOnServerError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("success"))
	}))
	defer srv.Close()

	body, err := newTestFetcher(3).Download(context.Background(), srv.URL)
	require.NoError(t, err)
	defer body.Close() //nolint:errcheck

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "success", string(data))
	assert.Equal(t, int32(3), attempts.Load())
}

func TestRetryExhausted(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestFetcher(2).Download(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all retries exhausted")
	assert.Equal(t, int32(2), attempts.Load())
}

func TestRetryOn429_LowersRate(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newTestFetcher(3)
	body, err := f.Download(context.Background(), srv.URL)
	require.NoError(t, err)
	_ = body.Close()

	lim := f.limiterFor(srv.URL)
	assert.Less(t, float64(lim.Limit()), 1000.0)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestDownload_Non200(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestFetcher(3).Download(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 404")
	assert.Equal(t, int32(1), attempts.Load())
	assert.Equal(t, resilience.ClassPermanent, resilience.Classify(err))
}

func TestDownload_InvalidURL(t *testing.T) {
	_, err := newTestFetcher(1).Download(context.Background(), "://bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create request")
}

func TestDownload_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("late"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestFetcher(3).Download(ctx, srv.URL)
	require.Error(t, err)
}

func TestLimiterFor_PerHost(t *testing.T) {
	f := newTestFetcher(1)
	a := f.limiterFor("https://a.example/x")
	assert.Same(t, a, f.limiterFor("https://a.example/y"))
	assert.NotSame(t, a, f.limiterFor("https://b.example/x"))
}

func TestNewHTTPFetcher_Defaults(t *testing.T) {
	f := NewHTTPFetcher(HTTPOptions{})
	assert.Equal(t, 60*time.Second, f.opts.Timeout)
	assert.Equal(t, 3, f.opts.MaxRetries)
	assert.Equal(t, time.Second, f.opts.BaseBackoff)
	assert.Equal(t, rate.Limit(5), f.opts.HostRate)
	assert.Equal(t, "intellimesh/1.0", f.opts.UserAgent)
}

func TestHostLimiter(t *testing.T) {
	a := NewHostLimiter(10, 10)

	a.Ease()
	assert.InDelta(t, 12.0, float64(a.Limit()), 0.001)
	for range 10 {
		a.Ease()
	}
	assert.InDelta(t, 20.0, float64(a.Limit()), 0.001)

	for range 10 {
		a.Throttle()
	}
	assert.InDelta(t, 2.5, float64(a.Limit()), 0.001)

	require.NoError(t, a.Wait(context.Background()))
}

func TestIsRemote(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"https://example.com/paper.pdf", true},
		{"HTTP://example.com/paper.pdf", true},
		{"ftp://ftp.example.com/pub/a.pdf", true},
		{"/tmp/local.pdf", false},
		{"relative/notes.txt", false},
		{"file:///tmp/a.pdf", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRemote(tt.path))
		})
	}
}

type recordingFetcher struct {
	urls []string
}

func (r *recordingFetcher) Download(_ context.Context, url string) (io.ReadCloser, error) {
	r.urls = append(r.urls, url)
	return io.NopCloser(nil), nil
}

func (r *recordingFetcher) DownloadToFile(_ context.Context, url string, _ string) (int64, error) {
	r.urls = append(r.urls, url)
	return 1, nil
}

func TestRemote_RoutesByScheme(t *testing.T) {
	h, f := &recordingFetcher{}, &recordingFetcher{}
	r := NewRemote(h, f)

	_, err := r.DownloadToFile(context.Background(), "https://example.com/a.pdf", "x")
	require.NoError(t, err)
	_, err = r.DownloadToFile(context.Background(), "ftp://host/b.pdf", "x")
	require.NoError(t, err)
	_, err = r.Download(context.Background(), "http://example.com/c.txt")
	require.NoError(t, err)

	assert.Equal(t, []string{"https://example.com/a.pdf", "http://example.com/c.txt"}, h.urls)
	assert.Equal(t, []string{"ftp://host/b.pdf"}, f.urls)

	_, err = r.DownloadToFile(context.Background(), "/local/file.pdf", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported location")
}
