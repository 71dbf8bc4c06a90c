// Package jina talks to the Jina AI Reader (r.jina.ai) and Search
// (s.jina.ai) endpoints.
package jina

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

const (
	readerURL = "https://r.jina.ai"
	searchURL = "https://s.jina.ai"

	// attempts is the total number of tries for a throttled or failing request.
	attempts = 3
)

// Client reads pages and runs web searches through Jina.
type Client interface {
	// Read returns the text of targetURL as rendered by the reader.
	Read(ctx context.Context, targetURL string) (*ReadResponse, error)
	// Search returns result pages for query without their content.
	Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error)
}

// ReadResponse is the reader envelope.
type ReadResponse struct {
	Code int      `json:"code"`
	Data ReadData `json:"data"`
}

// ReadData is the rendered page.
type ReadData struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Description string    `json:"description"`
	Content     string    `json:"content"`
	Usage       ReadUsage `json:"usage"`
}

// ReadUsage is the token count billed for a read.
type ReadUsage struct {
	Tokens int `json:"tokens"`
}

// SearchResponse is the search envelope.
type SearchResponse struct {
	Code int            `json:"code"`
	Data []SearchResult `json:"data"`
}

// SearchResult is one hit.
type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Content     string `json:"content"`
	Description string `json:"description"`
}

// SearchOption adjusts a single search.
type SearchOption func(url.Values)

// WithCount limits the number of hits.
func WithCount(n int) SearchOption {
	return func(v url.Values) {
		if n > 0 {
			v.Set("num", strconv.Itoa(n))
		}
	}
}

// StatusError reports a non-success HTTP status.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("jina: %sunexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

// HTTPStatus reports the response status code.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }

// Option configures NewClient.
type Option func(*client)

// WithBaseURL points Read at another host.
func WithBaseURL(u string) Option {
	return func(c *client) { c.readerURL = u }
}

// WithSearchBaseURL points Search at another host.
func WithSearchBaseURL(u string) Option {
	return func(c *client) { c.searchURL = u }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) { c.http = hc }
}

// WithRetryBackoff sets the wait before the first retry. Later waits double.
func WithRetryBackoff(d time.Duration) Option {
	return func(c *client) { c.backoff = d }
}

type client struct {
	key       string
	readerURL string
	searchURL string
	backoff   time.Duration
	http      *http.Client
}

// NewClient creates a Client authenticated with key.
func NewClient(key string, opts ...Option) Client {
	c := &client{
		key:       key,
		readerURL: readerURL,
		searchURL: searchURL,
		backoff:   time.Second,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *client) Read(ctx context.Context, targetURL string) (*ReadResponse, error) {
	status, body, err := c.get(ctx, c.readerURL+"/"+targetURL, map[string]string{"X-Return-Format": "text"})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &StatusError{StatusCode: status, Body: string(body)}
	}

	var out ReadResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "jina: unmarshal response")
	}
	return &out, nil
}

func (c *client) Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error) {
	q := url.Values{"q": {query}}
	for _, o := range opts {
		o(q)
	}

	status, body, err := c.get(ctx, c.searchURL+"/?"+q.Encode(), map[string]string{"X-Respond-With": "no-content"})
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
	case http.StatusUnprocessableEntity:
		// No results for the query.
		return &SearchResponse{Code: status}, nil
	default:
		return nil, &StatusError{Op: "search ", StatusCode: status, Body: string(body)}
	}

	var out SearchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "jina: unmarshal search response")
	}
	return &out, nil
}

// get issues a GET, retrying throttled and 5xx responses with doubling
// waits. The last response is returned once attempts run out.
func (c *client) get(ctx context.Context, u string, headers map[string]string) (int, []byte, error) {
	wait := c.backoff
	for try := 1; ; try++ {
		status, body, err := c.once(ctx, u, headers)
		retry := err != nil || shouldRetry(status)
		if !retry || try == attempts {
			if err != nil {
				return 0, nil, eris.Wrap(err, "jina: request failed")
			}
			return status, body, nil
		}

		select {
		case <-ctx.Done():
			return 0, nil, eris.Wrap(ctx.Err(), "jina: request failed")
		case <-time.After(wait):
		}
		wait *= 2
	}
}

func (c *client) once(ctx context.Context, u string, headers map[string]string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.key)
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func shouldRetry(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable:
		return true
	}
	return false
}
