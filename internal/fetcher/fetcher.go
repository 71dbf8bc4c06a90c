// Package fetcher downloads uploaded documents given as remote locations.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
)

// Fetcher downloads remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// IsRemote reports whether path names an http, https or ftp location.
func IsRemote(path string) bool {
	switch scheme(path) {
	case "http", "https", "ftp":
		return true
	}
	return false
}

// Remote routes downloads to the HTTP or FTP fetcher by URL scheme.
type Remote struct {
	http Fetcher
	ftp  Fetcher
}

// NewRemote creates a Remote. Nil fetchers are replaced with defaults.
func NewRemote(httpFetcher, ftpFetcher Fetcher) *Remote {
	if httpFetcher == nil {
		httpFetcher = NewHTTPFetcher(HTTPOptions{})
	}
	if ftpFetcher == nil {
		ftpFetcher = NewFTPFetcher(FTPOptions{})
	}
	return &Remote{http: httpFetcher, ftp: ftpFetcher}
}

func (r *Remote) pick(rawURL string) (Fetcher, error) {
	switch scheme(rawURL) {
	case "http", "https":
		return r.http, nil
	case "ftp":
		return r.ftp, nil
	default:
		return nil, eris.Errorf("fetcher: unsupported location %q", rawURL)
	}
}

// Download implements Fetcher.
func (r *Remote) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	f, err := r.pick(rawURL)
	if err != nil {
		return nil, err
	}
	return f.Download(ctx, rawURL)
}

// DownloadToFile implements Fetcher.
func (r *Remote) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	f, err := r.pick(rawURL)
	if err != nil {
		return 0, err
	}
	return f.DownloadToFile(ctx, rawURL, path)
}

func scheme(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}
