// Package httpkv implements the backend.Endpoint contract over an
// HTTP-style replicated key/value cluster.
//
// Wire contract:
//   - GET  <endpoint>/<bucket>/<key> — absence of the key is not an
//     error; a found object carries its version marker in the
//     X-Object-Version response header.
//   - PUT  <endpoint>/<bucket>/<key>[?consistency=all] — object bytes
//     as body, previously read marker echoed in the X-Object-Version
//     request header, consistency=all for critical writes requiring
//     acknowledgment by every replica.
package httpkv

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/driftfs/driftfs/pkg/backend"
)

// VersionHeader carries an object's version marker on reads and writes.
const VersionHeader = "X-Object-Version"

// consistencyAll is the query value selecting strict quorum writes.
const consistencyAll = "all"

// DefaultTimeout bounds a single backend round trip. The pipeline has
// no per-job deadline of its own; this only guards against wedged
// connections.
const DefaultTimeout = 5 * time.Minute

// Config holds the settings for one cluster endpoint.
type Config struct {
	// BaseURL is the endpoint base, e.g. "http://kv-1.internal:8098".
	BaseURL string

	// Bucket namespaces all keys written by this pipeline.
	Bucket string

	// Timeout overrides DefaultTimeout when positive.
	Timeout time.Duration
}

// Client talks to a single cluster endpoint. It is safe for concurrent
// use; the underlying http.Client pools connections per worker.
type Client struct {
	baseURL string
	bucket  string
	httpc   *http.Client
}

// New creates an endpoint client. The base URL is normalized so key
// concatenation cannot produce double slashes.
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("httpkv: invalid endpoint URL %q", cfg.BaseURL)
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("httpkv: bucket must not be empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		bucket:  cfg.Bucket,
		httpc:   &http.Client{Timeout: timeout},
	}, nil
}

// URL identifies the endpoint.
func (c *Client) URL() string { return c.baseURL }

func (c *Client) objectURL(key string, critical bool) string {
	u := c.baseURL + "/" + c.bucket + "/" + url.PathEscape(key)
	if critical {
		u += "?consistency=" + consistencyAll
	}
	return u
}

// VersionMarker fetches the current version marker for key. A 404 means
// the key is new: found is false and err is nil.
func (c *Client) VersionMarker(ctx context.Context, key string) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.objectURL(key, false), nil)
	if err != nil {
		return "", false, fmt.Errorf("httpkv: build read request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("httpkv: read %q: %w", key, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp.Header.Get(VersionHeader), true, nil
	default:
		return "", false, &backend.StatusError{Endpoint: c.baseURL, Key: key, Status: resp.StatusCode}
	}
}

// Write stores the object under key with exactly one PUT attempt.
func (c *Client) Write(ctx context.Context, key string, body io.Reader, size int64, opts backend.WriteOptions) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.objectURL(key, opts.Critical), body)
	if err != nil {
		return fmt.Errorf("httpkv: build write request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")
	if opts.Marker != "" {
		req.Header.Set(VersionHeader, opts.Marker)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("httpkv: write %q: %w", key, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return nil
	case http.StatusServiceUnavailable:
		if opts.Critical {
			// The cluster could not assemble a full write quorum.
			return fmt.Errorf("httpkv: write %q: %w", key, backend.ErrQuorumNotMet)
		}
		return &backend.StatusError{Endpoint: c.baseURL, Key: key, Status: resp.StatusCode}
	default:
		return &backend.StatusError{Endpoint: c.baseURL, Key: key, Status: resp.StatusCode}
	}
}

var _ backend.Endpoint = (*Client)(nil)
