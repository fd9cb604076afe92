// Package upstream is the shared HTTP client for proxy repositories. It
// maps upstream responses onto the registry error taxonomy so the cache
// engine can tell "keep trying candidates" from "abort".
package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/brunocascio/amargo/pkg/observability"
	"github.com/brunocascio/amargo/pkg/registry"
)

// DefaultTimeout bounds one upstream fetch end to end.
const DefaultTimeout = 5 * time.Minute

// Response is one successfully opened upstream body. The caller owns
// closing Body.
type Response struct {
	Body        io.ReadCloser
	ContentType string
	// Size is the Content-Length, -1 when unknown.
	Size   int64
	Header http.Header
}

// Client fetches artifacts and metadata from upstream registries.
type Client struct {
	httpClient *http.Client
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// NewClient creates the upstream client. The transport is traced; the
// timeout caps a whole fetch including the body. metrics may be nil.
func NewClient(timeout time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger:  logger.WithField("component", "upstream"),
		metrics: metrics,
	}
}

// Fetch GETs path relative to the repository's upstream URL, applying
// its credentials as basic auth. header entries are added to the
// request (Accept, Authorization overrides).
func (c *Client) Fetch(ctx context.Context, repo *registry.Repository, path string, header http.Header) (*Response, error) {
	u, err := joinURL(repo.UpstreamURL, path)
	if err != nil {
		return nil, fmt.Errorf("upstream url for %s: %w", repo.Name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", u, err)
	}
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	if repo.Credentials != nil && !repo.Credentials.Empty() && req.Header.Get("Authorization") == "" {
		req.SetBasicAuth(repo.Credentials.Username, repo.Credentials.Password)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.metrics != nil {
		c.metrics.UpstreamRequestDuration.WithLabelValues(repo.Name).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		c.observe(repo.Name, "network_error")
		return nil, fmt.Errorf("fetch %s: %v: %w", u, err, registry.ErrUpstreamUnavailable)
	}

	c.observe(repo.Name, fmt.Sprintf("%d", resp.StatusCode))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return &Response{
			Body:        resp.Body,
			ContentType: resp.Header.Get("Content-Type"),
			Size:        resp.ContentLength,
			Header:      resp.Header,
		}, nil

	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: status %d: %w", u, resp.StatusCode, registry.ErrNotFound)

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: status %d: %w", u, resp.StatusCode, registry.ErrUnauthorized)

	default:
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: status %d: %w", u, resp.StatusCode, registry.ErrUpstreamUnavailable)
	}
}

// Do issues an arbitrary request through the traced client. Used by the
// Docker adapter for token exchanges against a separate auth endpoint.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req)
}

func (c *Client) observe(repo, status string) {
	if c.metrics != nil {
		c.metrics.UpstreamRequestsTotal.WithLabelValues(repo, status).Inc()
	}
}

// joinURL appends path (which may carry a query string) to base without
// double or missing slashes.
func joinURL(base, path string) (string, error) {
	if _, err := url.Parse(base); err != nil || base == "" {
		return "", fmt.Errorf("invalid base url %q", base)
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/"), nil
}
