// Package fetch is the shared HTTP-fetch path for the sitemap parser,
// the link extractors and the text extractor: one client shape, one
// error type, charset-aware decoding and a response size cap.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/agentlytics/ingest-backend/internal/metrics"
)

// maxBody caps how much of a response we read; pages past this point
// are navigation chrome and comment threads, not content.
const maxBody = 2 << 20

// FetchError reports a non-success HTTP response.
type FetchError struct {
	URL    string
	Status int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.Status)
}

type Client struct {
	http      *http.Client
	userAgent string
}

// NewClient builds the HTTP client used for all static fetches. HTTP
// redirects are followed transparently up to maxRedirects hops.
func NewClient(timeout time.Duration, maxRedirects int, userAgent string) *Client {
	return &Client{
		http: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		userAgent: userAgent,
	}
}

// WithHTTPClient substitutes the underlying client; tests use this to
// point at httptest servers.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	return &Client{http: h, userAgent: c.userAgent}
}

// Get fetches a URL and returns the decoded body. A non-2xx status is
// reported as *FetchError.
func (c *Client) Get(ctx context.Context, rawurl string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &FetchError{URL: rawurl, Status: resp.StatusCode}
	}

	reader, err := charset.NewReader(io.LimitReader(resp.Body, maxBody), resp.Header.Get("Content-Type"))
	if err != nil {
		reader = io.LimitReader(resp.Body, maxBody)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}

	metrics.PagesFetched.Inc()
	metrics.BytesFetched.Add(float64(len(body)))
	return string(body), nil
}
