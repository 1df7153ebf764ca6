// Package sitemap extracts page URLs from a sitemap document.
package sitemap

import (
	"context"
	"regexp"
	"strings"

	"github.com/agentlytics/ingest-backend/internal/fetch"
)

// Deliberately permissive: any body carrying <loc> entries counts as a
// sitemap, malformed XML included. No schema validation.
var locPattern = regexp.MustCompile(`(?s)<loc>\s*(.*?)\s*</loc>`)

// Parse fetches a URL and returns every <loc> entry, in document
// order. An empty result means "not a sitemap" to the caller; it is
// not an error here. A non-2xx response surfaces as *fetch.FetchError.
func Parse(ctx context.Context, client *fetch.Client, sitemapURL string) ([]string, error) {
	body, err := client.Get(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}

	matches := locPattern.FindAllStringSubmatch(body, -1)
	urls := make([]string, 0, len(matches))
	for _, m := range matches {
		loc := strings.TrimSpace(m[1])
		if loc != "" {
			urls = append(urls, loc)
		}
	}
	return urls, nil
}
