package discovery

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/agentlytics/ingest-backend/internal/fetch"
)

// ExtractLinks fetches a page and returns its same-domain content
// links, normalized and deduplicated, with the page URL itself first.
// A non-2xx response surfaces as *fetch.FetchError.
func ExtractLinks(ctx context.Context, client *fetch.Client, pageURL string) ([]string, error) {
	body, err := client.Get(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, err
	}

	var hrefs []string
	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			hrefs = append(hrefs, href)
		}
	})

	return filterLinks(pageURL, hrefs), nil
}
