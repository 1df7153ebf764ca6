// Package extract turns a URL into the page's visible text, following
// meta-refresh redirects and escalating to a headless browser when the
// static fetch comes back thin.
package extract

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/agentlytics/ingest-backend/internal/discovery"
	"github.com/agentlytics/ingest-backend/internal/fetch"
)

// maxMetaRedirects bounds the meta-refresh recursion.
const maxMetaRedirects = 5

// Text below these lengths triggers a browser retry.
const (
	shortContentLen = 200
	shortDynamicLen = 500
	minBrowserLen   = 100
)

// TooManyRedirectsError is terminal for a URL whose meta-refresh chain
// exceeds the recursion bound.
type TooManyRedirectsError struct {
	URL   string
	Depth int
}

func (e *TooManyRedirectsError) Error() string {
	return fmt.Sprintf("too many meta-refresh redirects (%d) at %s", e.Depth, e.URL)
}

// dynamicMarkers flag pages that render their content client-side
// (slide decks and similar) and should go straight to the browser.
var dynamicMarkers = []string{"slide", "presentation", "deck", "pitch"}

func isDynamicPage(rawurl string) bool {
	u, err := url.Parse(rawurl)
	if err != nil {
		return false
	}
	p := strings.ToLower(u.Path)
	for _, m := range dynamicMarkers {
		if strings.Contains(p, m) {
			return true
		}
	}
	return false
}

// BrowserTextFunc extracts text via a headless browser; dynamic marks
// slide-deck-style pages that need longer waits and a scroll.
type BrowserTextFunc func(ctx context.Context, url string, dynamic bool) (string, error)

// Extractor fetches pages and extracts visible text. Browser may be
// nil, which disables all browser fallbacks.
type Extractor struct {
	Client  *fetch.Client
	Browser BrowserTextFunc
}

// ExtractText returns the visible text of a page.
func (e *Extractor) ExtractText(ctx context.Context, pageURL string) (string, error) {
	return e.extract(ctx, pageURL, 0)
}

func (e *Extractor) extract(ctx context.Context, pageURL string, depth int) (string, error) {
	if depth > maxMetaRedirects {
		return "", &TooManyRedirectsError{URL: pageURL, Depth: depth}
	}

	dynamic := isDynamicPage(pageURL)
	if dynamic && e.Browser != nil {
		if text, err := e.Browser(ctx, pageURL, true); err == nil && len(text) > minBrowserLen {
			return text, nil
		} else if err != nil {
			log.Printf("extract: browser-first for %s failed, trying static: %v", pageURL, err)
		}
	}

	body, fetchErr := e.Client.Get(ctx, pageURL)
	if fetchErr != nil {
		// Browser as last resort; if it also fails, report the
		// original fetch error, not the browser one.
		if e.Browser != nil {
			if text, berr := e.Browser(ctx, pageURL, dynamic); berr == nil && text != "" {
				return text, nil
			}
		}
		return "", fetchErr
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", err
	}

	// A meta-refresh page is a placeholder; follow it instead of
	// returning its text.
	if target := metaRefreshTarget(doc, pageURL); target != "" && target != pageURL {
		return e.extract(ctx, target, depth+1)
	}

	doc.Find("script, style, noscript").Remove()
	text := collapseWhitespace(doc.Find("body").Text())
	if text == "" {
		text = collapseWhitespace(doc.Text())
	}

	needsBrowser := (len(text) < shortContentLen && discovery.MatchesContentPattern(pageURL)) ||
		(dynamic && len(text) < shortDynamicLen)
	if needsBrowser && e.Browser != nil {
		if btext, berr := e.Browser(ctx, pageURL, dynamic); berr == nil && len(btext) > len(text) {
			text = btext
		}
	}

	return text, nil
}

// metaRefreshTarget returns the absolute redirect target declared by a
// <meta http-equiv="refresh"> tag, or "".
func metaRefreshTarget(doc *goquery.Document, pageURL string) string {
	var target string
	doc.Find("meta[http-equiv]").EachWithBreak(func(i int, s *goquery.Selection) bool {
		equiv, _ := s.Attr("http-equiv")
		if !strings.EqualFold(equiv, "refresh") {
			return true
		}
		content, _ := s.Attr("content")
		idx := strings.Index(strings.ToLower(content), "url=")
		if idx < 0 {
			return true
		}
		raw := strings.Trim(strings.TrimSpace(content[idx+len("url="):]), `'"`)
		base, err := url.Parse(pageURL)
		if err != nil {
			return true
		}
		ref, err := url.Parse(raw)
		if err != nil {
			return true
		}
		target = base.ResolveReference(ref).String()
		return false
	})
	return target
}

var whitespaceRE = regexp.MustCompile(`\s+`)

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(s, " "))
}
