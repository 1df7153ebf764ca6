// Package discovery finds the crawlable URL set for a submitted site:
// sitemap first, static anchor extraction as fallback, with a
// heuristic escalation to headless-browser rendering for pages that
// load their listings client-side.
package discovery

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/temoto/robotstxt"

	"github.com/agentlytics/ingest-backend/internal/fetch"
	"github.com/agentlytics/ingest-backend/internal/sitemap"
	"github.com/agentlytics/ingest-backend/pkg/model"
)

// DiscoveryError reports that both sitemap and webpage discovery
// failed; the whole submission aborts on it.
type DiscoveryError struct {
	SitemapErr error
	WebpageErr error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery failed: sitemap: %v; webpage: %v", e.SitemapErr, e.WebpageErr)
}

// Result is the final URL set plus how it was obtained.
type Result struct {
	URLs   []string
	Method string
}

// Discoverer runs the discovery state machine. The extractor funcs are
// fields so tests can substitute fakes for the network- and
// browser-backed paths.
type Discoverer struct {
	ParseSitemap func(ctx context.Context, url string) ([]string, error)
	StaticLinks  func(ctx context.Context, url string) ([]string, error)
	BrowserLinks func(ctx context.Context, url string) ([]string, error)

	client    *fetch.Client
	userAgent string
}

func New(client *fetch.Client, navTimeout time.Duration, maxScrolls int, userAgent string) *Discoverer {
	return &Discoverer{
		ParseSitemap: func(ctx context.Context, u string) ([]string, error) {
			return sitemap.Parse(ctx, client, u)
		},
		StaticLinks: func(ctx context.Context, u string) ([]string, error) {
			return ExtractLinks(ctx, client, u)
		},
		BrowserLinks: func(ctx context.Context, u string) ([]string, error) {
			return ExtractLinksBrowser(ctx, u, navTimeout, maxScrolls)
		},
		client:    client,
		userAgent: userAgent,
	}
}

// Discover resolves the input URL to its final URL set.
//
//  1. Sitemap parse; any <loc> entries end discovery with "sitemap".
//  2. Static extraction; failure here fails the whole discovery.
//  3. Pattern analysis + dynamic-page detection on the static set.
//  4. Conditional browser escalation; browser failures fall back to
//     the static set, and the browser result only wins when it found
//     more links or more content links.
func (d *Discoverer) Discover(ctx context.Context, inputURL string) (*Result, error) {
	urls, err := d.ParseSitemap(ctx, inputURL)
	if err == nil && len(urls) > 0 {
		return &Result{URLs: dedupe(urls), Method: model.MethodSitemap}, nil
	}
	if err == nil {
		err = fmt.Errorf("no <loc> entries in %s", inputURL)
	}

	static, serr := d.StaticLinks(ctx, inputURL)
	if serr != nil {
		return nil, &DiscoveryError{SitemapErr: err, WebpageErr: serr}
	}

	robots := d.robotsGroup(ctx, inputURL)
	static = allowedBy(robots, inputURL, static)

	analysis := Analyze(inputURL, static)
	decision := Detect(inputURL, analysis, len(static))

	if decision.ShouldUseJavaScript && d.BrowserLinks != nil {
		browsed, berr := d.BrowserLinks(ctx, inputURL)
		if berr != nil {
			log.Printf("discovery: browser fallback for %s failed, keeping static result: %v", inputURL, berr)
		} else {
			browsed = allowedBy(robots, inputURL, browsed)
			browsedAnalysis := Analyze(inputURL, browsed)
			if len(browsed) > len(static) || len(browsedAnalysis.ContentURLs) > len(analysis.ContentURLs) {
				return &Result{URLs: dedupe(browsed), Method: model.MethodJavaScript}, nil
			}
		}
	}

	return &Result{URLs: dedupe(static), Method: model.MethodWebpage}, nil
}

// robotsGroup fetches the host's robots.txt once per discovery. A
// missing or unreadable robots.txt allows everything.
func (d *Discoverer) robotsGroup(ctx context.Context, inputURL string) *robotstxt.Group {
	if d.client == nil {
		return nil
	}
	u, err := url.Parse(inputURL)
	if err != nil {
		return nil
	}
	body, err := d.client.Get(ctx, fmt.Sprintf("%s://%s/robots.txt", u.Scheme, u.Host))
	if err != nil {
		return nil
	}
	data, err := robotstxt.FromString(body)
	if err != nil {
		return nil
	}
	return data.FindGroup(d.userAgent)
}

// allowedBy drops URLs the robots.txt disallows. The input URL stays:
// the admin explicitly asked for it.
func allowedBy(group *robotstxt.Group, inputURL string, urls []string) []string {
	if group == nil {
		return urls
	}
	out := urls[:0]
	for _, raw := range urls {
		if raw == inputURL {
			out = append(out, raw)
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || group.Test(u.Path) {
			out = append(out, raw)
		}
	}
	return out
}
