package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/agentlytics/ingest-backend/internal/metrics"
)

// BrowserCrawlError wraps any failure inside headless-browser link
// extraction. The browser instance is always torn down before this
// propagates.
type BrowserCrawlError struct {
	URL string
	Err error
}

func (e *BrowserCrawlError) Error() string {
	return fmt.Sprintf("browser crawl %s: %v", e.URL, e.Err)
}

func (e *BrowserCrawlError) Unwrap() error { return e.Err }

const anchorCountJS = `document.querySelectorAll('a[href]').length`

const anchorHrefsJS = `Array.from(document.querySelectorAll('a[href]')).map(a => a.getAttribute('href'))`

// scrollJS combines a direct jump, a smooth scroll and synthetic
// scroll events; some lazy loaders only listen for one of the three.
const scrollJS = `(() => {
	window.scrollTo(0, document.body.scrollHeight);
	window.scrollTo({top: document.body.scrollHeight, behavior: 'smooth'});
	window.dispatchEvent(new Event('scroll'));
	document.dispatchEvent(new Event('scroll'));
	return document.body.scrollHeight;
})()`

// aggressiveScrollJS additionally nudges every scrollable container.
const aggressiveScrollJS = `(() => {
	window.scrollTo(0, document.body.scrollHeight * 2);
	document.querySelectorAll('*').forEach(el => {
		if (el.scrollHeight > el.clientHeight) { el.scrollTop = el.scrollHeight; }
	});
	window.dispatchEvent(new Event('scroll'));
	return document.body.scrollHeight;
})()`

const loadingVisibleJS = `(() => {
	const sel = '.loading, .spinner, .loader, [class*="loading"], [class*="spinner"]';
	return Array.from(document.querySelectorAll(sel)).some(el => {
		const r = el.getBoundingClientRect();
		return r.width > 0 && r.height > 0;
	});
})()`

// ExtractLinksBrowser renders a page in an isolated headless browser,
// scrolls until infinite-scroll content settles, then extracts links
// under the same normalization rules as the static extractor. The
// browser instance never outlives the call.
func ExtractLinksBrowser(ctx context.Context, pageURL string, navTimeout time.Duration, maxScrolls int) ([]string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("incognito", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()
	metrics.BrowserLaunches.Inc()

	navCtx, cancelNav := context.WithTimeout(browserCtx, navTimeout)
	defer cancelNav()
	err := chromedp.Run(navCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(2*time.Second),
	)
	if err != nil {
		return nil, &BrowserCrawlError{URL: pageURL, Err: err}
	}

	if err := scrollUntilSettled(browserCtx, maxScrolls); err != nil {
		return nil, &BrowserCrawlError{URL: pageURL, Err: err}
	}

	var hrefs []string
	if err := chromedp.Run(browserCtx, chromedp.Evaluate(anchorHrefsJS, &hrefs)); err != nil {
		return nil, &BrowserCrawlError{URL: pageURL, Err: err}
	}

	return filterLinks(pageURL, hrefs), nil
}

// scrollUntilSettled repeats scroll-and-wait cycles until the anchor
// count stops growing: two unproductive scrolls end the loop, with one
// aggressive retry in between.
func scrollUntilSettled(ctx context.Context, maxScrolls int) error {
	prevCount := -1
	stale := 0
	retried := false
	useAggressive := false

	for i := 0; i < maxScrolls; i++ {
		script := scrollJS
		if useAggressive {
			script = aggressiveScrollJS
			useAggressive = false
		}
		if err := chromedp.Run(ctx, chromedp.Evaluate(script, nil)); err != nil {
			return err
		}

		var loading bool
		if err := chromedp.Run(ctx, chromedp.Evaluate(loadingVisibleJS, &loading)); err != nil {
			return err
		}
		wait := time.Second
		if loading {
			wait = 4 * time.Second
		}
		if err := chromedp.Run(ctx, chromedp.Sleep(wait)); err != nil {
			return err
		}

		var count int
		if err := chromedp.Run(ctx, chromedp.Evaluate(anchorCountJS, &count)); err != nil {
			return err
		}

		if count == prevCount {
			stale++
			if stale >= 2 {
				if retried {
					return nil
				}
				retried = true
				useAggressive = true
				stale = 1
			}
		} else {
			stale = 0
		}
		prevCount = count
	}
	return nil
}
