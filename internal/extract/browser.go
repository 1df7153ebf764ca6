package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/agentlytics/ingest-backend/internal/metrics"
)

// BrowserExtractError wraps any failure inside headless-browser text
// extraction; the browser instance is torn down before it propagates.
type BrowserExtractError struct {
	URL string
	Err error
}

func (e *BrowserExtractError) Error() string {
	return fmt.Sprintf("browser extract %s: %v", e.URL, e.Err)
}

func (e *BrowserExtractError) Unwrap() error { return e.Err }

// containerTextJS prefers known main-content containers when they hold
// enough text, else falls back to the whole page.
const containerTextJS = `(() => {
	const sels = ['.slides', '.slide-content', '.presentation', '.reveal',
		'article', 'main', '[role="main"]', '.content', '#content'];
	for (const sel of sels) {
		const el = document.querySelector(sel);
		if (el && el.innerText && el.innerText.trim().length > 100) {
			return el.innerText;
		}
	}
	return document.body ? document.body.innerText : '';
})()`

const pageScrollJS = `window.scrollTo(0, document.body.scrollHeight)`

// ExtractTextBrowser renders the page in an isolated headless browser
// and extracts its visible text. dynamic pages get a longer settle
// wait plus one scroll to trigger deferred rendering.
func ExtractTextBrowser(ctx context.Context, pageURL string, navTimeout time.Duration, dynamic bool) (string, error) {
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

	settle := 3 * time.Second
	if dynamic {
		settle = 5 * time.Second
	}

	navCtx, cancelNav := context.WithTimeout(browserCtx, navTimeout)
	defer cancelNav()
	tasks := chromedp.Tasks{
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(settle),
	}
	if err := chromedp.Run(navCtx, tasks); err != nil {
		return "", &BrowserExtractError{URL: pageURL, Err: err}
	}

	if dynamic {
		if err := chromedp.Run(browserCtx,
			chromedp.Evaluate(pageScrollJS, nil),
			chromedp.Sleep(time.Second),
		); err != nil {
			return "", &BrowserExtractError{URL: pageURL, Err: err}
		}
	}

	var text string
	if err := chromedp.Run(browserCtx, chromedp.Evaluate(containerTextJS, &text)); err != nil {
		return "", &BrowserExtractError{URL: pageURL, Err: err}
	}

	return collapseWhitespace(text), nil
}
