package discovery

import (
	"strings"
)

// listingSegments are collection-shaped path endings; landing on one
// of these with no children usually means an infinite-scroll or
// client-rendered listing.
var listingSegments = map[string]struct{}{
	"blog": {}, "blogs": {}, "docs": {}, "documentation": {},
	"articles": {}, "posts": {}, "news": {}, "guides": {},
	"tutorials": {}, "resources": {}, "faqs": {}, "faq": {},
	"help": {}, "knowledge-base": {}, "kb": {}, "learn": {},
	"insights": {}, "updates": {}, "changelog": {}, "stories": {},
}

var contentKeywords = []string{
	"blog", "doc", "article", "post", "news", "guide", "tutorial",
	"faq", "help", "resource", "learn", "insight", "knowledge",
}

// Decision is the Dynamic-Content-Page Detector's output: whether to
// escalate to browser rendering, with a [0,1] confidence and the
// heuristics that fired.
type Decision struct {
	ShouldUseJavaScript bool
	Confidence          float64
	Signals             []string
}

// Detect combines the pattern analysis with raw link counts into the
// escalation decision. Pure function over its inputs.
func Detect(inputURL string, a Analysis, totalLinks int) Decision {
	listing := isListingPath(inputURL)
	keywords := hasContentKeywords(inputURL)
	fewLinks := totalLinks <= 10
	zeroContent := len(a.ContentURLs) == 0
	minimalContent := !zeroContent && len(a.ContentURLs) <= 3
	noDeeperLinks := !a.Depth.AnyDeeperThanInput

	var d Decision
	add := func(weight float64, signal string) {
		d.Confidence += weight
		d.Signals = append(d.Signals, signal)
	}

	if listing {
		add(0.4, "listing-page-path")
	}
	if keywords {
		add(0.2, "content-keywords-in-url")
	}
	if zeroContent && keywords {
		add(0.3, "no-content-urls-found")
	}
	if minimalContent && keywords {
		add(0.2, "minimal-content-urls-found")
	}
	if fewLinks && keywords {
		add(0.1, "few-total-links")
	}
	if listing && noDeeperLinks {
		d.Signals = append(d.Signals, "no-links-below-listing")
	}
	if d.Confidence > 1.0 {
		d.Confidence = 1.0
	}

	d.ShouldUseJavaScript = d.Confidence >= 0.4
	return d
}

func isListingPath(rawurl string) bool {
	p := strings.Trim(urlPath(rawurl), "/")
	if p == "" {
		return false
	}
	segments := strings.Split(p, "/")
	last := segments[len(segments)-1]
	_, ok := listingSegments[last]
	return ok
}

func hasContentKeywords(rawurl string) bool {
	p := urlPath(rawurl)
	for _, kw := range contentKeywords {
		if strings.Contains(p, kw) {
			return true
		}
	}
	return false
}
