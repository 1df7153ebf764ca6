package discovery

import (
	"net/url"
	"path"
	"strings"
)

// schemes we refuse to crawl
var badSchemes = map[string]struct{}{
	"mailto":     {},
	"javascript": {},
	"tel":        {},
	"data":       {},
}

// binary/asset extensions that never carry crawlable text
var skipExtensions = map[string]struct{}{
	".pdf": {}, ".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {},
	".ppt": {}, ".pptx": {}, ".zip": {}, ".tar": {}, ".gz": {},
	".rar": {}, ".7z": {}, ".jpg": {}, ".jpeg": {}, ".png": {},
	".gif": {}, ".svg": {}, ".webp": {}, ".ico": {}, ".bmp": {},
	".mp3": {}, ".mp4": {}, ".avi": {}, ".mov": {}, ".webm": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".eot": {}, ".otf": {},
	".css": {}, ".js": {}, ".json": {}, ".rss": {}, ".atom": {},
}

// paths that are site plumbing, not content
var skipPathFragments = []string{
	"/admin/", "/wp-admin", "/wp-login", "/login", "/logout",
	"/signin", "/signup", "/sign-in", "/sign-up", "/register",
	"/cart", "/checkout", "/account/", "/contact", "/privacy",
	"/terms", "/cookie-policy", "/unsubscribe",
}

// tracking query parameters stripped during normalization
var trackingParams = map[string]struct{}{
	"ref":    {},
	"source": {},
}

func isTrackingParam(name string) bool {
	if strings.HasPrefix(name, "utm_") {
		return true
	}
	_, ok := trackingParams[name]
	return ok
}

// NormalizeLink resolves a raw href against its page URL and applies
// the content-eligibility rules: same hostname, http(s) only, fragment
// dropped, tracking params stripped, asset extensions and non-content
// paths rejected. Returns "" for links that should be ignored.
func NormalizeLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}

	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if ref.Scheme != "" {
		if _, bad := badSchemes[strings.ToLower(ref.Scheme)]; bad {
			return ""
		}
	}

	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	if !strings.EqualFold(abs.Hostname(), base.Hostname()) {
		return ""
	}

	abs.Fragment = ""

	if q := abs.Query(); len(q) > 0 {
		for name := range q {
			if isTrackingParam(name) {
				q.Del(name)
			}
		}
		abs.RawQuery = q.Encode()
	}

	ext := strings.ToLower(path.Ext(abs.Path))
	if _, skip := skipExtensions[ext]; skip {
		return ""
	}
	lower := strings.ToLower(abs.Path)
	for _, frag := range skipPathFragments {
		if strings.Contains(lower, frag) || strings.HasSuffix(lower, strings.TrimSuffix(frag, "/")) {
			return ""
		}
	}

	return abs.String()
}

// filterLinks normalizes and dedupes a raw href list, always seeding
// the result with the page URL itself.
func filterLinks(pageURL string, hrefs []string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	links := []string{pageURL}
	seen := map[string]struct{}{pageURL: {}}
	for _, href := range hrefs {
		link := NormalizeLink(base, href)
		if link == "" {
			continue
		}
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}
		links = append(links, link)
	}
	return links
}

// dedupe preserves first-seen order.
func dedupe(urls []string) []string {
	out := make([]string, 0, len(urls))
	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
