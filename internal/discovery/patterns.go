package discovery

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// ContentPattern is one known content-path shape with its relevance
// weight. Weights stay in [0.6, 1.0].
type ContentPattern struct {
	Name   string
	re     *regexp.Regexp
	Weight float64
}

var contentPatterns = []ContentPattern{
	{"blog", regexp.MustCompile(`/blogs?(/|$)`), 1.0},
	{"docs", regexp.MustCompile(`/docs(/|$)|/documentation(/|$)`), 1.0},
	{"article", regexp.MustCompile(`/articles?(/|$)`), 0.9},
	{"news", regexp.MustCompile(`/news(/|$)`), 0.9},
	{"guide", regexp.MustCompile(`/guides?(/|$)`), 0.9},
	{"tutorial", regexp.MustCompile(`/tutorials?(/|$)`), 0.85},
	{"post", regexp.MustCompile(`/posts?(/|$)`), 0.85},
	{"help", regexp.MustCompile(`/help(/|$)`), 0.8},
	{"faq", regexp.MustCompile(`/faqs?(/|$)`), 0.8},
	{"knowledge", regexp.MustCompile(`/knowledge-?base?(/|$)|/kb(/|$)`), 0.7},
	{"support", regexp.MustCompile(`/support(/|$)`), 0.7},
	{"resource", regexp.MustCompile(`/resources?(/|$)`), 0.7},
	{"case-study", regexp.MustCompile(`/case-stud(y|ies)(/|$)`), 0.65},
	{"learn", regexp.MustCompile(`/learn(/|$)`), 0.6},
}

// MatchesContentPattern reports whether a URL's path looks like a
// content page.
func MatchesContentPattern(rawurl string) bool {
	p := urlPath(rawurl)
	for _, cp := range contentPatterns {
		if cp.re.MatchString(p) {
			return true
		}
	}
	return false
}

// PatternCount is one pattern's match count across a URL set.
type PatternCount struct {
	Name   string
	Count  int
	Weight float64
}

// DepthAnalysis compares the input URL's path depth against the
// discovered set.
type DepthAnalysis struct {
	InputDepth int
	MeanDepth  float64
	MaxDepth   int
	MinDepth   int
	// AnyDeeperThanInput is true when some discovered URL sits more
	// than one path segment below the input page. Its absence on a
	// listing page suggests the real content loads lazily.
	AnyDeeperThanInput bool
}

// Analysis is the Content Pattern Analyzer's output: a pure heuristic
// signal, no side effects.
type Analysis struct {
	ContentURLs []string
	Patterns    []PatternCount
	Depth       DepthAnalysis
}

// Analyze scores a discovered URL set against the known content-path
// patterns and the input page's depth.
func Analyze(inputURL string, urls []string) Analysis {
	counts := make(map[string]int)
	var contentURLs []string

	for _, u := range urls {
		p := urlPath(u)
		matched := false
		for _, cp := range contentPatterns {
			if cp.re.MatchString(p) {
				counts[cp.Name]++
				matched = true
			}
		}
		if matched {
			contentURLs = append(contentURLs, u)
		}
	}

	var patterns []PatternCount
	for _, cp := range contentPatterns {
		if n := counts[cp.Name]; n > 0 {
			patterns = append(patterns, PatternCount{Name: cp.Name, Count: n, Weight: cp.Weight})
		}
	}
	sort.SliceStable(patterns, func(i, j int) bool {
		return float64(patterns[i].Count)*patterns[i].Weight > float64(patterns[j].Count)*patterns[j].Weight
	})

	return Analysis{
		ContentURLs: contentURLs,
		Patterns:    patterns,
		Depth:       analyzeDepth(inputURL, urls),
	}
}

func analyzeDepth(inputURL string, urls []string) DepthAnalysis {
	d := DepthAnalysis{InputDepth: pathDepth(inputURL)}
	if len(urls) == 0 {
		return d
	}

	sum := 0
	d.MinDepth = pathDepth(urls[0])
	for _, u := range urls {
		depth := pathDepth(u)
		sum += depth
		if depth > d.MaxDepth {
			d.MaxDepth = depth
		}
		if depth < d.MinDepth {
			d.MinDepth = depth
		}
		if depth > d.InputDepth+1 {
			d.AnyDeeperThanInput = true
		}
	}
	d.MeanDepth = float64(sum) / float64(len(urls))
	return d
}

func pathDepth(rawurl string) int {
	p := strings.Trim(urlPath(rawurl), "/")
	if p == "" {
		return 0
	}
	return len(strings.Split(p, "/"))
}

func urlPath(rawurl string) string {
	u, err := url.Parse(rawurl)
	if err != nil {
		return strings.ToLower(rawurl)
	}
	return strings.ToLower(u.Path)
}
