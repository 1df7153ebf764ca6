package discovery

import (
	"net/url"
	"testing"
)

// TestNormalizeLink covers the content-eligibility rules applied to
// every raw href.
func TestNormalizeLink(t *testing.T) {
	base, err := url.Parse("https://example.com/blog")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		href string
		want string
	}{
		{"relative path", "/blog/post-1", "https://example.com/blog/post-1"},
		{"absolute same host", "https://example.com/docs/intro", "https://example.com/docs/intro"},
		{"host case insensitive", "https://EXAMPLE.com/docs", "https://EXAMPLE.com/docs"},
		{"fragment stripped", "/blog/post-1#section", "https://example.com/blog/post-1"},
		{"fragment only", "#top", ""},
		{"utm params stripped", "/blog/post?utm_source=x&utm_medium=y", "https://example.com/blog/post"},
		{"ref param stripped keeps others", "/blog/post?ref=footer&page=2", "https://example.com/blog/post?page=2"},
		{"foreign host", "https://other.com/blog", ""},
		{"subdomain rejected", "https://docs.example.com/intro", ""},
		{"mailto", "mailto:hello@example.com", ""},
		{"javascript", "javascript:void(0)", ""},
		{"tel", "tel:+15551234567", ""},
		{"pdf", "/whitepaper.pdf", ""},
		{"image", "/assets/logo.png", ""},
		{"stylesheet", "/static/site.css", ""},
		{"login path", "/login", ""},
		{"admin path", "/admin/dashboard", ""},
		{"cart path", "/cart", ""},
		{"empty", "", ""},
		{"whitespace", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeLink(base, tt.href)
			if got != tt.want {
				t.Errorf("NormalizeLink(%q) = %q, want %q", tt.href, got, tt.want)
			}
		})
	}
}

// TestFilterLinks verifies dedup and that the page itself always leads
// the result.
func TestFilterLinks(t *testing.T) {
	pageURL := "https://example.com/blog"
	hrefs := []string{
		"/blog/a",
		"/blog/a",
		"/blog/b#comments",
		"/blog/b",
		"https://other.com/x",
	}

	links := filterLinks(pageURL, hrefs)
	want := []string{
		"https://example.com/blog",
		"https://example.com/blog/a",
		"https://example.com/blog/b",
	}

	if len(links) != len(want) {
		t.Fatalf("Expected %d links, got %d: %v", len(want), len(links), links)
	}
	for i := range want {
		if links[i] != want[i] {
			t.Errorf("links[%d] = %q, want %q", i, links[i], want[i])
		}
	}
}

func TestDedupe(t *testing.T) {
	in := []string{"a", "b", "a", "c", "b"}
	out := dedupe(in)
	want := []string{"a", "b", "c"}
	if len(out) != len(want) {
		t.Fatalf("dedupe() = %v, want %v", out, want)
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("out[%d] = %q, want %q", i, out[i], want[i])
		}
	}
}
