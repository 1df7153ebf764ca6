// ingestctl runs individual pipeline stages against a live URL, for
// debugging crawl behavior without the API server or any datastore.
//
//	ingestctl -mode discover -url https://example.com/blog
//	ingestctl -mode extract  -url https://example.com/blog/post-1
//	ingestctl -mode chunks   -url https://example.com/blog/post-1
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"github.com/agentlytics/ingest-backend/internal/chunker"
	"github.com/agentlytics/ingest-backend/internal/discovery"
	"github.com/agentlytics/ingest-backend/internal/extract"
	"github.com/agentlytics/ingest-backend/internal/fetch"
)

var (
	mode       = flag.String("mode", "discover", "Pipeline stage: discover, extract or chunks")
	targetURL  = flag.String("url", "", "Target URL")
	timeout    = flag.Duration("timeout", 2*time.Minute, "Overall timeout")
	navTimeout = flag.Duration("nav-timeout", 30*time.Second, "Browser navigation timeout")
	maxScrolls = flag.Int("max-scrolls", 15, "Browser scroll cycle limit")
	userAgent  = flag.String("user-agent", "AgentlyticsBot/1.0 (+https://agentlytics.io/bot)", "User agent")
	noBrowser  = flag.Bool("no-browser", false, "Disable headless browser fallbacks")
)

func main() {
	flag.Parse()
	if *targetURL == "" {
		log.Fatal("-url is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := fetch.NewClient(15*time.Second, 20, *userAgent)

	switch *mode {
	case "discover":
		d := discovery.New(client, *navTimeout, *maxScrolls, *userAgent)
		if *noBrowser {
			d.BrowserLinks = nil
		}
		res, err := d.Discover(ctx, *targetURL)
		if err != nil {
			log.Fatalf("Discovery failed: %v", err)
		}
		printJSON(map[string]interface{}{
			"method": res.Method,
			"count":  len(res.URLs),
			"urls":   res.URLs,
		})

	case "extract":
		text, err := runExtract(ctx, client)
		if err != nil {
			log.Fatalf("Extraction failed: %v", err)
		}
		printJSON(map[string]interface{}{
			"url":   *targetURL,
			"bytes": len(text),
			"text":  text,
		})

	case "chunks":
		text, err := runExtract(ctx, client)
		if err != nil {
			log.Fatalf("Extraction failed: %v", err)
		}
		chunks := chunker.Split(text)
		printJSON(map[string]interface{}{
			"url":    *targetURL,
			"bytes":  len(text),
			"chunks": chunks,
		})

	default:
		log.Fatalf("Unknown mode %q", *mode)
	}
}

func runExtract(ctx context.Context, client *fetch.Client) (string, error) {
	e := &extract.Extractor{Client: client}
	if !*noBrowser {
		e.Browser = func(ctx context.Context, pageURL string, dynamic bool) (string, error) {
			return extract.ExtractTextBrowser(ctx, pageURL, *navTimeout, dynamic)
		}
	}
	return e.ExtractText(ctx, *targetURL)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("Failed to encode output: %v", err)
	}
}
