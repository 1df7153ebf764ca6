package model

import (
	"time"
)

// Discovery methods recorded on a DiscoveredURL, in escalation order.
const (
	MethodSitemap    = "sitemap"
	MethodWebpage    = "webpage"
	MethodJavaScript = "javascript"
)

// DiscoveredURL is the bookkeeping record for one URL found during
// discovery. Keyed uniquely by (admin_id, url, source_sitemap_url) so
// re-submitting the same source never duplicates or resets crawl state.
type DiscoveredURL struct {
	AdminID          string    `bson:"admin_id" json:"adminId"`
	URL              string    `bson:"url" json:"url"`
	SourceSitemapURL string    `bson:"source_sitemap_url" json:"sourceSitemapUrl"`
	DiscoveredAt     time.Time `bson:"discovered_at" json:"discoveredAt"`
	DiscoveryMethod  string    `bson:"discovery_method" json:"discoveryMethod"`
	Crawled          bool      `bson:"crawled" json:"crawled"`
	CrawledAt        time.Time `bson:"crawled_at,omitempty" json:"crawledAt,omitempty"`
	FailureReason    string    `bson:"failure_reason,omitempty" json:"failureReason,omitempty"`
	FailedAt         time.Time `bson:"failed_at,omitempty" json:"failedAt,omitempty"`
	RecrawlReason    string    `bson:"recrawl_reason,omitempty" json:"recrawlReason,omitempty"`
}

// CrawledPage holds the extracted text of one successful crawl. A
// re-crawl inserts a new record rather than updating the old one.
type CrawledPage struct {
	AdminID   string    `bson:"admin_id" json:"adminId"`
	URL       string    `bson:"url" json:"url"`
	Filename  string    `bson:"filename" json:"filename"`
	Text      string    `bson:"text" json:"text"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
}

// VectorChunkRecord mirrors one vector pushed into the external index.
// The reconciliation pass uses these to verify the index actually holds
// vectors for a page marked crawled.
type VectorChunkRecord struct {
	AdminID    string `bson:"admin_id" json:"adminId"`
	Filename   string `bson:"filename" json:"filename"`
	VectorID   string `bson:"vector_id" json:"vectorId"`
	ChunkIndex int    `bson:"chunk_index" json:"chunkIndex"`
}

// AdminSetting is per-admin soft state, upserted on every submission.
type AdminSetting struct {
	AdminID        string `bson:"admin_id" json:"adminId"`
	LastSitemapURL string `bson:"last_sitemap_url" json:"lastSitemapUrl"`
}

// SubmitResponse reports one submission's batch progress back to the
// caller, so repeated submissions make incremental progress.
type SubmitResponse struct {
	Crawled        int      `json:"crawled"`
	TotalChunks    int      `json:"totalChunks"`
	Pages          []string `json:"pages"`
	BatchDone      int      `json:"batchDone"`
	BatchRemaining int      `json:"batchRemaining"`
	TotalRemaining int      `json:"totalRemaining"`
	RecrawledPages int      `json:"recrawledPages"`
}

// URLStatus is the flat per-URL view returned by GET ?urls=1.
type URLStatus struct {
	URL           string    `json:"url"`
	Crawled       bool      `json:"crawled"`
	CrawledAt     time.Time `json:"crawledAt,omitempty"`
	SitemapURL    string    `json:"sitemapUrl"`
	DiscoveryType string    `json:"discoveryType"`
}

// SitemapGroup aggregates crawled pages under one source sitemap URL
// for the paginated GET view.
type SitemapGroup struct {
	SitemapURL   string    `bson:"_id" json:"sitemapUrl"`
	Count        int       `bson:"count" json:"count"`
	FirstCrawled time.Time `bson:"first_crawled" json:"firstCrawled"`
	URLs         []string  `bson:"urls" json:"urls"`
}

// CrawlResultEvent is published to Kafka for each page that completes
// the extract/chunk/embed pipeline.
type CrawlResultEvent struct {
	AdminID    string    `json:"admin_id"`
	URL        string    `json:"url"`
	SitemapURL string    `json:"sitemap_url"`
	Chunks     int       `json:"chunks"`
	TextBytes  int       `json:"text_bytes"`
	CrawledAt  time.Time `json:"crawled_at"`
}

// Kafka topics.
const (
	TopicCrawlResults = "ingest.crawl.results"
)
