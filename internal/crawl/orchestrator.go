// Package crawl runs one submission end to end: discovery,
// bookkeeping, reconciliation against the vector index, and a bounded
// batch of extract/chunk/embed/upsert pipelines.
package crawl

import (
	"context"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/agentlytics/ingest-backend/internal/discovery"
	"github.com/agentlytics/ingest-backend/internal/metrics"
	"github.com/agentlytics/ingest-backend/internal/vector"
	"github.com/agentlytics/ingest-backend/pkg/model"
)

// Bookkeeper is the Mongo-side state the orchestrator reads and
// writes.
type Bookkeeper interface {
	UpsertDiscovered(ctx context.Context, rec model.DiscoveredURL) error
	ListDiscovered(ctx context.Context, adminID, source string) ([]model.DiscoveredURL, error)
	MarkCrawled(ctx context.Context, adminID, url, source string) error
	MarkFailed(ctx context.Context, adminID, url, source, reason string) error
	ResetCrawled(ctx context.Context, adminID, url, source, reason string) error
	InsertCrawledPage(ctx context.Context, page model.CrawledPage) error
	InsertVectorChunks(ctx context.Context, recs []model.VectorChunkRecord) error
	VectorChunksFor(ctx context.Context, adminID, filename string) ([]model.VectorChunkRecord, error)
	UpsertSetting(ctx context.Context, setting model.AdminSetting) error

	URLsForSitemap(ctx context.Context, adminID, sitemapURL string) ([]string, error)
	VectorIDsForFilenames(ctx context.Context, adminID string, filenames []string) ([]string, error)
	DeletePages(ctx context.Context, adminID string, urls []string) (int64, error)
	DeleteDiscoveredBySitemap(ctx context.Context, adminID, sitemapURL string) error
	ResetDiscoveredByURL(ctx context.Context, adminID, url string) error
}

// Embedder turns a batch of chunks into one vector per chunk.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorIndex is the external vector store.
type VectorIndex interface {
	Upsert(ctx context.Context, vectors []vector.Vector) error
	Fetch(ctx context.Context, ids []string) (map[string]vector.Vector, error)
	Delete(ctx context.Context, ids []string) error
}

// Publisher emits crawl-result events; implementations must tolerate
// broker outages silently.
type Publisher interface {
	PublishCrawlResult(ev model.CrawlResultEvent)
}

// Reconciliation reasons stored on requeued records.
const (
	reasonNoChunkRecords = "no vector records"
	reasonMissingVectors = "vectors missing from index"
)

// Orchestrator wires the submission pipeline. All collaborators are
// injected so tests can substitute fakes.
type Orchestrator struct {
	Store    Bookkeeper
	Embedder Embedder
	Index    VectorIndex
	Events   Publisher

	Discover func(ctx context.Context, url string) (*discovery.Result, error)
	Extract  func(ctx context.Context, url string) (string, error)
	Chunk    func(text string) []string

	BatchSize int
	HostRate  rate.Limit

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Submit runs one submission: discover, persist, reconcile, crawl a
// bounded batch. Per-URL failures are recorded and never abort the
// batch; only discovery failure is terminal.
func (o *Orchestrator) Submit(ctx context.Context, adminID, sitemapURL string) (*model.SubmitResponse, error) {
	result, err := o.Discover(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}

	if err := o.Store.UpsertSetting(ctx, model.AdminSetting{
		AdminID:        adminID,
		LastSitemapURL: sitemapURL,
	}); err != nil {
		log.Printf("crawl: save admin setting: %v", err)
	}

	now := time.Now()
	for _, u := range result.URLs {
		err := o.Store.UpsertDiscovered(ctx, model.DiscoveredURL{
			AdminID:          adminID,
			URL:              u,
			SourceSitemapURL: sitemapURL,
			DiscoveredAt:     now,
			DiscoveryMethod:  result.Method,
		})
		if err != nil {
			log.Printf("crawl: record discovered url %s: %v", u, err)
		}
	}

	recrawled := o.reconcile(ctx, adminID, sitemapURL)

	// Recompute crawl state after reconciliation may have requeued
	// pages.
	crawled := make(map[string]bool)
	if recs, err := o.Store.ListDiscovered(ctx, adminID, sitemapURL); err == nil {
		for _, r := range recs {
			if r.Crawled {
				crawled[r.URL] = true
			}
		}
	} else {
		log.Printf("crawl: list discovered urls: %v", err)
	}

	// Crawl in discovery order.
	var pending []string
	for _, u := range result.URLs {
		if !crawled[u] {
			pending = append(pending, u)
		}
	}
	batch := pending
	if len(batch) > o.BatchSize {
		batch = batch[:o.BatchSize]
	}

	resp := &model.SubmitResponse{
		Pages:          []string{},
		BatchDone:      len(batch),
		BatchRemaining: len(pending) - len(batch),
		RecrawledPages: recrawled,
	}

	for _, u := range batch {
		if err := o.waitHost(ctx, u); err != nil {
			break // context done; remaining URLs wait for the next submission
		}
		chunks, err := o.crawlOne(ctx, adminID, u, sitemapURL)
		if err != nil {
			log.Printf("crawl: %s failed: %v", u, err)
			if err := o.Store.MarkFailed(ctx, adminID, u, sitemapURL, err.Error()); err != nil {
				log.Printf("crawl: record failure for %s: %v", u, err)
			}
			continue
		}
		resp.Crawled++
		resp.TotalChunks += chunks
		resp.Pages = append(resp.Pages, u)
	}

	resp.TotalRemaining = len(pending) - resp.Crawled
	return resp, nil
}

// crawlOne extracts, persists, chunks, embeds and upserts one URL,
// returning the chunk count. Embedding and upsert failures do NOT
// return an error: the page stays marked crawled with zero vectors and
// the reconciliation pass requeues it on the next submission.
func (o *Orchestrator) crawlOne(ctx context.Context, adminID, pageURL, sitemapURL string) (int, error) {
	text, err := o.Extract(ctx, pageURL)
	if err != nil {
		return 0, err
	}

	if err := o.Store.InsertCrawledPage(ctx, model.CrawledPage{
		AdminID:   adminID,
		URL:       pageURL,
		Filename:  pageURL,
		Text:      text,
		CreatedAt: time.Now(),
	}); err != nil {
		return 0, err
	}
	if err := o.Store.MarkCrawled(ctx, adminID, pageURL, sitemapURL); err != nil {
		log.Printf("crawl: mark %s crawled: %v", pageURL, err)
	}

	chunks := o.Chunk(text)
	if len(chunks) == 0 && len(text) > 10 {
		chunks = []string{text}
	}
	if len(chunks) == 0 {
		o.publish(adminID, pageURL, sitemapURL, 0, len(text))
		return 0, nil
	}

	vectors, err := o.Embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		log.Printf("crawl: embed %s (%d chunks): %v", pageURL, len(chunks), err)
		o.publish(adminID, pageURL, sitemapURL, 0, len(text))
		return 0, nil
	}

	upserts := make([]vector.Vector, len(chunks))
	records := make([]model.VectorChunkRecord, len(chunks))
	for i := range chunks {
		id := uuid.NewString()
		upserts[i] = vector.Vector{
			ID:     id,
			Values: vectors[i],
			Metadata: map[string]interface{}{
				"filename":   pageURL,
				"adminId":    adminID,
				"url":        pageURL,
				"chunkIndex": i,
			},
		}
		records[i] = model.VectorChunkRecord{
			AdminID:    adminID,
			Filename:   pageURL,
			VectorID:   id,
			ChunkIndex: i,
		}
	}

	if err := o.Index.Upsert(ctx, upserts); err != nil {
		log.Printf("crawl: upsert vectors for %s: %v", pageURL, err)
		o.publish(adminID, pageURL, sitemapURL, 0, len(text))
		return 0, nil
	}
	if err := o.Store.InsertVectorChunks(ctx, records); err != nil {
		log.Printf("crawl: record vector chunks for %s: %v", pageURL, err)
	}

	metrics.PagesEmbedded.Inc()
	o.publish(adminID, pageURL, sitemapURL, len(chunks), len(text))
	return len(chunks), nil
}

// reconcile verifies that every URL marked crawled still has vectors
// in the index, and requeues the ones that do not. Returns how many
// were requeued.
func (o *Orchestrator) reconcile(ctx context.Context, adminID, sitemapURL string) int {
	recs, err := o.Store.ListDiscovered(ctx, adminID, sitemapURL)
	if err != nil {
		log.Printf("crawl: reconcile list: %v", err)
		return 0
	}

	requeued := 0
	for _, rec := range recs {
		if !rec.Crawled {
			continue
		}
		chunks, err := o.Store.VectorChunksFor(ctx, adminID, rec.URL)
		if err != nil {
			log.Printf("crawl: reconcile chunks for %s: %v", rec.URL, err)
			continue
		}
		if len(chunks) == 0 {
			o.requeue(ctx, adminID, rec.URL, sitemapURL, reasonNoChunkRecords, &requeued)
			continue
		}

		ids := make([]string, len(chunks))
		for i, c := range chunks {
			ids[i] = c.VectorID
		}
		found, err := o.Index.Fetch(ctx, ids)
		if err != nil {
			// Index unavailable is not evidence of missing vectors;
			// leave the record alone.
			log.Printf("crawl: reconcile fetch for %s: %v", rec.URL, err)
			continue
		}
		if len(found) == 0 {
			o.requeue(ctx, adminID, rec.URL, sitemapURL, reasonMissingVectors, &requeued)
		}
	}
	return requeued
}

func (o *Orchestrator) requeue(ctx context.Context, adminID, pageURL, sitemapURL, reason string, requeued *int) {
	if err := o.Store.ResetCrawled(ctx, adminID, pageURL, sitemapURL, reason); err != nil {
		log.Printf("crawl: requeue %s: %v", pageURL, err)
		return
	}
	*requeued++
}

func (o *Orchestrator) publish(adminID, pageURL, sitemapURL string, chunks, textBytes int) {
	if o.Events == nil {
		return
	}
	o.Events.PublishCrawlResult(model.CrawlResultEvent{
		AdminID:    adminID,
		URL:        pageURL,
		SitemapURL: sitemapURL,
		Chunks:     chunks,
		TextBytes:  textBytes,
		CrawledAt:  time.Now(),
	})
}

// waitHost enforces the per-host rate limit before each extraction.
func (o *Orchestrator) waitHost(ctx context.Context, rawurl string) error {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil
	}

	o.mu.Lock()
	if o.limiters == nil {
		o.limiters = make(map[string]*rate.Limiter)
	}
	lim, ok := o.limiters[u.Host]
	if !ok {
		r := o.HostRate
		if r == 0 {
			r = rate.Limit(2)
		}
		lim = rate.NewLimiter(r, 1)
		o.limiters[u.Host] = lim
	}
	o.mu.Unlock()

	return lim.Wait(ctx)
}

// DeleteSitemap removes every crawled page, chunk mirror, index vector
// and discovery record under one source sitemap URL.
func (o *Orchestrator) DeleteSitemap(ctx context.Context, adminID, sitemapURL string) (int64, error) {
	urls, err := o.Store.URLsForSitemap(ctx, adminID, sitemapURL)
	if err != nil {
		return 0, err
	}
	deleted, err := o.deleteURLSet(ctx, adminID, urls)
	if err != nil {
		return deleted, err
	}
	return deleted, o.Store.DeleteDiscoveredBySitemap(ctx, adminID, sitemapURL)
}

// DeletePage removes a single page's data and resets its discovery
// records so a later submission can recrawl it.
func (o *Orchestrator) DeletePage(ctx context.Context, adminID, pageURL string) (int64, error) {
	deleted, err := o.deleteURLSet(ctx, adminID, []string{pageURL})
	if err != nil {
		return deleted, err
	}
	return deleted, o.Store.ResetDiscoveredByURL(ctx, adminID, pageURL)
}

func (o *Orchestrator) deleteURLSet(ctx context.Context, adminID string, urls []string) (int64, error) {
	ids, err := o.Store.VectorIDsForFilenames(ctx, adminID, urls)
	if err != nil {
		return 0, err
	}
	if err := o.Index.Delete(ctx, ids); err != nil {
		return 0, err
	}
	return o.Store.DeletePages(ctx, adminID, urls)
}
