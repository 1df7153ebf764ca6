package crawl

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"golang.org/x/time/rate"

	"github.com/agentlytics/ingest-backend/internal/discovery"
	"github.com/agentlytics/ingest-backend/internal/embed"
	"github.com/agentlytics/ingest-backend/internal/vector"
	"github.com/agentlytics/ingest-backend/pkg/model"
)

// fakeStore is an in-memory Bookkeeper keyed like the Mongo unique
// index: admin id + url + source sitemap url.
type fakeStore struct {
	mu         sync.Mutex
	discovered map[string]*model.DiscoveredURL
	order      []string
	pages      []model.CrawledPage
	chunks     []model.VectorChunkRecord
	settings   map[string]model.AdminSetting
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		discovered: make(map[string]*model.DiscoveredURL),
		settings:   make(map[string]model.AdminSetting),
	}
}

func key(adminID, url, source string) string {
	return adminID + "|" + url + "|" + source
}

func (f *fakeStore) UpsertDiscovered(ctx context.Context, rec model.DiscoveredURL) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(rec.AdminID, rec.URL, rec.SourceSitemapURL)
	if _, exists := f.discovered[k]; exists {
		return nil // insert-only, matching the $setOnInsert upsert
	}
	f.discovered[k] = &rec
	f.order = append(f.order, k)
	return nil
}

func (f *fakeStore) ListDiscovered(ctx context.Context, adminID, source string) ([]model.DiscoveredURL, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.DiscoveredURL
	for _, k := range f.order {
		rec := f.discovered[k]
		if rec.AdminID == adminID && rec.SourceSitemapURL == source {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkCrawled(ctx context.Context, adminID, url, source string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.discovered[key(adminID, url, source)]; ok {
		rec.Crawled = true
		rec.FailureReason = ""
		rec.RecrawlReason = ""
	}
	return nil
}

func (f *fakeStore) MarkFailed(ctx context.Context, adminID, url, source, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.discovered[key(adminID, url, source)]; ok {
		rec.FailureReason = reason
	}
	return nil
}

func (f *fakeStore) ResetCrawled(ctx context.Context, adminID, url, source, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.discovered[key(adminID, url, source)]; ok {
		rec.Crawled = false
		rec.RecrawlReason = reason
	}
	return nil
}

func (f *fakeStore) InsertCrawledPage(ctx context.Context, page model.CrawledPage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages = append(f.pages, page)
	return nil
}

func (f *fakeStore) InsertVectorChunks(ctx context.Context, recs []model.VectorChunkRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, recs...)
	return nil
}

func (f *fakeStore) VectorChunksFor(ctx context.Context, adminID, filename string) ([]model.VectorChunkRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.VectorChunkRecord
	for _, c := range f.chunks {
		if c.AdminID == adminID && c.Filename == filename {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) UpsertSetting(ctx context.Context, setting model.AdminSetting) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings[setting.AdminID] = setting
	return nil
}

func (f *fakeStore) URLsForSitemap(ctx context.Context, adminID, sitemapURL string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, p := range f.pages {
		if p.AdminID == adminID {
			out = append(out, p.URL)
		}
	}
	return out, nil
}

func (f *fakeStore) VectorIDsForFilenames(ctx context.Context, adminID string, filenames []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wanted := make(map[string]bool, len(filenames))
	for _, fn := range filenames {
		wanted[fn] = true
	}
	var out []string
	for _, c := range f.chunks {
		if c.AdminID == adminID && wanted[c.Filename] {
			out = append(out, c.VectorID)
		}
	}
	return out, nil
}

func (f *fakeStore) DeletePages(ctx context.Context, adminID string, urls []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wanted := make(map[string]bool, len(urls))
	for _, u := range urls {
		wanted[u] = true
	}
	var kept []model.CrawledPage
	var deleted int64
	for _, p := range f.pages {
		if p.AdminID == adminID && wanted[p.URL] {
			deleted++
			continue
		}
		kept = append(kept, p)
	}
	f.pages = kept

	var keptChunks []model.VectorChunkRecord
	for _, c := range f.chunks {
		if c.AdminID == adminID && wanted[c.Filename] {
			continue
		}
		keptChunks = append(keptChunks, c)
	}
	f.chunks = keptChunks
	return deleted, nil
}

func (f *fakeStore) DeleteDiscoveredBySitemap(ctx context.Context, adminID, sitemapURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var order []string
	for _, k := range f.order {
		rec := f.discovered[k]
		if rec.AdminID == adminID && rec.SourceSitemapURL == sitemapURL {
			delete(f.discovered, k)
			continue
		}
		order = append(order, k)
	}
	f.order = order
	return nil
}

func (f *fakeStore) ResetDiscoveredByURL(ctx context.Context, adminID, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.discovered {
		if rec.AdminID == adminID && rec.URL == url {
			rec.Crawled = false
			rec.RecrawlReason = "deleted"
		}
	}
	return nil
}

// fakeEmbedder returns one deterministic vector per input chunk.
type fakeEmbedder struct {
	calls int
	fail  bool
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.fail {
		return nil, &embed.EmbeddingError{Status: 500, Msg: "model overloaded"}
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 0.5}
	}
	return out, nil
}

// fakeIndex is an in-memory VectorIndex.
type fakeIndex struct {
	mu      sync.Mutex
	vectors map[string]vector.Vector
	deleted []string
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{vectors: make(map[string]vector.Vector)}
}

func (f *fakeIndex) Upsert(ctx context.Context, vectors []vector.Vector) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range vectors {
		f.vectors[v.ID] = v
	}
	return nil
}

func (f *fakeIndex) Fetch(ctx context.Context, ids []string) (map[string]vector.Vector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]vector.Vector)
	for _, id := range ids {
		if v, ok := f.vectors[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (f *fakeIndex) Delete(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.vectors, id)
		f.deleted = append(f.deleted, id)
	}
	return nil
}

func pageText(url string) string {
	return fmt.Sprintf("Content for %s. %s", url, strings.Repeat("Interesting sentence here. ", 5))
}

func testOrchestrator(store *fakeStore, emb *fakeEmbedder, idx *fakeIndex, urls []string) *Orchestrator {
	return &Orchestrator{
		Store:    store,
		Embedder: emb,
		Index:    idx,
		Discover: func(ctx context.Context, u string) (*discovery.Result, error) {
			return &discovery.Result{URLs: urls, Method: model.MethodSitemap}, nil
		},
		Extract: func(ctx context.Context, u string) (string, error) {
			return pageText(u), nil
		},
		Chunk: func(text string) []string {
			return []string{text[:len(text)/2], text[len(text)/2:]}
		},
		BatchSize: 20,
		HostRate:  rate.Inf,
	}
}

// TestSubmit runs the example submission: a two-entry sitemap crawled
// to completion in one batch.
func TestSubmit(t *testing.T) {
	store := newFakeStore()
	emb := &fakeEmbedder{}
	idx := newFakeIndex()
	urls := []string{"https://example.com/a", "https://example.com/b"}
	o := testOrchestrator(store, emb, idx, urls)

	resp, err := o.Submit(context.Background(), "admin-1", "https://example.com/sitemap.xml")
	if err != nil {
		t.Fatalf("Submit() returned an error: %v", err)
	}

	if resp.Crawled != 2 {
		t.Errorf("Crawled = %d, want 2", resp.Crawled)
	}
	if resp.BatchRemaining != 0 || resp.TotalRemaining != 0 {
		t.Errorf("Remaining = %d/%d, want 0/0", resp.BatchRemaining, resp.TotalRemaining)
	}
	if resp.TotalChunks != 4 {
		t.Errorf("TotalChunks = %d, want 4 (2 pages x 2 chunks)", resp.TotalChunks)
	}
	if len(store.pages) != 2 {
		t.Errorf("Stored %d pages, want 2", len(store.pages))
	}
	if len(store.chunks) != 4 {
		t.Errorf("Stored %d chunk records, want 4", len(store.chunks))
	}
	if len(idx.vectors) != 4 {
		t.Errorf("Index holds %d vectors, want 4", len(idx.vectors))
	}

	// Every chunk record must point at a vector that exists.
	for _, c := range store.chunks {
		if _, ok := idx.vectors[c.VectorID]; !ok {
			t.Errorf("Chunk record %s/%d points at missing vector %s", c.Filename, c.ChunkIndex, c.VectorID)
		}
	}

	if s, ok := store.settings["admin-1"]; !ok || s.LastSitemapURL != "https://example.com/sitemap.xml" {
		t.Errorf("Admin setting not saved, got %+v", s)
	}
}

// TestSubmitIdempotent verifies that resubmitting does not duplicate
// records or recrawl completed pages.
func TestSubmitIdempotent(t *testing.T) {
	store := newFakeStore()
	emb := &fakeEmbedder{}
	idx := newFakeIndex()
	urls := []string{"https://example.com/a", "https://example.com/b"}
	o := testOrchestrator(store, emb, idx, urls)

	ctx := context.Background()
	if _, err := o.Submit(ctx, "admin-1", "https://example.com/sitemap.xml"); err != nil {
		t.Fatalf("First Submit() returned an error: %v", err)
	}
	resp, err := o.Submit(ctx, "admin-1", "https://example.com/sitemap.xml")
	if err != nil {
		t.Fatalf("Second Submit() returned an error: %v", err)
	}

	if resp.Crawled != 0 {
		t.Errorf("Second submission crawled %d pages, want 0", resp.Crawled)
	}
	if len(store.discovered) != 2 {
		t.Errorf("Expected 2 discovery records after resubmit, got %d", len(store.discovered))
	}
	if len(store.pages) != 2 {
		t.Errorf("Expected 2 stored pages after resubmit, got %d", len(store.pages))
	}
}

// TestSubmitBatchCap verifies that one submission crawls at most
// BatchSize pages and reports the remainder.
func TestSubmitBatchCap(t *testing.T) {
	var urls []string
	for i := 0; i < 25; i++ {
		urls = append(urls, fmt.Sprintf("https://example.com/page-%02d", i))
	}
	store := newFakeStore()
	o := testOrchestrator(store, &fakeEmbedder{}, newFakeIndex(), urls)

	resp, err := o.Submit(context.Background(), "admin-1", "https://example.com/sitemap.xml")
	if err != nil {
		t.Fatalf("Submit() returned an error: %v", err)
	}

	if resp.BatchDone != 20 {
		t.Errorf("BatchDone = %d, want 20", resp.BatchDone)
	}
	if resp.Crawled != 20 {
		t.Errorf("Crawled = %d, want 20", resp.Crawled)
	}
	if resp.BatchRemaining != 5 {
		t.Errorf("BatchRemaining = %d, want 5", resp.BatchRemaining)
	}
	if resp.TotalRemaining != 5 {
		t.Errorf("TotalRemaining = %d, want 5", resp.TotalRemaining)
	}

	// The second submission picks up the remainder.
	resp2, err := o.Submit(context.Background(), "admin-1", "https://example.com/sitemap.xml")
	if err != nil {
		t.Fatalf("Second Submit() returned an error: %v", err)
	}
	if resp2.Crawled != 5 || resp2.TotalRemaining != 0 {
		t.Errorf("Second batch crawled %d with %d remaining, want 5 with 0", resp2.Crawled, resp2.TotalRemaining)
	}
}

// TestSubmitExtractFailureIsolated verifies that one failing URL does
// not abort the batch.
func TestSubmitExtractFailureIsolated(t *testing.T) {
	store := newFakeStore()
	urls := []string{"https://example.com/ok", "https://example.com/broken", "https://example.com/also-ok"}
	o := testOrchestrator(store, &fakeEmbedder{}, newFakeIndex(), urls)
	o.Extract = func(ctx context.Context, u string) (string, error) {
		if strings.Contains(u, "broken") {
			return "", fmt.Errorf("fetch %s: HTTP 500", u)
		}
		return pageText(u), nil
	}

	resp, err := o.Submit(context.Background(), "admin-1", "https://example.com/sitemap.xml")
	if err != nil {
		t.Fatalf("Submit() returned an error: %v", err)
	}

	if resp.Crawled != 2 {
		t.Errorf("Crawled = %d, want 2", resp.Crawled)
	}
	rec := store.discovered[key("admin-1", "https://example.com/broken", "https://example.com/sitemap.xml")]
	if rec == nil {
		t.Fatal("Missing discovery record for the failing URL")
	}
	if rec.Crawled {
		t.Error("Failing URL must not be marked crawled")
	}
	if rec.FailureReason == "" {
		t.Error("Failing URL must carry a failure reason")
	}
}

// TestSubmitEmbedFailureKeepsPageCrawled verifies that an embedding
// outage leaves the page crawled with zero vectors; the next
// submission's reconciliation requeues it.
func TestSubmitEmbedFailureKeepsPageCrawled(t *testing.T) {
	store := newFakeStore()
	emb := &fakeEmbedder{fail: true}
	idx := newFakeIndex()
	urls := []string{"https://example.com/a"}
	o := testOrchestrator(store, emb, idx, urls)

	resp, err := o.Submit(context.Background(), "admin-1", "https://example.com/sitemap.xml")
	if err != nil {
		t.Fatalf("Submit() returned an error: %v", err)
	}

	if resp.Crawled != 1 {
		t.Errorf("Crawled = %d, want 1", resp.Crawled)
	}
	if resp.TotalChunks != 0 {
		t.Errorf("TotalChunks = %d, want 0 after embed failure", resp.TotalChunks)
	}
	rec := store.discovered[key("admin-1", "https://example.com/a", "https://example.com/sitemap.xml")]
	if rec == nil || !rec.Crawled {
		t.Fatal("Page must stay marked crawled after an embed failure")
	}
	if len(store.chunks) != 0 || len(idx.vectors) != 0 {
		t.Error("No chunk records or vectors should exist after an embed failure")
	}

	// Recovered embedder: the next submission requeues and recrawls.
	emb.fail = false
	resp2, err := o.Submit(context.Background(), "admin-1", "https://example.com/sitemap.xml")
	if err != nil {
		t.Fatalf("Second Submit() returned an error: %v", err)
	}
	if resp2.RecrawledPages != 1 {
		t.Errorf("RecrawledPages = %d, want 1", resp2.RecrawledPages)
	}
	if resp2.Crawled != 1 {
		t.Errorf("Second submission crawled %d, want 1", resp2.Crawled)
	}
	if len(idx.vectors) == 0 {
		t.Error("Vectors should exist after the recrawl")
	}
}

// TestSubmitReconcilesMissingVectors verifies that a crawled page whose
// vectors vanished from the index is requeued and recrawled.
func TestSubmitReconcilesMissingVectors(t *testing.T) {
	store := newFakeStore()
	idx := newFakeIndex()
	urls := []string{"https://example.com/a", "https://example.com/b"}
	o := testOrchestrator(store, &fakeEmbedder{}, idx, urls)

	ctx := context.Background()
	if _, err := o.Submit(ctx, "admin-1", "https://example.com/sitemap.xml"); err != nil {
		t.Fatalf("Submit() returned an error: %v", err)
	}

	// Simulate the index losing page a's vectors.
	var lost []string
	for _, c := range store.chunks {
		if c.Filename == "https://example.com/a" {
			lost = append(lost, c.VectorID)
		}
	}
	if err := idx.Delete(ctx, lost); err != nil {
		t.Fatal(err)
	}

	resp, err := o.Submit(ctx, "admin-1", "https://example.com/sitemap.xml")
	if err != nil {
		t.Fatalf("Second Submit() returned an error: %v", err)
	}
	if resp.RecrawledPages != 1 {
		t.Errorf("RecrawledPages = %d, want 1", resp.RecrawledPages)
	}
	if resp.Crawled != 1 {
		t.Errorf("Crawled = %d, want 1 (only the ghost page)", resp.Crawled)
	}
	rec := store.discovered[key("admin-1", "https://example.com/a", "https://example.com/sitemap.xml")]
	if rec == nil || !rec.Crawled {
		t.Error("Requeued page should be crawled again by the same submission")
	}
}

// TestSubmitZeroChunkFallback verifies that short-but-nonempty text is
// embedded as a single whole-text chunk.
func TestSubmitZeroChunkFallback(t *testing.T) {
	store := newFakeStore()
	idx := newFakeIndex()
	o := testOrchestrator(store, &fakeEmbedder{}, idx, []string{"https://example.com/tiny"})
	o.Extract = func(ctx context.Context, u string) (string, error) {
		return "Just a short note.", nil
	}
	o.Chunk = func(text string) []string { return nil }

	resp, err := o.Submit(context.Background(), "admin-1", "https://example.com/sitemap.xml")
	if err != nil {
		t.Fatalf("Submit() returned an error: %v", err)
	}
	if resp.TotalChunks != 1 {
		t.Errorf("TotalChunks = %d, want 1 (whole-text fallback)", resp.TotalChunks)
	}
	if len(idx.vectors) != 1 {
		t.Errorf("Index holds %d vectors, want 1", len(idx.vectors))
	}
}

// TestSubmitDiscoveryFailure verifies that discovery failure aborts the
// submission with no side effects.
func TestSubmitDiscoveryFailure(t *testing.T) {
	store := newFakeStore()
	o := testOrchestrator(store, &fakeEmbedder{}, newFakeIndex(), nil)
	o.Discover = func(ctx context.Context, u string) (*discovery.Result, error) {
		return nil, &discovery.DiscoveryError{
			SitemapErr: fmt.Errorf("HTTP 404"),
			WebpageErr: fmt.Errorf("HTTP 404"),
		}
	}

	_, err := o.Submit(context.Background(), "admin-1", "https://example.com/sitemap.xml")
	if err == nil {
		t.Fatal("Submit() should fail when discovery fails")
	}
	if len(store.discovered) != 0 || len(store.pages) != 0 {
		t.Error("Failed discovery must leave no records behind")
	}
}

// TestDeleteSitemap verifies full teardown of one sitemap's data.
func TestDeleteSitemap(t *testing.T) {
	store := newFakeStore()
	idx := newFakeIndex()
	urls := []string{"https://example.com/a", "https://example.com/b"}
	o := testOrchestrator(store, &fakeEmbedder{}, idx, urls)

	ctx := context.Background()
	if _, err := o.Submit(ctx, "admin-1", "https://example.com/sitemap.xml"); err != nil {
		t.Fatalf("Submit() returned an error: %v", err)
	}

	deleted, err := o.DeleteSitemap(ctx, "admin-1", "https://example.com/sitemap.xml")
	if err != nil {
		t.Fatalf("DeleteSitemap() returned an error: %v", err)
	}
	if deleted != 2 {
		t.Errorf("Deleted %d pages, want 2", deleted)
	}
	if len(store.pages) != 0 || len(store.chunks) != 0 {
		t.Error("Pages and chunk records should be gone")
	}
	if len(idx.vectors) != 0 {
		t.Errorf("Index still holds %d vectors", len(idx.vectors))
	}
	if len(store.discovered) != 0 {
		t.Errorf("Discovery records remain: %d", len(store.discovered))
	}
}

// TestDeletePage verifies single-page teardown resets its discovery
// record for recrawl.
func TestDeletePage(t *testing.T) {
	store := newFakeStore()
	idx := newFakeIndex()
	urls := []string{"https://example.com/a", "https://example.com/b"}
	o := testOrchestrator(store, &fakeEmbedder{}, idx, urls)

	ctx := context.Background()
	if _, err := o.Submit(ctx, "admin-1", "https://example.com/sitemap.xml"); err != nil {
		t.Fatalf("Submit() returned an error: %v", err)
	}

	deleted, err := o.DeletePage(ctx, "admin-1", "https://example.com/a")
	if err != nil {
		t.Fatalf("DeletePage() returned an error: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Deleted %d pages, want 1", deleted)
	}
	if len(store.pages) != 1 {
		t.Errorf("Expected 1 remaining page, got %d", len(store.pages))
	}

	rec := store.discovered[key("admin-1", "https://example.com/a", "https://example.com/sitemap.xml")]
	if rec == nil {
		t.Fatal("Discovery record should survive a page delete")
	}
	if rec.Crawled {
		t.Error("Deleted page's discovery record should be reset for recrawl")
	}
}
