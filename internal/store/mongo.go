// Package store is the MongoDB bookkeeping layer: discovered URLs,
// crawled pages, the vector-chunk mirror and per-admin settings.
package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/agentlytics/ingest-backend/pkg/model"
)

type Store struct {
	client     *mongo.Client
	discovered *mongo.Collection
	pages      *mongo.Collection
	chunks     *mongo.Collection
	settings   *mongo.Collection
}

func New(ctx context.Context, uri, database string) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("ping MongoDB: %w", err)
	}

	db := client.Database(database)
	s := &Store{
		client:     client,
		discovered: db.Collection("discovered_urls"),
		pages:      db.Collection("crawled_pages"),
		chunks:     db.Collection("vector_chunks"),
		settings:   db.Collection("admin_settings"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("create indexes: %w", err)
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := s.discovered.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "admin_id", Value: 1},
			{Key: "url", Value: 1},
			{Key: "source_sitemap_url", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}
	_, err = s.chunks.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "admin_id", Value: 1}, {Key: "filename", Value: 1}},
	})
	if err != nil {
		return err
	}
	_, err = s.settings.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "admin_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func discoveredKey(adminID, url, source string) bson.M {
	return bson.M{"admin_id": adminID, "url": url, "source_sitemap_url": source}
}

// UpsertDiscovered records a discovered URL. Insert-only: an existing
// record keeps its crawl state untouched on re-submission.
func (s *Store) UpsertDiscovered(ctx context.Context, rec model.DiscoveredURL) error {
	_, err := s.discovered.UpdateOne(ctx,
		discoveredKey(rec.AdminID, rec.URL, rec.SourceSitemapURL),
		bson.M{"$setOnInsert": rec},
		options.Update().SetUpsert(true),
	)
	return err
}

// ListDiscovered returns the records for one admin and source, oldest
// discovery first so crawl order follows discovery order.
func (s *Store) ListDiscovered(ctx context.Context, adminID, source string) ([]model.DiscoveredURL, error) {
	cursor, err := s.discovered.Find(ctx,
		bson.M{"admin_id": adminID, "source_sitemap_url": source},
		options.Find().SetSort(bson.D{{Key: "discovered_at", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	var recs []model.DiscoveredURL
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// AllDiscovered is the debug dump: every discovery record for the
// admin across all sources.
func (s *Store) AllDiscovered(ctx context.Context, adminID string) ([]model.DiscoveredURL, error) {
	cursor, err := s.discovered.Find(ctx, bson.M{"admin_id": adminID})
	if err != nil {
		return nil, err
	}
	var recs []model.DiscoveredURL
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *Store) MarkCrawled(ctx context.Context, adminID, url, source string) error {
	_, err := s.discovered.UpdateOne(ctx,
		discoveredKey(adminID, url, source),
		bson.M{
			"$set":   bson.M{"crawled": true, "crawled_at": time.Now()},
			"$unset": bson.M{"failure_reason": "", "failed_at": "", "recrawl_reason": ""},
		},
	)
	return err
}

func (s *Store) MarkFailed(ctx context.Context, adminID, url, source, reason string) error {
	_, err := s.discovered.UpdateOne(ctx,
		discoveredKey(adminID, url, source),
		bson.M{"$set": bson.M{"failure_reason": reason, "failed_at": time.Now()}},
	)
	return err
}

// ResetCrawled unsets a record's crawled state so the next batch picks
// it up again; used when its vectors turn out to be missing.
func (s *Store) ResetCrawled(ctx context.Context, adminID, url, source, reason string) error {
	_, err := s.discovered.UpdateOne(ctx,
		discoveredKey(adminID, url, source),
		bson.M{
			"$unset": bson.M{"crawled": "", "crawled_at": ""},
			"$set":   bson.M{"recrawl_reason": reason},
		},
	)
	return err
}

func (s *Store) InsertCrawledPage(ctx context.Context, page model.CrawledPage) error {
	_, err := s.pages.InsertOne(ctx, page)
	return err
}

func (s *Store) InsertVectorChunks(ctx context.Context, recs []model.VectorChunkRecord) error {
	if len(recs) == 0 {
		return nil
	}
	docs := make([]interface{}, len(recs))
	for i, r := range recs {
		docs[i] = r
	}
	_, err := s.chunks.InsertMany(ctx, docs)
	return err
}

func (s *Store) VectorChunksFor(ctx context.Context, adminID, filename string) ([]model.VectorChunkRecord, error) {
	cursor, err := s.chunks.Find(ctx, bson.M{"admin_id": adminID, "filename": filename})
	if err != nil {
		return nil, err
	}
	var recs []model.VectorChunkRecord
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *Store) UpsertSetting(ctx context.Context, setting model.AdminSetting) error {
	_, err := s.settings.UpdateOne(ctx,
		bson.M{"admin_id": setting.AdminID},
		bson.M{"$set": setting},
		options.Update().SetUpsert(true),
	)
	return err
}

// GetSetting returns nil when the admin has never submitted.
func (s *Store) GetSetting(ctx context.Context, adminID string) (*model.AdminSetting, error) {
	var setting model.AdminSetting
	err := s.settings.FindOne(ctx, bson.M{"admin_id": adminID}).Decode(&setting)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &setting, nil
}

// URLStatuses is the flat per-URL crawl-status view across all
// sources.
func (s *Store) URLStatuses(ctx context.Context, adminID string) ([]model.URLStatus, error) {
	recs, err := s.AllDiscovered(ctx, adminID)
	if err != nil {
		return nil, err
	}
	statuses := make([]model.URLStatus, 0, len(recs))
	for _, r := range recs {
		statuses = append(statuses, model.URLStatus{
			URL:           r.URL,
			Crawled:       r.Crawled,
			CrawledAt:     r.CrawledAt,
			SitemapURL:    r.SourceSitemapURL,
			DiscoveryType: r.DiscoveryMethod,
		})
	}
	return statuses, nil
}

// AggregateSitemaps groups crawled URLs by source sitemap with a
// count, the earliest crawl time and the distinct URL list, paginated.
func (s *Store) AggregateSitemaps(ctx context.Context, adminID string, page, pageSize int) ([]model.SitemapGroup, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}

	match := bson.D{{Key: "$match", Value: bson.D{
		{Key: "admin_id", Value: adminID},
		{Key: "crawled", Value: true},
	}}}
	group := bson.D{{Key: "$group", Value: bson.D{
		{Key: "_id", Value: "$source_sitemap_url"},
		{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		{Key: "first_crawled", Value: bson.D{{Key: "$min", Value: "$crawled_at"}}},
		{Key: "urls", Value: bson.D{{Key: "$addToSet", Value: "$url"}}},
	}}}
	sort := bson.D{{Key: "$sort", Value: bson.D{{Key: "first_crawled", Value: -1}}}}

	countCursor, err := s.discovered.Aggregate(ctx, mongo.Pipeline{match, group,
		bson.D{{Key: "$count", Value: "total"}}})
	if err != nil {
		return nil, 0, err
	}
	var totals []struct {
		Total int `bson:"total"`
	}
	if err := countCursor.All(ctx, &totals); err != nil {
		return nil, 0, err
	}
	total := 0
	if len(totals) > 0 {
		total = totals[0].Total
	}

	skip := bson.D{{Key: "$skip", Value: int64((page - 1) * pageSize)}}
	limit := bson.D{{Key: "$limit", Value: int64(pageSize)}}
	cursor, err := s.discovered.Aggregate(ctx, mongo.Pipeline{match, group, sort, skip, limit})
	if err != nil {
		return nil, 0, err
	}
	var groups []model.SitemapGroup
	if err := cursor.All(ctx, &groups); err != nil {
		return nil, 0, err
	}
	return groups, total, nil
}

// URLsForSitemap lists every URL discovered under a source.
func (s *Store) URLsForSitemap(ctx context.Context, adminID, sitemapURL string) ([]string, error) {
	values, err := s.discovered.Distinct(ctx, "url",
		bson.M{"admin_id": adminID, "source_sitemap_url": sitemapURL})
	if err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(values))
	for _, v := range values {
		if u, ok := v.(string); ok {
			urls = append(urls, u)
		}
	}
	return urls, nil
}

// VectorIDsForFilenames collects the mirrored vector ids for a set of
// page filenames, for deletion from the external index.
func (s *Store) VectorIDsForFilenames(ctx context.Context, adminID string, filenames []string) ([]string, error) {
	if len(filenames) == 0 {
		return nil, nil
	}
	cursor, err := s.chunks.Find(ctx, bson.M{
		"admin_id": adminID,
		"filename": bson.M{"$in": filenames},
	})
	if err != nil {
		return nil, err
	}
	var recs []model.VectorChunkRecord
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.VectorID)
	}
	return ids, nil
}

// DeletePages removes the crawled pages and chunk mirrors for the
// given URLs, returning how many pages were deleted. Discovery records
// are handled separately by the caller.
func (s *Store) DeletePages(ctx context.Context, adminID string, urls []string) (int64, error) {
	if len(urls) == 0 {
		return 0, nil
	}
	res, err := s.pages.DeleteMany(ctx, bson.M{"admin_id": adminID, "url": bson.M{"$in": urls}})
	if err != nil {
		return 0, err
	}
	_, err = s.chunks.DeleteMany(ctx, bson.M{"admin_id": adminID, "filename": bson.M{"$in": urls}})
	return res.DeletedCount, err
}

// DeleteDiscoveredBySitemap removes every discovery record under a
// source.
func (s *Store) DeleteDiscoveredBySitemap(ctx context.Context, adminID, sitemapURL string) error {
	_, err := s.discovered.DeleteMany(ctx,
		bson.M{"admin_id": adminID, "source_sitemap_url": sitemapURL})
	return err
}

// ResetDiscoveredByURL unsets crawl state on every record for one URL
// so a later submission can recrawl it.
func (s *Store) ResetDiscoveredByURL(ctx context.Context, adminID, url string) error {
	_, err := s.discovered.UpdateMany(ctx,
		bson.M{"admin_id": adminID, "url": url},
		bson.M{
			"$unset": bson.M{"crawled": "", "crawled_at": ""},
			"$set":   bson.M{"recrawl_reason": "deleted"},
		},
	)
	return err
}
