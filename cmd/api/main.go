package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"github.com/agentlytics/ingest-backend/internal/auth"
	"github.com/agentlytics/ingest-backend/internal/chunker"
	"github.com/agentlytics/ingest-backend/internal/config"
	"github.com/agentlytics/ingest-backend/internal/crawl"
	"github.com/agentlytics/ingest-backend/internal/discovery"
	"github.com/agentlytics/ingest-backend/internal/embed"
	"github.com/agentlytics/ingest-backend/internal/events"
	"github.com/agentlytics/ingest-backend/internal/extract"
	"github.com/agentlytics/ingest-backend/internal/fetch"
	"github.com/agentlytics/ingest-backend/internal/httpapi"
	"github.com/agentlytics/ingest-backend/internal/store"
	"github.com/agentlytics/ingest-backend/internal/vector"
	"golang.org/x/time/rate"
)

var (
	configPath = flag.String("config", "config.yaml", "Path to config file")
)

func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	db, err := store.New(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer db.Close(ctx)

	client := fetch.NewClient(cfg.Crawl.FetchTimeout(), cfg.Crawl.MaxHTTPRedirects, cfg.Crawl.UserAgent)
	discoverer := discovery.New(client, cfg.Crawl.NavTimeout(), cfg.Crawl.MaxScrolls, cfg.Crawl.UserAgent)

	navTimeout := cfg.Crawl.NavTimeout()
	extractor := &extract.Extractor{
		Client: client,
		Browser: func(ctx context.Context, pageURL string, dynamic bool) (string, error) {
			return extract.ExtractTextBrowser(ctx, pageURL, navTimeout, dynamic)
		},
	}

	producer, err := events.New(cfg.Kafka.Broker, cfg.Kafka.Topic)
	if err != nil {
		log.Printf("Kafka producer unavailable, events disabled: %v", err)
	}

	orchestrator := &crawl.Orchestrator{
		Store:     db,
		Embedder:  embed.NewClient(cfg.Embed.BaseURL, cfg.Embed.APIKey, cfg.Embed.Model),
		Index:     vector.NewClient(cfg.Vector.BaseURL, cfg.Vector.APIKey),
		Discover:  discoverer.Discover,
		Extract:   extractor.ExtractText,
		Chunk:     chunker.Split,
		BatchSize: cfg.Crawl.BatchSize,
		HostRate:  rate.Limit(cfg.Crawl.HostRatePerSec),
	}
	if producer != nil {
		orchestrator.Events = producer
		defer producer.Close()
	}

	verifier := auth.NewVerifier(cfg.Auth.CookieName, cfg.Auth.SessionSecret, cfg.Auth.DebugAPIKey)
	server := httpapi.NewServer(orchestrator, db, verifier, cfg.Crawl.RequestDeadline())

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Crawl.RequestDeadline() + time.Minute,
	}

	log.Printf("Starting ingest API server on port %s", cfg.Server.Port)
	if err := srv.ListenAndServe(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
