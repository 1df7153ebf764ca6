// The result monitor consumes crawl-result events and keeps rolling
// per-admin ingestion stats, exposed on a small stats endpoint for the
// dashboard.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/agentlytics/ingest-backend/pkg/model"
)

var (
	kafkaBroker = flag.String("kafka-broker", "localhost:9092", "Kafka broker address")
	groupID     = flag.String("group-id", "result-monitor", "Kafka consumer group ID")
	statsPort   = flag.String("stats-port", "8081", "Stats endpoint port")
)

type adminStats struct {
	Pages       int       `json:"pages"`
	Chunks      int       `json:"chunks"`
	TextBytes   int       `json:"textBytes"`
	EmptyEmbeds int       `json:"emptyEmbeds"`
	LastEvent   time.Time `json:"lastEvent"`
}

type ResultMonitor struct {
	consumer *kafka.Consumer

	mu    sync.Mutex
	stats map[string]*adminStats
}

func NewResultMonitor(broker, groupID string) (*ResultMonitor, error) {
	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  broker,
		"group.id":           groupID,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": false,
	})
	if err != nil {
		return nil, err
	}

	return &ResultMonitor{
		consumer: consumer,
		stats:    make(map[string]*adminStats),
	}, nil
}

func (m *ResultMonitor) Start() error {
	if err := m.consumer.Subscribe(model.TopicCrawlResults, nil); err != nil {
		return err
	}

	log.Println("Result monitor started, consuming from:", model.TopicCrawlResults)

	for {
		msg, err := m.consumer.ReadMessage(-1)
		if err != nil {
			log.Printf("Error reading message: %v", err)
			continue
		}
		m.processMessage(msg)
	}
}

func (m *ResultMonitor) processMessage(msg *kafka.Message) {
	var ev model.CrawlResultEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		log.Printf("Error unmarshaling crawl result: %v", err)
		return
	}

	m.mu.Lock()
	s, ok := m.stats[ev.AdminID]
	if !ok {
		s = &adminStats{}
		m.stats[ev.AdminID] = s
	}
	s.Pages++
	s.Chunks += ev.Chunks
	s.TextBytes += ev.TextBytes
	if ev.Chunks == 0 {
		// Pages that produced no vectors are the ones the
		// reconciliation pass will requeue; worth watching.
		s.EmptyEmbeds++
	}
	s.LastEvent = ev.CrawledAt
	m.mu.Unlock()

	log.Printf("Crawled %s for %s: %d chunks, %d bytes", ev.URL, ev.AdminID, ev.Chunks, ev.TextBytes)

	m.consumer.CommitMessage(msg)
}

func (m *ResultMonitor) statsHandler(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	out := make(map[string]adminStats, len(m.stats))
	for admin, s := range m.stats {
		out[admin] = *s
	}
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (m *ResultMonitor) Close() {
	if m.consumer != nil {
		m.consumer.Close()
	}
}

func main() {
	flag.Parse()

	monitor, err := NewResultMonitor(*kafkaBroker, *groupID)
	if err != nil {
		log.Fatalf("Failed to create result monitor: %v", err)
	}
	defer monitor.Close()

	go func() {
		http.HandleFunc("/stats", monitor.statsHandler)
		log.Printf("Stats endpoint on port %s", *statsPort)
		if err := http.ListenAndServe(":"+*statsPort, nil); err != nil {
			log.Fatalf("Stats server failed: %v", err)
		}
	}()

	if err := monitor.Start(); err != nil {
		log.Fatalf("Failed to start result monitor: %v", err)
	}
}
