// Package events publishes crawl results to Kafka for downstream
// analytics. Publishing is best-effort: a broker outage never fails a
// crawl.
package events

import (
	"encoding/json"
	"log"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/agentlytics/ingest-backend/pkg/model"
)

type Producer struct {
	producer *kafka.Producer
	topic    string
}

// New returns nil when no broker is configured; a nil Producer is safe
// to publish to and does nothing.
func New(broker, topic string) (*Producer, error) {
	if broker == "" {
		return nil, nil
	}
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": broker,
		"linger.ms":         10,
	})
	if err != nil {
		return nil, err
	}

	prod := &Producer{producer: p, topic: topic}
	go prod.handleEvents()
	return prod, nil
}

func (p *Producer) handleEvents() {
	for e := range p.producer.Events() {
		if msg, ok := e.(*kafka.Message); ok && msg.TopicPartition.Error != nil {
			log.Printf("events: delivery failed: %v", msg.TopicPartition)
		}
	}
}

// PublishCrawlResult emits one page's crawl outcome. Errors are logged
// and swallowed.
func (p *Producer) PublishCrawlResult(ev model.CrawlResultEvent) {
	if p == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("events: marshal crawl result: %v", err)
		return
	}
	topic := p.topic
	err = p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(ev.URL),
		Value:          payload,
	}, nil)
	if err != nil {
		log.Printf("events: produce crawl result: %v", err)
	}
}

func (p *Producer) Close() {
	if p == nil {
		return
	}
	p.producer.Flush(5000)
	p.producer.Close()
}
