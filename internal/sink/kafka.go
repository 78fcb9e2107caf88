package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rawblock/wallet-investigator/pkg/models"
)

// EventRiskOpinion is the envelope type of published opinions
const EventRiskOpinion = "risk_opinion"

// Envelope wraps every message on the opinions topic
type Envelope struct {
	Type string          `json:"type"`
	TS   int64           `json:"ts"` // unix millis
	Data json.RawMessage `json:"data"`
}

type opinionEvent struct {
	InvestigationID string             `json:"investigationId"`
	Opinion         models.RiskOpinion `json:"opinion"`
}

// KafkaSink publishes opinions keyed by seed address, so all opinions for one
// address land on one partition in order
type KafkaSink struct {
	topic string
	p     sarama.SyncProducer
	now   func() time.Time
}

func NewKafkaSink(brokers []string, topic, clientID string) (*KafkaSink, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	if clientID != "" {
		cfg.ClientID = clientID
	}

	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return NewKafkaSinkWithProducer(p, topic), nil
}

// NewKafkaSinkWithProducer wraps an existing producer
func NewKafkaSinkWithProducer(p sarama.SyncProducer, topic string) *KafkaSink {
	return &KafkaSink{topic: topic, p: p, now: time.Now}
}

func (s *KafkaSink) Close() error {
	if s.p != nil {
		return s.p.Close()
	}
	return nil
}

func (s *KafkaSink) Persist(ctx context.Context, investigationID string, opinion models.RiskOpinion) error {
	// SyncProducer does not take a context
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(opinionEvent{InvestigationID: investigationID, Opinion: opinion})
	if err != nil {
		return err
	}
	b, err := json.Marshal(Envelope{Type: EventRiskOpinion, TS: s.now().UnixMilli(), Data: data})
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(opinion.Seed.String()),
		Value: sarama.ByteEncoder(b),
	}
	if _, _, err := s.p.SendMessage(msg); err != nil {
		return fmt.Errorf("kafka emit failed: %w", err)
	}
	return nil
}
