// Package ingest consumes signals from Kafka and feeds them into rule
// evaluation.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/segmentio/kafka-go"

	"github.com/good-yellow-bee/alertflow/internal/metrics"
	"github.com/good-yellow-bee/alertflow/internal/models"
)

// Evaluator runs a signal through a tenant's rules.
type Evaluator interface {
	EvaluateSignal(ctx context.Context, tenantID string, sig *models.Signal) ([]*models.Alert, error)
}

// Config contains Kafka consumer configuration.
type Config struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Topic == "" {
		c.Topic = "alertflow.signals"
	}
	if c.GroupID == "" {
		c.GroupID = "alertflow-engine"
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required when ingest is enabled")
	}
	return nil
}

// envelope is the wire format of one ingest message.
type envelope struct {
	TenantID string        `json:"tenant_id"`
	Signal   models.Signal `json:"signal"`
}

// Consumer reads signal envelopes from a Kafka topic and evaluates them.
type Consumer struct {
	config    Config
	evaluator Evaluator
}

// NewConsumer creates a Kafka signal consumer.
func NewConsumer(cfg Config, evaluator Evaluator) *Consumer {
	cfg.SetDefaults()
	return &Consumer{config: cfg, evaluator: evaluator}
}

// Run consumes messages until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.config.Brokers,
		Topic:    c.config.Topic,
		GroupID:  c.config.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	log.Printf("kafka ingest consuming topic %s (group %s)", c.config.Topic, c.config.GroupID)

	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("kafka read error: %v", err)
			continue
		}
		c.handle(ctx, m.Value)
	}
}

// handle decodes and evaluates one message. Malformed messages are
// counted and skipped, never retried.
func (c *Consumer) handle(ctx context.Context, value []byte) {
	var env envelope
	if err := json.Unmarshal(value, &env); err != nil {
		log.Printf("kafka message decode error: %v", err)
		metrics.IngestMessagesTotal.WithLabelValues("decode_error").Inc()
		return
	}
	if env.TenantID == "" {
		log.Printf("kafka message missing tenant id, dropping")
		metrics.IngestMessagesTotal.WithLabelValues("decode_error").Inc()
		return
	}

	alerts, err := c.evaluator.EvaluateSignal(ctx, env.TenantID, &env.Signal)
	if err != nil {
		log.Printf("kafka signal evaluate error: %v", err)
		metrics.IngestMessagesTotal.WithLabelValues("evaluate_error").Inc()
		return
	}

	if len(alerts) > 0 {
		log.Printf("kafka signal for tenant %s raised %d alert(s)", env.TenantID, len(alerts))
	}
	metrics.IngestMessagesTotal.WithLabelValues("ok").Inc()
}
