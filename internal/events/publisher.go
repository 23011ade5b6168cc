// Package events publishes finished call analyses for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"call-coach-go/internal/actionable"
	"call-coach-go/internal/logger"
	"call-coach-go/internal/metrics"
	"call-coach-go/internal/types"
)

// Envelope is the message value on the analysis topic.
type Envelope struct {
	Analysis   types.CallAnalysis    `json:"analysis"`
	ActionCard actionable.ActionCard `json:"action_card"`
}

type Config struct {
	Brokers   []string
	Topic     string
	Principal string
	Enabled   bool
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes one message per analysis keyed by call id. With Kafka
// disabled it only logs the payload.
type Publisher struct {
	writer    messageWriter
	topic     string
	principal string
	metrics   *metrics.Metrics
	log       *logger.Logger
}

func New(cfg Config, m *metrics.Metrics, log *logger.Logger) *Publisher {
	if log == nil {
		log = logger.Nop()
	}
	p := &Publisher{topic: cfg.Topic, principal: cfg.Principal, metrics: m, log: log.Component("publisher")}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		p.log.Info("kafka disabled, using log-only mode")
		return p
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireAll,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}
	p.log.WithField("brokers", cfg.Brokers).WithField("topic", cfg.Topic).Info("kafka publisher initialized")
	return p
}

// Persist publishes the analysis with its action card.
func (p *Publisher) Persist(ctx context.Context, analysis types.CallAnalysis, rubric types.Rubric) error {
	env := Envelope{Analysis: analysis, ActionCard: actionable.Generate(analysis, rubric)}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal analysis: %w", err)
	}

	log := p.log.WithField("call_id", analysis.CallID).WithField("run_id", analysis.RunID)
	if p.writer == nil {
		log.WithField("payload", string(payload)).Info("analysis published (log-only)")
		p.metrics.RecordPublish(nil)
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(analysis.CallID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte("call.analysis.completed")},
			{Key: "rubricVersion", Value: []byte(analysis.RubricVersion)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}
	err = p.writer.WriteMessages(ctx, msg)
	p.metrics.RecordPublish(err)
	if err != nil {
		log.WithError(err).WithField("topic", p.topic).Error("failed to write to kafka")
		return fmt.Errorf("publish analysis for %s: %w", analysis.CallID, err)
	}
	log.WithField("topic", p.topic).Debug("analysis published")
	return nil
}

func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
