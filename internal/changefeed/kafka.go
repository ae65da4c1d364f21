package changefeed

import (
	"context"
	"fmt"
	"time"

	"companion-workers/internal/common/config"
	"companion-workers/internal/common/logger"
	"companion-workers/internal/common/metrics"
	"companion-workers/internal/dedup"
	"companion-workers/internal/models"

	"github.com/segmentio/kafka-go"
)

// Writer is the subset of *kafka.Writer the producer uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Reader is the subset of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter builds the writer for the change topic.
func NewKafkaWriter(cfg config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            5,
		WriteBackoffMin:        100 * time.Millisecond,
		WriteBackoffMax:        time.Second,
	}
}

// NewKafkaReader builds a consumer-group reader for the change topic.
func NewKafkaReader(cfg config.KafkaConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: 0,
	})
}

// NewTailReader joins a private group positioned at the end of the topic.
// Observers use it so they neither replay history nor take partitions away
// from the workers' group.
func NewTailReader(cfg config.KafkaConfig, group string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     group,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
	})
}

// Producer publishes change events to Kafka. Events are keyed by
// relationship when there is one, so a relationship's events stay ordered
// on one partition.
type Producer struct {
	writer Writer
	logger logger.Logger
}

func NewProducer(w Writer, log logger.Logger) *Producer {
	return &Producer{writer: w, logger: logger.ForComponent(log, "change-producer")}
}

func messageKey(ev models.ChangeEvent) []byte {
	if ev.RelationshipID != "" {
		return []byte(ev.RelationshipID)
	}
	return []byte(ev.RecordID)
}

func (p *Producer) Publish(ctx context.Context, ev models.ChangeEvent) error {
	value, err := Encode(ev)
	if err != nil {
		return fmt.Errorf("encode change event: %w", err)
	}
	msg := kafka.Message{
		Key:   messageKey(ev),
		Value: value,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("publish change event", map[string]interface{}{
			"eventId": ev.ID,
			"kind":    string(ev.Kind),
			"error":   err.Error(),
		})
		return fmt.Errorf("write change event: %w", err)
	}
	p.logger.Debug("change event published", map[string]interface{}{
		"eventId": ev.ID,
		"kind":    string(ev.Kind),
	})
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// Handler reacts to a decoded event. Handlers re-read state and must be
// idempotent: delivery is at least once.
type Handler interface {
	HandleEvent(ctx context.Context, ev models.ChangeEvent) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev models.ChangeEvent) error

func (f HandlerFunc) HandleEvent(ctx context.Context, ev models.ChangeEvent) error {
	return f(ctx, ev)
}

// Consumer reads the change topic, drops invalid and duplicate events, and
// forwards the rest to the hub and the handlers before committing. An event
// only counts as seen once every handler has accepted it.
type Consumer struct {
	reader   Reader
	seen     dedup.SeenSet
	hub      Publisher
	handlers []Handler
	logger   logger.Logger
}

func NewConsumer(r Reader, seen dedup.SeenSet, hub Publisher, log logger.Logger, handlers ...Handler) *Consumer {
	return &Consumer{
		reader:   r,
		seen:     seen,
		hub:      hub,
		handlers: handlers,
		logger:   logger.ForComponent(log, "change-consumer"),
	}
}

// Run consumes until ctx is cancelled, returning nil in that case.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("change consumer started", nil)
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("change consumer stopped", nil)
				return nil
			}
			return fmt.Errorf("fetch change event: %w", err)
		}

		c.process(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit change event: %w", err)
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	ev, err := Decode(msg.Value)
	if err != nil {
		c.logger.Warn("dropping invalid change event", map[string]interface{}{
			"partition": msg.Partition,
			"offset":    msg.Offset,
			"error":     err.Error(),
		})
		metrics.ChangeEventsConsumed.WithLabelValues("unknown", "invalid").Inc()
		return
	}
	kind := string(ev.Kind)

	if c.seen != nil {
		first, err := c.seen.MarkSeen(ctx, "event:"+ev.ID)
		switch {
		case err != nil:
			// handlers are idempotent, so an unavailable seen-set only costs work
			c.logger.Warn("event dedup unavailable", map[string]interface{}{"eventId": ev.ID, "error": err.Error()})
		case !first:
			metrics.ChangeEventsConsumed.WithLabelValues(kind, "duplicate").Inc()
			return
		}
	}

	if c.hub != nil {
		if err := c.hub.Publish(ctx, ev); err != nil {
			c.logger.Warn("hub publish failed", map[string]interface{}{"eventId": ev.ID, "error": err.Error()})
		}
	}

	result := "ok"
	for _, h := range c.handlers {
		if err := h.HandleEvent(ctx, ev); err != nil {
			result = "failed"
			c.logger.Error("change handler failed", map[string]interface{}{
				"eventId": ev.ID,
				"kind":    kind,
				"error":   err.Error(),
			})
		}
	}
	if result == "failed" && c.seen != nil {
		// a redelivery of this event must reach the handlers again
		if err := c.seen.Forget(ctx, "event:"+ev.ID); err != nil {
			c.logger.Warn("event dedup not released", map[string]interface{}{"eventId": ev.ID, "error": err.Error()})
		}
	}
	metrics.ChangeEventsConsumed.WithLabelValues(kind, result).Inc()
}
