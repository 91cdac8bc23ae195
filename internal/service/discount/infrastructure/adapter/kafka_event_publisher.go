package adapter

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"cafeteria/internal/service/discount/port"
)

// DefaultEventTopic receives every discount event.
const DefaultEventTopic = "discount-events"

const (
	writerBatchTimeout = 5 * time.Millisecond
	writerWriteTimeout = 2 * time.Second
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaEventPublisher implements port.EventPublisher. Messages are keyed by user id so that
// the events of one user stay ordered within a partition.
type KafkaEventPublisher struct {
	writer messageWriter
	topic  string
}

// NewKafkaWriter 创建 KafkaEventPublisher 使用的 writer。
// 发布位于请求链路上，批次需尽快刷出。
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: writerBatchTimeout,
		WriteTimeout: writerWriteTimeout,
	}
}

// NewKafkaEventPublisher publishes to topic through writer. An empty topic means DefaultEventTopic.
// writer must not have its own Topic set.
func NewKafkaEventPublisher(writer messageWriter, topic string) *KafkaEventPublisher {
	if topic == "" {
		topic = DefaultEventTopic
	}
	return &KafkaEventPublisher{writer: writer, topic: topic}
}

func (p *KafkaEventPublisher) Publish(ctx context.Context, event *port.DiscountEvent) error {
	msg, err := p.message(ctx, event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "produce %s event to %s", event.Type, p.topic)
	}
	return nil
}

func (p *KafkaEventPublisher) message(ctx context.Context, event *port.DiscountEvent) (kafka.Message, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, errors.Wrap(err, "marshal discount event")
	}

	carrier := &headerCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	return kafka.Message{
		Topic:   p.topic,
		Key:     []byte(strconv.FormatInt(event.UserID, 10)),
		Value:   payload,
		Headers: append(carrier.headers, kafka.Header{Key: "event_type", Value: []byte(event.Type)}),
	}, nil
}

// headerCarrier 将 kafka headers 适配为 propagation.TextMapCarrier，用于注入追踪上下文
type headerCarrier struct {
	headers []kafka.Header
}

var _ propagation.TextMapCarrier = (*headerCarrier)(nil)

func (c *headerCarrier) Get(key string) string {
	for _, h := range c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Set(key, value string) {
	for i, h := range c.headers {
		if h.Key == key {
			c.headers[i].Value = []byte(value)
			return
		}
	}
	c.headers = append(c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for _, h := range c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}
