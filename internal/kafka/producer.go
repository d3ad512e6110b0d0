package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// TicketEventProducer — интерфейс для отправки событий тикета в Kafka (для подмены моком в тестах).
type TicketEventProducer interface {
	ProduceTicketEvent(ctx context.Context, event string, payload map[string]interface{})
}

// Producer пишет события тикетов и запросы на уведомления в топики Kafka.
// Пустые brokers или topic отключают соответствующий writer.
type Producer struct {
	events        *kafka.Writer
	notifications *kafka.Writer
	log           *zap.Logger
	now           func() time.Time
}

type Topics struct {
	Ticket       string
	Notification string
}

func NewProducer(brokers []string, topics Topics, log *zap.Logger) *Producer {
	p := &Producer{log: log, now: time.Now}
	if len(brokers) == 0 {
		return p
	}
	p.events = newWriter(brokers, topics.Ticket)
	p.notifications = newWriter(brokers, topics.Notification)
	return p
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	if topic == "" {
		return nil
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
}

// Enabled reports whether ticket events are published.
func (p *Producer) Enabled() bool { return p.events != nil }

// ProduceTicketEvent отправляет событие тикета; ошибки только логируются.
// Ключ сообщения равен ticket_number, чтобы события одного тикета шли в одну партицию.
func (p *Producer) ProduceTicketEvent(ctx context.Context, event string, payload map[string]interface{}) {
	if p.events == nil {
		return
	}
	msg := map[string]interface{}{
		"event":       event,
		"event_id":    uuid.NewString(),
		"occurred_at": p.now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range payload {
		msg[k] = v
	}
	body, err := json.Marshal(msg)
	if err != nil {
		p.log.Warn("kafka: marshal ticket event", zap.String("event", event), zap.Error(err))
		return
	}
	key, _ := payload["ticket_number"].(string)
	if err := p.events.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: body}); err != nil {
		p.log.Warn("kafka: write ticket event", zap.String("event", event), zap.Error(err))
	}
}

// Notification: запрос на отправку уведомления; доставкой занимается отдельный сервис.
type Notification struct {
	ID        string                 `json:"id"`
	Recipient string                 `json:"recipient"`
	Template  string                 `json:"template"`
	Data      map[string]interface{} `json:"data,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// SendNotification publishes a notification request. Unlike ticket events the error is
// returned so the caller can log it with its own context.
func (p *Producer) SendNotification(ctx context.Context, n Notification) error {
	if p.notifications == nil {
		return nil
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = p.now().UTC()
	}
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("kafka: marshal notification: %w", err)
	}
	if err := p.notifications.WriteMessages(ctx, kafka.Message{Key: []byte(n.Recipient), Value: body}); err != nil {
		return fmt.Errorf("kafka: write notification: %w", err)
	}
	return nil
}

// Close закрывает writers.
func (p *Producer) Close() error {
	var first error
	for _, w := range []*kafka.Writer{p.events, p.notifications} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ParseBrokers разбивает строку брокеров "host1:9092,host2:9092" на слайс.
func ParseBrokers(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
