// Package notify sends best-effort notifications about ticket progress.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/psds-microservice/ticket-intake-service/internal/kafka"
	"go.uber.org/zap"
)

const (
	TemplateTicketCreated  = "ticket_created"
	TemplateTicketAssigned = "ticket_assigned"
	TemplateTicketReopened = "ticket_reopened"
)

const (
	defaultQueueSize   = 256
	defaultSendTimeout = 2 * time.Second
)

// Sender delivers one notification request.
type Sender interface {
	Send(ctx context.Context, recipient, template string, data map[string]interface{}) error
}

// KafkaSender publishes notification requests to the notification topic.
type KafkaSender struct {
	producer *kafka.Producer
}

func NewKafkaSender(p *kafka.Producer) *KafkaSender {
	return &KafkaSender{producer: p}
}

func (s *KafkaSender) Send(ctx context.Context, recipient, template string, data map[string]interface{}) error {
	return s.producer.SendNotification(ctx, kafka.Notification{
		Recipient: recipient,
		Template:  template,
		Data:      data,
	})
}

type message struct {
	ctx       context.Context
	recipient string
	template  string
	data      map[string]interface{}
}

// Notifier never fails and never blocks the caller: requests go to a bounded queue
// drained by one goroutine, and a full queue drops the request with a warning.
// Delivery errors are logged and dropped.
type Notifier struct {
	sender  Sender
	log     *zap.Logger
	timeout time.Duration
	queue   chan message
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

type Option func(*Notifier)

// WithQueueSize bounds the number of notifications waiting for delivery.
func WithQueueSize(n int) Option {
	return func(no *Notifier) {
		if n > 0 {
			no.queue = make(chan message, n)
		}
	}
}

// WithSendTimeout limits a single delivery attempt.
func WithSendTimeout(d time.Duration) Option {
	return func(no *Notifier) {
		if d > 0 {
			no.timeout = d
		}
	}
}

// NewNotifier wraps sender and starts the delivery goroutine; a nil sender disables
// notifications. Close stops it.
func NewNotifier(sender Sender, log *zap.Logger, opts ...Option) *Notifier {
	n := &Notifier{
		sender:  sender,
		log:     log,
		timeout: defaultSendTimeout,
		queue:   make(chan message, defaultQueueSize),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(n)
	}
	if sender == nil {
		close(n.done)
		return n
	}
	go n.run()
	return n
}

// Notify queues a notification. The request's values are kept, its cancellation is not.
func (n *Notifier) Notify(ctx context.Context, recipient, template string, data map[string]interface{}) {
	if n == nil || n.sender == nil || recipient == "" {
		return
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	select {
	case n.queue <- message{ctx: context.WithoutCancel(ctx), recipient: recipient, template: template, data: data}:
	default:
		n.log.Warn("notify: queue full, dropped",
			zap.String("recipient", recipient),
			zap.String("template", template))
	}
}

// Close stops accepting notifications and waits until the queued ones are delivered.
func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		if n.sender != nil {
			close(n.queue)
		}
	}
	n.mu.Unlock()
	<-n.done
}

func (n *Notifier) run() {
	defer close(n.done)
	for m := range n.queue {
		n.send(m)
	}
}

func (n *Notifier) send(m message) {
	ctx, cancel := context.WithTimeout(m.ctx, n.timeout)
	defer cancel()
	if err := n.sender.Send(ctx, m.recipient, m.template, m.data); err != nil {
		n.log.Warn("notify: send failed",
			zap.String("recipient", m.recipient),
			zap.String("template", m.template),
			zap.Error(err))
	}
}
