package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"bookcatalog/internal/catalog"
)

const (
	exchangeName = "bookcatalog.events"
	exchangeType = "topic"
	eventVersion = "1.0.0"

	maxRetries     = 3
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 5 * time.Second
	confirmTimeout = 5 * time.Second
)

// Envelope is the wire form of a catalog event.
type Envelope struct {
	EventID      string      `json:"event_id"`
	EventType    string      `json:"event_type"`
	EventVersion string      `json:"event_version"`
	Timestamp    string      `json:"timestamp"`
	BookID       string      `json:"book_id"`
	Payload      interface{} `json:"payload,omitempty"`
}

// NewEnvelope wraps e with a fresh event id.
func NewEnvelope(e catalog.Event) Envelope {
	return Envelope{
		EventID:      uuid.New().String(),
		EventType:    e.Type,
		EventVersion: eventVersion,
		Timestamp:    e.OccurredAt.UTC().Format(time.RFC3339),
		BookID:       e.BookID.String(),
		Payload:      e.Data,
	}
}

// Publisher publishes catalog events to a RabbitMQ topic exchange with
// publisher confirms. The event type is the routing key.
type Publisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	log     *zap.Logger
}

var (
	_ catalog.Publisher      = (*Publisher)(nil)
	_ catalog.HealthReporter = (*Publisher)(nil)
)

// NewPublisher dials url and declares the exchange.
func NewPublisher(url string, log *zap.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := channel.ExchangeDeclare(
		exchangeName,
		exchangeType,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	if err := channel.Confirm(false); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	log.Info("Connected to RabbitMQ", zap.String("exchange", exchangeName))
	return &Publisher{conn: conn, channel: channel, log: log}, nil
}

// Publish sends e, retrying with exponential backoff.
func (p *Publisher) Publish(ctx context.Context, e catalog.Event) error {
	env := NewEnvelope(e)
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	backoff := initialBackoff
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
		}

		confirmation, err := p.channel.PublishWithDeferredConfirmWithContext(
			ctx,
			exchangeName,
			env.EventType,
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Timestamp:    time.Now(),
				MessageId:    env.EventID,
				Body:         body,
				Headers: amqp.Table{
					"event_type":    env.EventType,
					"event_version": env.EventVersion,
				},
			},
		)
		if err != nil {
			lastErr = err
			p.log.Warn("Failed to publish event, retrying",
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			continue
		}

		waitCtx, cancel := context.WithTimeout(ctx, confirmTimeout)
		acked, err := confirmation.WaitContext(waitCtx)
		cancel()
		if err == nil && acked {
			p.log.Debug("Event published",
				zap.String("event_id", env.EventID),
				zap.String("event_type", env.EventType),
			)
			return nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("event not acknowledged")
		}
		p.log.Warn("Event publish not confirmed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
	}

	return fmt.Errorf("failed to publish event after %d attempts: %w", maxRetries, lastErr)
}

// IsHealthy reports whether the broker connection is still open. It backs
// /healthz.
func (p *Publisher) IsHealthy() bool {
	return p.conn != nil && !p.conn.IsClosed()
}

// Close closes the publisher connection
func (p *Publisher) Close() error {
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.log.Error("Failed to close channel", zap.Error(err))
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			return err
		}
	}
	p.log.Info("Publisher closed")
	return nil
}

// LogPublisher writes events to the log instead of a broker.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, e catalog.Event) error {
	p.log.Info("Catalog event",
		zap.String("event_type", e.Type),
		zap.String("book_id", e.BookID.String()),
		zap.Time("occurred_at", e.OccurredAt),
	)
	return nil
}
