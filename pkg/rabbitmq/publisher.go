package rabbitmq

import (
	"context"
	"encoding/json"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"rtc-continuity/config"
	"rtc-continuity/dto"
)

// Notifier is the fan-out primitive assumed by the continuity core: the
// messaging layer exposes "send to user" and "send to topic" and turns
// session events into client-visible notifications.
type Notifier interface {
	SendToUser(ctx context.Context, username string, event dto.SessionEvent) error
	SendToTopic(ctx context.Context, topic string, event dto.SessionEvent) error
}

type publisher struct {
	mu       sync.Mutex
	ch       *amqp.Channel
	exchange string
}

// NewNotifier opens a channel and declares the topic exchange events are
// fanned out on.
func NewNotifier(conn *amqp.Connection, cfg *config.RabbitMQ) (Notifier, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	if err := ch.ExchangeDeclare(cfg.EventExchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, err
	}

	return &publisher{ch: ch, exchange: cfg.EventExchange}, nil
}

func (p *publisher) SendToUser(ctx context.Context, username string, event dto.SessionEvent) error {
	return p.publish(ctx, "user."+username, event)
}

func (p *publisher) SendToTopic(ctx context.Context, topic string, event dto.SessionEvent) error {
	return p.publish(ctx, "topic."+topic, event)
}

func (p *publisher) publish(ctx context.Context, routingKey string, event dto.SessionEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("routing_key", routingKey).
			Msg("failed to publish session event")
		return err
	}
	return nil
}

// NoopNotifier drops all events. Used when the broker is unavailable and
// in tests.
type NoopNotifier struct{}

func (NoopNotifier) SendToUser(ctx context.Context, username string, event dto.SessionEvent) error {
	return nil
}

func (NoopNotifier) SendToTopic(ctx context.Context, topic string, event dto.SessionEvent) error {
	return nil
}
