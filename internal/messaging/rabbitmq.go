package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"

	"chat-broker/internal/domain"
)

const (
	RequestsExchange  = "chat.bot.requests"
	RepliesExchange   = "chat.bot.replies"
	RequestsQueue     = "bot.requests"
	RequestRoutingKey = "bot.request"
)

type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// Trigger is the snapshot of the message that asked the bot to speak
type Trigger struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Nickname string `json:"nickname"`
	AuthorID string `json:"user_id"`
}

type BotRequest struct {
	RoomID    string  `json:"room_id"`
	Prompt    string  `json:"prompt"`
	Trigger   Trigger `json:"trigger"`
	Timestamp int64   `json:"timestamp"`
}

type BotReply struct {
	RoomID    string  `json:"room_id"`
	Text      string  `json:"text"`
	Trigger   Trigger `json:"trigger"`
	Error     string  `json:"error,omitempty"`
	Timestamp int64   `json:"timestamp"`
}

func TriggerFromMessage(m *domain.Message) Trigger {
	if m == nil {
		return Trigger{}
	}
	return Trigger{
		ID:       m.ID,
		Text:     m.Text,
		Nickname: m.AuthorNickname,
		AuthorID: m.AuthorID,
	}
}

// Message rebuilds enough of the triggering message to serve as a reply
// target. Nil when the trigger carries no id.
func (t Trigger) Message(roomID string) *domain.Message {
	if t.ID == "" {
		return nil
	}
	return &domain.Message{
		ID:             t.ID,
		RoomID:         roomID,
		AuthorID:       t.AuthorID,
		AuthorNickname: t.Nickname,
		Text:           t.Text,
	}
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	rmq := &RabbitMQ{
		conn:    conn,
		channel: ch,
	}

	if err := rmq.Setup(); err != nil {
		rmq.Close()
		return nil, err
	}

	return rmq, nil
}

// NewRabbitMQWithRetry dials until the broker accepts the connection or ctx
// is done. Brokers started alongside the server are often not ready yet.
func NewRabbitMQWithRetry(ctx context.Context, url string) (*RabbitMQ, error) {
	var rmq *RabbitMQ
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = time.Minute

	err := backoff.RetryNotify(func() error {
		var err error
		rmq, err = NewRabbitMQ(url)
		return err
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		slog.Warn("rabbitmq not ready, retrying",
			slog.String("error", err.Error()),
			slog.Duration("next", next))
	})
	if err != nil {
		return nil, err
	}
	return rmq, nil
}

func (r *RabbitMQ) Setup() error {
	if err := r.channel.ExchangeDeclare(
		RequestsExchange, // name
		"topic",          // type
		true,             // durable
		false,            // auto-deleted
		false,            // internal
		false,            // no-wait
		nil,              // arguments
	); err != nil {
		return fmt.Errorf("failed to declare requests exchange: %w", err)
	}

	if err := r.channel.ExchangeDeclare(
		RepliesExchange, // name
		"fanout",        // type
		true,            // durable
		false,           // auto-deleted
		false,           // internal
		false,           // no-wait
		nil,             // arguments
	); err != nil {
		return fmt.Errorf("failed to declare replies exchange: %w", err)
	}

	if _, err := r.channel.QueueDeclare(
		RequestsQueue, // name
		true,          // durable
		false,         // delete when unused
		false,         // exclusive
		false,         // no-wait
		nil,           // arguments
	); err != nil {
		return fmt.Errorf("failed to declare %s queue: %w", RequestsQueue, err)
	}

	if err := r.channel.QueueBind(
		RequestsQueue,     // queue name
		RequestRoutingKey, // routing key
		RequestsExchange,  // exchange
		false,
		nil,
	); err != nil {
		return fmt.Errorf("failed to bind %s queue: %w", RequestsQueue, err)
	}

	slog.Info("rabbitmq setup completed successfully")
	return nil
}

func (r *RabbitMQ) publish(ctx context.Context, exchange, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	return r.channel.PublishWithContext(
		ctx,
		exchange,
		key,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
}

func (r *RabbitMQ) PublishBotRequest(ctx context.Context, req *BotRequest) error {
	if err := r.publish(ctx, RequestsExchange, RequestRoutingKey, req); err != nil {
		return fmt.Errorf("failed to publish bot request: %w", err)
	}

	slog.Info("published bot request",
		slog.String("room_id", req.RoomID),
		slog.String("trigger_id", req.Trigger.ID))
	return nil
}

func (r *RabbitMQ) PublishBotReply(ctx context.Context, reply *BotReply) error {
	if err := r.publish(ctx, RepliesExchange, "", reply); err != nil {
		return fmt.Errorf("failed to publish bot reply: %w", err)
	}

	slog.Info("published bot reply",
		slog.String("room_id", reply.RoomID),
		slog.Bool("failed", reply.Error != ""))
	return nil
}

func (r *RabbitMQ) ConsumeBotRequests() (<-chan amqp.Delivery, error) {
	msgs, err := r.channel.Consume(
		RequestsQueue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}

	slog.Info("started consuming bot requests",
		slog.String("queue", RequestsQueue))
	return msgs, nil
}

// Ping reports whether the connection is usable, for readiness checks
func (r *RabbitMQ) Ping(_ context.Context) error {
	if r.IsClosed() {
		return amqp.ErrClosed
	}
	return nil
}

func (r *RabbitMQ) IsClosed() bool {
	return r.conn == nil || r.conn.IsClosed()
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
