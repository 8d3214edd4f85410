package messaging

import (
	"context"
	"encoding/json"
	"log/slog"

	"chat-broker/internal/domain"
)

// Submitter is the broker entry point bot replies re-enter through
type Submitter interface {
	Submit(ctx context.Context, roomID string, sess *domain.Session, text string, replyTarget *domain.Message) (*domain.Message, error)
}

// ReplyConsumer takes replies produced by the bot worker and submits them
// to the room as the bot identity.
type ReplyConsumer struct {
	rmq       *RabbitMQ
	submitter Submitter
	identity  domain.BotIdentity
}

func NewReplyConsumer(rmq *RabbitMQ, submitter Submitter) *ReplyConsumer {
	return &ReplyConsumer{
		rmq:       rmq,
		submitter: submitter,
		identity:  domain.AIBot,
	}
}

func (c *ReplyConsumer) Start(ctx context.Context) error {
	queue, err := c.rmq.channel.QueueDeclare(
		"",    // auto-generated name
		false, // durable
		true,  // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return err
	}

	if err := c.rmq.channel.QueueBind(
		queue.Name,      // queue name
		"",              // routing key
		RepliesExchange, // exchange
		false,
		nil,
	); err != nil {
		return err
	}

	msgs, err := c.rmq.channel.Consume(
		queue.Name, // queue
		"",         // consumer
		true,       // auto-ack
		false,      // exclusive
		false,      // no-local
		false,      // no-wait
		nil,        // args
	)
	if err != nil {
		return err
	}

	slog.Info("started consuming bot replies",
		slog.String("queue", queue.Name),
		slog.String("exchange", RepliesExchange))

	go func() {
		for {
			select {
			case <-ctx.Done():
				slog.Info("stopping reply consumer")
				return
			case msg, ok := <-msgs:
				if !ok {
					slog.Warn("reply consumer channel closed")
					return
				}
				c.Handle(ctx, msg.Body)
			}
		}
	}()

	return nil
}

// Handle processes one raw reply body. Failed generations are logged and
// never reach the room.
func (c *ReplyConsumer) Handle(ctx context.Context, body []byte) {
	var reply BotReply
	if err := json.Unmarshal(body, &reply); err != nil {
		slog.Error("error unmarshaling bot reply",
			slog.String("error", err.Error()),
			slog.Int("body_size", len(body)))
		return
	}

	if reply.Error != "" {
		slog.Warn("bot worker failed to generate reply",
			slog.String("room_id", reply.RoomID),
			slog.String("trigger_id", reply.Trigger.ID),
			slog.String("error", reply.Error))
		return
	}

	msg, err := c.submitter.Submit(ctx, reply.RoomID, c.identity.Session(), reply.Text, reply.Trigger.Message(reply.RoomID))
	if err != nil {
		slog.Error("error submitting bot reply",
			slog.String("room_id", reply.RoomID),
			slog.String("error", err.Error()))
		return
	}

	slog.Info("bot reply committed",
		slog.String("room_id", reply.RoomID),
		slog.String("message_id", msg.ID),
		slog.Int64("timestamp", msg.Timestamp))
}
