package bot

import (
	"context"
	"fmt"
	"time"

	"chat-broker/internal/domain"
	"chat-broker/internal/messaging"
)

// RequestPublisher publishes bot requests, implemented by *messaging.RabbitMQ
type RequestPublisher interface {
	PublishBotRequest(ctx context.Context, req *messaging.BotRequest) error
}

// QueueResponder hands the prompt to an out-of-process bot worker. The reply
// comes back through messaging.ReplyConsumer.
type QueueResponder struct {
	publisher RequestPublisher
}

func NewQueueResponder(publisher RequestPublisher) *QueueResponder {
	return &QueueResponder{publisher: publisher}
}

// Respond implements domain.BotResponder
func (r *QueueResponder) Respond(ctx context.Context, prompt string, trigger *domain.Message, roomID string) error {
	req := &messaging.BotRequest{
		RoomID:    roomID,
		Prompt:    prompt,
		Trigger:   messaging.TriggerFromMessage(trigger),
		Timestamp: time.Now().Unix(),
	}
	if err := r.publisher.PublishBotRequest(ctx, req); err != nil {
		return fmt.Errorf("failed to enqueue bot request: %w", err)
	}
	return nil
}
