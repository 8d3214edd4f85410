package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"chat-broker/internal/messaging"
)

// ReplyPublisher publishes generated replies, implemented by *messaging.RabbitMQ
type ReplyPublisher interface {
	PublishBotReply(ctx context.Context, reply *messaging.BotReply) error
}

// Worker processes bot requests taken from the queue
type Worker struct {
	generator Generator
	publisher ReplyPublisher
}

func NewWorker(generator Generator, publisher ReplyPublisher) *Worker {
	return &Worker{generator: generator, publisher: publisher}
}

// Process handles one raw request body and publishes the reply. Generation
// failures are published as error replies so the server can log them.
func (w *Worker) Process(ctx context.Context, body []byte) error {
	var req messaging.BotRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("failed to unmarshal bot request: %w", err)
	}

	slog.Info("processing bot request",
		slog.String("room_id", req.RoomID),
		slog.String("trigger_id", req.Trigger.ID))

	reply := &messaging.BotReply{
		RoomID:    req.RoomID,
		Trigger:   req.Trigger,
		Timestamp: time.Now().Unix(),
	}

	text, err := w.generator.Generate(ctx, req.Prompt, req.RoomID)
	switch {
	case err != nil:
		slog.Error("error generating reply",
			slog.String("room_id", req.RoomID),
			slog.String("error", err.Error()))
		reply.Error = err.Error()
	default:
		reply.Text = text
	}

	if err := w.publisher.PublishBotReply(ctx, reply); err != nil {
		return fmt.Errorf("failed to publish reply: %w", err)
	}

	return nil
}
