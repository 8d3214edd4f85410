package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"chat-broker/internal/domain"
)

// Submitter is the broker entry point bot replies re-enter through.
type Submitter interface {
	Submit(ctx context.Context, roomID string, sess *domain.Session, text string, replyTarget *domain.Message) (*domain.Message, error)
}

// LocalResponder generates the reply in process and submits it as the bot.
type LocalResponder struct {
	generator Generator
	submitter Submitter
	identity  domain.BotIdentity
}

func NewLocalResponder(generator Generator, submitter Submitter) *LocalResponder {
	return &LocalResponder{
		generator: generator,
		submitter: submitter,
		identity:  domain.AIBot,
	}
}

// Respond implements domain.BotResponder. The reply is submitted as a reply
// to the triggering message.
func (r *LocalResponder) Respond(ctx context.Context, prompt string, trigger *domain.Message, roomID string) error {
	text, err := r.generator.Generate(ctx, prompt, roomID)
	if err != nil {
		return fmt.Errorf("failed to generate reply: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyReply
	}

	msg, err := r.submitter.Submit(ctx, roomID, r.identity.Session(), text, trigger)
	if err != nil {
		return fmt.Errorf("failed to submit bot reply: %w", err)
	}

	slog.Info("bot reply committed",
		slog.String("room_id", roomID),
		slog.String("message_id", msg.ID),
		slog.Int64("timestamp", msg.Timestamp))
	return nil
}
