//go:build integration

package messaging_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"chat-broker/internal/domain"
	"chat-broker/internal/messaging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSubmitter struct {
	mu    sync.Mutex
	calls chan submitCall
}

type submitCall struct {
	roomID   string
	authorID string
	text     string
	replyTo  *domain.Message
}

func (s *recordingSubmitter) Submit(_ context.Context, roomID string, sess *domain.Session, text string, replyTarget *domain.Message) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls <- submitCall{roomID: roomID, authorID: sess.ID(), text: text, replyTo: replyTarget}
	return &domain.Message{ID: "bot-msg", RoomID: roomID, Timestamp: 1}, nil
}

func TestReplyConsumerIntegration(t *testing.T) {
	testContainer, cleanup := setupRabbitMQ(t)
	defer cleanup()

	rmq, err := messaging.NewRabbitMQ(testContainer.url)
	require.NoError(t, err)
	defer rmq.Close()

	submitter := &recordingSubmitter{calls: make(chan submitCall, 10)}
	consumer := messaging.NewReplyConsumer(rmq, submitter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, consumer.Start(ctx))

	publishCtx, publishCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer publishCancel()

	t.Run("reply_is_submitted_as_bot", func(t *testing.T) {
		reply := &messaging.BotReply{
			RoomID:    "general",
			Text:      "Let go or be dragged.",
			Trigger:   messaging.Trigger{ID: "msg-1", Text: "hello", Nickname: "Ann", AuthorID: "user-1"},
			Timestamp: time.Now().Unix(),
		}
		require.NoError(t, rmq.PublishBotReply(publishCtx, reply))

		select {
		case call := <-submitter.calls:
			assert.Equal(t, "general", call.roomID)
			assert.Equal(t, domain.AIBot.ID, call.authorID)
			assert.Equal(t, reply.Text, call.text)
			require.NotNil(t, call.replyTo)
			assert.Equal(t, "msg-1", call.replyTo.ID)
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for submit")
		}
	})

	t.Run("error_reply_is_dropped", func(t *testing.T) {
		reply := &messaging.BotReply{
			RoomID:    "general",
			Error:     "generator unavailable",
			Timestamp: time.Now().Unix(),
		}
		require.NoError(t, rmq.PublishBotReply(publishCtx, reply))

		select {
		case call := <-submitter.calls:
			t.Fatalf("unexpected submit: %+v", call)
		case <-time.After(time.Second):
		}
	})
}
