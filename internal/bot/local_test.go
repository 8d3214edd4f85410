package bot

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-broker/internal/domain"
)

type fakeSubmitter struct {
	roomID  string
	sess    *domain.Session
	text    string
	replyTo *domain.Message
	calls   int
	err     error
}

func (f *fakeSubmitter) Submit(_ context.Context, roomID string, sess *domain.Session, text string, replyTarget *domain.Message) (*domain.Message, error) {
	f.calls++
	f.roomID, f.sess, f.text, f.replyTo = roomID, sess, text, replyTarget
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Message{ID: "bot-1", RoomID: roomID, AuthorID: sess.ID(), Text: text, Timestamp: 2}, nil
}

func TestLocalResponder_Respond(t *testing.T) {
	trigger := &domain.Message{ID: "m1", RoomID: "general", AuthorID: "user-1", AuthorNickname: "Ann", Text: "hello", Timestamp: 1}

	t.Run("submits_reply_as_bot_to_trigger", func(t *testing.T) {
		sub := &fakeSubmitter{}
		gen := GeneratorFunc(func(_ context.Context, prompt, roomID string) (string, error) {
			assert.Equal(t, "User: hello", prompt)
			assert.Equal(t, "general", roomID)
			return "hi Ann", nil
		})

		err := NewLocalResponder(gen, sub).Respond(context.Background(), "User: hello", trigger, "general")
		require.NoError(t, err)

		require.Equal(t, 1, sub.calls)
		assert.Equal(t, "general", sub.roomID)
		assert.Equal(t, domain.AIBot.ID, sub.sess.ID())
		assert.True(t, domain.IsBotAuthor(sub.sess.ID()))
		assert.Equal(t, "hi Ann", sub.text)
		assert.Same(t, trigger, sub.replyTo)
	})

	t.Run("generator_error_skips_submit", func(t *testing.T) {
		sub := &fakeSubmitter{}
		gen := GeneratorFunc(func(context.Context, string, string) (string, error) {
			return "", errors.New("model offline")
		})

		err := NewLocalResponder(gen, sub).Respond(context.Background(), "p", trigger, "general")
		assert.Error(t, err)
		assert.Equal(t, 0, sub.calls)
	})

	t.Run("blank_reply_skips_submit", func(t *testing.T) {
		sub := &fakeSubmitter{}
		gen := GeneratorFunc(func(context.Context, string, string) (string, error) {
			return "   ", nil
		})

		err := NewLocalResponder(gen, sub).Respond(context.Background(), "p", trigger, "general")
		assert.ErrorIs(t, err, ErrEmptyReply)
		assert.Equal(t, 0, sub.calls)
	})

	t.Run("submit_error_returned", func(t *testing.T) {
		sub := &fakeSubmitter{err: domain.NewSubmitError(domain.KindStoreUnavailable, errors.New("down"))}

		err := NewLocalResponder(CannedGenerator{}, sub).Respond(context.Background(), "p", trigger, "general")
		assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	})
}
