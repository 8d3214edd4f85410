package testutil

import (
	"fmt"
	"sync/atomic"
	"time"

	"chat-broker/internal/domain"
)

// Counter for generating unique IDs
var idCounter atomic.Int64

// nextID generates a unique ID for test fixtures
func nextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, idCounter.Add(1))
}

// MessageOptions allows customizing message fixture creation
type MessageOptions struct {
	ID        string
	RoomID    string
	AuthorID  string
	Nickname  string
	Color     string
	Text      string
	Timestamp int64
	ReplyTo   *domain.ReplySnapshot
	CreatedAt time.Time
}

// NewTestMessage creates a committed-looking message with sensible defaults
func NewTestMessage(opts ...func(*MessageOptions)) *domain.Message {
	o := &MessageOptions{
		ID:        nextID("msg"),
		RoomID:    "general",
		AuthorID:  nextID("user"),
		Nickname:  fmt.Sprintf("tester%d", idCounter.Load()),
		Color:     "#336699",
		Text:      "Hello, World!",
		Timestamp: 1,
		CreatedAt: time.Now(),
	}

	for _, opt := range opts {
		opt(o)
	}

	return &domain.Message{
		ID:             o.ID,
		RoomID:         o.RoomID,
		AuthorID:       o.AuthorID,
		AuthorNickname: o.Nickname,
		AuthorColor:    o.Color,
		Text:           o.Text,
		Timestamp:      o.Timestamp,
		CreatedAt:      o.CreatedAt,
		ReplyTo:        o.ReplyTo,
	}
}

// WithMessageID sets the message ID
func WithMessageID(id string) func(*MessageOptions) {
	return func(o *MessageOptions) {
		o.ID = id
	}
}

// WithRoomID sets the room of the message
func WithRoomID(roomID string) func(*MessageOptions) {
	return func(o *MessageOptions) {
		o.RoomID = roomID
	}
}

// WithAuthor sets the author id and nickname
func WithAuthor(id, nickname string) func(*MessageOptions) {
	return func(o *MessageOptions) {
		o.AuthorID = id
		o.Nickname = nickname
	}
}

// WithText sets the message text
func WithText(text string) func(*MessageOptions) {
	return func(o *MessageOptions) {
		o.Text = text
	}
}

// WithTimestamp sets the logical timestamp
func WithTimestamp(ts int64) func(*MessageOptions) {
	return func(o *MessageOptions) {
		o.Timestamp = ts
	}
}

// WithReplyTo makes the message a reply to target
func WithReplyTo(target *domain.Message) func(*MessageOptions) {
	return func(o *MessageOptions) {
		o.ReplyTo = domain.SnapshotOf(target)
	}
}

// NewTestMessages creates count consecutive messages of one room
func NewTestMessages(roomID string, count int) []*domain.Message {
	messages := make([]*domain.Message, count)
	for i := 0; i < count; i++ {
		messages[i] = NewTestMessage(
			WithRoomID(roomID),
			WithTimestamp(int64(i+1)),
			WithText(fmt.Sprintf("message %d", i+1)),
		)
	}
	return messages
}

// NewTestDraft creates a draft authored by a fresh identity
func NewTestDraft(text string) *domain.Draft {
	return &domain.Draft{
		AuthorID:       nextID("user"),
		AuthorNickname: "tester",
		AuthorColor:    "#336699",
		Text:           text,
		CreatedAt:      time.Now(),
	}
}

// NewTestSession creates a session with a deterministic identity
func NewTestSession(nickname string) *domain.Session {
	return domain.NewSessionWithIdentity(nextID("user"), nickname, "#336699")
}

// ResetIDCounter resets the ID counter (useful for deterministic tests)
func ResetIDCounter() {
	idCounter.Store(0)
}
