package domain

import (
	"context"
	"strings"
	"time"
)

// BeginningOfLog is the cursor that precedes every committed message.
// Logical timestamps start at 1.
const BeginningOfLog int64 = 0

// Message represents a committed chat message. Messages are immutable once
// committed; stores hand out copies.
type Message struct {
	ID             string         `json:"id"`
	RoomID         string         `json:"room_id"`
	AuthorID       string         `json:"user_id"`
	AuthorNickname string         `json:"nickname"`
	AuthorColor    string         `json:"color"`
	Text           string         `json:"text"`
	Timestamp      int64          `json:"timestamp"`
	CreatedAt      time.Time      `json:"created_at"`
	ReplyTo        *ReplySnapshot `json:"reply_to,omitempty"`
}

// ReplySnapshot is a denormalized copy of the message being replied to.
// It is taken at submit time and never follows later changes to the original.
type ReplySnapshot struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Nickname string `json:"nickname"`
	AuthorID string `json:"user_id"`
}

// Draft is a message that has not been committed yet.
type Draft struct {
	AuthorID       string
	AuthorNickname string
	AuthorColor    string
	Text           string
	ReplyTo        *ReplySnapshot
	CreatedAt      time.Time
}

// Validate rejects drafts whose text is blank.
func (d *Draft) Validate() error {
	if d == nil || strings.TrimSpace(d.Text) == "" {
		return ErrEmptyMessage
	}
	return nil
}

// SnapshotOf copies the reply-relevant fields of m.
func SnapshotOf(m *Message) *ReplySnapshot {
	if m == nil {
		return nil
	}
	return &ReplySnapshot{
		ID:       m.ID,
		Text:     m.Text,
		Nickname: m.AuthorNickname,
		AuthorID: m.AuthorID,
	}
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.ReplyTo != nil {
		reply := *m.ReplyTo
		c.ReplyTo = &reply
	}
	return &c
}

// CloneMessages deep copies a slice of messages.
func CloneMessages(msgs []*Message) []*Message {
	out := make([]*Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// MessageReader reads committed messages of a room.
type MessageReader interface {
	// ReadFrom returns every message with a timestamp greater than since, in commit order.
	ReadFrom(ctx context.Context, roomID string, since int64) ([]*Message, error)
	Get(ctx context.Context, roomID, id string) (*Message, error)
}

// LogBackend is the persistence boundary. Append assigns the id and the next
// logical timestamp of the room; callers serialise appends per room.
type LogBackend interface {
	MessageReader
	Append(ctx context.Context, roomID string, draft *Draft) (*Message, error)
}

// MessageStore is the ordered, append-only message log used by the broker.
type MessageStore interface {
	LogBackend
	ReadAll(ctx context.Context, roomID string) ([]*Message, error)
}
