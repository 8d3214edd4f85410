package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"chat-broker/internal/domain"

	"github.com/google/uuid"
)

type roomLog struct {
	messages []*domain.Message
	byID     map[string]int
}

// MessageRepository keeps room logs in process memory. It implements
// domain.LogBackend and is the default backend for development and tests.
type MessageRepository struct {
	mu    sync.RWMutex
	rooms map[string]*roomLog
	now   func() time.Time
}

// NewMessageRepository creates an empty in-memory message repository
func NewMessageRepository() *MessageRepository {
	return &MessageRepository{
		rooms: make(map[string]*roomLog),
		now:   time.Now,
	}
}

// Append commits the draft with the next logical timestamp of the room
func (r *MessageRepository) Append(ctx context.Context, roomID string, draft *domain.Draft) (*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		room = &roomLog{byID: make(map[string]int)}
		r.rooms[roomID] = room
	}

	var last int64
	if n := len(room.messages); n > 0 {
		last = room.messages[n-1].Timestamp
	}

	createdAt := draft.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now()
	}

	msg := &domain.Message{
		ID:             uuid.NewString(),
		RoomID:         roomID,
		AuthorID:       draft.AuthorID,
		AuthorNickname: draft.AuthorNickname,
		AuthorColor:    draft.AuthorColor,
		Text:           draft.Text,
		Timestamp:      last + 1,
		CreatedAt:      createdAt,
	}
	if draft.ReplyTo != nil {
		reply := *draft.ReplyTo
		msg.ReplyTo = &reply
	}

	room.byID[msg.ID] = len(room.messages)
	room.messages = append(room.messages, msg)

	return msg.Clone(), nil
}

// ReadFrom returns copies of all messages with a timestamp greater than since
func (r *MessageRepository) ReadFrom(ctx context.Context, roomID string, since int64) ([]*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return []*domain.Message{}, nil
	}

	start := sort.Search(len(room.messages), func(i int) bool {
		return room.messages[i].Timestamp > since
	})
	return domain.CloneMessages(room.messages[start:]), nil
}

// Get returns a copy of a single message
func (r *MessageRepository) Get(ctx context.Context, roomID, id string) (*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	idx, ok := room.byID[id]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	return room.messages[idx].Clone(), nil
}
