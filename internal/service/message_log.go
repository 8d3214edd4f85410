package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"chat-broker/internal/domain"
	"chat-broker/internal/observability"
)

// Notifier is told about every committed message, in commit order per room.
type Notifier interface {
	Notify(roomID string, msg *domain.Message)
}

// MessageLog is the MessageStore used by the broker. It serialises appends
// per room on top of a persistence backend and notifies subscribers while the
// room is still locked, so notification order equals commit order.
type MessageLog struct {
	backend domain.LogBackend

	mu        sync.Mutex
	rooms     map[string]*roomState
	notifiers []Notifier
}

type roomState struct {
	mu   sync.Mutex
	last int64
}

// NewMessageLog wraps a persistence backend
func NewMessageLog(backend domain.LogBackend) *MessageLog {
	return &MessageLog{
		backend: backend,
		rooms:   make(map[string]*roomState),
	}
}

// AddNotifier registers n for commit notifications. Call before serving traffic.
func (l *MessageLog) AddNotifier(n Notifier) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notifiers = append(l.notifiers, n)
}

func (l *MessageLog) room(roomID string) *roomState {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.rooms[roomID]
	if !ok {
		r = &roomState{}
		l.rooms[roomID] = r
	}
	return r
}

func (l *MessageLog) currentNotifiers() []Notifier {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Notifier(nil), l.notifiers...)
}

// Append commits draft to the room log and returns the committed message
func (l *MessageLog) Append(ctx context.Context, roomID string, draft *domain.Draft) (*domain.Message, error) {
	if err := domain.ValidateRoomID(roomID); err != nil {
		return nil, err
	}
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	room := l.room(roomID)
	room.mu.Lock()
	defer room.mu.Unlock()

	msg, err := l.backend.Append(ctx, roomID, draft)
	if err != nil {
		return nil, wrapStoreError("append", err)
	}

	// A timestamp that does not advance means the backend is corrupt or
	// shared with another writer. The row is already stored and stays
	// readable, but it is never announced, so subscribers keep a consistent
	// order and the submit fails.
	if msg.Timestamp <= room.last {
		slog.Error("backend returned non-monotonic timestamp, log is corrupt",
			slog.String("room_id", roomID),
			slog.Int64("timestamp", msg.Timestamp),
			slog.Int64("last", room.last))
		return nil, fmt.Errorf("append: timestamp %d not after %d: %w", msg.Timestamp, room.last, domain.ErrStoreUnavailable)
	}
	room.last = msg.Timestamp

	observability.MessagesCommitted.WithLabelValues(roomID).Inc()
	slog.Debug("message committed",
		slog.String("room_id", roomID),
		slog.String("message_id", msg.ID),
		slog.Int64("timestamp", msg.Timestamp))

	for _, n := range l.currentNotifiers() {
		n.Notify(roomID, msg.Clone())
	}

	return msg, nil
}

// ReadFrom returns all messages after since in commit order
func (l *MessageLog) ReadFrom(ctx context.Context, roomID string, since int64) ([]*domain.Message, error) {
	if err := domain.ValidateRoomID(roomID); err != nil {
		return nil, err
	}

	msgs, err := l.backend.ReadFrom(ctx, roomID, since)
	if err != nil {
		return nil, wrapStoreError("read", err)
	}
	if msgs == nil {
		msgs = []*domain.Message{}
	}
	return msgs, nil
}

// ReadAll returns the whole room log
func (l *MessageLog) ReadAll(ctx context.Context, roomID string) ([]*domain.Message, error) {
	return l.ReadFrom(ctx, roomID, domain.BeginningOfLog)
}

// Get returns one message by id
func (l *MessageLog) Get(ctx context.Context, roomID, id string) (*domain.Message, error) {
	if err := domain.ValidateRoomID(roomID); err != nil {
		return nil, err
	}

	msg, err := l.backend.Get(ctx, roomID, id)
	if err != nil {
		if errors.Is(err, domain.ErrMessageNotFound) {
			return nil, err
		}
		return nil, wrapStoreError("get", err)
	}
	return msg, nil
}

// wrapStoreError tags backend faults that are not already classified as
// store unavailability, keeping the cause in the chain.
func wrapStoreError(op string, err error) error {
	switch {
	case errors.Is(err, domain.ErrPermissionDenied),
		errors.Is(err, domain.ErrStoreUnavailable),
		errors.Is(err, domain.ErrEmptyMessage):
		return err
	default:
		return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
	}
}
