// Package testutil provides shared test utilities, mocks, and fixtures
// for testing the chat broker.
package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"chat-broker/internal/domain"
)

// Common test errors
var (
	ErrMockNotImplemented = errors.New("mock function not implemented")
	ErrMockBackendDown    = errors.New("mock: backend down")
)

// MockLogBackend implements domain.LogBackend for testing
type MockLogBackend struct {
	mu sync.RWMutex

	// Function overrides - set these to customize behavior
	AppendFunc   func(ctx context.Context, roomID string, draft *domain.Draft) (*domain.Message, error)
	ReadFromFunc func(ctx context.Context, roomID string, since int64) ([]*domain.Message, error)
	GetFunc      func(ctx context.Context, roomID, id string) (*domain.Message, error)

	// In-memory storage for simple tests
	Rooms       map[string][]*domain.Message
	AppendCalls int
}

// NewMockLogBackend creates a new MockLogBackend with initialized maps
func NewMockLogBackend() *MockLogBackend {
	return &MockLogBackend{
		Rooms: make(map[string][]*domain.Message),
	}
}

func (m *MockLogBackend) Append(ctx context.Context, roomID string, draft *domain.Draft) (*domain.Message, error) {
	m.mu.Lock()
	m.AppendCalls++
	m.mu.Unlock()

	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, roomID, draft)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := m.Rooms[roomID]
	createdAt := draft.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	msg := &domain.Message{
		ID:             nextID("msg"),
		RoomID:         roomID,
		AuthorID:       draft.AuthorID,
		AuthorNickname: draft.AuthorNickname,
		AuthorColor:    draft.AuthorColor,
		Text:           draft.Text,
		Timestamp:      int64(len(msgs) + 1),
		CreatedAt:      createdAt,
		ReplyTo:        draft.ReplyTo,
	}
	m.Rooms[roomID] = append(msgs, msg)
	return msg.Clone(), nil
}

func (m *MockLogBackend) ReadFrom(ctx context.Context, roomID string, since int64) ([]*domain.Message, error) {
	if m.ReadFromFunc != nil {
		return m.ReadFromFunc(ctx, roomID, since)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Message
	for _, msg := range m.Rooms[roomID] {
		if msg.Timestamp > since {
			out = append(out, msg.Clone())
		}
	}
	return out, nil
}

func (m *MockLogBackend) Get(ctx context.Context, roomID, id string) (*domain.Message, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, roomID, id)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, msg := range m.Rooms[roomID] {
		if msg.ID == id {
			return msg.Clone(), nil
		}
	}
	return nil, domain.ErrMessageNotFound
}

// Appends returns how many times Append was called
func (m *MockLogBackend) Appends() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.AppendCalls
}

// BotCall records one MockBotResponder invocation
type BotCall struct {
	Prompt  string
	Trigger *domain.Message
	RoomID  string
}

// MockBotResponder implements domain.BotResponder for testing
type MockBotResponder struct {
	mu sync.Mutex

	RespondFunc func(ctx context.Context, prompt string, trigger *domain.Message, roomID string) error

	calls []BotCall
	// Called receives every call when non-nil; sized by the caller
	Called chan BotCall
}

// NewMockBotResponder creates a responder that signals each call on Called
func NewMockBotResponder() *MockBotResponder {
	return &MockBotResponder{Called: make(chan BotCall, 16)}
}

func (m *MockBotResponder) Respond(ctx context.Context, prompt string, trigger *domain.Message, roomID string) error {
	call := BotCall{Prompt: prompt, Trigger: trigger, RoomID: roomID}
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()

	var err error
	if m.RespondFunc != nil {
		err = m.RespondFunc(ctx, prompt, trigger, roomID)
	}
	if m.Called != nil {
		m.Called <- call
	}
	return err
}

// Calls returns a copy of the recorded calls
func (m *MockBotResponder) Calls() []BotCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]BotCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Reset clears recorded calls
func (m *MockBotResponder) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
