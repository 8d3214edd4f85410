package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chat-broker/internal/domain"
	"chat-broker/internal/observability"
)

// DeliverFunc receives an ordered batch of messages. Returning an error makes
// the hub retry the same batch with backoff.
type DeliverFunc func(ctx context.Context, batch []*domain.Message) error

// Config controls delivery retries.
type Config struct {
	// MaxAttempts bounds the number of deliveries of one batch, including the first.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// OnDegraded is called once when a subscription gives up delivering.
	OnDegraded func(sub *Subscription, err error)
}

// DefaultConfig returns the delivery settings used when none are configured
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    5,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

// Hub tracks live subscriptions per room and fans committed messages out to them
type Hub struct {
	reader domain.MessageReader
	cfg    Config

	mu     sync.RWMutex
	rooms  map[string][]*Subscription
	nextID uint64
	closed bool
}

// NewHub creates a hub reading catch-up batches from reader
func NewHub(reader domain.MessageReader, cfg Config) *Hub {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = max(def.MaxBackoff, cfg.InitialBackoff)
	}

	return &Hub{
		reader: reader,
		cfg:    cfg,
		rooms:  make(map[string][]*Subscription),
	}
}

// Subscribe attaches deliver to a room. Every message committed after cursor
// is delivered exactly once in commit order: first as one catch-up batch read
// from the store, then as the log grows.
func (h *Hub) Subscribe(ctx context.Context, roomID string, cursor int64, deliver DeliverFunc) (*Subscription, error) {
	if err := domain.ValidateRoomID(roomID); err != nil {
		return nil, err
	}
	if deliver == nil {
		return nil, errors.New("hub: deliver func is required")
	}

	sub := newSubscription(h, roomID, cursor, deliver)

	// Register before reading so that no commit falls between the catch-up
	// read and the live stream; overlap is trimmed by the cursor.
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, domain.ErrSubscriptionClosed
	}
	h.nextID++
	sub.id = h.nextID
	h.rooms[roomID] = append(h.rooms[roomID], sub)
	h.mu.Unlock()

	batch, err := h.reader.ReadFrom(ctx, roomID, cursor)
	if err != nil {
		h.remove(sub)
		sub.close(nil)
		close(sub.done)
		return nil, fmt.Errorf("catch-up read for room %s: %w", roomID, err)
	}

	observability.SubscribersActive.WithLabelValues(roomID).Inc()
	slog.Info("subscriber attached",
		slog.String("room_id", roomID),
		slog.Uint64("subscription_id", sub.id),
		slog.Int64("cursor", cursor),
		slog.Int("catch_up", len(batch)))

	go sub.run(batch)

	return sub, nil
}

// Unsubscribe stops delivery to sub. It is idempotent and safe to call from
// within a delivery callback.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	if sub.close(nil) {
		h.remove(sub)
		observability.SubscribersActive.WithLabelValues(sub.roomID).Dec()
		slog.Info("subscriber detached",
			slog.String("room_id", sub.roomID),
			slog.Uint64("subscription_id", sub.id))
	}
}

// Resync replaces a degraded (or any) subscription with a new one starting at
// its last delivered cursor. Messages of a failed batch may be delivered again.
func (h *Hub) Resync(ctx context.Context, sub *Subscription) (*Subscription, error) {
	if sub == nil {
		return nil, errors.New("hub: nil subscription")
	}
	h.Unsubscribe(sub)
	return h.Subscribe(ctx, sub.roomID, sub.Cursor(), sub.deliver)
}

// Notify fans msg out to every live subscriber of the room in subscription
// order. It never blocks on a subscriber.
func (h *Hub) Notify(roomID string, msg *domain.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.rooms[roomID] {
		sub.enqueue(msg)
	}
}

// SubscriberCount returns the number of live subscriptions of a room
func (h *Hub) SubscriberCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// Close detaches every subscriber and rejects new subscriptions
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var subs []*Subscription
	for _, roomSubs := range h.rooms {
		subs = append(subs, roomSubs...)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		h.Unsubscribe(sub)
	}
	slog.Info("hub shutdown complete", slog.Int("subscriptions_closed", len(subs)))
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.rooms[sub.roomID]
	for i, s := range subs {
		if s == sub {
			h.rooms[sub.roomID] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(h.rooms[sub.roomID]) == 0 {
		delete(h.rooms, sub.roomID)
	}
}

func (h *Hub) degrade(sub *Subscription, cause error) {
	err := fmt.Errorf("%w: %w", domain.ErrDeliveryDegraded, cause)
	if !sub.close(err) {
		return
	}
	h.remove(sub)

	observability.SubscribersActive.WithLabelValues(sub.roomID).Dec()
	observability.SubscribersDegraded.WithLabelValues(sub.roomID).Inc()
	slog.Error("subscriber degraded, resync required",
		slog.String("room_id", sub.roomID),
		slog.Uint64("subscription_id", sub.id),
		slog.Int64("cursor", sub.Cursor()),
		slog.String("error", cause.Error()))

	if h.cfg.OnDegraded != nil {
		h.cfg.OnDegraded(sub, err)
	}
}
