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

	"github.com/cenkalti/backoff/v4"
)

type state int

const (
	stateActive state = iota
	stateDegraded
	stateClosed
)

// Subscription is one live listener of a room. Its cursor is the timestamp
// of the last message delivered successfully and only moves forward.
type Subscription struct {
	id      uint64
	roomID  string
	hub     *Hub
	deliver DeliverFunc

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	done   chan struct{}

	mu     sync.Mutex
	queue  []*domain.Message
	cursor int64
	state  state
	err    error
}

func newSubscription(h *Hub, roomID string, cursor int64, deliver DeliverFunc) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	return &Subscription{
		roomID:  roomID,
		hub:     h,
		deliver: deliver,
		ctx:     ctx,
		cancel:  cancel,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		cursor:  cursor,
	}
}

func (s *Subscription) ID() uint64     { return s.id }
func (s *Subscription) RoomID() string { return s.roomID }

// Cursor returns the timestamp of the last delivered message
func (s *Subscription) Cursor() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Degraded reports whether delivery was abandoned after exhausting retries
func (s *Subscription) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateDegraded
}

// Err returns the degradation error, or nil
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the delivery goroutine has exited
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Unsubscribe is shorthand for Hub.Unsubscribe
func (s *Subscription) Unsubscribe() {
	s.hub.Unsubscribe(s)
}

func (s *Subscription) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateActive
}

// close moves an active subscription into its terminal state. It reports
// whether this call performed the transition.
func (s *Subscription) close(degradeErr error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateActive {
		return false
	}
	if degradeErr != nil {
		s.state = stateDegraded
		s.err = degradeErr
	} else {
		s.state = stateClosed
	}
	s.queue = nil
	s.cancel()
	return true
}

func (s *Subscription) enqueue(msg *domain.Message) {
	s.mu.Lock()
	if s.state != stateActive {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, msg)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// take drains the queue, dropping anything at or before the cursor.
func (s *Subscription) take() []*domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := s.queue
	s.queue = nil

	batch := make([]*domain.Message, 0, len(pending))
	last := s.cursor
	for _, msg := range pending {
		if msg.Timestamp > last {
			batch = append(batch, msg)
			last = msg.Timestamp
		}
	}
	return batch
}

func (s *Subscription) advance(batch []*domain.Message) {
	if len(batch) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts := batch[len(batch)-1].Timestamp; ts > s.cursor {
		s.cursor = ts
	}
}

func (s *Subscription) run(catchUp []*domain.Message) {
	defer close(s.done)

	if !s.send(catchUp, "catch_up") {
		return
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
			batch := s.take()
			if len(batch) == 0 {
				continue
			}
			if !s.send(batch, "live") {
				return
			}
		}
	}
}

// send delivers one batch with bounded retries. It returns false when the
// subscription should stop.
func (s *Subscription) send(batch []*domain.Message, kind string) bool {
	cfg := s.hub.cfg

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.InitialBackoff
	policy.MaxInterval = cfg.MaxBackoff
	policy.MaxElapsedTime = 0

	attempt := func() error {
		if !s.active() {
			return backoff.Permanent(domain.ErrSubscriptionClosed)
		}
		return s.invoke(batch)
	}

	notify := func(err error, wait time.Duration) {
		observability.DeliveryRetries.WithLabelValues(s.roomID).Inc()
		slog.Warn("delivery failed, retrying",
			slog.String("room_id", s.roomID),
			slog.Uint64("subscription_id", s.id),
			slog.Int("batch_size", len(batch)),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()))
	}

	retries := uint64(cfg.MaxAttempts - 1)
	err := backoff.RetryNotify(attempt,
		backoff.WithContext(backoff.WithMaxRetries(policy, retries), s.ctx),
		notify)

	switch {
	case err == nil:
		s.advance(batch)
		observability.DeliveriesTotal.WithLabelValues(s.roomID, kind).Inc()
		return true
	case errors.Is(err, domain.ErrSubscriptionClosed), s.ctx.Err() != nil:
		// unsubscribed while delivering; the batch is dropped silently
		return false
	default:
		s.hub.degrade(s, err)
		return false
	}
}

func (s *Subscription) invoke(batch []*domain.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("deliver panicked: %v", r)
		}
	}()
	return s.deliver(s.ctx, domain.CloneMessages(batch))
}
