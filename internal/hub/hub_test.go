package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chat-broker/internal/domain"
	"chat-broker/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

// roomLog commits under one lock and notifies while holding it, the way the
// message log does.
type roomLog struct {
	mu      sync.Mutex
	backend *testutil.MockLogBackend
	hub     *Hub
}

func (l *roomLog) commit(t *testing.T, roomID, text string) *domain.Message {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	msg, err := l.backend.Append(context.Background(), roomID, testutil.NewTestDraft(text))
	require.NoError(t, err)
	l.hub.Notify(roomID, msg.Clone())
	return msg
}

func newTestHub(cfg Config) (*Hub, *roomLog) {
	backend := testutil.NewMockLogBackend()
	h := NewHub(backend, cfg)
	return h, &roomLog{backend: backend, hub: h}
}

type collector struct {
	mu      sync.Mutex
	batches [][]*domain.Message
}

func (c *collector) deliver(_ context.Context, batch []*domain.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, batch)
	return nil
}

func (c *collector) batchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func (c *collector) timestamps() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []int64
	for _, b := range c.batches {
		for _, m := range b {
			out = append(out, m.Timestamp)
		}
	}
	return out
}

func seq(from, to int64) []int64 {
	var out []int64
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func TestHub_CatchUpThenLive(t *testing.T) {
	h, log := newTestHub(testConfig())
	defer h.Close()

	for i := 0; i < 3; i++ {
		log.commit(t, "general", fmt.Sprintf("old %d", i))
	}

	c := &collector{}
	sub, err := h.Subscribe(context.Background(), "general", domain.BeginningOfLog, c.deliver)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return c.batchCount() == 1 }, time.Second, time.Millisecond)
	assert.Len(t, c.batches[0], 3, "history arrives as one batch")

	log.commit(t, "general", "new")
	require.Eventually(t, func() bool { return len(c.timestamps()) == 4 }, time.Second, time.Millisecond)
	assert.Equal(t, seq(1, 4), c.timestamps())
	assert.Eventually(t, func() bool { return sub.Cursor() == 4 }, time.Second, time.Millisecond)
}

func TestHub_CatchUpFromCursor(t *testing.T) {
	h, log := newTestHub(testConfig())
	defer h.Close()

	for i := 0; i < 5; i++ {
		log.commit(t, "general", fmt.Sprintf("m%d", i))
	}

	c := &collector{}
	_, err := h.Subscribe(context.Background(), "general", 3, c.deliver)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return c.batchCount() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []int64{4, 5}, c.timestamps())
}

func TestHub_EmptyCatchUpIsDelivered(t *testing.T) {
	h, _ := newTestHub(testConfig())
	defer h.Close()

	c := &collector{}
	_, err := h.Subscribe(context.Background(), "quiet", domain.BeginningOfLog, c.deliver)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return c.batchCount() == 1 }, time.Second, time.Millisecond)
	assert.Empty(t, c.batches[0])
}

func TestHub_ExactlyOnceWhileCommitting(t *testing.T) {
	h, log := newTestHub(testConfig())
	defer h.Close()

	const total = 200
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			log.commit(t, "general", fmt.Sprintf("m%d", i))
		}
	}()

	// Attach in the middle of the stream
	time.Sleep(time.Millisecond)
	c := &collector{}
	_, err := h.Subscribe(context.Background(), "general", domain.BeginningOfLog, c.deliver)
	require.NoError(t, err)

	wg.Wait()
	require.Eventually(t, func() bool { return len(c.timestamps()) >= total }, 2*time.Second, time.Millisecond)
	assert.Equal(t, seq(1, total), c.timestamps())
}

func TestHub_FanOutToEverySubscriber(t *testing.T) {
	h, log := newTestHub(testConfig())
	defer h.Close()

	collectors := make([]*collector, 3)
	for i := range collectors {
		collectors[i] = &collector{}
		_, err := h.Subscribe(context.Background(), "general", domain.BeginningOfLog, collectors[i].deliver)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, h.SubscriberCount("general"))

	other := &collector{}
	_, err := h.Subscribe(context.Background(), "random", domain.BeginningOfLog, other.deliver)
	require.NoError(t, err)

	log.commit(t, "general", "hello")

	for _, c := range collectors {
		require.Eventually(t, func() bool { return len(c.timestamps()) == 1 }, time.Second, time.Millisecond)
	}
	assert.Never(t, func() bool { return len(other.timestamps()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestHub_SlowSubscriberDoesNotBlockOthers(t *testing.T) {
	h, log := newTestHub(testConfig())
	defer h.Close()

	release := make(chan struct{})
	var slowCalls atomic.Int32
	slow := func(ctx context.Context, batch []*domain.Message) error {
		if slowCalls.Add(1) == 1 {
			return nil
		}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}
	_, err := h.Subscribe(context.Background(), "general", domain.BeginningOfLog, slow)
	require.NoError(t, err)

	fast := &collector{}
	_, err = h.Subscribe(context.Background(), "general", domain.BeginningOfLog, fast.deliver)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			log.commit(t, "general", fmt.Sprintf("m%d", i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("commits blocked on a slow subscriber")
	}
	require.Eventually(t, func() bool { return len(fast.timestamps()) == 10 }, time.Second, time.Millisecond)
	close(release)
}

func TestHub_Unsubscribe(t *testing.T) {
	h, log := newTestHub(testConfig())
	defer h.Close()

	c := &collector{}
	sub, err := h.Subscribe(context.Background(), "general", domain.BeginningOfLog, c.deliver)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return c.batchCount() == 1 }, time.Second, time.Millisecond)

	sub.Unsubscribe()
	h.Unsubscribe(sub)
	h.Unsubscribe(nil)

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("delivery goroutine did not exit")
	}
	assert.Equal(t, 0, h.SubscriberCount("general"))
	assert.False(t, sub.Degraded())

	log.commit(t, "general", "after")
	assert.Never(t, func() bool { return len(c.timestamps()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestHub_UnsubscribeFromCallback(t *testing.T) {
	h, log := newTestHub(testConfig())
	defer h.Close()

	var sub *Subscription
	var mu sync.Mutex
	calls := 0
	deliver := func(ctx context.Context, batch []*domain.Message) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if len(batch) > 0 {
			sub.Unsubscribe()
		}
		return nil
	}

	mu.Lock()
	var err error
	sub, err = h.Subscribe(context.Background(), "general", domain.BeginningOfLog, deliver)
	mu.Unlock()
	require.NoError(t, err)

	log.commit(t, "general", "one")

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription did not stop")
	}
	log.commit(t, "general", "two")
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, calls, 2)
}

func TestHub_RetriesTransientFailures(t *testing.T) {
	h, log := newTestHub(testConfig())
	defer h.Close()

	var attempts atomic.Int32
	c := &collector{}
	deliver := func(ctx context.Context, batch []*domain.Message) error {
		if len(batch) > 0 && attempts.Add(1) <= 2 {
			return errors.New("client busy")
		}
		return c.deliver(ctx, batch)
	}

	sub, err := h.Subscribe(context.Background(), "general", domain.BeginningOfLog, deliver)
	require.NoError(t, err)

	log.commit(t, "general", "hello")
	require.Eventually(t, func() bool { return len(c.timestamps()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(3), attempts.Load())
	assert.False(t, sub.Degraded())
	assert.Eventually(t, func() bool { return sub.Cursor() == 1 }, time.Second, time.Millisecond)
}

func TestHub_DegradesAfterMaxAttempts(t *testing.T) {
	degraded := make(chan error, 1)
	cfg := testConfig()
	cfg.OnDegraded = func(sub *Subscription, err error) { degraded <- err }
	h, log := newTestHub(cfg)
	defer h.Close()

	var failing atomic.Bool
	var attempts atomic.Int32
	c := &collector{}
	deliver := func(ctx context.Context, batch []*domain.Message) error {
		if failing.Load() {
			attempts.Add(1)
			return errors.New("client gone")
		}
		return c.deliver(ctx, batch)
	}

	sub, err := h.Subscribe(context.Background(), "general", domain.BeginningOfLog, deliver)
	require.NoError(t, err)

	log.commit(t, "general", "delivered")
	require.Eventually(t, func() bool { return sub.Cursor() == 1 }, time.Second, time.Millisecond)

	failing.Store(true)
	log.commit(t, "general", "lost")

	select {
	case err := <-degraded:
		assert.ErrorIs(t, err, domain.ErrDeliveryDegraded)
	case <-time.After(time.Second):
		t.Fatal("subscription was not degraded")
	}

	<-sub.Done()
	assert.True(t, sub.Degraded())
	assert.ErrorIs(t, sub.Err(), domain.ErrDeliveryDegraded)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, int64(1), sub.Cursor(), "cursor stays at the last delivered message")
	assert.Equal(t, 0, h.SubscriberCount("general"))

	// Resync picks up from the cursor
	failing.Store(false)
	log.commit(t, "general", "while degraded")

	resynced, err := h.Resync(context.Background(), sub)
	require.NoError(t, err)
	defer resynced.Unsubscribe()

	require.Eventually(t, func() bool { return len(c.timestamps()) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []int64{1, 2, 3}, c.timestamps())
	assert.Equal(t, 1, h.SubscriberCount("general"))
}

func TestHub_PanickingDeliverDegrades(t *testing.T) {
	h, _ := newTestHub(testConfig())
	defer h.Close()

	sub, err := h.Subscribe(context.Background(), "general", domain.BeginningOfLog, func(context.Context, []*domain.Message) error {
		panic("boom")
	})
	require.NoError(t, err)

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription did not stop")
	}
	assert.True(t, sub.Degraded())
	assert.Contains(t, sub.Err().Error(), "deliver panicked")
}

func TestHub_SubscribeErrors(t *testing.T) {
	h, _ := newTestHub(testConfig())

	_, err := h.Subscribe(context.Background(), "bad room!", 0, (&collector{}).deliver)
	assert.ErrorIs(t, err, domain.ErrInvalidRoom)

	_, err = h.Subscribe(context.Background(), "general", 0, nil)
	assert.Error(t, err)

	h.Close()
	_, err = h.Subscribe(context.Background(), "general", 0, (&collector{}).deliver)
	assert.ErrorIs(t, err, domain.ErrSubscriptionClosed)
}

func TestHub_CatchUpReadFailure(t *testing.T) {
	backend := testutil.NewMockLogBackend()
	backend.ReadFromFunc = func(context.Context, string, int64) ([]*domain.Message, error) {
		return nil, testutil.ErrMockBackendDown
	}
	h := NewHub(backend, testConfig())
	defer h.Close()

	sub, err := h.Subscribe(context.Background(), "general", 0, (&collector{}).deliver)
	assert.ErrorIs(t, err, testutil.ErrMockBackendDown)
	assert.Nil(t, sub)
	assert.Equal(t, 0, h.SubscriberCount("general"))
}

func TestHub_CloseDetachesEveryone(t *testing.T) {
	h, _ := newTestHub(testConfig())

	var subs []*Subscription
	for _, room := range []string{"a", "b", "b"} {
		sub, err := h.Subscribe(context.Background(), room, 0, (&collector{}).deliver)
		require.NoError(t, err)
		subs = append(subs, sub)
	}

	h.Close()
	for _, sub := range subs {
		select {
		case <-sub.Done():
		case <-time.After(time.Second):
			t.Fatal("subscription still running after Close")
		}
	}
	assert.Equal(t, 0, h.SubscriberCount("a"))
	assert.Equal(t, 0, h.SubscriberCount("b"))
}

func TestNewHub_Defaults(t *testing.T) {
	h := NewHub(testutil.NewMockLogBackend(), Config{})
	assert.Equal(t, DefaultConfig().MaxAttempts, h.cfg.MaxAttempts)
	assert.Equal(t, DefaultConfig().InitialBackoff, h.cfg.InitialBackoff)
	assert.Equal(t, DefaultConfig().MaxBackoff, h.cfg.MaxBackoff)
}
