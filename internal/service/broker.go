package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"chat-broker/internal/domain"
	"chat-broker/internal/hub"
	"chat-broker/internal/observability"
)

const defaultBotTimeout = 30 * time.Second

// ContentFilter rewrites message text before persistence. Implementations
// must be pure: the same input always yields the same output.
type ContentFilter interface {
	Clean(text string) string
}

// Subscriber is the live side of the broker, implemented by *hub.Hub.
type Subscriber interface {
	Subscribe(ctx context.Context, roomID string, cursor int64, deliver hub.DeliverFunc) (*hub.Subscription, error)
	Unsubscribe(sub *hub.Subscription)
	Resync(ctx context.Context, sub *hub.Subscription) (*hub.Subscription, error)
}

// BotStatusFunc is told how a bot invocation ended. err is nil on success.
type BotStatusFunc func(roomID, messageID string, err error)

// RoomBroker is the entry point for submissions and subscriptions
type RoomBroker struct {
	store      domain.MessageStore
	subscriber Subscriber
	filter     ContentFilter

	bot         domain.BotResponder
	botTimeout  time.Duration
	onBotStatus BotStatusFunc
	now         func() time.Time

	botTasks sync.WaitGroup
}

// Option configures a RoomBroker
type Option func(*RoomBroker)

// WithBotResponder sets the responder invoked for AI-enabled sessions
func WithBotResponder(bot domain.BotResponder) Option {
	return func(b *RoomBroker) { b.bot = bot }
}

// WithBotTimeout bounds a single bot invocation
func WithBotTimeout(d time.Duration) Option {
	return func(b *RoomBroker) {
		if d > 0 {
			b.botTimeout = d
		}
	}
}

// WithBotStatus registers a callback for bot outcomes
func WithBotStatus(fn BotStatusFunc) Option {
	return func(b *RoomBroker) { b.onBotStatus = fn }
}

// WithClock overrides the wall clock used for created_at and lastMessageTime
func WithClock(now func() time.Time) Option {
	return func(b *RoomBroker) { b.now = now }
}

// NewRoomBroker creates a broker. filter may be nil to store text verbatim.
func NewRoomBroker(store domain.MessageStore, subscriber Subscriber, filter ContentFilter, opts ...Option) *RoomBroker {
	b := &RoomBroker{
		store:      store,
		subscriber: subscriber,
		filter:     filter,
		botTimeout: defaultBotTimeout,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetBotResponder installs the responder after construction, for responders
// that need the broker themselves. Call before serving traffic.
func (b *RoomBroker) SetBotResponder(bot domain.BotResponder) {
	b.bot = bot
}

// Submit validates, filters and commits a message authored by sess.
// replyTarget is optional; its fields are copied into the reply snapshot.
func (b *RoomBroker) Submit(ctx context.Context, roomID string, sess *domain.Session, text string, replyTarget *domain.Message) (*domain.Message, error) {
	if sess == nil {
		return nil, errors.New("submit: session is required")
	}
	if err := domain.ValidateRoomID(roomID); err != nil {
		return nil, b.reject(domain.KindInvalidRoom, err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, b.reject(domain.KindEmptyMessage, domain.ErrEmptyMessage)
	}

	filtered := text
	if b.filter != nil {
		filtered = b.filter.Clean(text)
	}

	draft := sess.Draft(filtered, domain.SnapshotOf(replyTarget))
	draft.CreatedAt = b.now()

	msg, err := b.store.Append(ctx, roomID, draft)
	if err != nil {
		kind := domain.ClassifyStoreError(err)
		observability.FromContext(ctx).Warn("submit failed",
			slog.String("room_id", roomID),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()))
		return nil, b.reject(kind, err)
	}

	sess.MarkSent(b.now())

	if b.bot != nil && !domain.IsBotAuthor(msg.AuthorID) && sess.AIEnabled() {
		b.invokeBot(roomID, msg, BuildPrompt(msg.Text, replyTarget))
	}

	return msg, nil
}

func (b *RoomBroker) reject(kind domain.ErrorKind, cause error) error {
	observability.SubmitRejections.WithLabelValues(string(kind)).Inc()
	return domain.NewSubmitError(kind, cause)
}

// invokeBot runs the responder in the background. Its outcome never affects
// the submission that triggered it.
func (b *RoomBroker) invokeBot(roomID string, trigger *domain.Message, prompt string) {
	bot := b.bot
	trigger = trigger.Clone()

	b.botTasks.Add(1)
	go func() {
		defer b.botTasks.Done()

		ctx, cancel := context.WithTimeout(context.Background(), b.botTimeout)
		defer cancel()

		err := safeRespond(ctx, bot, prompt, trigger, roomID)
		if err != nil {
			observability.BotInvocations.WithLabelValues("failure").Inc()
			slog.Error("bot responder failed",
				slog.String("room_id", roomID),
				slog.String("message_id", trigger.ID),
				slog.String("error", err.Error()))
		} else {
			observability.BotInvocations.WithLabelValues("success").Inc()
		}

		if b.onBotStatus != nil {
			b.onBotStatus(roomID, trigger.ID, err)
		}
	}()
}

func safeRespond(ctx context.Context, bot domain.BotResponder, prompt string, trigger *domain.Message, roomID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("bot responder panicked")
			slog.Error("bot responder panic", slog.Any("panic", r))
		}
	}()
	return bot.Respond(ctx, prompt, trigger, roomID)
}

// WaitForBots blocks until every in-flight bot invocation has returned
func (b *RoomBroker) WaitForBots() {
	b.botTasks.Wait()
}

// BuildPrompt formats the bot prompt for a filtered message text
func BuildPrompt(filteredText string, replyTarget *domain.Message) string {
	var sb strings.Builder
	if replyTarget != nil {
		sb.WriteString("Replying to: ")
		sb.WriteString(replyTarget.AuthorNickname)
		sb.WriteString(": ")
		sb.WriteString(replyTarget.Text)
		sb.WriteString(". ")
	}
	sb.WriteString("User: ")
	sb.WriteString(filteredText)
	return sb.String()
}

// Subscribe attaches deliver to a room from cursor on
func (b *RoomBroker) Subscribe(ctx context.Context, roomID string, cursor int64, deliver hub.DeliverFunc) (*hub.Subscription, error) {
	return b.subscriber.Subscribe(ctx, roomID, cursor, deliver)
}

// Unsubscribe detaches a subscription; safe to call repeatedly
func (b *RoomBroker) Unsubscribe(sub *hub.Subscription) {
	b.subscriber.Unsubscribe(sub)
}

// Resync re-subscribes at the last delivered cursor of sub
func (b *RoomBroker) Resync(ctx context.Context, sub *hub.Subscription) (*hub.Subscription, error) {
	return b.subscriber.Resync(ctx, sub)
}

// History returns the messages of a room committed after since
func (b *RoomBroker) History(ctx context.Context, roomID string, since int64) ([]*domain.Message, error) {
	return b.store.ReadFrom(ctx, roomID, since)
}

// Message looks up a single message, e.g. to resolve a reply target
func (b *RoomBroker) Message(ctx context.Context, roomID, id string) (*domain.Message, error) {
	return b.store.Get(ctx, roomID, id)
}
