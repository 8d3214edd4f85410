package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"chat-broker/internal/domain"
	"chat-broker/internal/hub"
	"chat-broker/internal/service"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second // Must be less than pongWait
	maxMessageSize = 4096
	requestTimeout = 5 * time.Second
)

// ErrSendBufferFull is returned to the hub when the client cannot keep up,
// which makes the hub retry the batch.
var ErrSendBufferFull = errors.New("client send buffer full")

// RoomService is the part of the broker a connection talks to
type RoomService interface {
	Submit(ctx context.Context, roomID string, sess *domain.Session, text string, replyTarget *domain.Message) (*domain.Message, error)
	Subscribe(ctx context.Context, roomID string, cursor int64, deliver hub.DeliverFunc) (*hub.Subscription, error)
	Unsubscribe(sub *hub.Subscription)
	Resync(ctx context.Context, sub *hub.Subscription) (*hub.Subscription, error)
	Message(ctx context.Context, roomID, id string) (*domain.Message, error)
}

// Limiter throttles submissions per session, implemented by
// *middleware.RateLimiter
type Limiter interface {
	Allow(key string) bool
}

// Conn is the subset of *websocket.Conn the client uses
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

type Client struct {
	conn      Conn
	send      chan []byte
	control   chan []byte
	session   *domain.Session
	roomID    string
	service   RoomService
	limiter   Limiter
	subMu     sync.Mutex
	sub       *hub.Subscription
	writeMu   sync.Mutex
	closed    atomic.Bool
	ctx       context.Context
	ctxCancel context.CancelFunc
}

func NewClient(ctx context.Context, conn Conn, svc RoomService, roomID string, sess *domain.Session) *Client {
	clientCtx, cancel := context.WithCancel(ctx)

	return &Client{
		conn:      conn,
		send:      make(chan []byte, 256),
		control:   make(chan []byte, 1),
		session:   sess,
		roomID:    roomID,
		service:   svc,
		ctx:       clientCtx,
		ctxCancel: cancel,
	}
}

// SetLimiter throttles send frames of this client. Call before Start.
func (c *Client) SetLimiter(l Limiter) {
	c.limiter = l
}

// Start announces the session and subscribes the client to the room from
// cursor. Catch-up history arrives as the first messages frame. On error the
// client is released and must not be pumped.
func (c *Client) Start(cursor int64) error {
	c.queue(ServerMessage{Type: FrameSession, Session: sessionInfo(c.session)})

	sub, err := c.service.Subscribe(c.ctx, c.roomID, cursor, c.deliver)
	if err != nil {
		c.ctxCancel()
		return err
	}
	c.setSubscription(sub)
	return nil
}

func (c *Client) subscription() *hub.Subscription {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return c.sub
}

func (c *Client) setSubscription(sub *hub.Subscription) {
	c.subMu.Lock()
	c.sub = sub
	c.subMu.Unlock()
	go c.watch(sub)
}

// deliver hands a batch to the write pump without blocking the hub
func (c *Client) deliver(ctx context.Context, batch []*domain.Message) error {
	data, err := json.Marshal(ServerMessage{Type: FrameMessages, Messages: batch})
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrSendBufferFull
	}
}

// watch tells the client when its subscription degrades so it can resync
func (c *Client) watch(sub *hub.Subscription) {
	select {
	case <-c.ctx.Done():
		return
	case <-sub.Done():
	}
	if !sub.Degraded() {
		return
	}

	cursor := sub.Cursor()
	msg := ""
	if err := sub.Err(); err != nil {
		msg = err.Error()
	}
	slog.Warn("subscription degraded",
		slog.String("room_id", c.roomID),
		slog.String("session_id", c.session.ID()),
		slog.Int64("cursor", cursor))
	c.notify(ServerMessage{Type: FrameDegraded, Cursor: &cursor, Message: msg})
}

// notify sends a frame on the control channel, which the write pump drains
// before the send buffer. A full send buffer never delays it.
func (c *Client) notify(msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("failed to marshal server message",
			slog.String("error", err.Error()),
			slog.String("type", msg.Type))
		return
	}
	select {
	case c.control <- data:
	case <-c.ctx.Done():
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.ctxCancel()
		if sub := c.subscription(); sub != nil {
			c.service.Unsubscribe(sub)
		}
		c.closeConnection()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		slog.Warn("failed to set read deadline",
			slog.String("error", err.Error()),
			slog.String("session_id", c.session.ID()),
			slog.String("room_id", c.roomID))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket error",
					slog.String("error", err.Error()),
					slog.String("session_id", c.session.ID()))
			}
			break
		}

		var clientMsg ClientMessage
		if err := json.Unmarshal(message, &clientMsg); err != nil {
			slog.Warn("invalid message format",
				slog.String("error", err.Error()),
				slog.String("session_id", c.session.ID()))
			c.queueError("invalid_frame", "Invalid message format")
			continue
		}

		c.handle(&clientMsg)
	}
}

func (c *Client) handle(msg *ClientMessage) {
	ctx, cancel := context.WithTimeout(c.ctx, requestTimeout)
	defer cancel()

	switch msg.Type {
	case FrameSend:
		if cmd, ok := service.ParseCommand(msg.Text); ok {
			c.applyCommand(cmd)
			return
		}
		c.submit(ctx, msg.Text)
	case FrameNickname:
		c.session.SetNickname(msg.Text)
		c.queueSession()
	case FrameReply:
		target, err := c.service.Message(ctx, c.roomID, msg.MessageID)
		if err != nil {
			c.queueError(errorCode(err), "Message not found")
			return
		}
		c.session.SetReplyTarget(target)
		c.queueSession()
	case FrameCancelReply:
		c.session.ClearReplyTarget()
		c.queueSession()
	case FrameAI:
		if msg.Enabled == nil {
			c.queueError("invalid_frame", "enabled is required")
			return
		}
		c.session.SetAIEnabled(*msg.Enabled)
		c.queueSession()
	case FrameResync:
		c.resync(ctx)
	default:
		c.queueError("unknown_type", "Unknown message type")
	}
}

func (c *Client) applyCommand(cmd *service.Command) {
	switch cmd.Type {
	case service.CommandNick:
		c.session.SetNickname(cmd.Arg)
	case service.CommandAI:
		c.session.SetAIEnabled(cmd.Arg == "on")
	}
	c.queueSession()
}

func (c *Client) submit(ctx context.Context, text string) {
	if c.limiter != nil && !c.limiter.Allow(c.session.ID()) {
		c.queueError("rate_limited", "Rate limit exceeded")
		return
	}

	_, err := c.service.Submit(ctx, c.roomID, c.session, text, c.session.ReplyTarget())
	if err == nil {
		// MarkSent cleared the reply target
		c.queueSession()
		return
	}

	var submitErr *domain.SubmitError
	if !errors.As(err, &submitErr) || submitErr.Kind != domain.KindEmptyMessage {
		slog.Error("error submitting message",
			slog.String("error", err.Error()),
			slog.String("session_id", c.session.ID()),
			slog.String("room_id", c.roomID))
	}
	c.queueError(errorCode(err), err.Error())
}

func (c *Client) resync(ctx context.Context) {
	old := c.subscription()
	if old == nil {
		return
	}
	sub, err := c.service.Resync(ctx, old)
	if err != nil {
		slog.Error("resync failed",
			slog.String("error", err.Error()),
			slog.String("room_id", c.roomID))
		c.queueError(errorCode(err), "Resync failed")
		return
	}
	c.setSubscription(sub)
}

// errorCode maps an error to the code carried by error frames
func errorCode(err error) string {
	if kind := domain.KindOf(err); kind != "" {
		return string(kind)
	}
	switch {
	case errors.Is(err, domain.ErrMessageNotFound):
		return "message_not_found"
	case errors.Is(err, domain.ErrInvalidRoom):
		return string(domain.KindInvalidRoom)
	case errors.Is(err, domain.ErrSubscriptionClosed):
		return "subscription_closed"
	default:
		return string(domain.KindStoreUnavailable)
	}
}

func (c *Client) queueSession() {
	c.queue(ServerMessage{Type: FrameSession, Session: sessionInfo(c.session)})
}

func (c *Client) queueError(code, message string) {
	c.queue(ServerMessage{Type: FrameError, Code: code, Message: message})
}

// queue sends a control frame, dropping it if the client is not reading
func (c *Client) queue(msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("failed to marshal server message",
			slog.String("error", err.Error()),
			slog.String("type", msg.Type))
		return
	}
	select {
	case c.send <- data:
	default:
		slog.Warn("dropping frame for slow client",
			slog.String("type", msg.Type),
			slog.String("session_id", c.session.ID()))
	}
}

// WritePump pumps frames from the send buffer to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for {
		select {
		case message := <-c.control:
			if err := c.writeMessage(websocket.TextMessage, message); err != nil {
				return
			}
			continue
		default:
		}

		select {
		case <-c.ctx.Done():
			_ = c.writeMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.control:
			if err := c.writeMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case message := <-c.send:
			if err := c.writeMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.writeMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeMessage writes a message to the WebSocket connection in a thread-safe manner
func (c *Client) writeMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return websocket.ErrCloseSent
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		slog.Warn("failed to set write deadline",
			slog.String("error", err.Error()),
			slog.String("session_id", c.session.ID()),
			slog.String("room_id", c.roomID))
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// closeConnection safely closes the WebSocket connection
func (c *Client) closeConnection() {
	if c.closed.CompareAndSwap(false, true) {
		c.writeMu.Lock()
		c.conn.Close()
		c.writeMu.Unlock()
	}
}
