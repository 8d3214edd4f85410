package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"chat-broker/internal/domain"
	ws "chat-broker/internal/websocket"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// WebSocketHandler handles WebSocket connections
type WebSocketHandler struct {
	broker   ws.RoomService
	limiter  ws.Limiter
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a new WebSocket handler. An empty origin list
// or "*" accepts any origin.
func NewWebSocketHandler(broker ws.RoomService, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		broker: broker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// SetSubmitLimiter throttles message submissions of every new connection
func (h *WebSocketHandler) SetSubmitLimiter(l ws.Limiter) {
	h.limiter = l
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(set) == 0 {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// HandleConnection upgrades the request and attaches a fresh session to the
// room. ?cursor=N resumes after timestamp N, ?nickname sets the display name.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "room")
	if err := domain.ValidateRoomID(roomID); err != nil {
		writeError(w, http.StatusBadRequest, string(domain.KindInvalidRoom), err.Error())
		return
	}

	cursor := domain.BeginningOfLog
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < domain.BeginningOfLog {
			writeError(w, http.StatusBadRequest, "invalid_request", "cursor must be a non-negative integer")
			return
		}
		cursor = parsed
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade error", slog.String("error", err.Error()))
		return
	}

	sess := domain.NewSession()
	if nickname := r.URL.Query().Get("nickname"); nickname != "" {
		sess.SetNickname(nickname)
	}

	// The request context ends when this handler returns
	client := ws.NewClient(context.Background(), conn, h.broker, roomID, sess)
	if h.limiter != nil {
		client.SetLimiter(h.limiter)
	}
	if err := client.Start(cursor); err != nil {
		slog.Error("failed to subscribe client",
			slog.String("room_id", roomID),
			slog.String("error", err.Error()))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"))
		conn.Close()
		return
	}

	slog.Info("websocket client connected",
		slog.String("room_id", roomID),
		slog.String("session_id", sess.ID()),
		slog.Int64("cursor", cursor))

	go client.WritePump()
	go client.ReadPump()
}
