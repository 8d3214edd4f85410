package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"chat-broker/internal/domain"
	"chat-broker/internal/observability"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// RoomService is the broker surface used by the REST endpoints
type RoomService interface {
	Submit(ctx context.Context, roomID string, sess *domain.Session, text string, replyTarget *domain.Message) (*domain.Message, error)
	History(ctx context.Context, roomID string, since int64) ([]*domain.Message, error)
	Message(ctx context.Context, roomID, id string) (*domain.Message, error)
}

// RoomHandler handles room endpoints
type RoomHandler struct {
	broker   RoomService
	validate *validator.Validate
}

// NewRoomHandler creates a new room handler
func NewRoomHandler(broker RoomService) *RoomHandler {
	return &RoomHandler{
		broker:   broker,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// SubmitRequest is the body of POST /api/v1/rooms/{room}/messages.
// Callers without a websocket session supply their identity inline.
type SubmitRequest struct {
	UserID    string `json:"user_id" validate:"omitempty,max=64"`
	Nickname  string `json:"nickname" validate:"omitempty,max=64"`
	Color     string `json:"color" validate:"omitempty,hexcolor"`
	Text      string `json:"text" validate:"max=4000"`
	ReplyTo   string `json:"reply_to" validate:"omitempty,max=64"`
	AIEnabled bool   `json:"ai_enabled"`
}

type historyResponse struct {
	Messages []*domain.Message `json:"messages"`
	Cursor   int64             `json:"cursor"`
}

// History returns the messages committed after ?since (default: all)
func (h *RoomHandler) History(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "room")

	since := domain.BeginningOfLog
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < domain.BeginningOfLog {
			writeError(w, http.StatusBadRequest, "invalid_request", "since must be a non-negative integer")
			return
		}
		since = parsed
	}

	messages, err := h.broker.History(r.Context(), roomID, since)
	if err != nil {
		writeBrokerError(r.Context(), w, err)
		return
	}

	cursor := since
	if n := len(messages); n > 0 {
		cursor = messages[n-1].Timestamp
	}

	writeJSON(w, http.StatusOK, historyResponse{Messages: messages, Cursor: cursor})
}

// Submit commits one message on behalf of the caller
func (h *RoomHandler) Submit(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "room")

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = domain.GenerateUserID()
	}
	if domain.IsBotAuthor(userID) {
		writeError(w, http.StatusForbidden, string(domain.KindPermissionDenied), "reserved user id")
		return
	}
	sess := domain.NewSessionWithIdentity(userID, req.Nickname, req.Color)
	sess.SetAIEnabled(req.AIEnabled)

	var target *domain.Message
	if req.ReplyTo != "" {
		msg, err := h.broker.Message(r.Context(), roomID, req.ReplyTo)
		if err != nil {
			writeBrokerError(r.Context(), w, err)
			return
		}
		target = msg
	}

	msg, err := h.broker.Submit(r.Context(), roomID, sess, req.Text, target)
	if err != nil {
		writeBrokerError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

// statusFor maps broker errors to HTTP status and error code
func statusFor(err error) (int, string) {
	if kind := domain.KindOf(err); kind != "" {
		switch kind {
		case domain.KindEmptyMessage, domain.KindInvalidRoom:
			return http.StatusBadRequest, string(kind)
		case domain.KindPermissionDenied:
			return http.StatusForbidden, string(kind)
		default:
			return http.StatusServiceUnavailable, string(kind)
		}
	}
	switch {
	case errors.Is(err, domain.ErrInvalidRoom):
		return http.StatusBadRequest, string(domain.KindInvalidRoom)
	case errors.Is(err, domain.ErrMessageNotFound):
		return http.StatusNotFound, "message_not_found"
	case errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden, string(domain.KindPermissionDenied)
	default:
		return http.StatusServiceUnavailable, string(domain.KindStoreUnavailable)
	}
}

func writeBrokerError(ctx context.Context, w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		observability.FromContext(ctx).Error("request failed",
			slog.String("code", code),
			slog.String("error", err.Error()))
	}
	writeError(w, status, code, err.Error())
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", slog.String("error", err.Error()))
	}
}
