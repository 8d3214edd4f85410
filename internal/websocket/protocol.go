package websocket

import (
	"chat-broker/internal/domain"
)

// Client frame types
const (
	FrameSend        = "send"
	FrameNickname    = "nickname"
	FrameReply       = "reply"
	FrameCancelReply = "cancel_reply"
	FrameAI          = "ai"
	FrameResync      = "resync"
)

// Server frame types
const (
	FrameSession  = "session"
	FrameMessages = "messages"
	FrameError    = "error"
	FrameDegraded = "degraded"
)

type ClientMessage struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Enabled   *bool  `json:"enabled,omitempty"`
}

type SessionInfo struct {
	UserID     string                `json:"user_id"`
	Nickname   string                `json:"nickname"`
	Color      string                `json:"color"`
	AIEnabled  bool                  `json:"ai_enabled"`
	ReplyingTo *domain.ReplySnapshot `json:"replying_to,omitempty"`
}

type ServerMessage struct {
	Type     string            `json:"type"`
	Session  *SessionInfo      `json:"session,omitempty"`
	Messages []*domain.Message `json:"messages,omitempty"`
	Code     string            `json:"code,omitempty"`
	Message  string            `json:"message,omitempty"`
	Cursor   *int64            `json:"cursor,omitempty"`
}

func sessionInfo(sess *domain.Session) *SessionInfo {
	return &SessionInfo{
		UserID:     sess.ID(),
		Nickname:   sess.Nickname(),
		Color:      sess.Color(),
		AIEnabled:  sess.AIEnabled(),
		ReplyingTo: domain.SnapshotOf(sess.ReplyTarget()),
	}
}
