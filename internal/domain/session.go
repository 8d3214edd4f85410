package domain

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultNickname   = "Anonymous"
	maxNicknameLength = 32
)

// Session is the ephemeral identity of an attached client. It is not
// persisted and is regenerated on every attach.
type Session struct {
	mu              sync.RWMutex
	id              string
	nickname        string
	color           string
	lastMessageTime time.Time
	aiEnabled       bool
	replyingTo      *Message
}

// NewSession generates a fresh anonymous identity.
func NewSession() *Session {
	return &Session{
		id:       GenerateUserID(),
		nickname: DefaultNickname,
		color:    GenerateColor(),
	}
}

// NewSessionWithIdentity builds a session for a known identity, e.g. the bot
// or a stateless API caller.
func NewSessionWithIdentity(id, nickname, color string) *Session {
	if color == "" {
		color = GenerateColor()
	}
	return &Session{
		id:       id,
		nickname: SanitizeNickname(nickname),
		color:    color,
	}
}

// GenerateUserID returns a random user id.
func GenerateUserID() string {
	return "user-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// GenerateColor returns a random CSS hex color.
func GenerateColor() string {
	return fmt.Sprintf("#%06x", rand.IntN(0xffffff+1))
}

// SanitizeNickname trims the nickname, caps its length and falls back to
// DefaultNickname when nothing is left.
func SanitizeNickname(nickname string) string {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return DefaultNickname
	}
	if runes := []rune(nickname); len(runes) > maxNicknameLength {
		nickname = strings.TrimSpace(string(runes[:maxNicknameLength]))
	}
	return nickname
}

func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

func (s *Session) Nickname() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nickname
}

func (s *Session) Color() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.color
}

// SetNickname stores and returns the sanitized nickname.
func (s *Session) SetNickname(nickname string) string {
	clean := SanitizeNickname(nickname)
	s.mu.Lock()
	s.nickname = clean
	s.mu.Unlock()
	return clean
}

func (s *Session) LastMessageTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastMessageTime
}

// SetReplyTarget remembers the message the client is replying to.
func (s *Session) SetReplyTarget(m *Message) {
	s.mu.Lock()
	s.replyingTo = m.Clone()
	s.mu.Unlock()
}

func (s *Session) ClearReplyTarget() {
	s.mu.Lock()
	s.replyingTo = nil
	s.mu.Unlock()
}

func (s *Session) ReplyTarget() *Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.replyingTo.Clone()
}

func (s *Session) SetAIEnabled(enabled bool) {
	s.mu.Lock()
	s.aiEnabled = enabled
	s.mu.Unlock()
}

func (s *Session) AIEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aiEnabled
}

// MarkSent records a successful submission and drops any pending reply.
func (s *Session) MarkSent(at time.Time) {
	s.mu.Lock()
	s.lastMessageTime = at
	s.replyingTo = nil
	s.mu.Unlock()
}

// Draft builds an uncommitted message authored by this session.
func (s *Session) Draft(text string, replyTo *ReplySnapshot) *Draft {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &Draft{
		AuthorID:       s.id,
		AuthorNickname: s.nickname,
		AuthorColor:    s.color,
		Text:           text,
		ReplyTo:        replyTo,
	}
}
