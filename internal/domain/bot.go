package domain

import "context"

// BotIdentity is the reserved author used for bot replies.
type BotIdentity struct {
	ID       string
	Nickname string
	Color    string
}

// AIBot is the only bot identity. Messages authored by it never trigger
// another bot invocation.
var AIBot = BotIdentity{
	ID:       "ai-bot",
	Nickname: "AI Bot",
	Color:    "#6366f1",
}

// IsBotAuthor reports whether authorID belongs to a bot.
func IsBotAuthor(authorID string) bool {
	return authorID == AIBot.ID
}

// Session returns a session authored by the bot identity.
func (b BotIdentity) Session() *Session {
	return NewSessionWithIdentity(b.ID, b.Nickname, b.Color)
}

// BotResponder produces a bot reply for a committed message. Implementations
// submit the reply back through the broker under the bot identity.
type BotResponder interface {
	Respond(ctx context.Context, prompt string, trigger *Message, roomID string) error
}
