package service

import (
	"regexp"
	"strings"
)

var (
	nickCommandRegex = regexp.MustCompile(`^/nick\s+(.{1,64})$`)
	aiCommandRegex   = regexp.MustCompile(`^/ai\s+(?i)(on|off)$`)
)

const (
	CommandNick = "nick"
	CommandAI   = "ai"
)

// Command represents a parsed slash command typed into the message box
type Command struct {
	Type string
	Arg  string
}

// ParseCommand attempts to parse a message as a command
// Returns the command and true if it's a command, nil and false otherwise
func ParseCommand(content string) (*Command, bool) {
	content = strings.TrimSpace(content)

	if matches := nickCommandRegex.FindStringSubmatch(content); matches != nil {
		return &Command{Type: CommandNick, Arg: strings.TrimSpace(matches[1])}, true
	}

	if matches := aiCommandRegex.FindStringSubmatch(content); matches != nil {
		return &Command{Type: CommandAI, Arg: strings.ToLower(matches[1])}, true
	}

	return nil, false
}
