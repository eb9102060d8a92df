// Package channels holds what the inbound chat channels have in common: their
// names, the normalized inbound message and log-safe previews of user text.
package channels

import (
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/nextlevelbuilder/talkgate/internal/conversation"
)

// Channel names. They prefix conversation keys and tag recorded exchanges.
const (
	Kakao        = "kakaotalk"
	MessengerBot = "messenger_bot"
	Test         = "test"
	Admin        = "admin"
)

// InternalChannels are driven by operators, not end users. Their exchanges
// stay out of the exchange log.
var InternalChannels = map[string]bool{
	Test:  true,
	Admin: true,
}

// IsInternalChannel checks if a channel name is internal.
func IsInternalChannel(name string) bool {
	return InternalChannels[name]
}

// Inbound is a user message normalized from a channel payload.
type Inbound struct {
	Channel  string
	UserID   string // platform user id; empty when the platform sent none
	ChatID   string // room or conversation id; defaults to UserID
	PeerKind conversation.PeerKind
	Content  string
	Intent   string            // platform-detected intent name, if any
	Metadata map[string]string // block, action, bot id ...
}

// SessionKey returns the conversation key for the message, or "" when
// neither a chat id nor a user id is known.
func (m Inbound) SessionKey() string {
	id := m.ChatID
	if id == "" {
		id = m.UserID
	}
	if id == "" {
		return ""
	}
	kind := m.PeerKind
	if kind == "" {
		kind = conversation.PeerDirect
	}
	return conversation.BuildKey(m.Channel, kind, id)
}

// Preview collapses whitespace and truncates s to width terminal cells.
// Hangul counts as two cells.
func Preview(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	return runewidth.Truncate(s, width, "...")
}
