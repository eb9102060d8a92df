package conversation

import (
	"fmt"
	"strings"
)

// PeerKind distinguishes one-to-one chats from group rooms.
type PeerKind string

const (
	PeerDirect PeerKind = "direct"
	PeerGroup  PeerKind = "group"
)

// BuildKey builds the session key for a channel conversation.
//
//	DM:    {channel}:direct:{peerID}
//	Group: {channel}:group:{roomID}
func BuildKey(channel string, kind PeerKind, id string) string {
	return fmt.Sprintf("%s:%s:%s", channel, kind, id)
}

// ParsedKey is the decomposed form of a session key.
type ParsedKey struct {
	Channel string
	Kind    PeerKind
	ID      string
}

// ParseKey splits a key built by BuildKey. The id may itself contain colons.
func ParseKey(key string) (ParsedKey, bool) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return ParsedKey{}, false
	}
	kind := PeerKind(parts[1])
	if kind != PeerDirect && kind != PeerGroup {
		return ParsedKey{}, false
	}
	return ParsedKey{Channel: parts[0], Kind: kind, ID: parts[2]}, true
}
