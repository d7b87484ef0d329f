package client

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// Channel is the logical purpose of a duplex connection.
type Channel string

const (
	ChannelStatus  Channel = "status"
	ChannelHealth  Channel = "health"
	ChannelCommand Channel = "command"
	ChannelGeneral Channel = "general"
)

// Channels lists every channel in a stable order.
var Channels = []Channel{ChannelStatus, ChannelHealth, ChannelCommand, ChannelGeneral}

// ParseChannel accepts a channel name; "mcp" is an alias for the command channel.
func ParseChannel(s string) (Channel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "status":
		return ChannelStatus, true
	case "health":
		return ChannelHealth, true
	case "command", "mcp":
		return ChannelCommand, true
	case "general", "ws", "":
		return ChannelGeneral, true
	}
	return "", false
}

// Origin is the prefix used when composing client ids on this channel.
func (c Channel) Origin() string {
	switch c {
	case ChannelCommand:
		return "mcp"
	case ChannelGeneral:
		return "ws"
	default:
		return string(c)
	}
}

// Identity carries what a connection told us about itself before registration.
type Identity struct {
	// Explicit is a session token announced by the client, either in its
	// first message or as an explicit client_id.
	Explicit string
	// Cookie is a session token from connection metadata.
	Cookie    string
	UserAgent string
}

// Token derives the session token: explicit, then cookie, then a stable
// hash of the user agent, then a random id.
func (id Identity) Token() string {
	if t := strings.TrimSpace(id.Explicit); t != "" {
		return t
	}
	if t := strings.TrimSpace(id.Cookie); t != "" {
		return t
	}
	if ua := strings.TrimSpace(id.UserAgent); ua != "" {
		sum := sha256.Sum256([]byte(ua))
		return "ua-" + hex.EncodeToString(sum[:8])
	}
	return uuid.NewString()
}

// ClientID composes the id a connection is known by.
func ClientID(ch Channel, token string) string {
	return ch.Origin() + "_" + token
}
