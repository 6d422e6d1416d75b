package transport

import (
	"context"
	"strings"

	"omnichat-platform/internal/apperr"
	"omnichat-platform/internal/connections"
	"omnichat-platform/internal/contacts"
)

// Provider defines the channel-agnostic interface used by business logic.
//
// Rules:
// - No gateway calls outside transport adapters.
// - Every send is bound to a connection (the channel session).
type Provider interface {
	Send(ctx context.Context, conn connections.Connection, to Identity, body string) (MessageHandle, error)
	ResolveIdentity(ctx context.Context, c contacts.Contact) (Identity, error)
}

// Identity is the channel-level address of a contact.
type Identity struct {
	Channel string `json:"channel"`
	Address string `json:"address"`
	IsGroup bool   `json:"is_group"`
}

// MessageHandle identifies a sent message at the gateway.
type MessageHandle struct {
	ID string `json:"id"`
}

const groupSuffix = "@g.us"

// IdentityOf derives the address for c without any remote lookup.
func IdentityOf(c contacts.Contact) (Identity, error) {
	addr := strings.TrimSpace(c.Handle())
	if addr == "" {
		return Identity{}, apperr.Validation("transport.ResolveIdentity", "contact %s has no address", c.ID)
	}
	if c.IsGroup && c.Channel == "whatsapp" && !strings.Contains(addr, "@") {
		addr += groupSuffix
	}
	return Identity{Channel: c.Channel, Address: addr, IsGroup: c.IsGroup}, nil
}
