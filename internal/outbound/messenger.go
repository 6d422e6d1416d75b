// Package outbound sends text to contacts by resolving the contact, its
// connection and its channel identity before handing off to the transport.
package outbound

import (
	"context"
	"log/slog"

	"omnichat-platform/internal/apperr"
	"omnichat-platform/internal/connections"
	"omnichat-platform/internal/contacts"
	"omnichat-platform/internal/transport"
)

type ContactLookup interface {
	Get(ctx context.Context, companyID, id string) (contacts.Contact, error)
}

type ConnectionLookup interface {
	Get(ctx context.Context, id string) (connections.Connection, error)
}

type Messenger struct {
	contacts    ContactLookup
	connections ConnectionLookup
	provider    transport.Provider
	log         *slog.Logger
}

func NewMessenger(cs ContactLookup, conns ConnectionLookup, p transport.Provider, log *slog.Logger) *Messenger {
	if log == nil {
		log = slog.Default()
	}
	return &Messenger{contacts: cs, connections: conns, provider: p, log: log}
}

// SendToContact delivers body to contactID over connectionID.
func (m *Messenger) SendToContact(ctx context.Context, companyID, connectionID, contactID, body string) error {
	const op = "outbound.SendToContact"
	if body == "" {
		return apperr.Validation(op, "body is required")
	}
	if connectionID == "" {
		return apperr.Validation(op, "connection is required")
	}
	c, err := m.contacts.Get(ctx, companyID, contactID)
	if err != nil {
		return err
	}
	conn, err := m.connections.Get(ctx, connectionID)
	if err != nil {
		return err
	}
	if conn.CompanyID != companyID {
		return apperr.NotFound(op, "connection %s", connectionID)
	}
	to, err := m.provider.ResolveIdentity(ctx, c)
	if err != nil {
		return err
	}
	h, err := m.provider.Send(ctx, conn, to, body)
	if err != nil {
		return err
	}
	m.log.Debug("message sent", "connection_id", conn.ID, "contact_id", c.ID, "message_id", h.ID)
	return nil
}
