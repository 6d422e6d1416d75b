package outbound

import (
	"context"
	"testing"

	"omnichat-platform/internal/apperr"
	"omnichat-platform/internal/connections"
	"omnichat-platform/internal/contacts"
	"omnichat-platform/internal/transport"
	"omnichat-platform/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	conn string
	to   transport.Identity
	body string
}

type fakeProvider struct{ sent []sent }

func (p *fakeProvider) Send(ctx context.Context, conn connections.Connection, to transport.Identity, body string) (transport.MessageHandle, error) {
	p.sent = append(p.sent, sent{conn: conn.ID, to: to, body: body})
	return transport.MessageHandle{ID: "m"}, nil
}

func (p *fakeProvider) ResolveIdentity(ctx context.Context, c contacts.Contact) (transport.Identity, error) {
	return transport.IdentityOf(c)
}

func newMessenger(p *fakeProvider) *Messenger {
	cs := contacts.NewMemoryRepo(contacts.Contact{ID: "c1", CompanyID: "co", Channel: "whatsapp", Number: "5511"})
	conns := connections.NewMemoryRepo(
		connections.Connection{ID: "w1", CompanyID: "co", Channel: "whatsapp", Token: "t"},
		connections.Connection{ID: "other", CompanyID: "co2", Channel: "whatsapp", Token: "t"},
	)
	return NewMessenger(cs, conns, p, logger.Discard())
}

func TestSendToContact(t *testing.T) {
	p := &fakeProvider{}
	m := newMessenger(p)

	require.NoError(t, m.SendToContact(context.Background(), "co", "w1", "c1", "hello"))
	require.Len(t, p.sent, 1)
	assert.Equal(t, "w1", p.sent[0].conn)
	assert.Equal(t, "5511", p.sent[0].to.Address)
	assert.Equal(t, "hello", p.sent[0].body)
}

func TestSendToContact_Errors(t *testing.T) {
	p := &fakeProvider{}
	m := newMessenger(p)
	ctx := context.Background()

	assert.True(t, apperr.IsValidation(m.SendToContact(ctx, "co", "w1", "c1", "")))
	assert.True(t, apperr.IsNotFound(m.SendToContact(ctx, "co", "w1", "missing", "x")))
	assert.True(t, apperr.IsNotFound(m.SendToContact(ctx, "co", "other", "c1", "x")))
	assert.Empty(t, p.sent)
}
