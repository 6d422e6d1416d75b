package inbound

import (
	"context"
	"errors"
	"strings"
	"testing"

	"omnichat-platform/internal/ai"
	"omnichat-platform/internal/apperr"
	"omnichat-platform/internal/connections"
	"omnichat-platform/internal/contacts"
	"omnichat-platform/internal/routing"
	"omnichat-platform/internal/tickets"
	"omnichat-platform/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRouter struct {
	calls []routing.InboundMessage
	err   error
}

func (r *stubRouter) HandleInbound(ctx context.Context, t tickets.Ticket, msg routing.InboundMessage) (routing.Decision, error) {
	r.calls = append(r.calls, msg)
	if r.err != nil {
		return routing.Decision{}, r.err
	}
	return routing.Decision{TicketID: t.ID, Action: routing.ActionMenu}, nil
}

type sentMessages struct{ bodies []string }

func (m *sentMessages) SendToContact(ctx context.Context, companyID, connectionID, contactID, body string) error {
	m.bodies = append(m.bodies, body)
	return nil
}

type fixture struct {
	svc      *Service
	contacts *contacts.MemoryRepo
	repo     *tickets.MemoryRepo
	tickets  *tickets.Service
	router   *stubRouter
	sent     *sentMessages
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cs := contacts.NewMemoryRepo()
	ts := tickets.NewMemoryRepo()
	conns := connections.NewMemoryRepo(connections.Connection{
		ID: "conn-1", CompanyID: "co", Channel: "whatsapp", Token: "tok-1",
		RatingMessage: "rate us 1-5", CompletionMessage: "thanks",
	})
	router := &stubRouter{}
	sent := &sentMessages{}
	resolver := tickets.NewResolver(ts, cs, tickets.ResolverOptions{Logger: logger.Discard()})
	svc := tickets.NewService(ts, tickets.Options{Connections: conns, Messenger: sent, Logger: logger.Discard()})
	return &fixture{
		svc:      NewService(conns, cs, resolver, svc, router, logger.Discard()),
		contacts: cs,
		repo:     ts,
		tickets:  svc,
		router:   router,
		sent:     sent,
	}
}

func newService(t *testing.T) (*Service, *contacts.MemoryRepo, *tickets.MemoryRepo, *stubRouter) {
	f := newFixture(t)
	return f.svc, f.contacts, f.repo, f.router
}

const messageBody = `{"type":"message","message":{"from":"+55 11999990001","name":"Ana Lima","body":"hello"}}`

func TestHandleWebhook_MessageResolvesOneTicket(t *testing.T) {
	svc, _, ts, router := newService(t)
	ctx := context.Background()

	first, err := svc.HandleWebhook(ctx, "tok-1", strings.NewReader(messageBody))
	require.NoError(t, err)
	require.NotNil(t, first.Ticket)
	require.NotNil(t, first.Decision)
	assert.Equal(t, "whatsapp", first.Contact.Channel)
	assert.Equal(t, "55 11999990001", first.Contact.Address)
	assert.Equal(t, tickets.StatusPending, first.Ticket.Status)
	assert.Equal(t, "conn-1", first.Ticket.ConnectionID)

	second, err := svc.HandleWebhook(ctx, "tok-1", strings.NewReader(messageBody))
	require.NoError(t, err)
	assert.Equal(t, first.Ticket.ID, second.Ticket.ID)
	assert.Equal(t, first.Contact.ID, second.Contact.ID)
	assert.Equal(t, 2, second.Ticket.UnreadCount)

	assert.Len(t, ts.All(), 1)
	require.Len(t, router.calls, 2)
	assert.Equal(t, "hello", router.calls[0].Body)
}

func TestHandleWebhook_FromMeDoesNotCountUnread(t *testing.T) {
	svc, _, _, router := newService(t)
	body := `{"type":"message","message":{"from":"5511999990001","body":"on my way","from_me":true}}`

	res, err := svc.HandleWebhook(context.Background(), "tok-1", strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Ticket.UnreadCount)
	require.Len(t, router.calls, 1)
	assert.True(t, router.calls[0].FromMe)
}

func TestHandleWebhook_RoutingFailureStillRecordsMessage(t *testing.T) {
	svc, _, ts, router := newService(t)
	router.err = apperr.Transport("routing.say", errors.New("gateway down"))

	res, err := svc.HandleWebhook(context.Background(), "tok-1", strings.NewReader(messageBody))
	require.NoError(t, err)
	assert.NotNil(t, res.Ticket)
	assert.Nil(t, res.Decision)
	assert.Len(t, ts.All(), 1)
}

func TestHandleWebhook_ContactEvent(t *testing.T) {
	svc, cs, ts, router := newService(t)
	body := `{"type":"contact","contact":{"name":"Bruno","number":"5511999990002"}}`

	res, err := svc.HandleWebhook(context.Background(), "tok-1", strings.NewReader(body))
	require.NoError(t, err)
	assert.Nil(t, res.Ticket)
	assert.Empty(t, router.calls)
	assert.Empty(t, ts.All())

	got, err := cs.Get(context.Background(), "co", res.Contact.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bruno", got.Name)
}

func TestHandleWebhook_Errors(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.HandleWebhook(ctx, "", strings.NewReader(messageBody))
	assert.True(t, apperr.IsValidation(err))

	_, err = svc.HandleWebhook(ctx, "nope", strings.NewReader(messageBody))
	assert.True(t, apperr.IsNotFound(err))

	_, err = svc.HandleWebhook(ctx, "tok-1", strings.NewReader(`{"type":"typing"}`))
	assert.True(t, apperr.IsValidation(err))

	_, err = svc.HandleWebhook(ctx, "tok-1", strings.NewReader(`{"type":"message","message":{"from":"1","channel":"pager"}}`))
	assert.True(t, apperr.IsValidation(err))
}

func TestHandleWebhook_ContactRatingReplyRecordsRating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.HandleWebhook(ctx, "tok-1", strings.NewReader(messageBody))
	require.NoError(t, err)
	id := res.Ticket.ID
	_, err = f.tickets.Accept(ctx, id, "u1")
	require.NoError(t, err)
	closing, err := f.tickets.Close(ctx, id)
	require.NoError(t, err)
	require.True(t, closing.AwaitingRating)

	// non-numeric reply is routed as usual and leaves the prompt pending
	reply := `{"type":"message","message":{"from":"5511999990001","body":"what?"}}`
	res, err = f.svc.HandleWebhook(ctx, "tok-1", strings.NewReader(reply))
	require.NoError(t, err)
	assert.True(t, res.Ticket.AwaitingRating)
	require.Len(t, f.router.calls, 2)

	reply = `{"type":"message","message":{"from":"5511999990001","body":" 5 "}}`
	res, err = f.svc.HandleWebhook(ctx, "tok-1", strings.NewReader(reply))
	require.NoError(t, err)
	assert.Equal(t, id, res.Ticket.ID)
	assert.Equal(t, tickets.StatusClosed, res.Ticket.Status)
	assert.False(t, res.Ticket.AwaitingRating)
	assert.Nil(t, res.Decision)
	assert.Len(t, f.router.calls, 2)

	tr, err := f.repo.GetTracking(ctx, id)
	require.NoError(t, err)
	assert.True(t, tr.Rated)
	assert.Equal(t, 5, tr.Rating)
	assert.Equal(t, []string{"rate us 1-5", "thanks"}, f.sent.bodies)
}

func TestHandleWebhook_NumberWithoutPendingRatingIsRouted(t *testing.T) {
	f := newFixture(t)
	body := `{"type":"message","message":{"from":"5511999990001","body":"2"}}`

	res, err := f.svc.HandleWebhook(context.Background(), "tok-1", strings.NewReader(body))
	require.NoError(t, err)
	require.NotNil(t, res.Decision)
	require.Len(t, f.router.calls, 1)
	assert.Equal(t, "2", f.router.calls[0].Body)
}

func TestHandleWebhook_PassesHistoryToRouter(t *testing.T) {
	f := newFixture(t)
	body := `{"type":"message","message":{"from":"5511999990001","body":"and the price?","history":[
		{"body":"do you ship to Recife?"},
		{"body":"yes, in 3 days","from_me":true},
		{"body":"  "}
	]}}`

	_, err := f.svc.HandleWebhook(context.Background(), "tok-1", strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, f.router.calls, 1)
	assert.Equal(t, []ai.Turn{
		{Role: ai.RoleUser, Content: "do you ship to Recife?"},
		{Role: ai.RoleAssistant, Content: "yes, in 3 days"},
	}, f.router.calls[0].History)
}

func TestParseRating(t *testing.T) {
	for body, want := range map[string]int{"1": 1, " 5\n": 5, "0": 0, "6": 0, "five": 0, "": 0} {
		got, ok := parseRating(body)
		assert.Equal(t, want, got, body)
		assert.Equal(t, want != 0, ok, body)
	}
}
