// Package inbound turns gateway webhooks into ticket updates and routing
// decisions.
package inbound

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"omnichat-platform/internal/ai"
	"omnichat-platform/internal/apperr"
	"omnichat-platform/internal/connections"
	"omnichat-platform/internal/contacts"
	"omnichat-platform/internal/routing"
	"omnichat-platform/internal/tickets"
	"omnichat-platform/internal/transport"
)

type ConnectionLookup interface {
	GetByToken(ctx context.Context, token string) (connections.Connection, error)
}

type ContactStore interface {
	Upsert(ctx context.Context, c contacts.Contact) (contacts.Contact, error)
}

type TicketResolver interface {
	Resolve(ctx context.Context, in tickets.ResolveInput) (tickets.Ticket, error)
}

// RatingRecorder records a contact's answer to the rating prompt.
type RatingRecorder interface {
	RecordRating(ctx context.Context, ticketID string, rating int) (tickets.Ticket, error)
}

type Router interface {
	HandleInbound(ctx context.Context, t tickets.Ticket, msg routing.InboundMessage) (routing.Decision, error)
}

// Result is what one webhook call produced. Ticket and Decision are empty for
// contact events.
type Result struct {
	Type     string            `json:"type"`
	Contact  contacts.Contact  `json:"contact"`
	Ticket   *tickets.Ticket   `json:"ticket,omitempty"`
	Decision *routing.Decision `json:"decision,omitempty"`
}

type Service struct {
	connections ConnectionLookup
	contacts    ContactStore
	resolver    TicketResolver
	ratings     RatingRecorder
	router      Router
	log         *slog.Logger
}

// NewService wires the webhook pipeline. ratings may be nil, in which case
// replies to a rating prompt are routed like any other message.
func NewService(conns ConnectionLookup, cs ContactStore, resolver TicketResolver, ratings RatingRecorder, router Router, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{connections: conns, contacts: cs, resolver: resolver, ratings: ratings, router: router, log: log}
}

// HandleWebhook processes one envelope posted for the connection owning token.
//
// Routing failures are logged and do not fail the call: the message is already
// recorded on the ticket and a gateway retry would only replay the bot reply.
func (s *Service) HandleWebhook(ctx context.Context, token string, body io.Reader) (Result, error) {
	const op = "inbound.HandleWebhook"
	if token == "" {
		return Result{}, apperr.Validation(op, "token is required")
	}
	conn, err := s.connections.GetByToken(ctx, token)
	if err != nil {
		return Result{}, err
	}
	env, err := transport.ParseEnvelope(body, conn.Channel)
	if err != nil {
		return Result{}, err
	}

	switch env.Type {
	case transport.EnvelopeContact:
		c := env.Contact
		ct, err := s.contacts.Upsert(ctx, contacts.Contact{
			CompanyID: conn.CompanyID,
			Name:      c.Name,
			Number:    c.Number,
			Channel:   c.Channel,
			Address:   c.Address,
			IsGroup:   c.IsGroup,
		})
		if err != nil {
			return Result{}, err
		}
		return Result{Type: env.Type, Contact: ct}, nil
	default:
		return s.handleMessage(ctx, conn, *env.Message)
	}
}

func (s *Service) handleMessage(ctx context.Context, conn connections.Connection, m transport.InboundMessage) (Result, error) {
	const op = "inbound.handleMessage"
	ch, ok := tickets.ParseChannel(m.Channel)
	if !ok {
		return Result{}, apperr.Validation(op, "unsupported channel %q", m.Channel)
	}
	ct, err := s.contacts.Upsert(ctx, contacts.Contact{
		CompanyID: conn.CompanyID,
		Name:      m.Name,
		Number:    m.From,
		Channel:   string(ch),
		Address:   m.From,
		IsGroup:   m.IsGroup,
	})
	if err != nil {
		return Result{}, err
	}

	unread := 1
	if m.FromMe {
		unread = 0
	}
	t, err := s.resolver.Resolve(ctx, tickets.ResolveInput{
		CompanyID:    conn.CompanyID,
		ContactID:    ct.ID,
		Channel:      ch,
		ConnectionID: conn.ID,
		UnreadDelta:  unread,
		LastMessage:  m.Body,
		IsGroup:      m.IsGroup,
	})
	if err != nil {
		return Result{}, err
	}

	res := Result{Type: transport.EnvelopeMessage, Contact: ct, Ticket: &t}
	if rating, ok := parseRating(m.Body); ok && t.AwaitingRating && !m.FromMe && s.ratings != nil {
		rated, err := s.ratings.RecordRating(ctx, t.ID, rating)
		if err != nil {
			return Result{}, err
		}
		s.log.Info("rating recorded", "ticket_id", t.ID, "rating", rating)
		res.Ticket = &rated
		return res, nil
	}

	d, err := s.router.HandleInbound(ctx, t, routing.InboundMessage{
		Body:    m.Body,
		FromMe:  m.FromMe,
		History: history(m.History),
	})
	if err != nil {
		s.log.Error("routing failed", "ticket_id", t.ID, "connection_id", conn.ID, "err", err)
		return res, nil
	}
	s.log.Debug("message routed", "ticket_id", t.ID, "action", d.Action, "queue_id", d.QueueID, "reason", d.Reason)
	res.Decision = &d
	return res, nil
}

// parseRating accepts a bare 1..5 reply.
func parseRating(body string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(body))
	if err != nil || n < 1 || n > 5 {
		return 0, false
	}
	return n, true
}

func history(turns []transport.HistoryTurn) []ai.Turn {
	if len(turns) == 0 {
		return nil
	}
	out := make([]ai.Turn, 0, len(turns))
	for _, h := range turns {
		if strings.TrimSpace(h.Body) == "" {
			continue
		}
		role := ai.RoleUser
		if h.FromMe {
			role = ai.RoleAssistant
		}
		out = append(out, ai.Turn{Role: role, Content: h.Body})
	}
	return out
}
