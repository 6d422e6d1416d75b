package tickets

import (
	"context"
	"log/slog"
	"time"

	"omnichat-platform/internal/apperr"
	"omnichat-platform/internal/contacts"
	"omnichat-platform/internal/events"

	"github.com/google/uuid"
)

type ContactLookup interface {
	Get(ctx context.Context, companyID, id string) (contacts.Contact, error)
}

// ResolveInput describes one inbound or outbound message for a contact.
type ResolveInput struct {
	CompanyID    string
	ContactID    string
	Channel      Channel
	ConnectionID string
	UnreadDelta  int
	LastMessage  string
	IsGroup      bool
}

type ResolverOptions struct {
	Publisher events.Publisher
	Logger    *slog.Logger
	// ReopenWindow is how long a closed thread can be revived by a new message
	// on one of ReopenChannels.
	ReopenWindow   time.Duration
	ReopenChannels []Channel
}

// Resolver maps a (contact, channel, connection) to its single active ticket.
type Resolver struct {
	repo     Repository
	contacts ContactLookup
	notify   notifier
	log      *slog.Logger
	window   time.Duration
	reopen   map[Channel]bool
	clock    func() time.Time
	newID    func() string
}

func NewResolver(repo Repository, contacts ContactLookup, opts ResolverOptions) *Resolver {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	pub := opts.Publisher
	if pub == nil {
		pub = events.Nop{}
	}
	reopen := make(map[Channel]bool, len(opts.ReopenChannels))
	for _, ch := range opts.ReopenChannels {
		reopen[ch] = true
	}
	return &Resolver{
		repo:     repo,
		contacts: contacts,
		notify:   notifier{pub: pub, log: log},
		log:      log,
		window:   opts.ReopenWindow,
		reopen:   reopen,
		clock:    time.Now,
		newID:    uuid.NewString,
	}
}

// maxResolveAttempts bounds retries after losing a create/reopen race.
const maxResolveAttempts = 3

// Resolve returns the active ticket for the input, reusing, reopening or
// creating one. Concurrent calls for the same identity converge on one ticket.
func (r *Resolver) Resolve(ctx context.Context, in ResolveInput) (Ticket, error) {
	const op = "tickets.Resolve"
	if in.CompanyID == "" || in.ContactID == "" {
		return Ticket{}, apperr.Validation(op, "company_id and contact_id are required")
	}
	if _, ok := ParseChannel(string(in.Channel)); !ok {
		return Ticket{}, apperr.Validation(op, "unsupported channel %q", in.Channel)
	}
	if in.Channel == ChannelWhatsApp && in.ConnectionID == "" {
		return Ticket{}, apperr.Validation(op, "whatsapp tickets require a connection")
	}
	contact, err := r.contacts.Get(ctx, in.CompanyID, in.ContactID)
	if err != nil {
		return Ticket{}, err
	}
	if contact.IsGroup {
		in.IsGroup = true
	}
	key := IdentityKeyFor(in.ContactID, in.Channel, in.ConnectionID)

	var lastErr error
	for attempt := 0; attempt < maxResolveAttempts; attempt++ {
		t, err := r.resolveOnce(ctx, in, key)
		if err == nil {
			return r.repo.Get(ctx, t.ID)
		}
		if !apperr.IsConflict(err) {
			return Ticket{}, err
		}
		lastErr = err
		r.log.Debug("ticket resolve raced, retrying", "identity_key", key, "attempt", attempt+1)
	}
	return Ticket{}, lastErr
}

func (r *Resolver) resolveOnce(ctx context.Context, in ResolveInput, key string) (Ticket, error) {
	active, found, err := r.repo.FindActive(ctx, in.CompanyID, key)
	if err != nil {
		return Ticket{}, err
	}
	if found {
		return r.touch(ctx, active, in)
	}

	if r.reopen[in.Channel] && r.window > 0 {
		since := r.clock().UTC().Add(-r.window)
		closed, found, err := r.repo.FindRecentlyClosed(ctx, in.CompanyID, key, since)
		if err != nil {
			return Ticket{}, err
		}
		if found {
			return r.reopenTicket(ctx, closed, in)
		}
	}
	return r.create(ctx, in)
}

func (r *Resolver) touch(ctx context.Context, t Ticket, in ResolveInput) (Ticket, error) {
	// WhatsApp tickets are keyed by connection so it never differs here.
	conn := ""
	if in.ConnectionID != "" && in.ConnectionID != t.ConnectionID {
		conn = in.ConnectionID
	}
	if conn == "" && in.UnreadDelta == 0 && in.LastMessage == "" {
		return t, nil
	}
	updated, err := r.repo.Touch(ctx, t.ID, conn, in.UnreadDelta, in.LastMessage)
	if err != nil {
		return Ticket{}, err
	}
	r.notify.send(ctx, ActionUpdate, &t, updated)
	return updated, nil
}

func (r *Resolver) reopenTicket(ctx context.Context, closed Ticket, in ResolveInput) (Ticket, error) {
	next := closed
	next.Status = StatusPending
	if in.IsGroup {
		next.Status = StatusGroup
	}
	next.Routing = Unassigned{}
	next.AwaitingRating = false
	next.UnreadCount = closed.UnreadCount + in.UnreadDelta
	if in.LastMessage != "" {
		next.LastMessage = in.LastMessage
	}
	updated, err := r.repo.Update(ctx, next, StatusClosed)
	if err != nil {
		return Ticket{}, err
	}
	tr, err := r.repo.GetTracking(ctx, closed.ID)
	if err != nil {
		return Ticket{}, err
	}
	if err := r.repo.SaveTracking(ctx, tr.reset()); err != nil {
		return Ticket{}, err
	}
	r.log.Info("ticket reopened", "ticket_id", updated.ID, "company_id", updated.CompanyID)
	r.notify.send(ctx, ActionUpdate, &closed, updated)
	return updated, nil
}

func (r *Resolver) create(ctx context.Context, in ResolveInput) (Ticket, error) {
	t := Ticket{
		ID:           r.newID(),
		CompanyID:    in.CompanyID,
		ContactID:    in.ContactID,
		Channel:      in.Channel,
		ConnectionID: in.ConnectionID,
		Status:       StatusPending,
		Routing:      Unassigned{},
		UnreadCount:  in.UnreadDelta,
		LastMessage:  in.LastMessage,
		IsGroup:      in.IsGroup,
	}
	if in.IsGroup {
		t.Status = StatusGroup
	}
	created, err := r.repo.Create(ctx, t)
	if err != nil {
		return Ticket{}, err
	}
	if err := r.repo.SaveTracking(ctx, Tracking{TicketID: created.ID, CompanyID: created.CompanyID}); err != nil {
		return Ticket{}, err
	}
	r.log.Info("ticket created", "ticket_id", created.ID, "company_id", created.CompanyID, "channel", created.Channel)
	r.notify.send(ctx, ActionCreate, nil, created)
	return created, nil
}
