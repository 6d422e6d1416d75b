package schedules

import (
	"context"
	"log/slog"
	"time"

	"omnichat-platform/internal/apperr"
	"omnichat-platform/internal/contacts"
	"omnichat-platform/internal/jobqueue"
	"omnichat-platform/internal/tenants"
	"omnichat-platform/internal/tickets"
)

// TopicDeliver is the job topic consumed by Deliverer.
const TopicDeliver = "schedules.deliver"

type DeliverPayload struct {
	ItemID string `json:"item_id"`
}

type ContactLookup interface {
	Get(ctx context.Context, companyID, id string) (contacts.Contact, error)
}

type CompanyLookup interface {
	Get(ctx context.Context, id string) (tenants.Company, error)
}

type TicketResolver interface {
	Resolve(ctx context.Context, in tickets.ResolveInput) (tickets.Ticket, error)
}

type Messenger interface {
	SendToContact(ctx context.Context, companyID, connectionID, contactID, body string) error
}

// Deps are the collaborators shared by Service and Deliverer.
type Deps struct {
	Contacts  ContactLookup
	Companies CompanyLookup
	Tickets   TicketResolver
	Messenger Messenger
	Logger    *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// send finds or creates the contact's ticket and delivers body on it.
func (d Deps) send(ctx context.Context, it Item, body string) (string, error) {
	const op = "schedules.send"
	c, err := d.Contacts.Get(ctx, it.CompanyID, it.ContactID)
	if err != nil {
		return "", err
	}
	ch, ok := tickets.ParseChannel(c.Channel)
	if !ok {
		return "", apperr.Validation(op, "contact %s has unsupported channel %q", c.ID, c.Channel)
	}
	t, err := d.Tickets.Resolve(ctx, tickets.ResolveInput{
		CompanyID:    it.CompanyID,
		ContactID:    it.ContactID,
		Channel:      ch,
		ConnectionID: it.ConnectionID,
		LastMessage:  body,
		IsGroup:      c.IsGroup,
	})
	if err != nil {
		return "", err
	}
	if err := d.Messenger.SendToContact(ctx, it.CompanyID, t.ConnectionID, it.ContactID, body); err != nil {
		return t.ID, err
	}
	return t.ID, nil
}

// Deliverer sends scheduled items. Failures mark the item ERROR and are not
// retried: ERROR items need an explicit reschedule.
type Deliverer struct {
	repo  Repository
	deps  Deps
	log   *slog.Logger
	clock func() time.Time
}

func NewDeliverer(repo Repository, deps Deps) *Deliverer {
	return &Deliverer{repo: repo, deps: deps, log: deps.logger(), clock: time.Now}
}

// Handle is the jobqueue handler for TopicDeliver.
func (d *Deliverer) Handle(ctx context.Context, job jobqueue.Job) error {
	var p DeliverPayload
	if err := job.Decode(&p); err != nil || p.ItemID == "" {
		p.ItemID = job.Ref
	}
	if p.ItemID == "" {
		d.log.Error("schedule job without item", "job_id", job.ID)
		return nil
	}
	return d.Deliver(ctx, p.ItemID)
}

// Deliver sends one item at most once. Items that are no longer deliverable
// are skipped.
func (d *Deliverer) Deliver(ctx context.Context, id string) error {
	it, err := d.repo.Get(ctx, id)
	if apperr.IsNotFound(err) {
		// replaced by a reschedule
		d.log.Info("scheduled item gone, skipping", "item_id", id)
		return nil
	}
	if err != nil {
		return err
	}
	if !it.Status.Deliverable() || it.SentAt != nil {
		return nil
	}

	ticketID, err := d.deps.send(ctx, it, FormatBody(it))
	if err != nil {
		if _, merr := d.repo.MarkError(ctx, it.ID, err.Error()); merr != nil {
			return merr
		}
		d.log.Warn("scheduled item failed", "item_id", it.ID, "company_id", it.CompanyID, "err", err)
		return nil
	}
	ok, err := d.repo.MarkSent(ctx, it.ID, ticketID, d.clock().UTC())
	if err != nil {
		return err
	}
	if !ok {
		d.log.Warn("scheduled item changed during send", "item_id", it.ID)
	}
	return nil
}
