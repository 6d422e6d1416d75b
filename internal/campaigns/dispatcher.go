package campaigns

import (
	"context"
	"log/slog"
	"time"

	"omnichat-platform/internal/apperr"
	"omnichat-platform/internal/contacts"
	"omnichat-platform/internal/jobqueue"
	"omnichat-platform/internal/tenants"
	"omnichat-platform/internal/tickets"

	"github.com/google/uuid"
)

const (
	TopicProcess  = "campaigns.process"
	TopicDispatch = "campaigns.dispatch"
)

type ProcessPayload struct {
	CampaignID string `json:"campaign_id"`
}

type DispatchPayload struct {
	ShippingID string `json:"shipping_id"`
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

type Config struct {
	// Lookahead is how far ahead Discover schedules processing jobs.
	Lookahead time.Duration
}

type Deps struct {
	Repo      Repository
	Jobs      jobqueue.Queue
	Contacts  ContactLookup
	Companies CompanyLookup
	Tickets   TicketResolver
	Messenger Messenger
	Logger    *slog.Logger
}

// Dispatcher expands campaigns into shipping rows and sends them under the
// company rate limit.
type Dispatcher struct {
	repo      Repository
	jobs      jobqueue.Queue
	contacts  ContactLookup
	companies CompanyLookup
	tickets   TicketResolver
	messenger Messenger
	lookahead time.Duration
	log       *slog.Logger
	clock     func() time.Time
	newID     func() string
}

func NewDispatcher(d Deps, cfg Config) *Dispatcher {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = time.Hour
	}
	return &Dispatcher{
		repo:      d.Repo,
		jobs:      d.Jobs,
		contacts:  d.Contacts,
		companies: d.Companies,
		tickets:   d.Tickets,
		messenger: d.Messenger,
		lookahead: cfg.Lookahead,
		log:       log,
		clock:     time.Now,
		newID:     uuid.NewString,
	}
}

func (d *Dispatcher) Get(ctx context.Context, id string) (Campaign, error) {
	return d.repo.GetCampaign(ctx, id)
}

func (d *Dispatcher) GetShipping(ctx context.Context, id string) (Shipping, error) {
	return d.repo.GetShipping(ctx, id)
}

// Discover enqueues a processing job for every scheduled campaign starting
// within the lookahead. It returns how many were enqueued.
func (d *Dispatcher) Discover(ctx context.Context) (int, error) {
	now := d.clock().UTC()
	due, err := d.repo.ListDue(ctx, now.Add(d.lookahead))
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}
	inFlight, err := d.jobs.ListInFlight(ctx, TopicProcess)
	if err != nil {
		return 0, err
	}
	refs := jobqueue.Refs(inFlight)

	n := 0
	for _, c := range due {
		if _, busy := refs[c.ID]; busy {
			continue
		}
		delay := max(c.ScheduledAt.Sub(now), 0)
		if _, err := d.jobs.Enqueue(ctx, TopicProcess, ProcessPayload{CampaignID: c.ID}, jobqueue.Options{Delay: delay, Ref: c.ID}); err != nil {
			d.log.Error("campaign discover enqueue failed", "campaign_id", c.ID, "err", err)
			continue
		}
		n++
	}
	return n, nil
}

// HandleProcess is the jobqueue handler for TopicProcess.
func (d *Dispatcher) HandleProcess(ctx context.Context, job jobqueue.Job) error {
	var p ProcessPayload
	if err := job.Decode(&p); err != nil || p.CampaignID == "" {
		p.CampaignID = job.Ref
	}
	return d.Process(ctx, p.CampaignID)
}

// HandleDispatch is the jobqueue handler for TopicDispatch.
func (d *Dispatcher) HandleDispatch(ctx context.Context, job jobqueue.Job) error {
	var p DispatchPayload
	if err := job.Decode(&p); err != nil || p.ShippingID == "" {
		p.ShippingID = job.Ref
	}
	return d.Dispatch(ctx, p.ShippingID)
}

// Process expands campaignID into one shipping per list item and enqueues
// each send. Re-running it reuses existing rows and skips delivered or
// in-flight ones.
func (d *Dispatcher) Process(ctx context.Context, campaignID string) error {
	const op = "campaigns.Process"
	c, err := d.repo.GetCampaign(ctx, campaignID)
	if apperr.IsNotFound(err) {
		d.log.Warn("campaign gone, skipping", "campaign_id", campaignID)
		return nil
	}
	if err != nil {
		return err
	}
	if c.Status != StatusScheduled && c.Status != StatusProcessing {
		return nil
	}
	variants := c.Variants()
	if len(variants) == 0 {
		d.log.Error("campaign has no messages", "campaign_id", c.ID)
		return nil
	}
	ok, err := d.repo.SetStatus(ctx, c.ID, []Status{StatusScheduled, StatusProcessing}, StatusProcessing)
	if err != nil {
		return err
	}
	if !ok {
		// cancelled in between
		return nil
	}

	settings, err := d.repo.GetSettings(ctx, c.CompanyID)
	if err != nil {
		return err
	}
	company, err := d.companies.Get(ctx, c.CompanyID)
	if err != nil {
		return err
	}
	items, err := d.repo.ListItems(ctx, c.ContactListID)
	if err != nil {
		return err
	}
	inFlight, err := d.jobs.ListInFlight(ctx, TopicDispatch)
	if err != nil {
		return err
	}
	refs := jobqueue.Refs(inFlight)

	limiter := NewRateLimiter(settings)
	confirmations := c.ConfirmationVariants()
	now := d.clock().UTC()
	localNow := now.In(company.Location())
	enqueued := 0

	for i, it := range items {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		data := TemplateData{
			Name:     it.Name,
			Number:   it.Number,
			LocalNow: localNow,
			Company:  settings.Variables,
			Contact:  it.Variables,
		}
		sh := Shipping{
			ID:         d.newID(),
			CampaignID: c.ID,
			ContactID:  it.ContactID,
			ListItemID: it.ID,
			Message:    Render(variants[i%len(variants)], data),
		}
		if c.NeedsConfirmation() {
			sh.ConfirmationMessage = Render(confirmations[i%len(confirmations)], data)
		}

		sh, _, err = d.repo.FindOrCreateShipping(ctx, sh)
		if err != nil {
			d.log.Warn("campaign shipping not stored", "campaign_id", c.ID, "contact_id", it.ContactID, "err", err)
			continue
		}
		if sh.DeliveredAt != nil {
			continue
		}
		if _, busy := refs[sh.ID]; busy {
			continue
		}

		delay := limiter.Delay(i, c.ScheduledAt, now)
		jobID, err := d.jobs.Enqueue(ctx, TopicDispatch, DispatchPayload{ShippingID: sh.ID}, jobqueue.Options{Delay: delay, Ref: sh.ID})
		if err != nil {
			d.log.Warn("campaign dispatch enqueue failed", "campaign_id", c.ID, "shipping_id", sh.ID, "err", err)
			continue
		}
		if err := d.repo.SetShippingJob(ctx, sh.ID, jobID, now.Add(delay)); err != nil {
			d.log.Warn("campaign job id not stored", "shipping_id", sh.ID, "err", err)
		}
		enqueued++
	}

	d.log.Info("campaign processed", "campaign_id", c.ID, "recipients", len(items), "enqueued", enqueued, "op", op)
	return d.checkCompletion(ctx, c)
}

// Dispatch sends one shipping. It is safe to replay: delivered shippings and
// cancelled campaigns are no-ops. Send failures are recorded, not retried.
func (d *Dispatcher) Dispatch(ctx context.Context, shippingID string) error {
	sh, err := d.repo.GetShipping(ctx, shippingID)
	if apperr.IsNotFound(err) {
		d.log.Warn("shipping gone, skipping", "shipping_id", shippingID)
		return nil
	}
	if err != nil {
		return err
	}
	if sh.DeliveredAt != nil {
		return nil
	}
	c, err := d.repo.GetCampaign(ctx, sh.CampaignID)
	if err != nil {
		return err
	}
	if c.Status != StatusProcessing {
		return nil
	}

	if sh.ConfirmationMessage != "" && sh.ConfirmedAt == nil {
		if sh.ConfirmationRequestedAt != nil {
			return nil
		}
		if err := d.send(ctx, c, sh.ContactID, sh.ConfirmationMessage); err != nil {
			return d.recordFailure(ctx, sh, err)
		}
		if _, err := d.repo.MarkConfirmationRequested(ctx, sh.ID, d.clock().UTC()); err != nil {
			return err
		}
		return nil
	}

	if err := d.send(ctx, c, sh.ContactID, sh.Message); err != nil {
		return d.recordFailure(ctx, sh, err)
	}
	delivered, err := d.repo.MarkDelivered(ctx, sh.ID, d.clock().UTC())
	if err != nil {
		return err
	}
	if !delivered {
		return nil
	}
	return d.checkCompletion(ctx, c)
}

func (d *Dispatcher) recordFailure(ctx context.Context, sh Shipping, cause error) error {
	d.log.Warn("campaign send failed", "campaign_id", sh.CampaignID, "shipping_id", sh.ID, "err", cause)
	return d.repo.MarkShippingError(ctx, sh.ID, cause.Error())
}

// Confirm records the contact's confirmation and schedules the actual message.
func (d *Dispatcher) Confirm(ctx context.Context, shippingID string) (Shipping, error) {
	const op = "campaigns.Confirm"
	sh, err := d.repo.GetShipping(ctx, shippingID)
	if err != nil {
		return Shipping{}, err
	}
	if sh.DeliveredAt != nil || sh.ConfirmedAt != nil {
		return sh, nil
	}
	if sh.ConfirmationRequestedAt == nil {
		return Shipping{}, apperr.Conflict(op, "shipping %s has no pending confirmation", sh.ID)
	}
	ok, err := d.repo.MarkConfirmed(ctx, sh.ID, d.clock().UTC())
	if err != nil {
		return Shipping{}, err
	}
	if ok {
		if _, err := d.jobs.Enqueue(ctx, TopicDispatch, DispatchPayload{ShippingID: sh.ID}, jobqueue.Options{Ref: sh.ID}); err != nil {
			return Shipping{}, err
		}
	}
	return d.repo.GetShipping(ctx, sh.ID)
}

// Cancel stops a campaign. Queued sends notice the status at execution time.
func (d *Dispatcher) Cancel(ctx context.Context, campaignID string) (Campaign, error) {
	const op = "campaigns.Cancel"
	ok, err := d.repo.SetStatus(ctx, campaignID, []Status{StatusInactive, StatusScheduled, StatusProcessing}, StatusCancelled)
	if err != nil {
		return Campaign{}, err
	}
	c, err := d.repo.GetCampaign(ctx, campaignID)
	if err != nil {
		return Campaign{}, err
	}
	if !ok && c.Status != StatusCancelled {
		return Campaign{}, apperr.Conflict(op, "campaign %s is %s", c.ID, c.Status)
	}
	return c, nil
}

func (d *Dispatcher) checkCompletion(ctx context.Context, c Campaign) error {
	n, err := d.repo.CountUndelivered(ctx, c.ID, c.ContactListID)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	finished, err := d.repo.MarkFinished(ctx, c.ID, d.clock().UTC())
	if err != nil {
		return err
	}
	if finished {
		d.log.Info("campaign finished", "campaign_id", c.ID)
	}
	return nil
}

func (d *Dispatcher) send(ctx context.Context, c Campaign, contactID, body string) error {
	ct, err := d.contacts.Get(ctx, c.CompanyID, contactID)
	if err != nil {
		return err
	}
	ch, ok := tickets.ParseChannel(ct.Channel)
	if !ok {
		return apperr.Validation("campaigns.send", "contact %s has unsupported channel %q", ct.ID, ct.Channel)
	}
	t, err := d.tickets.Resolve(ctx, tickets.ResolveInput{
		CompanyID:    c.CompanyID,
		ContactID:    contactID,
		Channel:      ch,
		ConnectionID: c.ConnectionID,
		LastMessage:  body,
		IsGroup:      ct.IsGroup,
	})
	if err != nil {
		return err
	}
	return d.messenger.SendToContact(ctx, c.CompanyID, t.ConnectionID, contactID, body)
}
