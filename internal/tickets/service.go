package tickets

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"time"

	"omnichat-platform/internal/apperr"
	"omnichat-platform/internal/connections"
	"omnichat-platform/internal/events"
	"omnichat-platform/internal/tenants"
)

// Messenger sends one outbound text to a contact through a connection.
type Messenger interface {
	SendToContact(ctx context.Context, companyID, connectionID, contactID, body string) error
}

type ConnectionLookup interface {
	Get(ctx context.Context, id string) (connections.Connection, error)
}

type CompanyLookup interface {
	Get(ctx context.Context, id string) (tenants.Company, error)
}

// AuditLogger records administrative actions.
type AuditLogger interface {
	LogAdminAction(ctx context.Context, companyID, actorUserID, actorRole, action, targetID, message string) error
}

type Options struct {
	Publisher   events.Publisher
	Messenger   Messenger
	Connections ConnectionLookup
	// Companies supplies per-company rating timeouts. Optional.
	Companies CompanyLookup
	Audit     AuditLogger
	Logger    *slog.Logger
}

// Service is the ticket state machine. Every transition re-reads the row,
// treats "already there" as success and writes with a status precondition.
type Service struct {
	repo        Repository
	messenger   Messenger
	connections ConnectionLookup
	companies   CompanyLookup
	audit       AuditLogger
	notify      notifier
	log         *slog.Logger
	clock       func() time.Time
}

func NewService(repo Repository, opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	pub := opts.Publisher
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{
		repo:        repo,
		messenger:   opts.Messenger,
		companies:   opts.Companies,
		connections: opts.Connections,
		audit:       opts.Audit,
		notify:      notifier{pub: pub, log: log},
		log:         log,
		clock:       time.Now,
	}
}

var ErrRatingOutOfRange = errors.New("tickets: rating must be between 1 and 5")

func (s *Service) Get(ctx context.Context, id string) (Ticket, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) Tracking(ctx context.Context, id string) (Tracking, error) {
	return s.repo.GetTracking(ctx, id)
}

// Accept moves a pending ticket to open under userID.
func (s *Service) Accept(ctx context.Context, ticketID, userID string) (Ticket, error) {
	const op = "tickets.Accept"
	if userID == "" {
		return Ticket{}, apperr.Validation(op, "user_id is required")
	}
	t, err := s.repo.Get(ctx, ticketID)
	if err != nil {
		return Ticket{}, err
	}
	if t.Status == StatusOpen && t.UserID() == userID {
		return t, nil
	}
	if t.Status != StatusPending && t.Status != StatusOpen {
		return Ticket{}, apperr.Conflict(op, "ticket %s is %s", t.ID, t.Status)
	}

	next := t
	next.Status = StatusOpen
	next.Routing = HumanAssigned{QueueID: t.QueueID(), UserID: userID}
	next.UnreadCount = 0
	next.AwaitingRating = false
	updated, err := s.repo.Update(ctx, next, t.Status)
	if err != nil {
		return Ticket{}, err
	}

	tr, err := s.repo.GetTracking(ctx, t.ID)
	if err != nil {
		return Ticket{}, err
	}
	now := s.clock().UTC()
	tr.UserID = userID
	tr.StartedAt = timePtr(now)
	tr.RatingAt = nil
	tr.ChatbotAt = nil
	tr.Rated = false
	tr.Rating = 0
	if err := s.repo.SaveTracking(ctx, tr); err != nil {
		return Ticket{}, err
	}

	s.notify.send(ctx, ActionUpdate, &t, updated)
	return updated, nil
}

// Close finishes a ticket. When the connection defines a rating message and
// the ticket has not been asked yet, the rating prompt is sent and the close
// is deferred until RecordRating or SkipRating.
func (s *Service) Close(ctx context.Context, ticketID string) (Ticket, error) {
	t, err := s.repo.Get(ctx, ticketID)
	if err != nil {
		return Ticket{}, err
	}
	if t.Status == StatusClosed || t.AwaitingRating {
		return t, nil
	}
	conn := s.connection(ctx, t.ConnectionID)
	tr, err := s.repo.GetTracking(ctx, t.ID)
	if err != nil {
		return Ticket{}, err
	}

	if conn.RatingMessage != "" && tr.RatingAt == nil && t.UserID() != "" && !t.IsGroup {
		if err := s.send(ctx, t, conn.RatingMessage); err == nil {
			next := t
			next.AwaitingRating = true
			updated, err := s.repo.Update(ctx, next, t.Status)
			if err != nil {
				return Ticket{}, err
			}
			tr.RatingAt = timePtr(s.clock().UTC())
			if err := s.repo.SaveTracking(ctx, tr); err != nil {
				return Ticket{}, err
			}
			s.notify.send(ctx, ActionUpdate, &t, updated)
			return updated, nil
		}
		// An undeliverable prompt cannot be answered; close right away.
	}
	return s.finalize(ctx, t, tr, conn)
}

// RecordRating stores the contact's rating and completes a deferred close.
func (s *Service) RecordRating(ctx context.Context, ticketID string, rating int) (Ticket, error) {
	const op = "tickets.RecordRating"
	if rating < 1 || rating > 5 {
		return Ticket{}, &apperr.Error{Kind: apperr.KindValidation, Op: op, Err: ErrRatingOutOfRange}
	}
	t, err := s.repo.Get(ctx, ticketID)
	if err != nil {
		return Ticket{}, err
	}
	tr, err := s.repo.GetTracking(ctx, t.ID)
	if err != nil {
		return Ticket{}, err
	}
	if t.Status == StatusClosed && tr.Rated {
		return t, nil
	}
	if !t.AwaitingRating {
		return Ticket{}, apperr.Validation(op, "ticket %s is not awaiting a rating", t.ID)
	}
	tr.Rated = true
	tr.Rating = rating
	return s.finalize(ctx, t, tr, s.connection(ctx, t.ConnectionID))
}

// SkipRating completes a deferred close without a rating.
func (s *Service) SkipRating(ctx context.Context, ticketID string) (Ticket, error) {
	t, err := s.repo.Get(ctx, ticketID)
	if err != nil {
		return Ticket{}, err
	}
	if !t.AwaitingRating {
		return t, nil
	}
	tr, err := s.repo.GetTracking(ctx, t.ID)
	if err != nil {
		return Ticket{}, err
	}
	return s.finalize(ctx, t, tr, s.connection(ctx, t.ConnectionID))
}

// ExpireRatings closes tickets whose rating prompt went unanswered for
// longer than their company's rating timeout, or fallback when the company
// sets none. Per-ticket failures are logged and skipped.
func (s *Service) ExpireRatings(ctx context.Context, fallback time.Duration) (int, error) {
	now := s.clock().UTC()
	due, err := s.repo.ListAwaitingRating(ctx, now)
	if err != nil {
		return 0, err
	}
	timeouts := map[string]time.Duration{}
	closed := 0
	for _, t := range due {
		if ctx.Err() != nil {
			return closed, ctx.Err()
		}
		timeout, ok := timeouts[t.CompanyID]
		if !ok {
			timeout = s.ratingTimeout(ctx, t.CompanyID, fallback)
			timeouts[t.CompanyID] = timeout
		}
		tr, err := s.repo.GetTracking(ctx, t.ID)
		if err != nil {
			s.log.Warn("rating expiry failed", "ticket_id", t.ID, "err", err)
			continue
		}
		if tr.RatingAt == nil || now.Before(tr.RatingAt.Add(timeout)) {
			continue
		}
		if _, err := s.SkipRating(ctx, t.ID); err != nil {
			s.log.Warn("rating expiry failed", "ticket_id", t.ID, "err", err)
			continue
		}
		closed++
	}
	return closed, nil
}

func (s *Service) ratingTimeout(ctx context.Context, companyID string, fallback time.Duration) time.Duration {
	if s.companies == nil {
		return fallback
	}
	c, err := s.companies.Get(ctx, companyID)
	if err != nil {
		s.log.Warn("company lookup failed, using default rating timeout", "company_id", companyID, "err", err)
		return fallback
	}
	return c.RatingTimeout(fallback)
}

func (s *Service) finalize(ctx context.Context, t Ticket, tr Tracking, conn connections.Connection) (Ticket, error) {
	next := t
	next.Status = StatusClosed
	next.Routing = Unassigned{}
	next.AwaitingRating = false
	next.UnreadCount = 0
	updated, err := s.repo.Update(ctx, next, t.Status)
	if err != nil {
		if apperr.IsConflict(err) {
			if cur, gerr := s.repo.Get(ctx, t.ID); gerr == nil && cur.Status == StatusClosed {
				return cur, nil
			}
		}
		return Ticket{}, err
	}

	tr.FinishedAt = timePtr(s.clock().UTC())
	if err := s.repo.SaveTracking(ctx, tr); err != nil {
		return Ticket{}, err
	}
	if conn.CompletionMessage != "" && !t.IsGroup {
		_ = s.send(ctx, t, conn.CompletionMessage)
	}
	s.notify.send(ctx, ActionUpdate, &t, updated)
	return updated, nil
}

// Transfer reassigns an active ticket. With a user it becomes open under
// that agent; with only a queue it goes back to pending in that department.
func (s *Service) Transfer(ctx context.Context, ticketID, queueID, userID string) (Ticket, error) {
	const op = "tickets.Transfer"
	if queueID == "" && userID == "" {
		return Ticket{}, apperr.Validation(op, "queue_id or user_id is required")
	}
	t, err := s.repo.Get(ctx, ticketID)
	if err != nil {
		return Ticket{}, err
	}
	if t.Status != StatusPending && t.Status != StatusOpen {
		return Ticket{}, apperr.Conflict(op, "ticket %s is %s", t.ID, t.Status)
	}

	next := t
	if userID != "" {
		next.Status = StatusOpen
		next.Routing = HumanAssigned{QueueID: queueID, UserID: userID}
	} else {
		next.Status = StatusPending
		next.Routing = Queued{QueueID: queueID}
	}
	if next.Status == t.Status && reflect.DeepEqual(next.Routing, t.Routing) {
		return t, nil
	}
	updated, err := s.repo.Update(ctx, next, t.Status)
	if err != nil {
		return Ticket{}, err
	}

	tr, err := s.repo.GetTracking(ctx, t.ID)
	if err != nil {
		return Ticket{}, err
	}
	now := s.clock().UTC()
	if queueID != "" && queueID != t.QueueID() {
		tr.QueuedAt = timePtr(now)
	}
	if userID != "" {
		tr.UserID = userID
		if tr.StartedAt == nil {
			tr.StartedAt = timePtr(now)
		}
	}
	if err := s.repo.SaveTracking(ctx, tr); err != nil {
		return Ticket{}, err
	}
	s.notify.send(ctx, ActionUpdate, &t, updated)
	return updated, nil
}

// RoutingChange describes side effects of an automated routing step.
type RoutingChange struct {
	// BotEngaged marks a department bot or AI reply sent on this step.
	BotEngaged bool
}

// SetRouting is used by automated routing on pending tickets only. A ticket
// taken by an agent in the meantime yields a ConflictError.
func (s *Service) SetRouting(ctx context.Context, ticketID string, next RoutingState, change RoutingChange) (Ticket, error) {
	const op = "tickets.SetRouting"
	if err := ValidateRouting(next); err != nil {
		return Ticket{}, &apperr.Error{Kind: apperr.KindValidation, Op: op, Err: err}
	}
	if _, human := next.(HumanAssigned); human {
		return Ticket{}, apperr.Validation(op, "human assignment goes through Accept or Transfer")
	}
	t, err := s.repo.Get(ctx, ticketID)
	if err != nil {
		return Ticket{}, err
	}
	if t.Status != StatusPending {
		return Ticket{}, apperr.Conflict(op, "ticket %s is %s", t.ID, t.Status)
	}
	if reflect.DeepEqual(t.Routing, next) && !change.BotEngaged {
		return t, nil
	}

	nt := t
	nt.Routing = next
	if change.BotEngaged {
		nt.BotUseCount++
	}
	updated, err := s.repo.Update(ctx, nt, t.Status)
	if err != nil {
		return Ticket{}, err
	}

	tr, err := s.repo.GetTracking(ctx, t.ID)
	if err != nil {
		return Ticket{}, err
	}
	now := s.clock().UTC()
	dirty := false
	if q := QueueOf(next); q != "" && q != t.QueueID() {
		tr.QueuedAt = timePtr(now)
		dirty = true
	}
	if change.BotEngaged {
		tr.ChatbotAt = timePtr(now)
		dirty = true
	}
	if dirty {
		if err := s.repo.SaveTracking(ctx, tr); err != nil {
			return Ticket{}, err
		}
	}
	s.notify.send(ctx, ActionUpdate, &t, updated)
	return updated, nil
}

// MoveConnection rebinds a ticket whose connection went away. If another
// active thread already owns the contact on the new connection, this ticket
// is closed instead so the identity stays unique.
func (s *Service) MoveConnection(ctx context.Context, ticketID, connectionID string) (Ticket, error) {
	const op = "tickets.MoveConnection"
	if connectionID == "" {
		return Ticket{}, apperr.Validation(op, "connection_id is required")
	}
	t, err := s.repo.Get(ctx, ticketID)
	if err != nil {
		return Ticket{}, err
	}
	if t.ConnectionID == connectionID {
		return t, nil
	}

	moved := t
	moved.ConnectionID = connectionID
	if t.Status.Active() {
		holder, found, err := s.repo.FindActive(ctx, t.CompanyID, moved.IdentityKey())
		if err != nil {
			return Ticket{}, err
		}
		if found && holder.ID != t.ID {
			closed := t
			closed.Status = StatusClosed
			closed.Routing = Unassigned{}
			closed.AwaitingRating = false
			updated, err := s.repo.Update(ctx, closed, t.Status)
			if err != nil {
				return Ticket{}, err
			}
			s.notify.send(ctx, ActionUpdate, &t, updated)
			return updated, nil
		}
	}
	updated, err := s.repo.Update(ctx, moved, t.Status)
	if err != nil {
		return Ticket{}, err
	}
	s.notify.send(ctx, ActionUpdate, &t, updated)
	return updated, nil
}

// Delete removes a ticket. Administrative cleanup only.
func (s *Service) Delete(ctx context.Context, ticketID, actorUserID, actorRole string) error {
	t, err := s.repo.Get(ctx, ticketID)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, ticketID); err != nil {
		return err
	}
	if s.audit != nil {
		_ = s.audit.LogAdminAction(ctx, t.CompanyID, actorUserID, actorRole, "ticket.delete", t.ID, "ticket deleted")
	}
	s.notify.send(ctx, ActionDelete, nil, t)
	return nil
}

func (s *Service) connection(ctx context.Context, id string) connections.Connection {
	if id == "" || s.connections == nil {
		return connections.Connection{}
	}
	c, err := s.connections.Get(ctx, id)
	if err != nil {
		s.log.Warn("connection lookup failed", "connection_id", id, "err", err)
		return connections.Connection{}
	}
	return c
}

func (s *Service) send(ctx context.Context, t Ticket, body string) error {
	if s.messenger == nil {
		return errors.New("tickets: messenger not configured")
	}
	err := s.messenger.SendToContact(ctx, t.CompanyID, t.ConnectionID, t.ContactID, body)
	if err != nil {
		s.log.Warn("ticket message send failed", "ticket_id", t.ID, "err", err)
	}
	return err
}
