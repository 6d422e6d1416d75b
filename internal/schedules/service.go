package schedules

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"omnichat-platform/internal/apperr"

	"github.com/google/uuid"
)

type CreateInput struct {
	CompanyID    string       `json:"company_id"`
	ContactID    string       `json:"contact_id"`
	UserID       string       `json:"user_id"`
	ConnectionID string       `json:"connection_id"`
	Body         string       `json:"body"`
	SendAt       time.Time    `json:"send_at"`
	ReminderKind ReminderKind `json:"reminder_kind"`
}

type Service struct {
	repo  Repository
	deps  Deps
	log   *slog.Logger
	clock func() time.Time
	newID func() string
}

func NewService(repo Repository, deps Deps) *Service {
	return &Service{repo: repo, deps: deps, log: deps.logger(), clock: time.Now, newID: uuid.NewString}
}

func (s *Service) Get(ctx context.Context, id string) (Item, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, companyID string, f ListFilter) ([]Item, error) {
	if companyID == "" {
		return nil, apperr.Validation("schedules.List", "company_id is required")
	}
	return s.repo.List(ctx, companyID, f)
}

// Create stores a new item. A start item also gets a reminder ReminderLead
// earlier when that moment is still ahead.
func (s *Service) Create(ctx context.Context, in CreateInput) (Item, error) {
	const op = "schedules.Create"
	in.Body = strings.TrimSpace(in.Body)
	if in.CompanyID == "" || in.ContactID == "" {
		return Item{}, apperr.Validation(op, "company_id and contact_id are required")
	}
	if in.Body == "" {
		return Item{}, apperr.Validation(op, "body is required")
	}
	if in.ReminderKind == "" {
		in.ReminderKind = KindNone
	}
	if !in.ReminderKind.valid() || in.ReminderKind == KindReminder {
		return Item{}, apperr.Validation(op, "invalid reminder_kind %q", in.ReminderKind)
	}
	if _, err := s.deps.Contacts.Get(ctx, in.CompanyID, in.ContactID); err != nil {
		return Item{}, err
	}

	nowLocal, err := s.nowLocal(ctx, in.CompanyID)
	if err != nil {
		return Item{}, err
	}
	sendAt := WallClock(in.SendAt, in.SendAt.Location())
	if in.ReminderKind == KindImmediate {
		sendAt = nowLocal
	}
	if sendAt.Before(nowLocal) {
		return Item{}, apperr.Validation(op, "send_at %s is in the past", sendAt.Format(time.DateTime))
	}

	items := s.buildSet(in, sendAt, nowLocal)
	if err := s.repo.CreateSet(ctx, items); err != nil {
		return Item{}, err
	}
	return s.repo.Get(ctx, items[0].ID)
}

// buildSet returns the root item first.
func (s *Service) buildSet(in CreateInput, sendAt, nowLocal time.Time) []Item {
	root := Item{
		ID:           s.newID(),
		CompanyID:    in.CompanyID,
		ContactID:    in.ContactID,
		UserID:       in.UserID,
		ConnectionID: in.ConnectionID,
		Body:         in.Body,
		SendAt:       sendAt,
		Status:       StatusPending,
		ReminderKind: in.ReminderKind,
	}
	if in.ReminderKind != KindStart {
		return []Item{root}
	}
	at := sendAt.Add(-ReminderLead)
	if at.Before(nowLocal) {
		root.ReminderState = ReminderSkipped
		return []Item{root}
	}
	root.ReminderState = ReminderArmed
	reminder := root
	reminder.ID = s.newID()
	reminder.ParentID = root.ID
	reminder.SendAt = at
	reminder.ReminderKind = KindReminder
	reminder.ReminderState = ""
	return []Item{root, reminder}
}

// Cancel cancels the whole reminder set id belongs to. Cancelling an
// already cancelled set succeeds; a set with nothing left to send is a
// ConflictError.
func (s *Service) Cancel(ctx context.Context, id string) (Item, error) {
	const op = "schedules.Cancel"
	it, err := s.repo.Get(ctx, id)
	if err != nil {
		return Item{}, err
	}
	root := it
	if it.ParentID != "" {
		if root, err = s.repo.Get(ctx, it.ParentID); err != nil {
			return Item{}, err
		}
	}

	n, err := s.repo.CancelSet(ctx, root.ID)
	if err != nil {
		return Item{}, err
	}
	if n == 0 {
		set, err := s.repo.ListSet(ctx, root.ID)
		if err != nil {
			return Item{}, err
		}
		if !anyCancelled(set) {
			return Item{}, apperr.Conflict(op, "item %s is %s", root.ID, root.Status)
		}
	}
	if n > 0 && root.ReminderKind == KindStart {
		// only the caller that flipped the set gets here
		if _, err := s.deps.send(ctx, root, FormatCancellation(root)); err != nil {
			s.log.Warn("cancellation notice failed", "item_id", root.ID, "err", err)
		}
	}
	return s.repo.Get(ctx, id)
}

func anyCancelled(items []Item) bool {
	for _, it := range items {
		if it.Status == StatusCancelled {
			return true
		}
	}
	return false
}

// Reschedule replaces the set id belongs to with a fresh one at sendAt. The
// old items are deleted so in-flight jobs for them become no-ops.
func (s *Service) Reschedule(ctx context.Context, id string, sendAt time.Time) (Item, error) {
	const op = "schedules.Reschedule"
	it, err := s.repo.Get(ctx, id)
	if err != nil {
		return Item{}, err
	}
	root := it
	if it.ParentID != "" {
		if root, err = s.repo.Get(ctx, it.ParentID); err != nil {
			return Item{}, err
		}
	}
	nowLocal, err := s.nowLocal(ctx, root.CompanyID)
	if err != nil {
		return Item{}, err
	}
	sendAt = WallClock(sendAt, sendAt.Location())
	if sendAt.Before(nowLocal) {
		return Item{}, apperr.Validation(op, "send_at %s is in the past", sendAt.Format(time.DateTime))
	}
	kind := root.ReminderKind
	if kind == KindImmediate {
		kind = KindNone
	}
	items := s.buildSet(CreateInput{
		CompanyID:    root.CompanyID,
		ContactID:    root.ContactID,
		UserID:       root.UserID,
		ConnectionID: root.ConnectionID,
		Body:         root.Body,
		ReminderKind: kind,
	}, sendAt, nowLocal)
	if err := s.repo.ReplaceSet(ctx, root.ID, items); err != nil {
		return Item{}, err
	}
	return s.repo.Get(ctx, items[0].ID)
}

func (s *Service) nowLocal(ctx context.Context, companyID string) (time.Time, error) {
	c, err := s.deps.Companies.Get(ctx, companyID)
	if err != nil {
		return time.Time{}, err
	}
	return WallClock(s.clock(), c.Location()), nil
}
