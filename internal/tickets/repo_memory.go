package tickets

import (
	"context"
	"sort"
	"sync"
	"time"

	"omnichat-platform/internal/apperr"
)

// MemoryRepo is an in-memory repository useful for tests. It enforces the
// same identity and compare-and-set rules as the Postgres implementation.
type MemoryRepo struct {
	mu       sync.Mutex
	tickets  map[string]Ticket
	tracking map[string]Tracking
	clock    func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{tickets: map[string]Ticket{}, tracking: map[string]Tracking{}, clock: time.Now}
}

// SetClock overrides the timestamp source used for UpdatedAt.
func (r *MemoryRepo) SetClock(clock func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock = clock
}

// All returns a snapshot of every ticket.
func (r *MemoryRepo) All() []Ticket {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Ticket, 0, len(r.tickets))
	for _, t := range r.tickets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[id]
	if !ok {
		return Ticket{}, apperr.NotFound("tickets.Get", "ticket %s", id)
	}
	return t, nil
}

func (r *MemoryRepo) latest(companyID, key string, match func(Ticket) bool) (Ticket, bool) {
	var best Ticket
	found := false
	for _, t := range r.tickets {
		if t.CompanyID != companyID || t.IdentityKey() != key || !match(t) {
			continue
		}
		if !found || t.UpdatedAt.After(best.UpdatedAt) {
			best, found = t, true
		}
	}
	return best, found
}

func (r *MemoryRepo) FindActive(ctx context.Context, companyID, key string) (Ticket, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.latest(companyID, key, func(t Ticket) bool { return t.Status.Active() })
	return t, ok, nil
}

func (r *MemoryRepo) FindRecentlyClosed(ctx context.Context, companyID, key string, since time.Time) (Ticket, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.latest(companyID, key, func(t Ticket) bool {
		return t.Status == StatusClosed && !t.UpdatedAt.Before(since)
	})
	return t, ok, nil
}

func (r *MemoryRepo) holderOf(key, exceptID string) bool {
	for _, t := range r.tickets {
		if t.ID != exceptID && t.Status.Active() && t.IdentityKey() == key {
			return true
		}
	}
	return false
}

func (r *MemoryRepo) Create(ctx context.Context, t Ticket) (Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tickets[t.ID]; exists {
		return Ticket{}, apperr.Conflict("tickets.Create", "ticket %s already exists", t.ID)
	}
	if t.Status.Active() && r.holderOf(t.IdentityKey(), t.ID) {
		return Ticket{}, apperr.Conflict("tickets.Create", "active ticket already exists for %s", t.IdentityKey())
	}
	now := r.clock().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	r.tickets[t.ID] = t
	return t, nil
}

func (r *MemoryRepo) Update(ctx context.Context, t Ticket, from Status) (Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.tickets[t.ID]
	if !ok {
		return Ticket{}, apperr.NotFound("tickets.Update", "ticket %s", t.ID)
	}
	if cur.Status != from {
		return Ticket{}, apperr.Conflict("tickets.Update", "ticket %s is %s, expected %s", t.ID, cur.Status, from)
	}
	if t.Status.Active() && r.holderOf(t.IdentityKey(), t.ID) {
		return Ticket{}, apperr.Conflict("tickets.Update", "active ticket already exists for %s", t.IdentityKey())
	}
	t.CreatedAt = cur.CreatedAt
	t.UpdatedAt = r.clock().UTC()
	r.tickets[t.ID] = t
	return t, nil
}

func (r *MemoryRepo) Touch(ctx context.Context, id, connectionID string, unreadDelta int, lastMessage string) (Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[id]
	if !ok {
		return Ticket{}, apperr.NotFound("tickets.Touch", "ticket %s", id)
	}
	if connectionID != "" {
		t.ConnectionID = connectionID
	}
	t.UnreadCount += unreadDelta
	if lastMessage != "" {
		t.LastMessage = lastMessage
	}
	t.UpdatedAt = r.clock().UTC()
	r.tickets[id] = t
	return t, nil
}

func (r *MemoryRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tickets[id]; !ok {
		return apperr.NotFound("tickets.Delete", "ticket %s", id)
	}
	delete(r.tickets, id)
	delete(r.tracking, id)
	return nil
}

func (r *MemoryRepo) ListIdlePending(ctx context.Context, connectionID string, idleSince time.Time) ([]Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Ticket
	for _, t := range r.tickets {
		if t.ConnectionID != connectionID || t.Status != StatusPending || t.QueueID() != "" {
			continue
		}
		if t.UpdatedAt.After(idleSince) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (r *MemoryRepo) ListAwaitingRating(ctx context.Context, before time.Time) ([]Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Ticket
	for _, t := range r.tickets {
		if !t.AwaitingRating {
			continue
		}
		tr, ok := r.tracking[t.ID]
		if !ok || tr.RatingAt == nil || tr.RatingAt.After(before) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *MemoryRepo) GetTracking(ctx context.Context, ticketID string) (Tracking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tr, ok := r.tracking[ticketID]; ok {
		return tr, nil
	}
	t, ok := r.tickets[ticketID]
	if !ok {
		return Tracking{}, apperr.NotFound("tickets.GetTracking", "ticket %s", ticketID)
	}
	return Tracking{TicketID: ticketID, CompanyID: t.CompanyID}, nil
}

func (r *MemoryRepo) SaveTracking(ctx context.Context, tr Tracking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracking[tr.TicketID] = tr
	return nil
}
