package schedules

import (
	"context"
	"sort"
	"sync"
	"time"

	"omnichat-platform/internal/apperr"
)

// MemoryRepo is an in-memory repository useful for tests.
type MemoryRepo struct {
	mu    sync.Mutex
	items map[string]Item
	clock func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{items: map[string]Item{}, clock: time.Now}
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	if !ok {
		return Item{}, apperr.NotFound("schedules.Get", "item %s", id)
	}
	return it, nil
}

func (r *MemoryRepo) List(ctx context.Context, companyID string, f ListFilter) ([]Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Item
	for _, it := range r.items {
		if it.CompanyID != companyID {
			continue
		}
		if f.ContactID != "" && it.ContactID != f.ContactID {
			continue
		}
		if f.Status != "" && it.Status != f.Status {
			continue
		}
		out = append(out, it)
	}
	sortBySendAt(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *MemoryRepo) ListSet(ctx context.Context, rootID string) ([]Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.set(rootID)
	sortBySendAt(out)
	return out, nil
}

func (r *MemoryRepo) set(rootID string) []Item {
	var out []Item
	for _, it := range r.items {
		if it.RootID() == rootID {
			out = append(out, it)
		}
	}
	return out
}

func (r *MemoryRepo) ListCandidates(ctx context.Context, upTo time.Time, limit int) ([]Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Item
	for _, it := range r.items {
		if it.Status == StatusPending && !it.SendAt.After(upTo) {
			out = append(out, it)
		}
	}
	sortBySendAt(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) ListStaleQueued(ctx context.Context, before time.Time, limit int) ([]Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Item
	for _, it := range r.items {
		if it.Status == StatusQueued && !it.UpdatedAt.After(before) {
			out = append(out, it)
		}
	}
	sortBySendAt(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) CreateSet(ctx context.Context, items []Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range items {
		if _, exists := r.items[it.ID]; exists {
			return apperr.Conflict("schedules.CreateSet", "item %s already exists", it.ID)
		}
	}
	r.insert(items)
	return nil
}

func (r *MemoryRepo) insert(items []Item) {
	now := r.clock().UTC()
	for _, it := range items {
		it.CreatedAt, it.UpdatedAt = now, now
		r.items[it.ID] = it
	}
}

func (r *MemoryRepo) ReplaceSet(ctx context.Context, rootID string, items []Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.set(rootID)
	if len(old) == 0 {
		return apperr.NotFound("schedules.ReplaceSet", "item %s", rootID)
	}
	root, ok := r.items[rootID]
	if !ok {
		return apperr.NotFound("schedules.ReplaceSet", "item %s", rootID)
	}
	if !root.Status.Replaceable() {
		return apperr.Conflict("schedules.ReplaceSet", "item %s is %s", root.ID, root.Status)
	}
	for _, it := range old {
		delete(r.items, it.ID)
	}
	r.insert(items)
	return nil
}

// transition applies fn to id when its status is one of from.
func (r *MemoryRepo) transition(id string, from []Status, fn func(*Item)) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	if !ok {
		return false, apperr.NotFound("schedules.transition", "item %s", id)
	}
	for _, s := range from {
		if it.Status == s {
			fn(&it)
			it.UpdatedAt = r.clock().UTC()
			r.items[id] = it
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepo) MarkQueued(ctx context.Context, id string) (bool, error) {
	return r.transition(id, []Status{StatusPending}, func(it *Item) { it.Status = StatusQueued })
}

func (r *MemoryRepo) SetJobID(ctx context.Context, id, jobID string) error {
	_, err := r.transition(id, []Status{StatusQueued}, func(it *Item) { it.JobID = jobID })
	return err
}

func (r *MemoryRepo) RevertPending(ctx context.Context, id string) (bool, error) {
	return r.transition(id, []Status{StatusQueued}, func(it *Item) {
		it.Status = StatusPending
		it.JobID = ""
	})
}

func (r *MemoryRepo) MarkSent(ctx context.Context, id, ticketID string, sentAt time.Time) (bool, error) {
	r.mu.Lock()
	if it, ok := r.items[id]; ok && it.SentAt != nil {
		r.mu.Unlock()
		return false, nil
	}
	r.mu.Unlock()
	return r.transition(id, []Status{StatusPending, StatusQueued}, func(it *Item) {
		it.Status = StatusSent
		it.SentAt = &sentAt
		it.TicketID = ticketID
		it.LastError = ""
	})
}

func (r *MemoryRepo) MarkError(ctx context.Context, id, reason string) (bool, error) {
	return r.transition(id, []Status{StatusPending, StatusQueued}, func(it *Item) {
		it.Status = StatusError
		it.LastError = reason
	})
}

func (r *MemoryRepo) CancelSet(ctx context.Context, rootID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock().UTC()
	n := 0
	for id, it := range r.items {
		if it.RootID() != rootID || !it.Status.Deliverable() {
			continue
		}
		it.Status = StatusCancelled
		it.UpdatedAt = now
		r.items[id] = it
		n++
	}
	return n, nil
}

func sortBySendAt(items []Item) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].SendAt.Equal(items[j].SendAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].SendAt.Before(items[j].SendAt)
	})
}
