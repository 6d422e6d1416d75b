package campaigns

import (
	"context"
	"sort"
	"sync"
	"time"

	"omnichat-platform/internal/apperr"
)

// MemoryRepo is an in-memory repository useful for tests.
type MemoryRepo struct {
	mu        sync.Mutex
	campaigns map[string]Campaign
	items     map[string][]ContactListItem
	settings  map[string]Settings
	shippings map[string]Shipping
	clock     func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		campaigns: map[string]Campaign{},
		items:     map[string][]ContactListItem{},
		settings:  map[string]Settings{},
		shippings: map[string]Shipping{},
		clock:     time.Now,
	}
}

func (r *MemoryRepo) PutCampaign(c Campaign) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.campaigns[c.ID] = c
}

func (r *MemoryRepo) PutItems(listID string, items ...ContactListItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range items {
		items[i].ListID = listID
	}
	r.items[listID] = append(r.items[listID], items...)
}

func (r *MemoryRepo) PutSettings(s Settings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings[s.CompanyID] = s
}

func (r *MemoryRepo) GetCampaign(ctx context.Context, id string) (Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return Campaign{}, apperr.NotFound("campaigns.GetCampaign", "campaign %s", id)
	}
	return c, nil
}

func (r *MemoryRepo) ListDue(ctx context.Context, before time.Time) ([]Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Campaign
	for _, c := range r.campaigns {
		if c.Status == StatusScheduled && !c.ScheduledAt.After(before) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (r *MemoryRepo) SetStatus(ctx context.Context, id string, from []Status, to Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return false, apperr.NotFound("campaigns.SetStatus", "campaign %s", id)
	}
	for _, s := range from {
		if c.Status == s {
			c.Status = to
			c.UpdatedAt = r.clock().UTC()
			r.campaigns[id] = c
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepo) MarkFinished(ctx context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || c.Status != StatusProcessing {
		return false, nil
	}
	c.Status = StatusFinished
	c.CompletedAt = &at
	c.UpdatedAt = r.clock().UTC()
	r.campaigns[id] = c
	return true, nil
}

func (r *MemoryRepo) ListItems(ctx context.Context, listID string) ([]ContactListItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ContactListItem(nil), r.items[listID]...), nil
}

func (r *MemoryRepo) GetSettings(ctx context.Context, companyID string) (Settings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.settings[companyID]; ok {
		return s, nil
	}
	return DefaultSettings(companyID), nil
}

func (r *MemoryRepo) FindOrCreateShipping(ctx context.Context, s Shipping) (Shipping, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.shippings {
		if existing.CampaignID == s.CampaignID && existing.ContactID == s.ContactID {
			return existing, false, nil
		}
	}
	now := r.clock().UTC()
	s.CreatedAt, s.UpdatedAt = now, now
	r.shippings[s.ID] = s
	return s, true, nil
}

func (r *MemoryRepo) GetShipping(ctx context.Context, id string) (Shipping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.shippings[id]
	if !ok {
		return Shipping{}, apperr.NotFound("campaigns.GetShipping", "shipping %s", id)
	}
	return s, nil
}

func (r *MemoryRepo) ListShippings(ctx context.Context, campaignID string) ([]Shipping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Shipping
	for _, s := range r.shippings {
		if s.CampaignID == campaignID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContactID < out[j].ContactID })
	return out, nil
}

func (r *MemoryRepo) update(id string, fn func(*Shipping) bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.shippings[id]
	if !ok {
		return false, apperr.NotFound("campaigns.update", "shipping %s", id)
	}
	if !fn(&s) {
		return false, nil
	}
	s.UpdatedAt = r.clock().UTC()
	r.shippings[id] = s
	return true, nil
}

func (r *MemoryRepo) SetShippingJob(ctx context.Context, id, jobID string, scheduledFor time.Time) error {
	_, err := r.update(id, func(s *Shipping) bool {
		s.JobID = jobID
		s.ScheduledFor = &scheduledFor
		return true
	})
	return err
}

func (r *MemoryRepo) MarkConfirmationRequested(ctx context.Context, id string, at time.Time) (bool, error) {
	return r.update(id, func(s *Shipping) bool {
		if s.ConfirmationRequestedAt != nil || s.DeliveredAt != nil {
			return false
		}
		s.ConfirmationRequestedAt = &at
		return true
	})
}

func (r *MemoryRepo) MarkConfirmed(ctx context.Context, id string, at time.Time) (bool, error) {
	return r.update(id, func(s *Shipping) bool {
		if s.ConfirmedAt != nil || s.ConfirmationRequestedAt == nil {
			return false
		}
		s.ConfirmedAt = &at
		return true
	})
}

func (r *MemoryRepo) MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error) {
	return r.update(id, func(s *Shipping) bool {
		if s.DeliveredAt != nil {
			return false
		}
		s.DeliveredAt = &at
		s.LastError = ""
		return true
	})
}

func (r *MemoryRepo) MarkShippingError(ctx context.Context, id, reason string) error {
	_, err := r.update(id, func(s *Shipping) bool {
		s.LastError = reason
		return true
	})
	return err
}

func (r *MemoryRepo) CountUndelivered(ctx context.Context, campaignID, listID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delivered := map[string]bool{}
	for _, s := range r.shippings {
		if s.CampaignID == campaignID && s.DeliveredAt != nil {
			delivered[s.ContactID] = true
		}
	}
	n := 0
	for _, it := range r.items[listID] {
		if !delivered[it.ContactID] {
			n++
		}
	}
	return n, nil
}
