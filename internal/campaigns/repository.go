package campaigns

import (
	"context"
	"time"
)

// Repository persists campaigns and their shipping ledger. Shipping writes
// are conditional so replayed jobs never send twice.
type Repository interface {
	GetCampaign(ctx context.Context, id string) (Campaign, error)
	// ListDue returns scheduled campaigns with ScheduledAt at or before before.
	ListDue(ctx context.Context, before time.Time) ([]Campaign, error)
	// SetStatus moves a campaign to `to` when its status is one of from.
	SetStatus(ctx context.Context, id string, from []Status, to Status) (bool, error)
	// MarkFinished moves processing to finished.
	MarkFinished(ctx context.Context, id string, at time.Time) (bool, error)

	ListItems(ctx context.Context, listID string) ([]ContactListItem, error)
	// GetSettings returns DefaultSettings when the company has none stored.
	GetSettings(ctx context.Context, companyID string) (Settings, error)

	// FindOrCreateShipping returns the existing row for (CampaignID,
	// ContactID) or inserts s. created reports which happened.
	FindOrCreateShipping(ctx context.Context, s Shipping) (sh Shipping, created bool, err error)
	GetShipping(ctx context.Context, id string) (Shipping, error)
	ListShippings(ctx context.Context, campaignID string) ([]Shipping, error)
	SetShippingJob(ctx context.Context, id, jobID string, scheduledFor time.Time) error
	MarkConfirmationRequested(ctx context.Context, id string, at time.Time) (bool, error)
	MarkConfirmed(ctx context.Context, id string, at time.Time) (bool, error)
	// MarkDelivered sets DeliveredAt once.
	MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error)
	MarkShippingError(ctx context.Context, id, reason string) error
	// CountUndelivered counts list items without a delivered shipping.
	CountUndelivered(ctx context.Context, campaignID, listID string) (int, error)
}
