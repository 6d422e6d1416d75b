package schedules

import (
	"context"
	"time"
)

// Repository persists scheduled items. Every status change is conditional on
// the current status so racing sweeps and handlers never double-apply.
type Repository interface {
	Get(ctx context.Context, id string) (Item, error)
	List(ctx context.Context, companyID string, f ListFilter) ([]Item, error)
	// ListSet returns the root item and its reminders.
	ListSet(ctx context.Context, rootID string) ([]Item, error)
	// ListCandidates returns PENDING items with SendAt at or before upTo.
	ListCandidates(ctx context.Context, upTo time.Time, limit int) ([]Item, error)
	// ListStaleQueued returns QUEUED items last updated at or before before.
	ListStaleQueued(ctx context.Context, before time.Time, limit int) ([]Item, error)

	// CreateSet inserts items atomically.
	CreateSet(ctx context.Context, items []Item) error
	// ReplaceSet deletes the set rooted at rootID and inserts items in one
	// transaction. It fails with a ConflictError when the root was already
	// sent or cancelled.
	ReplaceSet(ctx context.Context, rootID string, items []Item) error

	// MarkQueued moves PENDING to QUEUED. It returns false when the item was
	// not PENDING.
	MarkQueued(ctx context.Context, id string) (bool, error)
	SetJobID(ctx context.Context, id, jobID string) error
	// RevertPending moves QUEUED back to PENDING after a failed enqueue.
	RevertPending(ctx context.Context, id string) (bool, error)
	// MarkSent sets SENT and SentAt on a deliverable, unsent item.
	MarkSent(ctx context.Context, id, ticketID string, sentAt time.Time) (bool, error)
	MarkError(ctx context.Context, id, reason string) (bool, error)
	// CancelSet cancels every deliverable item of the set and returns how many changed.
	CancelSet(ctx context.Context, rootID string) (int, error)
}
