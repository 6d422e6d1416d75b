package tickets

import (
	"context"
	"time"
)

// Repository is the persistence contract for tickets and their tracking rows.
// Writes are conditional so concurrent workers never overwrite each other blindly.
type Repository interface {
	Get(ctx context.Context, id string) (Ticket, error)

	// FindActive returns the most recently updated active ticket for key.
	FindActive(ctx context.Context, companyID, key string) (Ticket, bool, error)
	// FindRecentlyClosed returns the most recently updated closed ticket for
	// key whose last update is at or after since.
	FindRecentlyClosed(ctx context.Context, companyID, key string, since time.Time) (Ticket, bool, error)

	// Create inserts t. It fails with a ConflictError when an active ticket
	// already holds t's identity key.
	Create(ctx context.Context, t Ticket) (Ticket, error)
	// Update writes t only while the stored status still equals from. A lost
	// race or an identity collision yields a ConflictError.
	Update(ctx context.Context, t Ticket, from Status) (Ticket, error)
	// Touch records inbound activity atomically.
	Touch(ctx context.Context, id, connectionID string, unreadDelta int, lastMessage string) (Ticket, error)
	Delete(ctx context.Context, id string) error

	// ListIdlePending returns pending tickets on connectionID with no
	// department whose last update is at or before idleSince.
	ListIdlePending(ctx context.Context, connectionID string, idleSince time.Time) ([]Ticket, error)
	// ListAwaitingRating returns tickets whose rating prompt was sent at or before before.
	ListAwaitingRating(ctx context.Context, before time.Time) ([]Ticket, error)

	GetTracking(ctx context.Context, ticketID string) (Tracking, error)
	SaveTracking(ctx context.Context, tr Tracking) error
}
