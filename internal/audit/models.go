package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - company_id is required for tenancy isolation.
// - actor and ip capture are best-effort; do not block critical flows on audit failures.
type Event struct {
	ID        string `json:"id" db:"id"`
	CompanyID string `json:"company_id" db:"company_id"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type"`
	// Action is the dotted operation name, e.g. "ticket.delete".
	Action string `json:"action" db:"action"`

	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`

	// IPAddress is the resolved client IP when the action came through the API.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	// TargetID is the ticket, connection or campaign acted on.
	TargetID string `json:"target_id,omitempty" db:"target_id"`

	Message string `json:"message,omitempty" db:"message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeAdminAction EventType = "admin_action"
	EventTypeCampaign    EventType = "campaign_action"
)
