package schedules

import (
	"time"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusQueued    Status = "QUEUED"
	StatusSent      Status = "SENT"
	StatusError     Status = "ERROR"
	StatusCancelled Status = "CANCELLED"
)

// Deliverable reports whether an item in this status may still be sent.
func (s Status) Deliverable() bool { return s == StatusPending || s == StatusQueued }

// Replaceable reports whether a set whose root is in this status may be
// rescheduled. Failed items and sets with an already-sent reminder qualify.
func (s Status) Replaceable() bool { return s != StatusSent && s != StatusCancelled }

type ReminderKind string

const (
	KindNone      ReminderKind = "none"
	KindImmediate ReminderKind = "immediate"
	KindReminder  ReminderKind = "reminder"
	KindStart     ReminderKind = "start"
)

func (k ReminderKind) valid() bool {
	switch k {
	case KindNone, KindImmediate, KindReminder, KindStart:
		return true
	}
	return false
}

// Reminder state of a start item.
const (
	ReminderArmed   = "armed"
	ReminderSkipped = "skipped"
)

// ReminderLead is how long before a start item its reminder fires.
const ReminderLead = 10 * time.Minute

// Item is a message to be sent at a future instant.
//
// SendAt is a wall-clock time in the owning company's timezone. It carries no
// zone of its own (stored as a naive timestamp, held in Go with time.UTC).
type Item struct {
	ID           string       `json:"id" db:"id"`
	CompanyID    string       `json:"company_id" db:"company_id"`
	ContactID    string       `json:"contact_id" db:"contact_id"`
	UserID       string       `json:"user_id,omitempty" db:"user_id"`
	TicketID     string       `json:"ticket_id,omitempty" db:"ticket_id"`
	ConnectionID string       `json:"connection_id,omitempty" db:"connection_id"`
	Body         string       `json:"body" db:"body"`
	SendAt       time.Time    `json:"send_at" db:"send_at"`
	SentAt       *time.Time   `json:"sent_at,omitempty" db:"sent_at"`
	Status       Status       `json:"status" db:"status"`
	ReminderKind ReminderKind `json:"reminder_kind" db:"reminder_kind"`
	// ParentID links a reminder to its start item. Empty on root items.
	ParentID      string `json:"parent_id,omitempty" db:"parent_id"`
	ReminderState string `json:"reminder_state,omitempty" db:"reminder_state"`
	JobID         string `json:"job_id,omitempty" db:"job_id"`
	LastError     string `json:"last_error,omitempty" db:"last_error"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// RootID is the id shared by every item of a reminder set.
func (it Item) RootID() string {
	if it.ParentID != "" {
		return it.ParentID
	}
	return it.ID
}

// WallClock returns t as observed in loc, re-tagged as a zoneless wall time
// comparable with Item.SendAt.
func WallClock(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), l.Hour(), l.Minute(), l.Second(), l.Nanosecond(), time.UTC)
}

// Due reports whether it is due at nowLocal (a WallClock value). An item due
// exactly now is due.
func (it Item) Due(nowLocal time.Time) bool {
	return !it.SendAt.After(nowLocal)
}

type ListFilter struct {
	ContactID string
	Status    Status
	Limit     int
}
