package tickets

import "time"

// Tracking is the per-ticket timing ledger for the current lifecycle.
type Tracking struct {
	TicketID  string `json:"ticket_id" db:"ticket_id"`
	CompanyID string `json:"company_id" db:"company_id"`
	UserID    string `json:"user_id,omitempty" db:"user_id"`

	QueuedAt   *time.Time `json:"queued_at,omitempty" db:"queued_at"`
	StartedAt  *time.Time `json:"started_at,omitempty" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	RatingAt   *time.Time `json:"rating_at,omitempty" db:"rating_at"`
	ChatbotAt  *time.Time `json:"chatbot_at,omitempty" db:"chatbot_at"`

	Rated  bool `json:"rated" db:"rated"`
	Rating int  `json:"rating,omitempty" db:"rating"`
}

// BotCoolingDown reports whether the department bot must stay quiet: it
// engaged less than cooldown ago and has been used on this ticket before.
func (tr Tracking) BotCoolingDown(now time.Time, cooldown time.Duration, botUseCount int) bool {
	if tr.ChatbotAt == nil || botUseCount == 0 || cooldown <= 0 {
		return false
	}
	return now.Before(tr.ChatbotAt.Add(cooldown))
}

// reset starts a new lifecycle, keeping the identity fields.
func (tr Tracking) reset() Tracking {
	return Tracking{TicketID: tr.TicketID, CompanyID: tr.CompanyID}
}

func timePtr(t time.Time) *time.Time { return &t }
