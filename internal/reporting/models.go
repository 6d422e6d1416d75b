package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r TimeRange) valid() bool {
	return !r.From.IsZero() && !r.To.IsZero() && r.To.After(r.From)
}

// TicketRecord is a ticket joined with its tracking ledger.
type TicketRecord struct {
	ID         string     `db:"id"`
	CompanyID  string     `db:"company_id"`
	Status     string     `db:"status"`
	QueueID    string     `db:"queue_id"`
	CreatedAt  time.Time  `db:"created_at"`
	QueuedAt   *time.Time `db:"queued_at"`
	StartedAt  *time.Time `db:"started_at"`
	FinishedAt *time.Time `db:"finished_at"`
	Rated      bool       `db:"rated"`
	Rating     int        `db:"rating"`
}

// TicketsSummaryRequest requests ticket metrics for tickets created in Range.
type TicketsSummaryRequest struct {
	CompanyID string    `json:"company_id"`
	Range     TimeRange `json:"range"`
	QueueID   string    `json:"queue_id,omitempty"`
}

type TicketsSummary struct {
	CompanyID string `json:"company_id"`
	QueueID   string `json:"queue_id,omitempty"`

	Total   int `json:"total"`
	Pending int `json:"pending"`
	Open    int `json:"open"`
	Closed  int `json:"closed"`
	Group   int `json:"group"`

	// AverageWaitSeconds is queued -> accepted, over tickets that were accepted.
	AverageWaitSeconds int `json:"average_wait_seconds"`
	// AverageHandleSeconds is accepted -> finished, over finished tickets.
	AverageHandleSeconds int `json:"average_handle_seconds"`

	Rated         int     `json:"rated"`
	AverageRating float64 `json:"average_rating"`
}

// CampaignReport is the delivery progress of one campaign.
type CampaignReport struct {
	CompanyID  string `json:"company_id"`
	CampaignID string `json:"campaign_id"`
	Status     string `json:"status"`

	Recipients           int `json:"recipients"`
	Queued               int `json:"queued"`
	AwaitingConfirmation int `json:"awaiting_confirmation"`
	Confirmed            int `json:"confirmed"`
	Delivered            int `json:"delivered"`
	Failed               int `json:"failed"`

	// Progress is Delivered / Recipients.
	Progress float64 `json:"progress"`
}
