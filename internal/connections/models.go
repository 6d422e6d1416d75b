package connections

import (
	"time"

	"omnichat-platform/internal/apperr"
)

// Connection is one channel session (a WhatsApp number, a Facebook page, a
// webchat widget) and carries the routing configuration for tickets on it.
type Connection struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id"`
	Name      string `json:"name"`
	Channel   string `json:"channel"`
	// Token identifies the connection on webhook callbacks and at the gateway.
	Token  string `json:"token,omitempty"`
	Status string `json:"status"`

	GreetingMessage      string `json:"greeting_message,omitempty"`
	CompletionMessage    string `json:"completion_message,omitempty"`
	RatingMessage        string `json:"rating_message,omitempty"`
	OutOfHoursMessage    string `json:"out_of_hours_message,omitempty"`
	InvalidOptionMessage string `json:"invalid_option_message,omitempty"`

	QueueIDs       []string `json:"queue_ids"`
	DefaultQueueID string   `json:"default_queue_id,omitempty"`

	// TransferQueueID receives pending tickets left without a department for
	// TimeToTransfer minutes.
	TransferQueueID string `json:"transfer_queue_id,omitempty"`
	TimeToTransfer  int    `json:"time_to_transfer"`

	PromptID  string `json:"prompt_id,omitempty"`
	IsDefault bool   `json:"is_default"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TransferAfter returns the idle duration after which the timed transfer fires,
// or 0 when no timed transfer is configured.
func (c Connection) TransferAfter() time.Duration {
	if c.TimeToTransfer <= 0 || c.TransferQueueID == "" {
		return 0
	}
	return time.Duration(c.TimeToTransfer) * time.Minute
}

// Validate rejects configurations that cannot be routed. A default queue that
// is also the timed-transfer target is a ConflictError.
func Validate(c Connection) error {
	const op = "connections.Validate"
	if c.CompanyID == "" {
		return apperr.Validation(op, "company_id is required")
	}
	if c.Name == "" {
		return apperr.Validation(op, "name is required")
	}
	if c.TimeToTransfer < 0 {
		return apperr.Validation(op, "time_to_transfer must not be negative")
	}
	if c.TimeToTransfer > 0 && c.TransferQueueID == "" {
		return apperr.Validation(op, "transfer_queue_id is required when time_to_transfer is set")
	}
	if c.DefaultQueueID != "" && c.DefaultQueueID == c.TransferQueueID {
		return apperr.Conflict(op, "default queue %s cannot also be the timed transfer target", c.DefaultQueueID)
	}
	return nil
}
