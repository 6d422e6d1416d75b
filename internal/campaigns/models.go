package campaigns

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"
)

type Status string

const (
	StatusInactive   Status = "inactive"
	StatusScheduled  Status = "scheduled"
	StatusProcessing Status = "processing"
	StatusCancelled  Status = "cancelled"
	StatusFinished   Status = "finished"
)

// MaxVariants bounds Messages and ConfirmationMessages.
const MaxVariants = 5

type Campaign struct {
	ID            string    `json:"id" db:"id"`
	CompanyID     string    `json:"company_id" db:"company_id"`
	Name          string    `json:"name" db:"name"`
	Status        Status    `json:"status" db:"status"`
	ScheduledAt   time.Time `json:"scheduled_at" db:"scheduled_at"`
	ConnectionID  string    `json:"connection_id" db:"connection_id"`
	ContactListID string    `json:"contact_list_id" db:"contact_list_id"`

	Messages             pq.StringArray `json:"messages" db:"messages"`
	ConfirmationMessages pq.StringArray `json:"confirmation_messages" db:"confirmation_messages"`
	// Confirmation sends a confirmation variant first and delivers the message
	// only after the contact confirms.
	Confirmation bool       `json:"confirmation" db:"confirmation"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Variants returns the non-blank message templates, at most MaxVariants.
func (c Campaign) Variants() []string { return nonBlank(c.Messages) }

func (c Campaign) ConfirmationVariants() []string { return nonBlank(c.ConfirmationMessages) }

// NeedsConfirmation reports whether shipments wait for a confirmation reply.
func (c Campaign) NeedsConfirmation() bool {
	return c.Confirmation && len(c.ConfirmationVariants()) > 0
}

func nonBlank(in []string) []string {
	var out []string
	for _, m := range in {
		if strings.TrimSpace(m) != "" {
			out = append(out, m)
		}
		if len(out) == MaxVariants {
			break
		}
	}
	return out
}

// ContactListItem is one recipient of a contact list.
type ContactListItem struct {
	ID        string    `json:"id" db:"id"`
	ListID    string    `json:"list_id" db:"list_id"`
	CompanyID string    `json:"company_id" db:"company_id"`
	ContactID string    `json:"contact_id" db:"contact_id"`
	Name      string    `json:"name" db:"name"`
	Number    string    `json:"number" db:"number"`
	Variables Variables `json:"variables" db:"variables"`
}

// Shipping is the per-contact delivery record of a campaign. There is at most
// one per (CampaignID, ContactID).
type Shipping struct {
	ID                      string     `json:"id" db:"id"`
	CampaignID              string     `json:"campaign_id" db:"campaign_id"`
	ContactID               string     `json:"contact_id" db:"contact_id"`
	ListItemID              string     `json:"list_item_id" db:"list_item_id"`
	Message                 string     `json:"message" db:"message"`
	ConfirmationMessage     string     `json:"confirmation_message,omitempty" db:"confirmation_message"`
	JobID                   string     `json:"job_id,omitempty" db:"job_id"`
	ScheduledFor            *time.Time `json:"scheduled_for,omitempty" db:"scheduled_for"`
	ConfirmationRequestedAt *time.Time `json:"confirmation_requested_at,omitempty" db:"confirmation_requested_at"`
	ConfirmedAt             *time.Time `json:"confirmed_at,omitempty" db:"confirmed_at"`
	DeliveredAt             *time.Time `json:"delivered_at,omitempty" db:"delivered_at"`
	LastError               string     `json:"last_error,omitempty" db:"last_error"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Settings are the per-company dispatch parameters.
type Settings struct {
	CompanyID       string
	MessageInterval time.Duration
	// LongerIntervalAfter is the recipient index after which GreaterInterval
	// replaces MessageInterval as the flat spacing. 0 disables it.
	LongerIntervalAfter int
	GreaterInterval     time.Duration
	Variables           Variables
}

func DefaultSettings(companyID string) Settings {
	return Settings{
		CompanyID:           companyID,
		MessageInterval:     20 * time.Second,
		LongerIntervalAfter: 20,
		GreaterInterval:     60 * time.Second,
	}
}

// Variables are free-form template placeholders.
type Variables map[string]string

func (v Variables) Value() (driver.Value, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (v *Variables) Scan(src any) error {
	var raw []byte
	switch s := src.(type) {
	case nil:
		return nil
	case []byte:
		raw = s
	case string:
		raw = []byte(s)
	default:
		return errors.New("campaigns: unsupported variables source")
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}
