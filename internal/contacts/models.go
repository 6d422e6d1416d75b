package contacts

import (
	"strings"
	"time"
)

// Contact is a person or group reachable on one channel.
// Address is the channel-specific handle (phone number, page-scoped id, chat id).
type Contact struct {
	ID        string `json:"id" db:"id"`
	CompanyID string `json:"company_id" db:"company_id"`
	Name      string `json:"name" db:"name"`
	Number    string `json:"number" db:"number"`
	Channel   string `json:"channel" db:"channel"`
	Address   string `json:"address" db:"address"`
	IsGroup   bool   `json:"is_group" db:"is_group"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// FirstName returns the first word of the contact name.
func (c Contact) FirstName() string {
	fields := strings.Fields(c.Name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Handle returns the address used by transports, preferring Address over Number.
func (c Contact) Handle() string {
	if c.Address != "" {
		return c.Address
	}
	return c.Number
}
