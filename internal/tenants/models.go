package tenants

import (
	"time"

	"omnichat-platform/internal/apperr"
)

// Company is the tenant. All wall-clock decisions (business hours, scheduled
// sends, greetings) are taken in its timezone.
type Company struct {
	ID       string `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	Timezone string `json:"timezone" db:"timezone"`
	// Zero means the process default applies.
	BotCooldownSeconds   int `json:"bot_cooldown_seconds" db:"bot_cooldown_seconds"`
	RatingTimeoutSeconds int `json:"rating_timeout_seconds" db:"rating_timeout_seconds"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// BotCooldown returns the company's department bot cooldown, or fallback.
func (c Company) BotCooldown(fallback time.Duration) time.Duration {
	if c.BotCooldownSeconds > 0 {
		return time.Duration(c.BotCooldownSeconds) * time.Second
	}
	return fallback
}

// RatingTimeout returns how long a rating prompt may go unanswered, or fallback.
func (c Company) RatingTimeout(fallback time.Duration) time.Duration {
	if c.RatingTimeoutSeconds > 0 {
		return time.Duration(c.RatingTimeoutSeconds) * time.Second
	}
	return fallback
}

// Location resolves the company timezone, falling back to UTC when it is
// empty or unknown to the tz database. Companies are validated on save, so
// an unknown zone here means the row was edited by hand.
func (c Company) Location() *time.Location {
	return LoadLocation(c.Timezone)
}

func LoadLocation(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate rejects companies whose settings would silently misbehave.
func Validate(c Company) error {
	const op = "tenants.Validate"
	if c.ID == "" {
		return apperr.Validation(op, "id is required")
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return apperr.Validation(op, "unknown timezone %q", c.Timezone)
		}
	}
	if c.BotCooldownSeconds < 0 || c.RatingTimeoutSeconds < 0 {
		return apperr.Validation(op, "durations must not be negative")
	}
	return nil
}
