package campaigns

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"omnichat-platform/internal/apperr"
	"omnichat-platform/pkg/utils"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// NOTE: shipping uniqueness is enforced by UNIQUE (campaign_id, contact_id).

type PostgresRepo struct {
	db    *sqlx.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sqlx.DB) *PostgresRepo { return &PostgresRepo{db: db, clock: time.Now} }

const campaignColumns = `id, company_id, name, status, scheduled_at, connection_id, contact_list_id,
  messages, confirmation_messages, confirmation, completed_at, created_at, updated_at`

const shippingColumns = `id, campaign_id, contact_id, list_item_id, message, confirmation_message, job_id,
  scheduled_for, confirmation_requested_at, confirmed_at, delivered_at, last_error, created_at, updated_at`

func (r *PostgresRepo) GetCampaign(ctx context.Context, id string) (Campaign, error) {
	var c Campaign
	err := r.db.GetContext(ctx, &c, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Campaign{}, apperr.NotFound("campaigns.GetCampaign", "campaign %s", id)
	}
	return c, err
}

func (r *PostgresRepo) ListDue(ctx context.Context, before time.Time) ([]Campaign, error) {
	q := `SELECT ` + campaignColumns + `
FROM campaigns
WHERE status = 'scheduled' AND scheduled_at <= $1
ORDER BY scheduled_at ASC
LIMIT 100`
	var out []Campaign
	if err := r.db.SelectContext(ctx, &out, q, before); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PostgresRepo) SetStatus(ctx context.Context, id string, from []Status, to Status) (bool, error) {
	fromStr := make([]string, len(from))
	for i, s := range from {
		fromStr[i] = string(s)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE campaigns SET status = $2, updated_at = $3 WHERE id = $1 AND status = ANY($4)`,
		id, string(to), r.clock().UTC(), pq.Array(fromStr))
	if err != nil {
		return false, err
	}
	ok, err := utils.RowsAffected(res)
	if err != nil || ok {
		return ok, err
	}
	if _, err := r.GetCampaign(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *PostgresRepo) MarkFinished(ctx context.Context, id string, at time.Time) (bool, error) {
	return r.exec(ctx,
		`UPDATE campaigns SET status = 'finished', completed_at = $2, updated_at = $3 WHERE id = $1 AND status = 'processing'`,
		id, at, r.clock().UTC())
}

func (r *PostgresRepo) ListItems(ctx context.Context, listID string) ([]ContactListItem, error) {
	q := `
SELECT id, list_id, company_id, contact_id, name, number, variables
FROM contact_list_items
WHERE list_id = $1
ORDER BY position ASC, id ASC`
	var out []ContactListItem
	if err := r.db.SelectContext(ctx, &out, q, listID); err != nil {
		return nil, err
	}
	return out, nil
}

type settingsRow struct {
	CompanyID           string    `db:"company_id"`
	MessageInterval     int       `db:"message_interval_seconds"`
	LongerIntervalAfter int       `db:"longer_interval_after"`
	GreaterInterval     int       `db:"greater_interval_seconds"`
	Variables           Variables `db:"variables"`
}

func (r *PostgresRepo) GetSettings(ctx context.Context, companyID string) (Settings, error) {
	q := `
SELECT company_id, message_interval_seconds, longer_interval_after, greater_interval_seconds, variables
FROM campaign_settings WHERE company_id = $1`
	var row settingsRow
	if err := r.db.GetContext(ctx, &row, q, companyID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DefaultSettings(companyID), nil
		}
		return Settings{}, err
	}
	return Settings{
		CompanyID:           row.CompanyID,
		MessageInterval:     time.Duration(row.MessageInterval) * time.Second,
		LongerIntervalAfter: row.LongerIntervalAfter,
		GreaterInterval:     time.Duration(row.GreaterInterval) * time.Second,
		Variables:           row.Variables,
	}, nil
}

func (r *PostgresRepo) FindOrCreateShipping(ctx context.Context, s Shipping) (Shipping, bool, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := r.clock().UTC()
	q := `
INSERT INTO campaign_shippings (id, campaign_id, contact_id, list_item_id, message, confirmation_message,
  job_id, last_error, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,'','',$7,$7)
ON CONFLICT (campaign_id, contact_id) DO NOTHING
RETURNING ` + shippingColumns
	var out Shipping
	err := r.db.GetContext(ctx, &out, q, s.ID, s.CampaignID, s.ContactID, s.ListItemID, s.Message, s.ConfirmationMessage, now)
	if err == nil {
		return out, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Shipping{}, false, err
	}
	// lost the insert: another worker (or an earlier run) owns the row
	q = `SELECT ` + shippingColumns + ` FROM campaign_shippings WHERE campaign_id = $1 AND contact_id = $2`
	if err := r.db.GetContext(ctx, &out, q, s.CampaignID, s.ContactID); err != nil {
		return Shipping{}, false, err
	}
	return out, false, nil
}

func (r *PostgresRepo) GetShipping(ctx context.Context, id string) (Shipping, error) {
	var s Shipping
	err := r.db.GetContext(ctx, &s, `SELECT `+shippingColumns+` FROM campaign_shippings WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Shipping{}, apperr.NotFound("campaigns.GetShipping", "shipping %s", id)
	}
	return s, err
}

func (r *PostgresRepo) ListShippings(ctx context.Context, campaignID string) ([]Shipping, error) {
	var out []Shipping
	q := `SELECT ` + shippingColumns + ` FROM campaign_shippings WHERE campaign_id = $1 ORDER BY contact_id`
	if err := r.db.SelectContext(ctx, &out, q, campaignID); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PostgresRepo) exec(ctx context.Context, q string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	return utils.RowsAffected(res)
}

func (r *PostgresRepo) SetShippingJob(ctx context.Context, id, jobID string, scheduledFor time.Time) error {
	_, err := r.exec(ctx,
		`UPDATE campaign_shippings SET job_id = $2, scheduled_for = $3, updated_at = $4 WHERE id = $1`,
		id, jobID, scheduledFor, r.clock().UTC())
	return err
}

func (r *PostgresRepo) MarkConfirmationRequested(ctx context.Context, id string, at time.Time) (bool, error) {
	return r.exec(ctx, `
UPDATE campaign_shippings SET confirmation_requested_at = $2, updated_at = $3
WHERE id = $1 AND confirmation_requested_at IS NULL AND delivered_at IS NULL`,
		id, at, r.clock().UTC())
}

func (r *PostgresRepo) MarkConfirmed(ctx context.Context, id string, at time.Time) (bool, error) {
	return r.exec(ctx, `
UPDATE campaign_shippings SET confirmed_at = $2, updated_at = $3
WHERE id = $1 AND confirmed_at IS NULL AND confirmation_requested_at IS NOT NULL`,
		id, at, r.clock().UTC())
}

func (r *PostgresRepo) MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error) {
	return r.exec(ctx, `
UPDATE campaign_shippings SET delivered_at = $2, last_error = '', updated_at = $3
WHERE id = $1 AND delivered_at IS NULL`,
		id, at, r.clock().UTC())
}

func (r *PostgresRepo) MarkShippingError(ctx context.Context, id, reason string) error {
	_, err := r.exec(ctx, `UPDATE campaign_shippings SET last_error = $2, updated_at = $3 WHERE id = $1`,
		id, reason, r.clock().UTC())
	return err
}

func (r *PostgresRepo) CountUndelivered(ctx context.Context, campaignID, listID string) (int, error) {
	q := `
SELECT count(*)
FROM contact_list_items i
LEFT JOIN campaign_shippings s
  ON s.campaign_id = $1 AND s.contact_id = i.contact_id AND s.delivered_at IS NOT NULL
WHERE i.list_id = $2 AND s.id IS NULL`
	var n int
	if err := r.db.GetContext(ctx, &n, q, campaignID, listID); err != nil {
		return 0, err
	}
	return n, nil
}
