package schedules

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"omnichat-platform/internal/apperr"
	"omnichat-platform/pkg/utils"

	"github.com/jmoiron/sqlx"
)

type PostgresRepo struct {
	db    *sqlx.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sqlx.DB) *PostgresRepo { return &PostgresRepo{db: db, clock: time.Now} }

const itemColumns = `id, company_id, contact_id, user_id, ticket_id, connection_id, body, send_at,
  sent_at, status, reminder_kind, parent_id, reminder_state, job_id, last_error, created_at, updated_at`

func (r *PostgresRepo) Get(ctx context.Context, id string) (Item, error) {
	var it Item
	err := r.db.GetContext(ctx, &it, `SELECT `+itemColumns+` FROM schedules WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, apperr.NotFound("schedules.Get", "item %s", id)
	}
	return it, err
}

func (r *PostgresRepo) List(ctx context.Context, companyID string, f ListFilter) ([]Item, error) {
	var (
		where = []string{"company_id = $1"}
		args  = []any{companyID}
	)
	if f.ContactID != "" {
		args = append(args, f.ContactID)
		where = append(where, "contact_id = $"+strconv.Itoa(len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	args = append(args, limit)
	q := `SELECT ` + itemColumns + ` FROM schedules WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY send_at ASC, id ASC LIMIT $` + strconv.Itoa(len(args))
	var out []Item
	if err := r.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PostgresRepo) ListSet(ctx context.Context, rootID string) ([]Item, error) {
	q := `SELECT ` + itemColumns + ` FROM schedules WHERE id = $1 OR parent_id = $1 ORDER BY send_at ASC, id ASC`
	var out []Item
	if err := r.db.SelectContext(ctx, &out, q, rootID); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PostgresRepo) ListCandidates(ctx context.Context, upTo time.Time, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 500
	}
	q := `SELECT ` + itemColumns + `
FROM schedules
WHERE status = 'PENDING' AND send_at <= $1
ORDER BY send_at ASC
LIMIT $2`
	var out []Item
	if err := r.db.SelectContext(ctx, &out, q, upTo, limit); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PostgresRepo) ListStaleQueued(ctx context.Context, before time.Time, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 500
	}
	q := `SELECT ` + itemColumns + `
FROM schedules
WHERE status = 'QUEUED' AND updated_at <= $1
ORDER BY send_at ASC
LIMIT $2`
	var out []Item
	if err := r.db.SelectContext(ctx, &out, q, before, limit); err != nil {
		return nil, err
	}
	return out, nil
}

const insertItem = `
INSERT INTO schedules (id, company_id, contact_id, user_id, ticket_id, connection_id, body, send_at,
  sent_at, status, reminder_kind, parent_id, reminder_state, job_id, last_error, created_at, updated_at)
VALUES (:id, :company_id, :contact_id, :user_id, :ticket_id, :connection_id, :body, :send_at,
  :sent_at, :status, :reminder_kind, :parent_id, :reminder_state, :job_id, :last_error, :created_at, :updated_at)`

func (r *PostgresRepo) insert(ctx context.Context, tx *sqlx.Tx, items []Item) error {
	now := r.clock().UTC()
	for _, it := range items {
		it.CreatedAt, it.UpdatedAt = now, now
		if _, err := tx.NamedExecContext(ctx, insertItem, it); err != nil {
			if utils.IsUniqueViolation(err) {
				return apperr.Conflict("schedules.insert", "item %s already exists", it.ID)
			}
			return err
		}
	}
	return nil
}

func (r *PostgresRepo) CreateSet(ctx context.Context, items []Item) error {
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sqlx.Tx) error {
		return r.insert(ctx, tx, items)
	})
}

func (r *PostgresRepo) ReplaceSet(ctx context.Context, rootID string, items []Item) error {
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sqlx.Tx) error {
		var set []struct {
			ID     string `db:"id"`
			Status Status `db:"status"`
		}
		q := `SELECT id, status FROM schedules WHERE id = $1 OR parent_id = $1 FOR UPDATE`
		if err := tx.SelectContext(ctx, &set, q, rootID); err != nil {
			return err
		}
		found := false
		for _, it := range set {
			if it.ID != rootID {
				continue
			}
			found = true
			if !it.Status.Replaceable() {
				return apperr.Conflict("schedules.ReplaceSet", "item set %s is %s", rootID, it.Status)
			}
		}
		if !found {
			return apperr.NotFound("schedules.ReplaceSet", "item %s", rootID)
		}
		// reminders first: parent_id references the root.
		if _, err := tx.ExecContext(ctx, `DELETE FROM schedules WHERE parent_id = $1`, rootID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM schedules WHERE id = $1`, rootID); err != nil {
			return err
		}
		return r.insert(ctx, tx, items)
	})
}

func (r *PostgresRepo) exec(ctx context.Context, q string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	return utils.RowsAffected(res)
}

func (r *PostgresRepo) MarkQueued(ctx context.Context, id string) (bool, error) {
	return r.exec(ctx, `UPDATE schedules SET status = 'QUEUED', updated_at = $2 WHERE id = $1 AND status = 'PENDING'`,
		id, r.clock().UTC())
}

func (r *PostgresRepo) SetJobID(ctx context.Context, id, jobID string) error {
	_, err := r.exec(ctx, `UPDATE schedules SET job_id = $2, updated_at = $3 WHERE id = $1 AND status = 'QUEUED'`,
		id, jobID, r.clock().UTC())
	return err
}

func (r *PostgresRepo) RevertPending(ctx context.Context, id string) (bool, error) {
	return r.exec(ctx, `UPDATE schedules SET status = 'PENDING', job_id = '', updated_at = $2 WHERE id = $1 AND status = 'QUEUED'`,
		id, r.clock().UTC())
}

func (r *PostgresRepo) MarkSent(ctx context.Context, id, ticketID string, sentAt time.Time) (bool, error) {
	q := `
UPDATE schedules
SET status = 'SENT', sent_at = $2, ticket_id = $3, last_error = '', updated_at = $4
WHERE id = $1 AND status IN ('PENDING','QUEUED') AND sent_at IS NULL`
	return r.exec(ctx, q, id, sentAt, ticketID, r.clock().UTC())
}

func (r *PostgresRepo) MarkError(ctx context.Context, id, reason string) (bool, error) {
	q := `UPDATE schedules SET status = 'ERROR', last_error = $2, updated_at = $3 WHERE id = $1 AND status IN ('PENDING','QUEUED')`
	return r.exec(ctx, q, id, reason, r.clock().UTC())
}

func (r *PostgresRepo) CancelSet(ctx context.Context, rootID string) (int, error) {
	q := `
UPDATE schedules SET status = 'CANCELLED', updated_at = $2
WHERE (id = $1 OR parent_id = $1) AND status IN ('PENDING','QUEUED')`
	res, err := r.db.ExecContext(ctx, q, rootID, r.clock().UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
