package tickets

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"omnichat-platform/internal/apperr"
	"omnichat-platform/pkg/utils"

	"github.com/jmoiron/sqlx"
)

// NOTE: identity uniqueness is enforced by a partial unique index:
// UNIQUE (identity_key) WHERE status IN ('open','pending','group')

type ticketRow struct {
	ID             string      `db:"id"`
	CompanyID      string      `db:"company_id"`
	ContactID      string      `db:"contact_id"`
	Channel        string      `db:"channel"`
	ConnectionID   string      `db:"connection_id"`
	IdentityKey    string      `db:"identity_key"`
	Status         string      `db:"status"`
	RoutingKind    RoutingKind `db:"routing_kind"`
	QueueID        string      `db:"queue_id"`
	UserID         string      `db:"user_id"`
	PromptID       string      `db:"prompt_id"`
	UnreadCount    int         `db:"unread_count"`
	LastMessage    string      `db:"last_message"`
	IsGroup        bool        `db:"is_group"`
	BotUseCount    int         `db:"bot_use_count"`
	AwaitingRating bool        `db:"awaiting_rating"`
	CreatedAt      time.Time   `db:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at"`
}

func (r ticketRow) toModel() (Ticket, error) {
	rs, err := DecodeRouting(r.RoutingKind, r.QueueID, r.UserID, r.PromptID)
	if err != nil {
		return Ticket{}, err
	}
	return Ticket{
		ID:             r.ID,
		CompanyID:      r.CompanyID,
		ContactID:      r.ContactID,
		Channel:        Channel(r.Channel),
		ConnectionID:   r.ConnectionID,
		Status:         Status(r.Status),
		Routing:        rs,
		UnreadCount:    r.UnreadCount,
		LastMessage:    r.LastMessage,
		IsGroup:        r.IsGroup,
		BotUseCount:    r.BotUseCount,
		AwaitingRating: r.AwaitingRating,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}, nil
}

func toModels(rows []ticketRow) ([]Ticket, error) {
	out := make([]Ticket, 0, len(rows))
	for _, r := range rows {
		t, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

const ticketColumns = `id, company_id, contact_id, channel, connection_id, identity_key, status,
  routing_kind, queue_id, user_id, prompt_id, unread_count, last_message, is_group,
  bot_use_count, awaiting_rating, created_at, updated_at`

type PostgresRepo struct {
	db    *sqlx.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sqlx.DB) *PostgresRepo { return &PostgresRepo{db: db, clock: time.Now} }

func (r *PostgresRepo) getOne(ctx context.Context, q string, args ...any) (Ticket, bool, error) {
	var row ticketRow
	if err := r.db.GetContext(ctx, &row, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Ticket{}, false, nil
		}
		return Ticket{}, false, err
	}
	t, err := row.toModel()
	return t, err == nil, err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Ticket, error) {
	t, ok, err := r.getOne(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id)
	if err != nil {
		return Ticket{}, err
	}
	if !ok {
		return Ticket{}, apperr.NotFound("tickets.Get", "ticket %s", id)
	}
	return t, nil
}

func (r *PostgresRepo) FindActive(ctx context.Context, companyID, key string) (Ticket, bool, error) {
	q := `SELECT ` + ticketColumns + `
FROM tickets
WHERE company_id = $1 AND identity_key = $2 AND status IN ('open','pending','group')
ORDER BY updated_at DESC
LIMIT 1`
	return r.getOne(ctx, q, companyID, key)
}

func (r *PostgresRepo) FindRecentlyClosed(ctx context.Context, companyID, key string, since time.Time) (Ticket, bool, error) {
	q := `SELECT ` + ticketColumns + `
FROM tickets
WHERE company_id = $1 AND identity_key = $2 AND status = 'closed' AND updated_at >= $3
ORDER BY updated_at DESC
LIMIT 1`
	return r.getOne(ctx, q, companyID, key, since)
}

func (r *PostgresRepo) Create(ctx context.Context, t Ticket) (Ticket, error) {
	kind, queueID, userID, promptID := EncodeRouting(t.Routing)
	now := r.clock().UTC()
	q := `
INSERT INTO tickets (
  id, company_id, contact_id, channel, connection_id, identity_key, status,
  routing_kind, queue_id, user_id, prompt_id, unread_count, last_message, is_group,
  bot_use_count, awaiting_rating, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$17
)
RETURNING ` + ticketColumns
	var row ticketRow
	err := r.db.GetContext(ctx, &row, q,
		t.ID,
		t.CompanyID,
		t.ContactID,
		string(t.Channel),
		t.ConnectionID,
		t.IdentityKey(),
		string(t.Status),
		kind,
		queueID,
		userID,
		promptID,
		t.UnreadCount,
		t.LastMessage,
		t.IsGroup,
		t.BotUseCount,
		t.AwaitingRating,
		now,
	)
	if err != nil {
		if utils.IsUniqueViolation(err) {
			return Ticket{}, apperr.Conflict("tickets.Create", "active ticket already exists for %s", t.IdentityKey())
		}
		return Ticket{}, err
	}
	return row.toModel()
}

func (r *PostgresRepo) Update(ctx context.Context, t Ticket, from Status) (Ticket, error) {
	kind, queueID, userID, promptID := EncodeRouting(t.Routing)
	q := `
UPDATE tickets SET
  connection_id = $2, identity_key = $3, status = $4, routing_kind = $5,
  queue_id = $6, user_id = $7, prompt_id = $8, unread_count = $9, last_message = $10,
  bot_use_count = $11, awaiting_rating = $12, updated_at = $13
WHERE id = $1 AND status = $14
RETURNING ` + ticketColumns
	var row ticketRow
	err := r.db.GetContext(ctx, &row, q,
		t.ID,
		t.ConnectionID,
		t.IdentityKey(),
		string(t.Status),
		kind,
		queueID,
		userID,
		promptID,
		t.UnreadCount,
		t.LastMessage,
		t.BotUseCount,
		t.AwaitingRating,
		r.clock().UTC(),
		string(from),
	)
	if err != nil {
		if utils.IsUniqueViolation(err) {
			return Ticket{}, apperr.Conflict("tickets.Update", "active ticket already exists for %s", t.IdentityKey())
		}
		if errors.Is(err, sql.ErrNoRows) {
			if _, gerr := r.Get(ctx, t.ID); gerr != nil {
				return Ticket{}, gerr
			}
			return Ticket{}, apperr.Conflict("tickets.Update", "ticket %s is no longer %s", t.ID, from)
		}
		return Ticket{}, err
	}
	return row.toModel()
}

func (r *PostgresRepo) Touch(ctx context.Context, id, connectionID string, unreadDelta int, lastMessage string) (Ticket, error) {
	q := `
UPDATE tickets SET
  connection_id = COALESCE(NULLIF($2, ''), connection_id),
  unread_count = unread_count + $3,
  last_message = COALESCE(NULLIF($4, ''), last_message),
  updated_at = $5
WHERE id = $1
RETURNING ` + ticketColumns
	t, ok, err := r.getOne(ctx, q, id, connectionID, unreadDelta, lastMessage, r.clock().UTC())
	if err != nil {
		return Ticket{}, err
	}
	if !ok {
		return Ticket{}, apperr.NotFound("tickets.Touch", "ticket %s", id)
	}
	return t, nil
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM ticket_tracking WHERE ticket_id = $1`, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM tickets WHERE id = $1`, id)
		if err != nil {
			return err
		}
		ok, err := utils.RowsAffected(res)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.NotFound("tickets.Delete", "ticket %s", id)
		}
		return nil
	})
}

func (r *PostgresRepo) ListIdlePending(ctx context.Context, connectionID string, idleSince time.Time) ([]Ticket, error) {
	q := `SELECT ` + ticketColumns + `
FROM tickets
WHERE connection_id = $1 AND status = 'pending' AND queue_id = '' AND updated_at <= $2
ORDER BY updated_at ASC
LIMIT 500`
	var rows []ticketRow
	if err := r.db.SelectContext(ctx, &rows, q, connectionID, idleSince); err != nil {
		return nil, err
	}
	return toModels(rows)
}

func (r *PostgresRepo) ListAwaitingRating(ctx context.Context, before time.Time) ([]Ticket, error) {
	const q = `
SELECT t.id, t.company_id, t.contact_id, t.channel, t.connection_id, t.identity_key, t.status,
  t.routing_kind, t.queue_id, t.user_id, t.prompt_id, t.unread_count, t.last_message, t.is_group,
  t.bot_use_count, t.awaiting_rating, t.created_at, t.updated_at
FROM tickets t
JOIN ticket_tracking tr ON tr.ticket_id = t.id
WHERE t.awaiting_rating AND tr.rating_at <= $1
ORDER BY tr.rating_at ASC
LIMIT 500
`
	var rows []ticketRow
	if err := r.db.SelectContext(ctx, &rows, q, before); err != nil {
		return nil, err
	}
	return toModels(rows)
}

func (r *PostgresRepo) GetTracking(ctx context.Context, ticketID string) (Tracking, error) {
	const q = `
SELECT ticket_id, company_id, user_id, queued_at, started_at, finished_at, rating_at, chatbot_at, rated, rating
FROM ticket_tracking
WHERE ticket_id = $1
`
	var tr Tracking
	err := r.db.GetContext(ctx, &tr, q, ticketID)
	if err == nil {
		return tr, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Tracking{}, err
	}
	t, err := r.Get(ctx, ticketID)
	if err != nil {
		return Tracking{}, err
	}
	return Tracking{TicketID: ticketID, CompanyID: t.CompanyID}, nil
}

func (r *PostgresRepo) SaveTracking(ctx context.Context, tr Tracking) error {
	const q = `
INSERT INTO ticket_tracking (
  ticket_id, company_id, user_id, queued_at, started_at, finished_at, rating_at, chatbot_at, rated, rating
) VALUES (
  :ticket_id, :company_id, :user_id, :queued_at, :started_at, :finished_at, :rating_at, :chatbot_at, :rated, :rating
)
ON CONFLICT (ticket_id) DO UPDATE SET
  user_id = EXCLUDED.user_id,
  queued_at = EXCLUDED.queued_at,
  started_at = EXCLUDED.started_at,
  finished_at = EXCLUDED.finished_at,
  rating_at = EXCLUDED.rating_at,
  chatbot_at = EXCLUDED.chatbot_at,
  rated = EXCLUDED.rated,
  rating = EXCLUDED.rating
`
	_, err := r.db.NamedExecContext(ctx, q, tr)
	return err
}
