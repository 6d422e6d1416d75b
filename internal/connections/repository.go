package connections

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"omnichat-platform/internal/apperr"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type Repository interface {
	Get(ctx context.Context, id string) (Connection, error)
	GetByToken(ctx context.Context, token string) (Connection, error)
	// ListTimedTransfers returns connections with a timed transfer configured.
	ListTimedTransfers(ctx context.Context) ([]Connection, error)
	Update(ctx context.Context, c Connection) (Connection, error)
}

type connectionRow struct {
	ID                   string         `db:"id"`
	CompanyID            string         `db:"company_id"`
	Name                 string         `db:"name"`
	Channel              string         `db:"channel"`
	Token                string         `db:"token"`
	Status               string         `db:"status"`
	GreetingMessage      string         `db:"greeting_message"`
	CompletionMessage    string         `db:"completion_message"`
	RatingMessage        string         `db:"rating_message"`
	OutOfHoursMessage    string         `db:"out_of_hours_message"`
	InvalidOptionMessage string         `db:"invalid_option_message"`
	QueueIDs             pq.StringArray `db:"queue_ids"`
	DefaultQueueID       string         `db:"default_queue_id"`
	TransferQueueID      string         `db:"transfer_queue_id"`
	TimeToTransfer       int            `db:"time_to_transfer"`
	PromptID             string         `db:"prompt_id"`
	IsDefault            bool           `db:"is_default"`
	CreatedAt            time.Time      `db:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at"`
}

func (r connectionRow) toModel() Connection {
	return Connection{
		ID:                   r.ID,
		CompanyID:            r.CompanyID,
		Name:                 r.Name,
		Channel:              r.Channel,
		Token:                r.Token,
		Status:               r.Status,
		GreetingMessage:      r.GreetingMessage,
		CompletionMessage:    r.CompletionMessage,
		RatingMessage:        r.RatingMessage,
		OutOfHoursMessage:    r.OutOfHoursMessage,
		InvalidOptionMessage: r.InvalidOptionMessage,
		QueueIDs:             []string(r.QueueIDs),
		DefaultQueueID:       r.DefaultQueueID,
		TransferQueueID:      r.TransferQueueID,
		TimeToTransfer:       r.TimeToTransfer,
		PromptID:             r.PromptID,
		IsDefault:            r.IsDefault,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}

const connectionColumns = `id, company_id, name, channel, token, status,
  greeting_message, completion_message, rating_message, out_of_hours_message, invalid_option_message,
  queue_ids, default_queue_id, transfer_queue_id, time_to_transfer, prompt_id, is_default,
  created_at, updated_at`

type PostgresRepo struct {
	db    *sqlx.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sqlx.DB) *PostgresRepo { return &PostgresRepo{db: db, clock: time.Now} }

func (r *PostgresRepo) get(ctx context.Context, where string, arg any) (Connection, error) {
	q := `SELECT ` + connectionColumns + ` FROM connections WHERE ` + where
	var row connectionRow
	if err := r.db.GetContext(ctx, &row, q, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Connection{}, apperr.NotFound("connections.Get", "connection not found")
		}
		return Connection{}, err
	}
	return row.toModel(), nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Connection, error) {
	return r.get(ctx, "id = $1", id)
}

func (r *PostgresRepo) GetByToken(ctx context.Context, token string) (Connection, error) {
	return r.get(ctx, "token = $1", token)
}

func (r *PostgresRepo) ListTimedTransfers(ctx context.Context) ([]Connection, error) {
	q := `SELECT ` + connectionColumns + `
FROM connections
WHERE time_to_transfer > 0 AND transfer_queue_id <> ''
ORDER BY company_id, id`
	var rows []connectionRow
	if err := r.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, err
	}
	out := make([]Connection, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

func (r *PostgresRepo) Update(ctx context.Context, c Connection) (Connection, error) {
	q := `
UPDATE connections SET
  name = $2, greeting_message = $3, completion_message = $4, rating_message = $5,
  out_of_hours_message = $6, invalid_option_message = $7, queue_ids = $8,
  default_queue_id = $9, transfer_queue_id = $10, time_to_transfer = $11,
  prompt_id = $12, is_default = $13, updated_at = $14
WHERE id = $1 AND company_id = $15
RETURNING ` + connectionColumns
	var row connectionRow
	err := r.db.GetContext(ctx, &row, q,
		c.ID,
		c.Name,
		c.GreetingMessage,
		c.CompletionMessage,
		c.RatingMessage,
		c.OutOfHoursMessage,
		c.InvalidOptionMessage,
		pq.Array(c.QueueIDs),
		c.DefaultQueueID,
		c.TransferQueueID,
		c.TimeToTransfer,
		c.PromptID,
		c.IsDefault,
		r.clock().UTC(),
		c.CompanyID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Connection{}, apperr.NotFound("connections.Update", "connection %s", c.ID)
		}
		return Connection{}, err
	}
	return row.toModel(), nil
}

// MemoryRepo is an in-memory repository useful for tests.
type MemoryRepo struct {
	mu    sync.Mutex
	conns map[string]Connection
}

func NewMemoryRepo(conns ...Connection) *MemoryRepo {
	r := &MemoryRepo{conns: map[string]Connection{}}
	for _, c := range conns {
		r.conns[c.ID] = c
	}
	return r
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return Connection{}, apperr.NotFound("connections.Get", "connection %s", id)
	}
	return c, nil
}

func (r *MemoryRepo) GetByToken(ctx context.Context, token string) (Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conns {
		if token != "" && c.Token == token {
			return c, nil
		}
	}
	return Connection{}, apperr.NotFound("connections.GetByToken", "connection not found")
}

func (r *MemoryRepo) ListTimedTransfers(ctx context.Context) ([]Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Connection
	for _, c := range r.conns {
		if c.TransferAfter() > 0 {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *MemoryRepo) Update(ctx context.Context, c Connection) (Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.conns[c.ID]
	if !ok || existing.CompanyID != c.CompanyID {
		return Connection{}, apperr.NotFound("connections.Update", "connection %s", c.ID)
	}
	c.Token = existing.Token
	c.Channel = existing.Channel
	c.Status = existing.Status
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = time.Now().UTC()
	r.conns[c.ID] = c
	return c, nil
}
