package reporting

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

type PostgresRepo struct {
	db *sqlx.DB
}

func NewPostgresRepo(db *sqlx.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) ListTickets(ctx context.Context, companyID string, from, to time.Time, queueID string) ([]TicketRecord, error) {
	q := `
SELECT t.id, t.company_id, t.status, t.queue_id, t.created_at,
       tr.queued_at, tr.started_at, tr.finished_at,
       COALESCE(tr.rated, false) AS rated, COALESCE(tr.rating, 0) AS rating
FROM tickets t
LEFT JOIN ticket_tracking tr ON tr.ticket_id = t.id
WHERE t.company_id = $1 AND t.created_at >= $2 AND t.created_at < $3
  AND ($4 = '' OR t.queue_id = $4)`
	var out []TicketRecord
	if err := r.db.SelectContext(ctx, &out, q, companyID, from, to, queueID); err != nil {
		return nil, err
	}
	return out, nil
}

// MemoryRepo is a simple in-memory reporting repository for tests.
// It enforces company isolation on reads.
type MemoryRepo struct {
	mu      sync.Mutex
	Tickets []TicketRecord
}

func NewMemoryRepo(records ...TicketRecord) *MemoryRepo { return &MemoryRepo{Tickets: records} }

func (r *MemoryRepo) ListTickets(ctx context.Context, companyID string, from, to time.Time, queueID string) ([]TicketRecord, error) {
	if companyID == "" {
		return nil, errors.New("company_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TicketRecord, 0)
	for _, t := range r.Tickets {
		if t.CompanyID != companyID {
			continue
		}
		if t.CreatedAt.Before(from) || !t.CreatedAt.Before(to) {
			continue
		}
		if queueID != "" && t.QueueID != queueID {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}
