package queues

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"

	"omnichat-platform/internal/apperr"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type Repository interface {
	Get(ctx context.Context, id string) (Queue, error)
	// ListByIDs returns the queues in the order of ids, skipping unknown ids.
	ListByIDs(ctx context.Context, ids []string) ([]Queue, error)
	ListKeywordRules(ctx context.Context, companyID string) ([]KeywordRule, error)
}

const queueColumns = `id, company_id, name, greeting, out_of_hours_message, prompt_id, options, schedule, holidays, created_at, updated_at`

type PostgresRepo struct {
	db *sqlx.DB
}

func NewPostgresRepo(db *sqlx.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Get(ctx context.Context, id string) (Queue, error) {
	q := `SELECT ` + queueColumns + ` FROM queues WHERE id = $1`
	var out Queue
	if err := r.db.GetContext(ctx, &out, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Queue{}, apperr.NotFound("queues.Get", "queue %s", id)
		}
		return Queue{}, err
	}
	return out, nil
}

func (r *PostgresRepo) ListByIDs(ctx context.Context, ids []string) ([]Queue, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := `SELECT ` + queueColumns + ` FROM queues WHERE id = ANY($1)`
	var rows []Queue
	if err := r.db.SelectContext(ctx, &rows, q, pq.Array(ids)); err != nil {
		return nil, err
	}
	return orderByIDs(rows, ids), nil
}

func (r *PostgresRepo) ListKeywordRules(ctx context.Context, companyID string) ([]KeywordRule, error) {
	const q = `
SELECT id, company_id, phrase, queue_id
FROM queue_keyword_rules
WHERE company_id = $1
ORDER BY length(phrase) DESC, id
`
	var out []KeywordRule
	if err := r.db.SelectContext(ctx, &out, q, companyID); err != nil {
		return nil, err
	}
	return out, nil
}

func orderByIDs(rows []Queue, ids []string) []Queue {
	pos := make(map[string]int, len(ids))
	for i, id := range ids {
		if _, ok := pos[id]; !ok {
			pos[id] = i
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return pos[rows[i].ID] < pos[rows[j].ID] })
	return rows
}

// MemoryRepo is an in-memory repository useful for tests.
type MemoryRepo struct {
	mu     sync.Mutex
	queues map[string]Queue
	rules  []KeywordRule
}

func NewMemoryRepo(queues ...Queue) *MemoryRepo {
	r := &MemoryRepo{queues: map[string]Queue{}}
	for _, q := range queues {
		r.queues[q.ID] = q
	}
	return r
}

func (r *MemoryRepo) AddKeywordRule(k KeywordRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, k)
}

func (r *MemoryRepo) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.queues, id)
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[id]
	if !ok {
		return Queue{}, apperr.NotFound("queues.Get", "queue %s", id)
	}
	return q, nil
}

func (r *MemoryRepo) ListByIDs(ctx context.Context, ids []string) ([]Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Queue
	for _, id := range ids {
		if q, ok := r.queues[id]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}

func (r *MemoryRepo) ListKeywordRules(ctx context.Context, companyID string) ([]KeywordRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []KeywordRule
	for _, k := range r.rules {
		if k.CompanyID == companyID {
			out = append(out, k)
		}
	}
	return out, nil
}
