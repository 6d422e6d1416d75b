package ai

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"omnichat-platform/internal/apperr"

	"github.com/jmoiron/sqlx"
)

type Repository interface {
	Get(ctx context.Context, companyID, id string) (Prompt, error)
}

type PostgresRepo struct {
	db *sqlx.DB
}

func NewPostgresRepo(db *sqlx.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Get(ctx context.Context, companyID, id string) (Prompt, error) {
	const q = `
SELECT id, company_id, name, instructions, model, max_tokens, temperature, handoff_phrase,
  history_limit, created_at, updated_at
FROM prompts
WHERE company_id = $1 AND id = $2
`
	var p Prompt
	if err := r.db.GetContext(ctx, &p, q, companyID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Prompt{}, apperr.NotFound("ai.GetPrompt", "prompt %s", id)
		}
		return Prompt{}, err
	}
	return p, nil
}

// MemoryRepo is an in-memory repository useful for tests.
type MemoryRepo struct {
	mu      sync.Mutex
	prompts map[string]Prompt
}

func NewMemoryRepo(prompts ...Prompt) *MemoryRepo {
	r := &MemoryRepo{prompts: map[string]Prompt{}}
	for _, p := range prompts {
		r.prompts[p.ID] = p
	}
	return r
}

func (r *MemoryRepo) Get(ctx context.Context, companyID, id string) (Prompt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.prompts[id]
	if !ok || p.CompanyID != companyID {
		return Prompt{}, apperr.NotFound("ai.GetPrompt", "prompt %s", id)
	}
	return p, nil
}
