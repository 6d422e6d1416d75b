package tenants

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"omnichat-platform/internal/apperr"

	"github.com/jmoiron/sqlx"
)

type Repository interface {
	Get(ctx context.Context, id string) (Company, error)
	// Update stores the mutable settings of an existing company.
	Update(ctx context.Context, c Company) (Company, error)
}

const companyColumns = `id, name, timezone, bot_cooldown_seconds, rating_timeout_seconds, created_at, updated_at`

// PostgresRepo reads companies from the companies table.
type PostgresRepo struct {
	db    *sqlx.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sqlx.DB) *PostgresRepo { return &PostgresRepo{db: db, clock: time.Now} }

func (r *PostgresRepo) Get(ctx context.Context, id string) (Company, error) {
	q := `SELECT ` + companyColumns + `
FROM companies
WHERE id = $1
`
	var c Company
	if err := r.db.GetContext(ctx, &c, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Company{}, apperr.NotFound("tenants.Get", "company %s", id)
		}
		return Company{}, err
	}
	return c, nil
}

func (r *PostgresRepo) Update(ctx context.Context, c Company) (Company, error) {
	q := `
UPDATE companies SET name = $2, timezone = $3, bot_cooldown_seconds = $4, rating_timeout_seconds = $5, updated_at = $6
WHERE id = $1
RETURNING ` + companyColumns
	var out Company
	err := r.db.GetContext(ctx, &out, q, c.ID, c.Name, c.Timezone, c.BotCooldownSeconds, c.RatingTimeoutSeconds, r.clock().UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Company{}, apperr.NotFound("tenants.Update", "company %s", c.ID)
		}
		return Company{}, err
	}
	return out, nil
}

// MemoryRepo is an in-memory repository useful for tests.
type MemoryRepo struct {
	mu        sync.Mutex
	companies map[string]Company
}

func NewMemoryRepo(companies ...Company) *MemoryRepo {
	r := &MemoryRepo{companies: map[string]Company{}}
	for _, c := range companies {
		r.companies[c.ID] = c
	}
	return r
}

func (r *MemoryRepo) Put(c Company) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.companies[c.ID] = c
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Company, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.companies[id]
	if !ok {
		return Company{}, apperr.NotFound("tenants.Get", "company %s", id)
	}
	return c, nil
}

func (r *MemoryRepo) Update(ctx context.Context, c Company) (Company, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.companies[c.ID]
	if !ok {
		return Company{}, apperr.NotFound("tenants.Update", "company %s", c.ID)
	}
	c.CreatedAt = cur.CreatedAt
	c.UpdatedAt = time.Now().UTC()
	r.companies[c.ID] = c
	return c, nil
}
