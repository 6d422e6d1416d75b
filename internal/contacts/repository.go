package contacts

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"omnichat-platform/internal/apperr"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type Repository interface {
	Get(ctx context.Context, companyID, id string) (Contact, error)
	// Upsert finds a contact by (company, channel, address) or creates it.
	// An existing contact keeps its id; name is refreshed when provided.
	Upsert(ctx context.Context, c Contact) (Contact, error)
}

var ErrInvalidContact = errors.New("contacts: company_id, channel and address are required")

func normalize(c Contact) (Contact, error) {
	c.Channel = strings.ToLower(strings.TrimSpace(c.Channel))
	c.Address = strings.TrimSpace(c.Address)
	c.Number = strings.TrimSpace(c.Number)
	if c.Address == "" {
		c.Address = c.Number
	}
	if c.CompanyID == "" || c.Channel == "" || c.Address == "" {
		return Contact{}, ErrInvalidContact
	}
	return c, nil
}

type PostgresRepo struct {
	db    *sqlx.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sqlx.DB) *PostgresRepo { return &PostgresRepo{db: db, clock: time.Now} }

const contactColumns = `id, company_id, name, number, channel, address, is_group, created_at, updated_at`

func (r *PostgresRepo) Get(ctx context.Context, companyID, id string) (Contact, error) {
	q := `SELECT ` + contactColumns + ` FROM contacts WHERE company_id = $1 AND id = $2`
	var c Contact
	if err := r.db.GetContext(ctx, &c, q, companyID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Contact{}, apperr.NotFound("contacts.Get", "contact %s", id)
		}
		return Contact{}, err
	}
	return c, nil
}

func (r *PostgresRepo) Upsert(ctx context.Context, c Contact) (Contact, error) {
	c, err := normalize(c)
	if err != nil {
		return Contact{}, err
	}
	now := r.clock().UTC()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	q := `
INSERT INTO contacts (id, company_id, name, number, channel, address, is_group, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
ON CONFLICT (company_id, channel, address)
DO UPDATE SET name = COALESCE(NULLIF(EXCLUDED.name, ''), contacts.name),
              updated_at = EXCLUDED.updated_at
RETURNING ` + contactColumns
	var out Contact
	if err := r.db.GetContext(ctx, &out, q, c.ID, c.CompanyID, c.Name, c.Number, c.Channel, c.Address, c.IsGroup, now); err != nil {
		return Contact{}, err
	}
	return out, nil
}

// MemoryRepo is an in-memory repository useful for tests.
type MemoryRepo struct {
	mu       sync.Mutex
	contacts map[string]Contact
}

func NewMemoryRepo(contacts ...Contact) *MemoryRepo {
	r := &MemoryRepo{contacts: map[string]Contact{}}
	for _, c := range contacts {
		r.contacts[c.ID] = c
	}
	return r
}

func (r *MemoryRepo) Get(ctx context.Context, companyID, id string) (Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[id]
	if !ok || c.CompanyID != companyID {
		return Contact{}, apperr.NotFound("contacts.Get", "contact %s", id)
	}
	return c, nil
}

func (r *MemoryRepo) Upsert(ctx context.Context, c Contact) (Contact, error) {
	c, err := normalize(c)
	if err != nil {
		return Contact{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, existing := range r.contacts {
		if existing.CompanyID == c.CompanyID && existing.Channel == c.Channel && existing.Address == c.Address {
			if c.Name != "" {
				existing.Name = c.Name
				r.contacts[id] = existing
			}
			return existing, nil
		}
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	r.contacts[c.ID] = c
	return c, nil
}
