package audit

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// PostgresRepo writes to audit_events. The table only grants INSERT to the
// application role.
type PostgresRepo struct {
	db *sqlx.DB
}

func NewPostgresRepo(db *sqlx.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	q := `
INSERT INTO audit_events (id, company_id, type, action, actor_user_id, actor_role, ip_address, target_id, message, created_at)
VALUES (:id, :company_id, :type, :action, :actor_user_id, :actor_role, :ip_address, :target_id, :message, :created_at)`
	_, err := r.db.NamedExecContext(ctx, q, e)
	return err
}
