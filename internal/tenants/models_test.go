package tenants

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"
	_ "time/tzdata"

	"omnichat-platform/internal/apperr"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocationFallsBackToUTC(t *testing.T) {
	assert.Equal(t, time.UTC, Company{}.Location())
	assert.Equal(t, time.UTC, Company{Timezone: "Mars/Olympus"}.Location())
	assert.Equal(t, "America/Sao_Paulo", Company{Timezone: "America/Sao_Paulo"}.Location().String())
}

func TestPostgresRepo_GetNotFound(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer raw.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM companies")).
		WithArgs("c1").
		WillReturnError(sql.ErrNoRows)

	_, err = NewPostgresRepo(sqlx.NewDb(raw, "sqlmock")).Get(context.Background(), "c1")
	assert.True(t, apperr.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_Get(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer raw.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("FROM companies")).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "timezone", "bot_cooldown_seconds", "rating_timeout_seconds", "created_at", "updated_at"}).
			AddRow("c1", "Acme", "Europe/Lisbon", 120, 0, now, now))

	c, err := NewPostgresRepo(sqlx.NewDb(raw, "sqlmock")).Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "Europe/Lisbon", c.Timezone)
	assert.Equal(t, 2*time.Minute, c.BotCooldown(time.Hour))
	assert.Equal(t, time.Hour, c.RatingTimeout(time.Hour))
}

func TestPostgresRepo_UpdateMissingIsNotFound(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer raw.Close()

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE companies SET")).
		WillReturnError(sql.ErrNoRows)

	_, err = NewPostgresRepo(sqlx.NewDb(raw, "sqlmock")).Update(context.Background(), Company{ID: "c1", Timezone: "UTC"})
	assert.True(t, apperr.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(Company{ID: "c1"}))
	assert.NoError(t, Validate(Company{ID: "c1", Timezone: "America/Sao_Paulo", RatingTimeoutSeconds: 600}))
	assert.True(t, apperr.IsValidation(Validate(Company{})))
	assert.True(t, apperr.IsValidation(Validate(Company{ID: "c1", Timezone: "America/Sao_Paolo"})))
	assert.True(t, apperr.IsValidation(Validate(Company{ID: "c1", BotCooldownSeconds: -1})))
}

type recordingAudit struct{ actions []string }

func (a *recordingAudit) LogAdminAction(ctx context.Context, companyID, actorUserID, actorRole, action, targetID, message string) error {
	a.actions = append(a.actions, action)
	return nil
}

func TestServiceUpdate_RejectsUnknownTimezone(t *testing.T) {
	repo := NewMemoryRepo(Company{ID: "c1", Timezone: "UTC"})
	audit := &recordingAudit{}
	svc := NewService(repo, audit)
	ctx := context.Background()

	_, err := svc.Update(ctx, "u1", "admin", Company{ID: "c1", Timezone: "Europe/Lisboa"})
	assert.True(t, apperr.IsValidation(err))
	got, err := svc.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "UTC", got.Timezone)
	assert.Empty(t, audit.actions)

	got, err = svc.Update(ctx, "u1", "admin", Company{ID: "c1", Timezone: "Europe/Lisbon", RatingTimeoutSeconds: 300})
	require.NoError(t, err)
	assert.Equal(t, "Europe/Lisbon", got.Location().String())
	assert.Equal(t, 5*time.Minute, got.RatingTimeout(time.Hour))
	assert.Equal(t, []string{"company.update"}, audit.actions)

	_, err = svc.Update(ctx, "u1", "admin", Company{ID: "nope"})
	assert.True(t, apperr.IsNotFound(err))
}
