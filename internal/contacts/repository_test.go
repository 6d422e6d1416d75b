package contacts

import (
	"context"
	"regexp"
	"testing"
	"time"

	"omnichat-platform/internal/apperr"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstName(t *testing.T) {
	assert.Equal(t, "Maria", Contact{Name: "  Maria da Silva"}.FirstName())
	assert.Equal(t, "", Contact{}.FirstName())
}

func TestMemoryRepo_UpsertReusesByAddress(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()

	a, err := repo.Upsert(ctx, Contact{CompanyID: "co", Channel: "WhatsApp", Number: "5511999"})
	require.NoError(t, err)
	b, err := repo.Upsert(ctx, Contact{CompanyID: "co", Channel: "whatsapp", Number: "5511999", Name: "Ana"})
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, "Ana", b.Name)

	_, err = repo.Get(ctx, "other", a.ID)
	assert.True(t, apperr.IsNotFound(err))
}

func TestMemoryRepo_UpsertValidates(t *testing.T) {
	_, err := NewMemoryRepo().Upsert(context.Background(), Contact{CompanyID: "co"})
	assert.ErrorIs(t, err, ErrInvalidContact)
}

func TestPostgresRepo_Upsert(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer raw.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (company_id, channel, address)")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "company_id", "name", "number", "channel", "address", "is_group", "created_at", "updated_at"}).
			AddRow("ct1", "co", "Ana", "5511", "whatsapp", "5511", false, now, now))

	repo := NewPostgresRepo(sqlx.NewDb(raw, "sqlmock"))
	c, err := repo.Upsert(context.Background(), Contact{CompanyID: "co", Channel: "whatsapp", Number: "5511", Name: "Ana"})
	require.NoError(t, err)
	assert.Equal(t, "ct1", c.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
