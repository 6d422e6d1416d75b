package audit

import (
	"context"
	"testing"
	"time"

	"omnichat-platform/pkg/logger"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_AppendRequiresCompanyTypeAndAction(t *testing.T) {
	svc := NewService(NewMemoryRepo(), logger.Discard())
	ctx := context.Background()

	assert.ErrorIs(t, svc.Append(ctx, Event{Type: EventTypeAdminAction, Action: "x"}), ErrInvalidEvent)
	assert.ErrorIs(t, svc.Append(ctx, Event{CompanyID: "co", Action: "x"}), ErrInvalidEvent)
	assert.ErrorIs(t, svc.Append(ctx, Event{CompanyID: "co", Type: EventTypeAdminAction}), ErrInvalidEvent)
}

func TestService_LogAdminActionCapturesClientIP(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo, logger.Discard())
	ctx := WithClientIP(context.Background(), "10.0.0.7")

	require.NoError(t, svc.LogAdminAction(ctx, "co", "u1", "admin", "ticket.delete", "t1", "ticket deleted"))

	evs := repo.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, "10.0.0.7", evs[0].IPAddress)
	assert.Equal(t, EventTypeAdminAction, evs[0].Type)
	assert.Equal(t, "t1", evs[0].TargetID)
	assert.NotEmpty(t, evs[0].ID)
	assert.False(t, evs[0].CreatedAt.IsZero())
}

func TestClientIPFromContext_Empty(t *testing.T) {
	assert.Equal(t, "", ClientIPFromContext(context.Background()))
	ctx := WithClientIP(context.Background(), "")
	assert.Equal(t, "", ClientIPFromContext(ctx))
}

func TestPostgresRepo_Append(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer raw.Close()
	repo := NewPostgresRepo(sqlx.NewDb(raw, "sqlmock"))

	at := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO audit_events").
		WithArgs("e1", "co", EventTypeCampaign, "campaign.cancel", "u1", "supervisor", "", "camp-1", "", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Append(context.Background(), Event{
		ID: "e1", CompanyID: "co", Type: EventTypeCampaign, Action: "campaign.cancel",
		ActorUserID: "u1", ActorRole: "supervisor", TargetID: "camp-1", CreatedAt: at,
	}))
	assert.NoError(t, mock.ExpectationsWereMet())
}
