package reporting

import (
	"context"
	"testing"
	"time"

	"omnichat-platform/internal/apperr"
	"omnichat-platform/internal/campaigns"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Unix(1772445600, 0).UTC()

func at(d time.Duration) *time.Time {
	t := now.Add(d)
	return &t
}

func TestTicketsSummary_CompanyIsolationAndAverages(t *testing.T) {
	repo := NewMemoryRepo(
		TicketRecord{ID: "t1", CompanyID: "co", Status: "closed", QueueID: "q1", CreatedAt: now,
			QueuedAt: at(0), StartedAt: at(60 * time.Second), FinishedAt: at(660 * time.Second), Rated: true, Rating: 3},
		TicketRecord{ID: "t2", CompanyID: "co", Status: "open", QueueID: "q1", CreatedAt: now,
			QueuedAt: at(0), StartedAt: at(180 * time.Second)},
		TicketRecord{ID: "t3", CompanyID: "co", Status: "pending", CreatedAt: now},
		TicketRecord{ID: "t4", CompanyID: "other", Status: "closed", CreatedAt: now, Rated: true, Rating: 1},
	)
	svc := NewService(repo, nil)
	rng := TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}

	out, err := svc.TicketsSummary(context.Background(), TicketsSummaryRequest{CompanyID: "co", Range: rng})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Total)
	assert.Equal(t, 1, out.Closed)
	assert.Equal(t, 1, out.Open)
	assert.Equal(t, 1, out.Pending)
	assert.Equal(t, 120, out.AverageWaitSeconds)
	assert.Equal(t, 600, out.AverageHandleSeconds)
	assert.Equal(t, 1, out.Rated)
	assert.InDelta(t, 3.0, out.AverageRating, 0.001)

	out, err = svc.TicketsSummary(context.Background(), TicketsSummaryRequest{CompanyID: "co", Range: rng, QueueID: "q1"})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Total)
}

func TestTicketsSummary_InvalidRange(t *testing.T) {
	svc := NewService(NewMemoryRepo(), nil)
	_, err := svc.TicketsSummary(context.Background(), TicketsSummaryRequest{CompanyID: "co", Range: TimeRange{From: now, To: now}})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCampaignReport(t *testing.T) {
	cs := campaigns.NewMemoryRepo()
	cs.PutCampaign(campaigns.Campaign{ID: "camp", CompanyID: "co", ContactListID: "l", Status: campaigns.StatusProcessing})
	cs.PutItems("l",
		campaigns.ContactListItem{ID: "i1", ContactID: "c1"},
		campaigns.ContactListItem{ID: "i2", ContactID: "c2"},
		campaigns.ContactListItem{ID: "i3", ContactID: "c3"},
		campaigns.ContactListItem{ID: "i4", ContactID: "c4"},
	)
	ctx := context.Background()
	for _, id := range []string{"c1", "c2", "c3"} {
		_, _, err := cs.FindOrCreateShipping(ctx, campaigns.Shipping{ID: "sh-" + id, CampaignID: "camp", ContactID: id})
		require.NoError(t, err)
	}
	_, err := cs.MarkDelivered(ctx, "sh-c1", now)
	require.NoError(t, err)
	require.NoError(t, cs.MarkShippingError(ctx, "sh-c2", "gateway down"))

	svc := NewService(nil, cs)
	out, err := svc.CampaignReport(ctx, "co", "camp")
	require.NoError(t, err)
	assert.Equal(t, 4, out.Recipients)
	assert.Equal(t, 1, out.Delivered)
	assert.Equal(t, 1, out.Failed)
	assert.Equal(t, 1, out.Queued)
	assert.InDelta(t, 0.25, out.Progress, 0.001)
	assert.Equal(t, "processing", out.Status)

	_, err = svc.CampaignReport(ctx, "someone-else", "camp")
	assert.True(t, apperr.IsNotFound(err))
}

func TestPostgresRepo_ListTickets(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer raw.Close()
	repo := NewPostgresRepo(sqlx.NewDb(raw, "sqlmock"))

	from, to := now.Add(-time.Hour), now
	mock.ExpectQuery("LEFT JOIN ticket_tracking").
		WithArgs("co", from, to, "").
		WillReturnRows(sqlmock.NewRows([]string{"id", "company_id", "status", "queue_id", "created_at",
			"queued_at", "started_at", "finished_at", "rated", "rating"}).
			AddRow("t1", "co", "closed", "q1", now, nil, nil, nil, true, 2))

	rows, err := repo.ListTickets(context.Background(), "co", from, to, "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].Rating)
	assert.NoError(t, mock.ExpectationsWereMet())
}
