package schedules

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

var pgNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func newPGRepo(t *testing.T) (*PostgresRepo, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })
	repo := NewPostgresRepo(sqlx.NewDb(raw, "sqlmock"))
	repo.clock = func() time.Time { return pgNow }
	return repo, mock
}

func TestPostgresRepo_MarkQueuedIsConditional(t *testing.T) {
	repo, mock := newPGRepo(t)
	q := regexp.QuoteMeta("SET status = 'QUEUED'") + ".*" + regexp.QuoteMeta("AND status = 'PENDING'")
	mock.ExpectExec(q).WithArgs("s1", pgNow).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs("s1", pgNow).WillReturnResult(sqlmock.NewResult(0, 0))

	won, err := repo.MarkQueued(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.MarkQueued(context.Background(), "s1")
	require.NoError(t, err)
	assert.False(t, won)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_MarkSentRequiresUnsentItem(t *testing.T) {
	repo, mock := newPGRepo(t)
	sentAt := pgNow.Add(time.Second)
	mock.ExpectExec(regexp.QuoteMeta("AND sent_at IS NULL")).
		WithArgs("s1", sentAt, "t1", pgNow).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.MarkSent(context.Background(), "s1", "t1", sentAt)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_CancelSetCountsChangedRows(t *testing.T) {
	repo, mock := newPGRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("WHERE (id = $1 OR parent_id = $1) AND status IN ('PENDING','QUEUED')")).
		WithArgs("root", pgNow).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.CancelSet(context.Background(), "root")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_ReplaceSetRefusesSentSet(t *testing.T) {
	repo, mock := newPGRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("root").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow("root", "SENT").AddRow("rem", "SENT"))
	mock.ExpectRollback()

	err := repo.ReplaceSet(context.Background(), "root", []Item{{ID: "new"}})
	assert.True(t, apperr.IsConflict(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_ReplaceSetDeletesThenInserts(t *testing.T) {
	repo, mock := newPGRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("root").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow("root", "ERROR").AddRow("rem", "SENT"))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM schedules WHERE parent_id = $1")).WithArgs("root").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM schedules WHERE id = $1")).WithArgs("root").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schedules")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.ReplaceSet(context.Background(), "root", []Item{{ID: "new", Status: StatusPending, ReminderKind: KindNone, SendAt: pgNow}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_GetMissingIsNotFound(t *testing.T) {
	repo, mock := newPGRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM schedules WHERE id = $1")).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.Get(context.Background(), "nope")
	assert.True(t, apperr.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_ListStaleQueued(t *testing.T) {
	repo, mock := newPGRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = 'QUEUED' AND updated_at <= $1")).
		WithArgs(pgNow, 500).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow("s1", "QUEUED"))

	got, err := repo.ListStaleQueued(context.Background(), pgNow, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, StatusQueued, got[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_ReplaceSetMissingRootIsNotFound(t *testing.T) {
	repo, mock := newPGRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("root").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}))
	mock.ExpectRollback()

	err := repo.ReplaceSet(context.Background(), "root", []Item{{ID: "new"}})
	assert.True(t, apperr.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
