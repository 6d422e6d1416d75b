package connections

import (
	"context"
	"testing"
	"time"

	"omnichat-platform/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type auditCall struct {
	companyID, action, targetID string
}

type stubAudit struct{ calls []auditCall }

func (s *stubAudit) LogAdminAction(ctx context.Context, companyID, actorUserID, actorRole, action, targetID, message string) error {
	s.calls = append(s.calls, auditCall{companyID, action, targetID})
	return nil
}

func TestValidate_DefaultEqualsTransferIsConflict(t *testing.T) {
	err := Validate(Connection{CompanyID: "co", Name: "wa", DefaultQueueID: "5", TransferQueueID: "5", TimeToTransfer: 10})
	require.Error(t, err)
	assert.True(t, apperr.IsConflict(err))
}

func TestValidate_Rules(t *testing.T) {
	cases := []struct {
		name string
		c    Connection
		kind apperr.Kind
	}{
		{"missing company", Connection{Name: "x"}, apperr.KindValidation},
		{"negative transfer", Connection{CompanyID: "co", Name: "x", TimeToTransfer: -1}, apperr.KindValidation},
		{"transfer without target", Connection{CompanyID: "co", Name: "x", TimeToTransfer: 5}, apperr.KindValidation},
		{"ok", Connection{CompanyID: "co", Name: "x", DefaultQueueID: "1", TransferQueueID: "2", TimeToTransfer: 5}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.kind, apperr.KindOf(Validate(tc.c)))
		})
	}
}

func TestTransferAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), Connection{TimeToTransfer: 5}.TransferAfter())
	assert.Equal(t, 5*time.Minute, Connection{TimeToTransfer: 5, TransferQueueID: "q"}.TransferAfter())
}

func TestService_UpdateRejectsConflictWithoutWriting(t *testing.T) {
	repo := NewMemoryRepo(Connection{ID: "c1", CompanyID: "co", Name: "wa", Token: "tok"})
	audit := &stubAudit{}
	svc := NewService(repo, audit)

	_, err := svc.Update(context.Background(), "u1", "admin", Connection{ID: "c1", CompanyID: "co", Name: "wa", DefaultQueueID: "5", TransferQueueID: "5", TimeToTransfer: 3})
	assert.True(t, apperr.IsConflict(err))
	assert.Empty(t, audit.calls)

	got, err := repo.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Empty(t, got.DefaultQueueID)
}

func TestService_UpdateAudits(t *testing.T) {
	repo := NewMemoryRepo(Connection{ID: "c1", CompanyID: "co", Name: "wa", Token: "tok"})
	audit := &stubAudit{}
	svc := NewService(repo, audit)

	out, err := svc.Update(context.Background(), "u1", "admin", Connection{ID: "c1", CompanyID: "co", Name: "wa", TransferQueueID: "q2", TimeToTransfer: 3})
	require.NoError(t, err)
	assert.Equal(t, "tok", out.Token)
	require.Len(t, audit.calls, 1)
	assert.Equal(t, auditCall{"co", "connection.update", "c1"}, audit.calls[0])

	timed, err := repo.ListTimedTransfers(context.Background())
	require.NoError(t, err)
	assert.Len(t, timed, 1)
}
