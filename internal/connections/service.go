package connections

import (
	"context"
	"errors"
	"fmt"
)

// AuditLogger records configuration changes made by administrators.
type AuditLogger interface {
	LogAdminAction(ctx context.Context, companyID, actorUserID, actorRole, action, targetID, message string) error
}

type Service struct {
	repo  Repository
	audit AuditLogger
}

func NewService(repo Repository, audit AuditLogger) *Service {
	return &Service{repo: repo, audit: audit}
}

func (s *Service) Get(ctx context.Context, id string) (Connection, error) {
	return s.repo.Get(ctx, id)
}

// Update validates and stores the routing configuration of a connection.
// Audit failures are best-effort and never fail the update.
func (s *Service) Update(ctx context.Context, actorUserID, actorRole string, c Connection) (Connection, error) {
	if s.repo == nil {
		return Connection{}, errors.New("connections: repository not configured")
	}
	if err := Validate(c); err != nil {
		return Connection{}, err
	}
	out, err := s.repo.Update(ctx, c)
	if err != nil {
		return Connection{}, err
	}
	if s.audit != nil {
		msg := fmt.Sprintf("default_queue=%q transfer_queue=%q time_to_transfer=%d", out.DefaultQueueID, out.TransferQueueID, out.TimeToTransfer)
		_ = s.audit.LogAdminAction(ctx, out.CompanyID, actorUserID, actorRole, "connection.update", out.ID, msg)
	}
	return out, nil
}
