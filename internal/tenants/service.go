package tenants

import (
	"context"
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

func (s *Service) Get(ctx context.Context, id string) (Company, error) {
	return s.repo.Get(ctx, id)
}

// Update validates and stores company settings. An unknown timezone is
// rejected here rather than silently read back as UTC.
func (s *Service) Update(ctx context.Context, actorUserID, actorRole string, c Company) (Company, error) {
	if err := Validate(c); err != nil {
		return Company{}, err
	}
	out, err := s.repo.Update(ctx, c)
	if err != nil {
		return Company{}, err
	}
	if s.audit != nil {
		msg := fmt.Sprintf("timezone=%q bot_cooldown=%ds rating_timeout=%ds", out.Timezone, out.BotCooldownSeconds, out.RatingTimeoutSeconds)
		_ = s.audit.LogAdminAction(ctx, out.ID, actorUserID, actorRole, "company.update", out.ID, msg)
	}
	return out, nil
}
