package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information. Callers treat it as best-effort.
type Service struct {
	repo  Repository
	log   *slog.Logger
	clock func() time.Time
}

func NewService(repo Repository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, log: log, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.CompanyID == "" || e.Type == "" || e.Action == "" {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	if e.IPAddress == "" {
		e.IPAddress = ClientIPFromContext(ctx)
	}
	if err := s.repo.Append(ctx, e); err != nil {
		s.log.Warn("audit append failed", "action", e.Action, "target_id", e.TargetID, "err", err)
		return err
	}
	return nil
}

// LogAdminAction records an administrative action on a ticket or connection.
func (s *Service) LogAdminAction(ctx context.Context, companyID, actorUserID, actorRole, action, targetID, message string) error {
	return s.Append(ctx, Event{
		CompanyID:   companyID,
		Type:        EventTypeAdminAction,
		Action:      action,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		TargetID:    targetID,
		Message:     message,
	})
}

// LogCampaignAction records a manual campaign intervention (cancel, confirm).
func (s *Service) LogCampaignAction(ctx context.Context, companyID, actorUserID, actorRole, action, campaignID string) error {
	return s.Append(ctx, Event{
		CompanyID:   companyID,
		Type:        EventTypeCampaign,
		Action:      action,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		TargetID:    campaignID,
	})
}
