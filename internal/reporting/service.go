package reporting

import (
	"context"
	"errors"
	"time"

	"omnichat-platform/internal/apperr"
	"omnichat-platform/internal/campaigns"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository reads ticket history. Implementations must filter by company.
type Repository interface {
	ListTickets(ctx context.Context, companyID string, from, to time.Time, queueID string) ([]TicketRecord, error)
}

// CampaignSource is the slice of the campaign store reports need.
type CampaignSource interface {
	GetCampaign(ctx context.Context, id string) (campaigns.Campaign, error)
	ListItems(ctx context.Context, listID string) ([]campaigns.ContactListItem, error)
	ListShippings(ctx context.Context, campaignID string) ([]campaigns.Shipping, error)
}

type Service struct {
	repo      Repository
	campaigns CampaignSource
}

func NewService(repo Repository, cs CampaignSource) *Service {
	return &Service{repo: repo, campaigns: cs}
}

func (s *Service) TicketsSummary(ctx context.Context, req TicketsSummaryRequest) (TicketsSummary, error) {
	if req.CompanyID == "" || !req.Range.valid() {
		return TicketsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return TicketsSummary{}, errors.New("reporting: repository not configured")
	}
	rows, err := s.repo.ListTickets(ctx, req.CompanyID, req.Range.From, req.Range.To, req.QueueID)
	if err != nil {
		return TicketsSummary{}, err
	}

	out := TicketsSummary{CompanyID: req.CompanyID, QueueID: req.QueueID}
	var wait, handle time.Duration
	var waited, handled, ratingSum int
	for _, r := range rows {
		out.Total++
		switch r.Status {
		case "pending":
			out.Pending++
		case "open":
			out.Open++
		case "closed":
			out.Closed++
		case "group":
			out.Group++
		}
		if r.QueuedAt != nil && r.StartedAt != nil && !r.StartedAt.Before(*r.QueuedAt) {
			wait += r.StartedAt.Sub(*r.QueuedAt)
			waited++
		}
		if r.StartedAt != nil && r.FinishedAt != nil && !r.FinishedAt.Before(*r.StartedAt) {
			handle += r.FinishedAt.Sub(*r.StartedAt)
			handled++
		}
		if r.Rated {
			out.Rated++
			ratingSum += r.Rating
		}
	}
	if waited > 0 {
		out.AverageWaitSeconds = int((wait / time.Duration(waited)).Seconds())
	}
	if handled > 0 {
		out.AverageHandleSeconds = int((handle / time.Duration(handled)).Seconds())
	}
	if out.Rated > 0 {
		out.AverageRating = float64(ratingSum) / float64(out.Rated)
	}
	return out, nil
}

// CampaignReport summarizes the shipping ledger of a campaign. Recipients
// without a shipping row yet count as neither queued nor delivered.
func (s *Service) CampaignReport(ctx context.Context, companyID, campaignID string) (CampaignReport, error) {
	const op = "reporting.CampaignReport"
	if companyID == "" || campaignID == "" {
		return CampaignReport{}, ErrInvalidRequest
	}
	c, err := s.campaigns.GetCampaign(ctx, campaignID)
	if err != nil {
		return CampaignReport{}, err
	}
	if c.CompanyID != companyID {
		return CampaignReport{}, apperr.NotFound(op, "campaign %s", campaignID)
	}
	items, err := s.campaigns.ListItems(ctx, c.ContactListID)
	if err != nil {
		return CampaignReport{}, err
	}
	shippings, err := s.campaigns.ListShippings(ctx, c.ID)
	if err != nil {
		return CampaignReport{}, err
	}

	out := CampaignReport{CompanyID: companyID, CampaignID: c.ID, Status: string(c.Status), Recipients: len(items)}
	for _, sh := range shippings {
		switch {
		case sh.DeliveredAt != nil:
			out.Delivered++
		case sh.LastError != "":
			out.Failed++
		case sh.ConfirmationRequestedAt != nil && sh.ConfirmedAt == nil:
			out.AwaitingConfirmation++
		default:
			out.Queued++
		}
		if sh.ConfirmedAt != nil {
			out.Confirmed++
		}
	}
	if out.Recipients > 0 {
		out.Progress = float64(out.Delivered) / float64(out.Recipients)
	}
	return out, nil
}
