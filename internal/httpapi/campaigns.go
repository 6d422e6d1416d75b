package httpapi

import (
	"net/http"
	"time"

	"omnichat-platform/internal/apperr"
	"omnichat-platform/internal/reporting"

	"github.com/gin-gonic/gin"
)

func (h Handlers) CancelCampaign(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	camp, err := h.Campaigns.Get(ctx, c.Param("id"))
	if err == nil && camp.CompanyID != id.CompanyID {
		err = apperr.NotFound("httpapi.CancelCampaign", "campaign %s", c.Param("id"))
	}
	if err == nil {
		camp, err = h.Campaigns.Cancel(ctx, camp.ID)
	}
	if err != nil {
		writeError(c, h.log(), err)
		return
	}
	if h.Audit != nil {
		_ = h.Audit.LogCampaignAction(ctx, id.CompanyID, id.UserID, id.Role, "campaign.cancel", camp.ID)
	}
	c.JSON(http.StatusOK, camp)
}

func (h Handlers) CampaignReport(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	out, err := h.Reports.CampaignReport(c.Request.Context(), id.CompanyID, c.Param("id"))
	if err != nil {
		writeError(c, h.log(), err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// ConfirmShipping records a contact's confirmation for a campaign message.
func (h Handlers) ConfirmShipping(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	sh, err := h.Campaigns.GetShipping(ctx, c.Param("id"))
	if err == nil {
		camp, cerr := h.Campaigns.Get(ctx, sh.CampaignID)
		switch {
		case cerr != nil:
			err = cerr
		case camp.CompanyID != id.CompanyID:
			err = apperr.NotFound("httpapi.ConfirmShipping", "shipping %s", sh.ID)
		}
	}
	if err == nil {
		sh, err = h.Campaigns.Confirm(ctx, sh.ID)
	}
	if err != nil {
		writeError(c, h.log(), err)
		return
	}
	c.JSON(http.StatusOK, sh)
}

func (h Handlers) TicketsReport(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	from, err1 := time.Parse(time.RFC3339, c.Query("from"))
	to, err2 := time.Parse(time.RFC3339, c.Query("to"))
	if err1 != nil || err2 != nil {
		abort(c, http.StatusBadRequest, CodeValidationFailed, "from and to must be RFC3339 timestamps")
		return
	}
	out, err := h.Reports.TicketsSummary(c.Request.Context(), reporting.TicketsSummaryRequest{
		CompanyID: id.CompanyID,
		Range:     reporting.TimeRange{From: from, To: to},
		QueueID:   c.Query("queue_id"),
	})
	if err != nil {
		writeError(c, h.log(), err)
		return
	}
	c.JSON(http.StatusOK, out)
}
