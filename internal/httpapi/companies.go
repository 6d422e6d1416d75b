package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type updateCompanyRequest struct {
	Name                 string `json:"name"`
	Timezone             string `json:"timezone"`
	BotCooldownSeconds   int    `json:"bot_cooldown_seconds"`
	RatingTimeoutSeconds int    `json:"rating_timeout_seconds"`
}

// GetCompany returns the caller's own company settings.
func (h Handlers) GetCompany(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	out, err := h.Companies.Get(c.Request.Context(), id.CompanyID)
	if err != nil {
		writeError(c, h.log(), err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) UpdateCompany(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	cur, err := h.Companies.Get(ctx, id.CompanyID)
	if err != nil {
		writeError(c, h.log(), err)
		return
	}
	var req updateCompanyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, CodeInvalidRequest, "invalid json")
		return
	}
	next := cur
	next.Name = req.Name
	next.Timezone = req.Timezone
	next.BotCooldownSeconds = req.BotCooldownSeconds
	next.RatingTimeoutSeconds = req.RatingTimeoutSeconds

	out, err := h.Companies.Update(ctx, id.UserID, id.Role, next)
	if err != nil {
		writeError(c, h.log(), err)
		return
	}
	c.JSON(http.StatusOK, out)
}
