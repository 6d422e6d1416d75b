package httpapi

import (
	"net/http"

	"omnichat-platform/internal/apperr"
	"omnichat-platform/internal/connections"

	"github.com/gin-gonic/gin"
)

type updateConnectionRequest struct {
	Name                 string   `json:"name"`
	GreetingMessage      string   `json:"greeting_message"`
	CompletionMessage    string   `json:"completion_message"`
	RatingMessage        string   `json:"rating_message"`
	OutOfHoursMessage    string   `json:"out_of_hours_message"`
	InvalidOptionMessage string   `json:"invalid_option_message"`
	QueueIDs             []string `json:"queue_ids"`
	DefaultQueueID       string   `json:"default_queue_id"`
	TransferQueueID      string   `json:"transfer_queue_id"`
	TimeToTransfer       int      `json:"time_to_transfer"`
	PromptID             string   `json:"prompt_id"`
	IsDefault            bool     `json:"is_default"`
}

// UpdateConnection replaces the routing configuration of a connection.
// Channel, token and status belong to the gateway and are kept.
func (h Handlers) UpdateConnection(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	cur, err := h.Connections.Get(ctx, c.Param("id"))
	if err == nil && cur.CompanyID != id.CompanyID {
		err = apperr.NotFound("httpapi.UpdateConnection", "connection %s", c.Param("id"))
	}
	if err != nil {
		writeError(c, h.log(), err)
		return
	}
	var req updateConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, CodeInvalidRequest, "invalid json")
		return
	}

	next := cur
	next.Name = req.Name
	next.GreetingMessage = req.GreetingMessage
	next.CompletionMessage = req.CompletionMessage
	next.RatingMessage = req.RatingMessage
	next.OutOfHoursMessage = req.OutOfHoursMessage
	next.InvalidOptionMessage = req.InvalidOptionMessage
	next.QueueIDs = req.QueueIDs
	next.DefaultQueueID = req.DefaultQueueID
	next.TransferQueueID = req.TransferQueueID
	next.TimeToTransfer = req.TimeToTransfer
	next.PromptID = req.PromptID
	next.IsDefault = req.IsDefault

	out, err := h.Connections.Update(ctx, id.UserID, id.Role, next)
	if err != nil {
		writeError(c, h.log(), err)
		return
	}
	c.JSON(http.StatusOK, redactToken(out))
}

func redactToken(c connections.Connection) connections.Connection {
	c.Token = ""
	return c
}
