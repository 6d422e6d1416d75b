package httpapi

import (
	"net/http"

	"omnichat-platform/internal/apperr"
	"omnichat-platform/internal/auth"
	"omnichat-platform/internal/tickets"

	"github.com/gin-gonic/gin"
)

type openTicketRequest struct {
	ContactID    string `json:"contact_id"`
	Channel      string `json:"channel"`
	ConnectionID string `json:"connection_id"`
}

// OpenTicket resolves (or creates) the thread for an agent-initiated message.
func (h Handlers) OpenTicket(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req openTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, CodeInvalidRequest, "invalid json")
		return
	}
	ch, valid := tickets.ParseChannel(req.Channel)
	if !valid {
		abort(c, http.StatusBadRequest, CodeValidationFailed, "unsupported channel")
		return
	}
	t, err := h.Resolver.Resolve(c.Request.Context(), tickets.ResolveInput{
		CompanyID:    id.CompanyID,
		ContactID:    req.ContactID,
		Channel:      ch,
		ConnectionID: req.ConnectionID,
	})
	if err != nil {
		writeError(c, h.log(), err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// ownTicket loads the path ticket and hides other companies' tickets.
func (h Handlers) ownTicket(c *gin.Context) (auth.Identity, tickets.Ticket, bool) {
	id, ok := identity(c)
	if !ok {
		return auth.Identity{}, tickets.Ticket{}, false
	}
	t, err := h.Tickets.Get(c.Request.Context(), c.Param("id"))
	if err == nil && t.CompanyID != id.CompanyID {
		err = apperr.NotFound("httpapi.ownTicket", "ticket %s", c.Param("id"))
	}
	if err != nil {
		writeError(c, h.log(), err)
		return auth.Identity{}, tickets.Ticket{}, false
	}
	return id, t, true
}

func (h Handlers) GetTicket(c *gin.Context) {
	if _, t, ok := h.ownTicket(c); ok {
		c.JSON(http.StatusOK, t)
	}
}

func (h Handlers) AcceptTicket(c *gin.Context) {
	id, t, ok := h.ownTicket(c)
	if !ok {
		return
	}
	h.respondTicket(c)(h.Tickets.Accept(c.Request.Context(), t.ID, id.UserID))
}

func (h Handlers) CloseTicket(c *gin.Context) {
	_, t, ok := h.ownTicket(c)
	if !ok {
		return
	}
	h.respondTicket(c)(h.Tickets.Close(c.Request.Context(), t.ID))
}

type transferRequest struct {
	QueueID string `json:"queue_id"`
	UserID  string `json:"user_id"`
}

func (h Handlers) TransferTicket(c *gin.Context) {
	_, t, ok := h.ownTicket(c)
	if !ok {
		return
	}
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, CodeInvalidRequest, "invalid json")
		return
	}
	h.respondTicket(c)(h.Tickets.Transfer(c.Request.Context(), t.ID, req.QueueID, req.UserID))
}

type ratingRequest struct {
	Rating int  `json:"rating"`
	Skip   bool `json:"skip"`
}

func (h Handlers) RateTicket(c *gin.Context) {
	_, t, ok := h.ownTicket(c)
	if !ok {
		return
	}
	var req ratingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, CodeInvalidRequest, "invalid json")
		return
	}
	if req.Skip {
		h.respondTicket(c)(h.Tickets.SkipRating(c.Request.Context(), t.ID))
		return
	}
	h.respondTicket(c)(h.Tickets.RecordRating(c.Request.Context(), t.ID, req.Rating))
}

type moveConnectionRequest struct {
	ConnectionID string `json:"connection_id"`
}

// MoveTicketConnection rebinds a ticket after its channel connection was
// disconnected or replaced.
func (h Handlers) MoveTicketConnection(c *gin.Context) {
	id, t, ok := h.ownTicket(c)
	if !ok {
		return
	}
	var req moveConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, CodeInvalidRequest, "invalid json")
		return
	}
	if req.ConnectionID != "" {
		conn, err := h.Connections.Get(c.Request.Context(), req.ConnectionID)
		if err == nil && conn.CompanyID != id.CompanyID {
			err = apperr.NotFound("httpapi.MoveTicketConnection", "connection %s", req.ConnectionID)
		}
		if err != nil {
			writeError(c, h.log(), err)
			return
		}
	}
	h.respondTicket(c)(h.Tickets.MoveConnection(c.Request.Context(), t.ID, req.ConnectionID))
}

func (h Handlers) DeleteTicket(c *gin.Context) {
	id, t, ok := h.ownTicket(c)
	if !ok {
		return
	}
	if err := h.Tickets.Delete(c.Request.Context(), t.ID, id.UserID, id.Role); err != nil {
		writeError(c, h.log(), err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) respondTicket(c *gin.Context) func(tickets.Ticket, error) {
	return func(t tickets.Ticket, err error) {
		if err != nil {
			writeError(c, h.log(), err)
			return
		}
		c.JSON(http.StatusOK, t)
	}
}
