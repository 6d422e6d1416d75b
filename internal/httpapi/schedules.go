package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"omnichat-platform/internal/apperr"
	"omnichat-platform/internal/schedules"

	"github.com/gin-gonic/gin"
)

type createScheduleRequest struct {
	ContactID    string                 `json:"contact_id"`
	ConnectionID string                 `json:"connection_id"`
	Body         string                 `json:"body"`
	SendAt       time.Time              `json:"send_at"`
	ReminderKind schedules.ReminderKind `json:"reminder_kind"`
}

// CreateSchedule stores a scheduled message. send_at is read as the
// company's wall clock; its zone offset is ignored.
func (h Handlers) CreateSchedule(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req createScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, CodeInvalidRequest, "invalid json")
		return
	}
	it, err := h.Schedules.Create(c.Request.Context(), schedules.CreateInput{
		CompanyID:    id.CompanyID,
		ContactID:    req.ContactID,
		UserID:       id.UserID,
		ConnectionID: req.ConnectionID,
		Body:         req.Body,
		SendAt:       wallClock(req.SendAt),
		ReminderKind: req.ReminderKind,
	})
	if err != nil {
		writeError(c, h.log(), err)
		return
	}
	c.JSON(http.StatusCreated, it)
}

func wallClock(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}

func (h Handlers) ownSchedule(c *gin.Context) (schedules.Item, bool) {
	id, ok := identity(c)
	if !ok {
		return schedules.Item{}, false
	}
	it, err := h.Schedules.Get(c.Request.Context(), c.Param("id"))
	if err == nil && it.CompanyID != id.CompanyID {
		err = apperr.NotFound("httpapi.ownSchedule", "schedule %s", c.Param("id"))
	}
	if err != nil {
		writeError(c, h.log(), err)
		return schedules.Item{}, false
	}
	return it, true
}

func (h Handlers) GetSchedule(c *gin.Context) {
	if it, ok := h.ownSchedule(c); ok {
		c.JSON(http.StatusOK, it)
	}
}

func (h Handlers) ListSchedules(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	items, err := h.Schedules.List(c.Request.Context(), id.CompanyID, schedules.ListFilter{
		ContactID: c.Query("contact_id"),
		Status:    schedules.Status(c.Query("status")),
		Limit:     limit,
	})
	if err != nil {
		writeError(c, h.log(), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type rescheduleRequest struct {
	SendAt time.Time `json:"send_at"`
}

func (h Handlers) RescheduleSchedule(c *gin.Context) {
	it, ok := h.ownSchedule(c)
	if !ok {
		return
	}
	var req rescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SendAt.IsZero() {
		abort(c, http.StatusBadRequest, CodeInvalidRequest, "send_at required")
		return
	}
	out, err := h.Schedules.Reschedule(c.Request.Context(), it.ID, wallClock(req.SendAt))
	if err != nil {
		writeError(c, h.log(), err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) CancelSchedule(c *gin.Context) {
	it, ok := h.ownSchedule(c)
	if !ok {
		return
	}
	out, err := h.Schedules.Cancel(c.Request.Context(), it.ID)
	if err != nil {
		writeError(c, h.log(), err)
		return
	}
	c.JSON(http.StatusOK, out)
}
