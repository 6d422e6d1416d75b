package httpapi

import (
	"omnichat-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Register wires the public and /v1 routes. authMW must attach an
// auth.Identity to the request context.
func Register(r gin.IRouter, h Handlers, authMW gin.HandlerFunc) {
	r.POST("/webhooks/:token", h.Webhook)

	v1 := r.Group("/v1")
	v1.Use(withClientIP())

	authGroup := v1.Group("/auth")
	authGroup.POST("/login", h.Login)
	authGroup.POST("/refresh", h.Refresh)

	api := v1.Group("")
	api.Use(authMW, rbac.RequireCompany())

	agents := rbac.RequireAnyRole(rbac.RoleAgent, rbac.RoleSupervisor)
	supervisors := rbac.RequireAnyRole(rbac.RoleSupervisor)
	admins := rbac.RequireAnyRole(rbac.RoleAdmin)

	t := api.Group("/tickets", agents)
	t.POST("", h.OpenTicket)
	t.GET("/:id", h.GetTicket)
	t.POST("/:id/accept", h.AcceptTicket)
	t.POST("/:id/close", h.CloseTicket)
	t.POST("/:id/transfer", h.TransferTicket)
	t.POST("/:id/rating", h.RateTicket)
	api.POST("/tickets/:id/connection", supervisors, h.MoveTicketConnection)
	api.DELETE("/tickets/:id", admins, h.DeleteTicket)

	s := api.Group("/schedules", agents)
	s.POST("", h.CreateSchedule)
	s.GET("", h.ListSchedules)
	s.GET("/:id", h.GetSchedule)
	s.PUT("/:id", h.RescheduleSchedule)
	s.POST("/:id/cancel", h.CancelSchedule)

	c := api.Group("/campaigns", supervisors)
	c.POST("/:id/cancel", h.CancelCampaign)
	c.GET("/:id/report", h.CampaignReport)
	api.POST("/campaign-shippings/:id/confirm", agents, h.ConfirmShipping)

	api.GET("/company", supervisors, h.GetCompany)
	api.PUT("/company", admins, h.UpdateCompany)
	api.PUT("/connections/:id", admins, h.UpdateConnection)
	api.GET("/reports/tickets", supervisors, h.TicketsReport)
}
