package main

import (
	"log/slog"
	"net/http"
	"time"

	"omnichat-platform/internal/app"
	"omnichat-platform/internal/auth"
	"omnichat-platform/internal/httpapi"
	"omnichat-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers delegate to internal modules.
func registerRoutes(r *gin.Engine, a *app.App, log *slog.Logger, devLogin bool) {
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), a.DB, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "db": "down"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := httpapi.Handlers{
		Auth:        a.Auth,
		Inbound:     a.Inbound,
		Resolver:    a.Resolver,
		Tickets:     a.Tickets,
		Schedules:   a.Schedules,
		Campaigns:   a.Campaigns,
		Connections: a.Connections,
		Companies:   a.Companies,
		Reports:     a.Reports,
		Audit:       a.Audit,
		Logger:      log,
		DevLogin:    devLogin,
	}
	httpapi.Register(r, h, auth.RequireAccessToken(a.Auth))
}
