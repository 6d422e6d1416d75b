package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"omnichat-platform/internal/audit"
	"omnichat-platform/internal/auth"
	"omnichat-platform/internal/campaigns"
	"omnichat-platform/internal/connections"
	"omnichat-platform/internal/inbound"
	"omnichat-platform/internal/rbac"
	"omnichat-platform/internal/reporting"
	"omnichat-platform/internal/schedules"
	"omnichat-platform/internal/tenants"
	"omnichat-platform/internal/tickets"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth        *auth.Manager
	Inbound     *inbound.Service
	Resolver    *tickets.Resolver
	Tickets     *tickets.Service
	Schedules   *schedules.Service
	Campaigns   *campaigns.Dispatcher
	Connections *connections.Service
	Companies   *tenants.Service
	Reports     *reporting.Service
	Audit       *audit.Service
	Logger      *slog.Logger

	// DevLogin enables POST /v1/auth/login without credential checks.
	DevLogin bool
}

func (h Handlers) log() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// identity returns the caller or aborts with 401.
func identity(c *gin.Context) (auth.Identity, bool) {
	id, err := auth.FromContext(c.Request.Context())
	if err != nil {
		abort(c, http.StatusUnauthorized, CodeUnauthorized, "authentication required")
		return auth.Identity{}, false
	}
	return id, true
}

// withClientIP makes the resolved client IP available to audit logging.
func withClientIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(audit.WithClientIP(c.Request.Context(), c.ClientIP()))
		c.Next()
	}
}

// --- Auth ---

type loginRequest struct {
	UserID    string `json:"user_id"`
	CompanyID string `json:"company_id"`
	Role      string `json:"role"`
}

// Login issues a JWT pair for the given identity. Development only: it does
// not check credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil || !h.DevLogin {
		abort(c, http.StatusNotFound, CodeNotFound, "login disabled")
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, CodeInvalidRequest, "invalid json")
		return
	}
	if req.UserID == "" || req.CompanyID == "" || !rbac.Known(req.Role) {
		abort(c, http.StatusBadRequest, CodeValidationFailed, "user_id, company_id and a known role are required")
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), auth.Identity{UserID: req.UserID, CompanyID: req.CompanyID, Role: req.Role})
	if err != nil {
		writeError(c, h.log(), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	Role         string `json:"role"`
}

func (h Handlers) Refresh(c *gin.Context) {
	if h.Auth == nil {
		abort(c, http.StatusInternalServerError, CodeNotConfigured, "auth not configured")
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		abort(c, http.StatusBadRequest, CodeInvalidRequest, "refresh_token required")
		return
	}
	if !rbac.Known(req.Role) {
		abort(c, http.StatusBadRequest, CodeValidationFailed, "unknown role")
		return
	}
	pair, err := h.Auth.Refresh(time.Now(), req.RefreshToken, req.Role)
	if err != nil {
		abort(c, http.StatusUnauthorized, CodeUnauthorized, "invalid refresh token")
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Webhooks ---

// Webhook accepts a gateway envelope. The path token identifies the connection.
func (h Handlers) Webhook(c *gin.Context) {
	if h.Inbound == nil {
		abort(c, http.StatusInternalServerError, CodeNotConfigured, "inbound not configured")
		return
	}
	res, err := h.Inbound.HandleWebhook(c.Request.Context(), c.Param("token"), c.Request.Body)
	if err != nil {
		writeError(c, h.log(), err)
		return
	}
	c.JSON(http.StatusOK, res)
}
