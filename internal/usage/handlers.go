package usage

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eternisai/saimilar/internal/auth"
	apierrors "github.com/eternisai/saimilar/internal/errors"
	"github.com/eternisai/saimilar/internal/llm"
	"github.com/eternisai/saimilar/internal/logger"
)

const defaultTotalsWindowDays = 30

// AdminHandler serves the admin panel: profiles and LLM usage.
type AdminHandler struct {
	profiles auth.ProfileStore
	usageLog *llm.UsageLog
	ledger   *Ledger
	logger   *logger.Logger
}

// NewAdminHandler builds the handler. ledger may be nil when no database is
// configured; totals then come from the in-memory log only.
func NewAdminHandler(profiles auth.ProfileStore, usageLog *llm.UsageLog, ledger *Ledger, log *logger.Logger) *AdminHandler {
	return &AdminHandler{
		profiles: profiles,
		usageLog: usageLog,
		ledger:   ledger,
		logger:   log.WithComponent("admin"),
	}
}

// RegisterRoutes mounts the admin routes. The group must run
// auth.Middleware.RequireAuth.
func (h *AdminHandler) RegisterRoutes(group *gin.RouterGroup) {
	admin := group.Group("/admin", h.RequireAdmin())
	admin.GET("/users", h.ListUsers)
	admin.GET("/usage", h.Usage)
}

// RequireAdmin rejects callers whose profile role is not an admin role.
func (h *AdminHandler) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := auth.GetIdentity(c)
		if !ok {
			apierrors.AbortWithUnauthorized(c, "User not authenticated", nil)
			return
		}

		profile, err := h.profiles.EnsureProfile(c.Request.Context(), identity)
		if err != nil {
			h.logger.LogError(c.Request.Context(), err, "failed to load profile", slog.String("user_id", identity.UserID))
			apierrors.AbortWithInternal(c, "Failed to load profile", nil)
			return
		}
		if !profile.IsAdmin() {
			apierrors.AbortWithForbidden(c, apierrors.RoleRequired(profile.Role, auth.AdminRoles))
			return
		}
		c.Next()
	}
}

func (h *AdminHandler) ListUsers(c *gin.Context) {
	profiles, err := h.profiles.ListProfiles(c.Request.Context())
	if err != nil {
		h.logger.LogError(c.Request.Context(), err, "failed to list profiles")
		apierrors.AbortWithInternal(c, "Failed to list users", nil)
		return
	}
	if profiles == nil {
		profiles = []*auth.Profile{}
	}
	c.JSON(http.StatusOK, gin.H{"users": profiles, "count": len(profiles)})
}

// Usage returns the retained usage records, their totals and, when a ledger
// is configured, persisted totals per model for the last ?days= days.
func (h *AdminHandler) Usage(c *gin.Context) {
	days := defaultTotalsWindowDays
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			apierrors.AbortWithBadRequest(c, "days must be a positive integer", map[string]any{"days": raw})
			return
		}
		days = parsed
	}

	entries := h.usageLog.Entries()
	tokens, cost := h.usageLog.Totals()

	body := gin.H{
		"entries": entries,
		"totals": gin.H{
			"calls":         len(entries),
			"total_tokens":  tokens,
			"cost_estimate": cost,
		},
	}

	if h.ledger != nil {
		since := time.Now().UTC().AddDate(0, 0, -days)
		persisted, err := h.ledger.Totals(c.Request.Context(), since)
		if err != nil {
			h.logger.LogError(c.Request.Context(), err, "failed to read persisted usage totals")
			apierrors.AbortWithInternal(c, "Failed to read usage totals", nil)
			return
		}
		body["persisted"] = gin.H{
			"since":    since,
			"by_model": persisted,
		}
		body["dropped"] = h.ledger.Dropped()
	}

	c.JSON(http.StatusOK, body)
}
