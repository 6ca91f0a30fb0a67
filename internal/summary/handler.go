package summary

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/eternisai/saimilar/internal/auth"
	apierrors "github.com/eternisai/saimilar/internal/errors"
	"github.com/eternisai/saimilar/internal/locale"
	"github.com/eternisai/saimilar/internal/logger"
	"github.com/eternisai/saimilar/internal/media"
	"github.com/eternisai/saimilar/internal/settings"
)

// SettingsLoader is satisfied by *settings.Store.
type SettingsLoader interface {
	Load(ownerID string) (settings.Settings, error)
}

type Handler struct {
	service  *Service
	settings SettingsLoader
	logger   *logger.Logger
}

// NewHandler serves summaries. loader may be nil; default settings apply then.
func NewHandler(service *Service, loader SettingsLoader, log *logger.Logger) *Handler {
	return &Handler{service: service, settings: loader, logger: log.WithComponent("summary_handler")}
}

func (h *Handler) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/summaries", h.Summarize)
}

type summarizeRequest struct {
	Item      media.Item `json:"item"`
	Language  string     `json:"language"`
	SessionID string     `json:"session_id"`
}

// Summarize resolves the provider from the caller's settings (the user's, or
// the guest session's) and returns the summary. It only fails on bad input.
func (h *Handler) Summarize(c *gin.Context) {
	var req summarizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithBadRequest(c, "Invalid request body", map[string]any{"error": err.Error()})
		return
	}
	if req.Item.ID == 0 || strings.TrimSpace(req.Item.Title) == "" {
		apierrors.AbortWithBadRequest(c, "item id and title are required", nil)
		return
	}

	prefs := settings.Defaults()
	owner, _ := auth.GetUserID(c)
	if owner == "" {
		owner = req.SessionID
	}
	if h.settings != nil && owner != "" {
		loaded, err := h.settings.Load(owner)
		if err != nil {
			h.logger.WithContext(c.Request.Context()).Warn("using default settings", slog.String("error", err.Error()))
		} else {
			prefs = loaded
		}
	}

	lang := prefs.Language
	if req.Language != "" {
		lang = locale.Parse(req.Language)
	}

	result := h.service.Summarize(c.Request.Context(), req.Item, lang, prefs.Provider)
	c.JSON(http.StatusOK, result)
}
