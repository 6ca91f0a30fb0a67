package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/eternisai/saimilar/internal/analyzer"
	"github.com/eternisai/saimilar/internal/auth"
	apierrors "github.com/eternisai/saimilar/internal/errors"
	"github.com/eternisai/saimilar/internal/harness"
	"github.com/eternisai/saimilar/internal/logger"
	"github.com/eternisai/saimilar/internal/media"
	"github.com/eternisai/saimilar/internal/overlay"
	"github.com/eternisai/saimilar/internal/settings"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Handler struct {
	manager  *Manager
	profiles auth.ProfileStore
	logger   *logger.Logger
}

func NewHandler(manager *Manager, profiles auth.ProfileStore, log *logger.Logger) *Handler {
	return &Handler{manager: manager, profiles: profiles, logger: log.WithComponent("session_handler")}
}

// RegisterRoutes mounts the session API on group. The group must run
// auth.Middleware.OptionalAuth.
func (h *Handler) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/sessions", h.Create)

	sessions := group.Group("/sessions/:id")
	sessions.GET("", h.Get)
	sessions.DELETE("", h.Delete)
	sessions.POST("/messages", h.Submit)
	sessions.POST("/load-more", h.LoadMore)
	sessions.POST("/filters", h.ApplyFilter)
	sessions.POST("/random", h.Random)
	sessions.POST("/back", h.GoBack)
	sessions.POST("/reset", h.Reset)
	sessions.PUT("/view", h.SetViewMode)
	sessions.POST("/details", h.OpenDetails)
	sessions.DELETE("/details", h.CloseDetails)
	sessions.POST("/similar", h.FindSimilar)
	sessions.POST("/rate", h.Rate)
	sessions.POST("/wishlist", h.ToggleWishlist)
	sessions.POST("/watched", h.ToggleWatched)
	sessions.GET("/settings", h.GetSettings)
	sessions.PUT("/settings", h.UpdateSettings)
	sessions.PUT("/test-mode", h.SetTestMode)
	sessions.GET("/test-log", h.TestLog)
	sessions.DELETE("/test-log", h.ClearTestLog)
	sessions.GET("/test-log/ws", h.StreamTestLog)
}

// profile resolves the caller's profile, nil for guests.
func (h *Handler) profile(c *gin.Context) (*auth.Profile, bool) {
	identity, ok := auth.GetIdentity(c)
	if !ok {
		return nil, true
	}
	profile, err := h.profiles.EnsureProfile(c.Request.Context(), identity)
	if err != nil {
		h.logger.LogError(c.Request.Context(), err, "failed to load profile", slog.String("user_id", identity.UserID))
		apierrors.AbortWithInternal(c, "Failed to load profile", nil)
		return nil, false
	}
	return profile, true
}

// session loads the session named in the path. A signed-in session only
// accepts its own user; a guest session is adopted by the first user that
// signs in to it.
func (h *Handler) session(c *gin.Context) (*Session, bool) {
	sessionID := c.Param("id")
	session, err := h.manager.Get(sessionID)
	if err != nil {
		apierrors.AbortWithNotFound(c, "Session not found", map[string]any{"session_id": sessionID})
		return nil, false
	}
	c.Request = c.Request.WithContext(logger.WithSessionID(c.Request.Context(), sessionID))

	callerID, _ := auth.GetUserID(c)
	if !session.Owns(callerID) {
		apierrors.AbortWithForbidden(c, apierrors.SessionNotOwned(sessionID))
		return nil, false
	}
	if callerID != session.UserID() {
		profile, ok := h.profile(c)
		if !ok {
			return nil, false
		}
		session.OnAuthChange(c.Request.Context(), profile)
	}
	return session, true
}

// respond writes the session snapshot, or the error mapped to a status.
func (h *Handler) respond(c *gin.Context, session *Session, operation string, err error, extra gin.H) {
	if err != nil {
		switch {
		case errors.Is(err, ErrAuthRequired):
			apierrors.AbortWithAuthRequired(c, operation)
		case errors.Is(err, ErrEmptyQuery), errors.Is(err, ErrInvalidViewMode), errors.Is(err, overlay.ErrInvalidRating):
			apierrors.AbortWithBadRequest(c, err.Error(), nil)
		case errors.Is(err, ErrItemNotFound):
			apierrors.AbortWithNotFound(c, err.Error(), nil)
		case errors.Is(err, ErrSessionClosed):
			apierrors.AbortWithNotFound(c, "Session not found", nil)
		case errors.Is(err, ErrSuperseded), errors.Is(err, ErrBusy):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"error":    err.Error(),
				"snapshot": session.Snapshot(),
			})
		default:
			h.logger.LogError(c.Request.Context(), err, operation+" failed")
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
				"error":    err.Error(),
				"snapshot": session.Snapshot(),
			})
		}
		return
	}

	body := gin.H{"snapshot": session.Snapshot()}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) Create(c *gin.Context) {
	profile, ok := h.profile(c)
	if !ok {
		return
	}
	session := h.manager.Create(c.Request.Context(), profile)
	c.JSON(http.StatusCreated, gin.H{"snapshot": session.Snapshot()})
}

func (h *Handler) Get(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshot": session.Snapshot(), "history": session.Frames()})
}

func (h *Handler) Delete(c *gin.Context) {
	callerID, _ := auth.GetUserID(c)
	err := h.manager.Delete(c.Request.Context(), c.Param("id"), callerID)
	if errors.Is(err, ErrSessionNotOwned) {
		apierrors.AbortWithForbidden(c, apierrors.SessionNotOwned(c.Param("id")))
		return
	}
	if errors.Is(err, ErrSessionNotFound) {
		apierrors.AbortWithNotFound(c, "Session not found", map[string]any{"session_id": c.Param("id")})
		return
	}
	if err != nil {
		apierrors.AbortWithInternal(c, "Failed to delete session", map[string]any{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type submitRequest struct {
	Text string `json:"text" binding:"required"`
}

func (h *Handler) Submit(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithBadRequest(c, "Invalid request body", map[string]any{"error": err.Error()})
		return
	}
	outcome, err := session.Submit(c.Request.Context(), req.Text)
	h.respond(c, session, "submit", err, gin.H{"outcome": outcome})
}

func (h *Handler) LoadMore(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	outcome, err := session.LoadMore(c.Request.Context())
	h.respond(c, session, "load more", err, gin.H{"outcome": outcome})
}

func (h *Handler) ApplyFilter(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	var filter analyzer.FilterOption
	if err := c.ShouldBindJSON(&filter); err != nil || (filter.Value == "" && filter.Label == "") {
		apierrors.AbortWithBadRequest(c, "Invalid filter", nil)
		return
	}
	outcome, err := session.ApplyFilter(c.Request.Context(), filter)
	h.respond(c, session, "apply filter", err, gin.H{"outcome": outcome})
}

func (h *Handler) Random(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	outcome, err := session.Random(c.Request.Context())
	h.respond(c, session, "random", err, gin.H{"outcome": outcome})
}

func (h *Handler) GoBack(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	restored := session.GoBack()
	h.respond(c, session, "back", nil, gin.H{"restored": restored})
}

func (h *Handler) Reset(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	session.Reset()
	h.respond(c, session, "reset", nil, nil)
}

type viewRequest struct {
	Mode ViewMode `json:"mode" binding:"required"`
}

func (h *Handler) SetViewMode(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	var req viewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithBadRequest(c, "Invalid request body", map[string]any{"error": err.Error()})
		return
	}
	h.respond(c, session, "set view", session.SetViewMode(req.Mode), nil)
}

type detailsRequest struct {
	ID        int64  `json:"id" binding:"required"`
	MediaType string `json:"media_type"`
}

func (h *Handler) OpenDetails(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	var req detailsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithBadRequest(c, "Invalid request body", map[string]any{"error": err.Error()})
		return
	}
	var mediaType media.MediaType
	if req.MediaType != "" {
		mediaType = media.ParseMediaType(req.MediaType)
	}
	item, err := session.OpenDetails(c.Request.Context(), req.ID, mediaType)
	h.respond(c, session, "details", err, gin.H{"item": item})
}

func (h *Handler) CloseDetails(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	session.CloseDetails()
	h.respond(c, session, "close details", nil, nil)
}

type similarRequest struct {
	ID int64 `json:"id" binding:"required"`
}

func (h *Handler) FindSimilar(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	var req similarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithBadRequest(c, "Invalid request body", map[string]any{"error": err.Error()})
		return
	}
	outcome, err := session.FindSimilar(c.Request.Context(), req.ID)
	h.respond(c, session, "find similar", err, gin.H{"outcome": outcome})
}

type rateRequest struct {
	Item  media.Item `json:"item"`
	Score int        `json:"score"`
}

type itemRequest struct {
	Item media.Item `json:"item"`
}

func (h *Handler) Rate(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	var req rateRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Item.ID == 0 {
		apierrors.AbortWithBadRequest(c, "Invalid request body", nil)
		return
	}
	h.respond(c, session, "rating", session.Rate(c.Request.Context(), req.Item, req.Score), nil)
}

func (h *Handler) ToggleWishlist(c *gin.Context) {
	h.toggle(c, "wishlist", (*Session).ToggleWishlist)
}

func (h *Handler) ToggleWatched(c *gin.Context) {
	h.toggle(c, "watched list", (*Session).ToggleWatched)
}

func (h *Handler) toggle(c *gin.Context, operation string, fn func(*Session, context.Context, media.Item) (bool, error)) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	var req itemRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Item.ID == 0 {
		apierrors.AbortWithBadRequest(c, "Invalid request body", nil)
		return
	}
	present, err := fn(session, c.Request.Context(), req.Item)
	h.respond(c, session, operation, err, gin.H{"present": present})
}

func (h *Handler) GetSettings(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, session.Settings().Redacted())
}

func (h *Handler) UpdateSettings(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	var patch settings.Settings
	if err := c.ShouldBindJSON(&patch); err != nil {
		apierrors.AbortWithBadRequest(c, "Invalid request body", map[string]any{"error": err.Error()})
		return
	}
	updated, err := session.UpdateSettings(patch)
	if err != nil {
		apierrors.AbortWithBadRequest(c, err.Error(), nil)
		return
	}
	c.JSON(http.StatusOK, updated.Redacted())
}

type testModeRequest struct {
	Enabled bool     `json:"enabled"`
	Models  []string `json:"models"`
}

func (h *Handler) SetTestMode(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	var req testModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithBadRequest(c, "Invalid request body", map[string]any{"error": err.Error()})
		return
	}
	session.SetTestMode(req.Enabled, req.Models)
	h.respond(c, session, "test mode", nil, nil)
}

func (h *Handler) TestLog(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": session.TestLog().Entries()})
}

func (h *Handler) ClearTestLog(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	session.TestLog().Clear()
	c.Status(http.StatusNoContent)
}

// StreamTestLog streams test log updates. Streams never change the session
// identity; a caller other than the session's user is rejected.
func (h *Handler) StreamTestLog(c *gin.Context) {
	sessionID := c.Param("id")
	session, err := h.manager.Get(sessionID)
	if err != nil {
		apierrors.AbortWithNotFound(c, "Session not found", map[string]any{"session_id": sessionID})
		return
	}

	callerID, _ := auth.GetUserID(c)
	if !session.Owns(callerID) {
		apierrors.AbortWithForbidden(c, apierrors.SessionNotOwned(sessionID))
		return
	}

	ctx := logger.WithSessionID(c.Request.Context(), sessionID)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithContext(ctx).Error("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	harness.Stream(ctx, conn, session.TestLog(), h.logger)
}
