package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	apierrors "github.com/eternisai/saimilar/internal/errors"
	"github.com/eternisai/saimilar/internal/llm"
	"github.com/eternisai/saimilar/internal/locale"
	"github.com/eternisai/saimilar/internal/logger"
	"github.com/eternisai/saimilar/internal/media"
)

const (
	defaultImageSize  = "w500"
	imageCacheControl = "public, max-age=86400, immutable"
)

var (
	imageTransport *http.Transport
	transportOnce  sync.Once
)

func initImageTransport() {
	transportOnce.Do(func() {
		// Adds connection pooling.
		imageTransport = &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 50,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
	})
}

// Invoker is satisfied by *llm.Adapter.
type Invoker interface {
	Invoke(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// ModelLister is satisfied by *llm.Catalog.
type ModelLister interface {
	Models() []llm.Model
	Default() llm.Model
	AnalyzerDefault() llm.Model
}

// Fetcher is satisfied by *media.Client.
type Fetcher interface {
	Fetch(ctx context.Context, endpoint string, params url.Values) ([]byte, error)
}

type Config struct {
	// ImageBaseURL is the TMDB image host, e.g. https://image.tmdb.org/t/p.
	ImageBaseURL string
}

// Handler holds the server-credentialed proxies: LLM calls, raw TMDB queries
// and poster images.
type Handler struct {
	invoker Invoker
	models  ModelLister
	tmdb    Fetcher
	images  *httputil.ReverseProxy
	logger  *logger.Logger
}

func NewHandler(invoker Invoker, models ModelLister, tmdb Fetcher, cfg Config, log *logger.Logger) (*Handler, error) {
	target, err := url.Parse(strings.TrimRight(cfg.ImageBaseURL, "/"))
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid image base url %q", cfg.ImageBaseURL)
	}

	h := &Handler{
		invoker: invoker,
		models:  models,
		tmdb:    tmdb,
		logger:  log.WithComponent("proxy"),
	}
	h.images = h.imageProxy(target)
	return h, nil
}

// RegisterRoutes mounts the proxies on root and the catalog on api.
func (h *Handler) RegisterRoutes(root *gin.RouterGroup, api *gin.RouterGroup) {
	root.POST("/api/llm", h.LLM)
	root.POST("/api/tmdb", h.TMDB)
	root.GET("/api/image", h.Image)
	api.GET("/models", h.Models)
}

type llmRequest struct {
	System   string        `json:"system"`
	Messages []llm.Message `json:"messages"`
	WantJSON bool          `json:"want_json"`
	Model    string        `json:"model"`
}

type llmResponse struct {
	Text  string         `json:"text"`
	Model string         `json:"model"`
	Usage llm.UsageStats `json:"usage"`
}

// LLM forwards one call through the provider adapter.
func (h *Handler) LLM(c *gin.Context) {
	var req llmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithBadRequest(c, "Invalid request body", map[string]any{"error": err.Error()})
		return
	}
	if len(req.Messages) == 0 {
		apierrors.AbortWithBadRequest(c, "messages must not be empty", nil)
		return
	}

	ctx := c.Request.Context()
	resp, err := h.invoker.Invoke(ctx, llm.Request{
		System:   req.System,
		Messages: req.Messages,
		WantJSON: req.WantJSON,
		ModelKey: req.Model,
	})
	if err != nil {
		h.abortWithLLMError(c, err)
		return
	}

	c.JSON(http.StatusOK, llmResponse{Text: resp.Text, Model: resp.Model.Key, Usage: resp.Usage})
}

func (h *Handler) abortWithLLMError(c *gin.Context, err error) {
	log := h.logger.WithContext(c.Request.Context())

	var quotaErr *llm.QuotaExceededError
	if errors.As(err, &quotaErr) {
		log.Warn("provider quota exceeded", slog.String("model", quotaErr.Model), slog.String("provider", quotaErr.Provider))
		apierrors.AbortWithQuotaExceeded(c, apierrors.ProviderQuotaExceeded(quotaErr.Model, quotaErr.Provider, locale.Default.T(locale.QuotaFallback)))
		return
	}

	var parseErr *llm.ResponseParseError
	if errors.As(err, &parseErr) {
		log.Warn("provider returned unparseable JSON", slog.String("model", parseErr.Model))
		apierrors.AbortWithBadGateway(c, "Provider returned an invalid JSON payload", map[string]any{"model": parseErr.Model})
		return
	}

	var callErr *llm.ProviderCallError
	if errors.As(err, &callErr) {
		log.Error("provider call failed",
			slog.String("model", callErr.Model),
			slog.String("provider", callErr.Provider),
			slog.String("error", callErr.Err.Error()))
		apierrors.AbortWithBadGateway(c, "Provider call failed", map[string]any{
			"model":    callErr.Model,
			"provider": callErr.Provider,
		})
		return
	}

	h.logger.LogError(c.Request.Context(), err, "llm proxy failed")
	apierrors.AbortWithInternal(c, "LLM call failed", nil)
}

type tmdbRequest struct {
	Endpoint string            `json:"endpoint" binding:"required"`
	Params   map[string]string `json:"params"`
	Language string            `json:"language"`
}

// TMDB performs a raw TMDB GET with the server's api key. The response body
// is passed through unchanged.
func (h *Handler) TMDB(c *gin.Context) {
	var req tmdbRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithBadRequest(c, "Invalid request body", map[string]any{"error": err.Error()})
		return
	}
	if !strings.HasPrefix(req.Endpoint, "/") {
		apierrors.AbortWithBadRequest(c, "endpoint must start with /", map[string]any{"endpoint": req.Endpoint})
		return
	}

	params := url.Values{}
	for key, value := range req.Params {
		if key == "api_key" {
			continue
		}
		params.Set(key, value)
	}
	if params.Get("language") == "" {
		params.Set("language", locale.Parse(req.Language).TMDB())
	}

	body, err := h.tmdb.Fetch(c.Request.Context(), req.Endpoint, params)
	if err != nil {
		var statusErr *media.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode < http.StatusInternalServerError {
			c.Data(statusErr.StatusCode, "application/json", statusErr.Body)
			return
		}
		h.logger.LogError(c.Request.Context(), err, "tmdb proxy failed", slog.String("endpoint", req.Endpoint))
		apierrors.AbortWithBadGateway(c, "TMDB request failed", map[string]any{"endpoint": req.Endpoint})
		return
	}

	c.Data(http.StatusOK, "application/json", body)
}

// Image streams a TMDB image. ?path= is required, ?size= defaults to w500.
func (h *Handler) Image(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		apierrors.AbortWithBadRequest(c, "path is required", nil)
		return
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if strings.Contains(path, "..") {
		apierrors.AbortWithBadRequest(c, "invalid image path", map[string]any{"path": path})
		return
	}

	size := c.DefaultQuery("size", defaultImageSize)
	if !validImageSize(size) {
		apierrors.AbortWithBadRequest(c, "invalid image size", map[string]any{"size": size})
		return
	}

	c.Request = c.Request.WithContext(withImagePath(c.Request.Context(), "/"+size+path))
	h.images.ServeHTTP(c.Writer, c.Request)
}

func (h *Handler) imageProxy(target *url.URL) *httputil.ReverseProxy {
	initImageTransport()

	return &httputil.ReverseProxy{
		Transport: imageTransport,
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(target)
			r.Out.URL.Path = target.Path + imagePath(r.In.Context())
			r.Out.URL.RawPath = ""
			r.Out.URL.RawQuery = ""
			r.Out.Host = target.Host
			r.Out.Header.Del("Authorization")
			r.Out.Header.Del("Cookie")
		},
		ModifyResponse: func(resp *http.Response) error {
			if resp.StatusCode == http.StatusOK {
				resp.Header.Set("Cache-Control", imageCacheControl)
			}
			resp.Header.Del("Set-Cookie")
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			h.logger.WithContext(r.Context()).Warn("image fetch failed", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusBadGateway)
		},
	}
}

// Models lists the model catalog.
func (h *Handler) Models(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"models":           h.models.Models(),
		"default":          h.models.Default().Key,
		"analyzer_default": h.models.AnalyzerDefault().Key,
	})
}

// validImageSize accepts TMDB size codes: original, wNNN or hNNN.
func validImageSize(size string) bool {
	if size == "original" {
		return true
	}
	if len(size) < 2 || (size[0] != 'w' && size[0] != 'h') {
		return false
	}
	n, err := strconv.Atoi(size[1:])
	return err == nil && n > 0 && n <= 4000
}

type imagePathKey struct{}

func withImagePath(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, imagePathKey{}, path)
}

func imagePath(ctx context.Context) string {
	path, _ := ctx.Value(imagePathKey{}).(string)
	return path
}
