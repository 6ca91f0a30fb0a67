// Package summary generates spoiler-free summaries for titles.
package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"

	"github.com/eternisai/saimilar/internal/llm"
	"github.com/eternisai/saimilar/internal/locale"
	"github.com/eternisai/saimilar/internal/logger"
	"github.com/eternisai/saimilar/internal/media"
	"github.com/eternisai/saimilar/internal/storage/kv"
)

const (
	// DefaultTTL is how long a generated summary stays in the local cache.
	DefaultTTL = 72 * time.Hour

	unknownTone = "Unknown"
	perplexity  = "perplexity"
)

type Summary struct {
	Summary     string  `json:"summary" firestore:"summary"`
	Tone        string  `json:"tone" firestore:"tone"`
	SpoilerRisk float64 `json:"spoiler_risk" firestore:"spoiler_risk"`
}

type Invoker interface {
	Invoke(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// GlobalCache is a cache shared by every user and instance.
type GlobalCache interface {
	Get(ctx context.Context, movieID int64, lang locale.Language) (*Summary, error)
	Put(ctx context.Context, item media.Item, lang locale.Language, summary Summary) error
}

type Config struct {
	// PerplexityModel is tried first when the caller's provider is perplexity.
	PerplexityModel string
	// DefaultModel is the model used otherwise, and the perplexity fallback.
	DefaultModel string
	TTL          time.Duration
}

type Service struct {
	invoker Invoker
	cache   *kv.Store
	global  GlobalCache
	config  Config
	group   singleflight.Group
	logger  *logger.Logger
}

// NewService creates a summary service. cache and global may be nil.
func NewService(invoker Invoker, cache *kv.Store, global GlobalCache, cfg Config, log *logger.Logger) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.PerplexityModel == "" {
		cfg.PerplexityModel = "sonar"
	}
	return &Service{
		invoker: invoker,
		cache:   cache,
		global:  global,
		config:  cfg,
		logger:  log.WithComponent("summary"),
	}
}

func cacheKey(movieID int64, lang locale.Language) string {
	return "summary:" + strconv.FormatInt(movieID, 10) + ":" + string(lang)
}

// Summarize never fails. When no model produces a summary the item overview
// is returned with an Unknown tone.
func (s *Service) Summarize(ctx context.Context, item media.Item, lang locale.Language, provider string) Summary {
	if !lang.Valid() {
		lang = locale.Default
	}
	key := cacheKey(item.ID, lang)
	log := s.logger.WithContext(ctx)

	if cached, ok := s.local(key); ok {
		return cached
	}

	v, _, _ := s.group.Do(key+":"+strings.ToLower(provider), func() (interface{}, error) {
		if s.global != nil {
			shared, err := s.global.Get(ctx, item.ID, lang)
			if err != nil {
				log.Warn("global summary lookup failed", slog.Int64("movie_id", item.ID), slog.String("error", err.Error()))
			} else if shared != nil {
				s.store(key, *shared)
				return *shared, nil
			}
		}

		generated, err := s.generate(ctx, item, lang, provider)
		if err != nil {
			log.LogError(ctx, err, "summary generation failed", slog.Int64("movie_id", item.ID))
			return fallback(item, lang), nil
		}

		s.store(key, generated)
		if s.global != nil {
			if err := s.global.Put(ctx, item, lang, generated); err != nil {
				log.Warn("failed to save global summary", slog.Int64("movie_id", item.ID), slog.String("error", err.Error()))
			}
		}
		return generated, nil
	})

	return v.(Summary)
}

func (s *Service) local(key string) (Summary, bool) {
	if s.cache == nil {
		return Summary{}, false
	}
	var cached Summary
	found, err := s.cache.Get(key, &cached)
	if err != nil {
		s.logger.Warn("summary cache read failed", slog.String("key", key), slog.String("error", err.Error()))
		return Summary{}, false
	}
	return cached, found
}

func (s *Service) store(key string, summary Summary) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(key, summary, s.config.TTL); err != nil {
		s.logger.Warn("summary cache write failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}

func (s *Service) models(provider string) []string {
	if strings.EqualFold(strings.TrimSpace(provider), perplexity) {
		return []string{s.config.PerplexityModel, s.config.DefaultModel}
	}
	return []string{s.config.DefaultModel}
}

func (s *Service) generate(ctx context.Context, item media.Item, lang locale.Language, provider string) (Summary, error) {
	prompt, err := buildPrompt(item, lang)
	if err != nil {
		return Summary{}, err
	}

	var errs []error
	for _, model := range s.models(provider) {
		resp, err := s.invoker.Invoke(ctx, llm.Request{
			Messages:     []llm.Message{{Role: llm.RoleUser, Content: prompt}},
			WantJSON:     true,
			ModelKey:     model,
			QueryExcerpt: "summary: " + item.Title,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}

		var summary Summary
		if err := json.Unmarshal([]byte(resp.Text), &summary); err != nil {
			errs = append(errs, fmt.Errorf("decode summary from %s: %w", model, err))
			continue
		}
		if strings.TrimSpace(summary.Summary) == "" {
			errs = append(errs, fmt.Errorf("empty summary from %s", model))
			continue
		}
		return summary, nil
	}

	return Summary{}, errors.Join(errs...)
}

func fallback(item media.Item, lang locale.Language) Summary {
	text := item.Overview
	if strings.TrimSpace(text) == "" {
		text = lang.T(locale.NoSummary)
	}
	return Summary{Summary: text, Tone: unknownTone}
}
