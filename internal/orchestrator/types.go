// Package orchestrator is the per-session conversation and result state machine.
package orchestrator

import (
	"context"
	"errors"

	"github.com/eternisai/saimilar/internal/analyzer"
	"github.com/eternisai/saimilar/internal/locale"
	"github.com/eternisai/saimilar/internal/media"
	"github.com/eternisai/saimilar/internal/settings"
)

var (
	ErrAuthRequired    = errors.New("authentication required")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session closed")
	ErrEmptyQuery      = errors.New("query must be non-empty")
	ErrItemNotFound    = errors.New("item not found")
	ErrInvalidViewMode = errors.New("invalid view mode")
	ErrSessionNotOwned = errors.New("session belongs to another user")

	// ErrBusy is returned by LoadMore while a fresh query is still running.
	ErrBusy = errors.New("a search is already in progress")

	// ErrSuperseded is returned when a newer operation replaced the state this
	// call was producing. Its results were discarded.
	ErrSuperseded = errors.New("superseded by a newer request")
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one chat message.
type Turn struct {
	ID               string                  `json:"id"`
	Role             Role                    `json:"role"`
	Text             string                  `json:"text"`
	SuggestedFilters []analyzer.FilterOption `json:"suggested_filters,omitempty"`
}

type ViewMode string

const (
	ViewRecommendations ViewMode = "recommendations"
	ViewWishlist        ViewMode = "wishlist"
	ViewWatched         ViewMode = "watched"
)

func (m ViewMode) Valid() bool {
	switch m {
	case ViewRecommendations, ViewWishlist, ViewWatched:
		return true
	}
	return false
}

// HistoryFrame is the undo checkpoint taken before results are replaced.
type HistoryFrame struct {
	Results      []media.Item `json:"results"`
	Conversation []Turn       `json:"conversation"`
	QueryLabel   string       `json:"query_label"`
	ViewMode     ViewMode     `json:"view_mode"`
}

// Plan names the branch a lookup took.
type Plan string

const (
	PlanRandom   Plan = "random"
	PlanTitles   Plan = "titles"
	PlanSimilar  Plan = "similar"
	PlanDiscover Plan = "discover"
	PlanSearch   Plan = "search"
	PlanNone     Plan = "none"
)

// Outcome describes a finished submission.
type Outcome struct {
	Intent *analyzer.SearchIntent `json:"intent"`
	Plan   Plan                   `json:"plan"`
	Added  int                    `json:"added"`
}

// Analyzer produces intents. It must not fail; failures are encoded in the intent.
type Analyzer interface {
	Analyze(ctx context.Context, req analyzer.Request) *analyzer.SearchIntent
}

// MediaLookup is the metadata collaborator. Every call returns empty results
// instead of an error.
type MediaLookup interface {
	Search(ctx context.Context, query string, mediaType media.MediaType, lang locale.Language) []media.Item
	FetchByTitles(ctx context.Context, titles []string, mediaType media.MediaType, lang locale.Language) []media.Item
	ResolveID(ctx context.Context, title string, mediaType media.MediaType, lang locale.Language) (int64, bool)
	Similar(ctx context.Context, id int64, mediaType media.MediaType, lang locale.Language) []media.Item
	Discover(ctx context.Context, genres, keywords []string, mediaType media.MediaType, lang locale.Language) []media.Item
	RandomDiscover(ctx context.Context, mediaType media.MediaType, lang locale.Language) []media.Item
	Details(ctx context.Context, id int64, mediaType media.MediaType, lang locale.Language) *media.Item
}

// SettingsStore persists settings by owner id.
type SettingsStore interface {
	Load(ownerID string) (settings.Settings, error)
	Save(ownerID string, s settings.Settings) error
}
