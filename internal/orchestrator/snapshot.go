package orchestrator

import (
	"github.com/eternisai/saimilar/internal/auth"
	"github.com/eternisai/saimilar/internal/media"
	"github.com/eternisai/saimilar/internal/overlay"
	"github.com/eternisai/saimilar/internal/settings"
)

// OverlayState exposes both sides of the two-phase overlay.
type OverlayState struct {
	Optimistic overlay.View `json:"optimistic"`
	Confirmed  overlay.View `json:"confirmed"`
	Pending    int          `json:"pending"`
}

// Snapshot is a consistent copy of the session state.
type Snapshot struct {
	ID           string            `json:"id"`
	Profile      *auth.Profile     `json:"profile,omitempty"`
	Settings     settings.Settings `json:"settings"`
	Conversation []Turn            `json:"conversation"`
	Results      []media.Item      `json:"results"`
	MediaType    media.MediaType   `json:"media_type"`
	ViewMode     ViewMode          `json:"view_mode"`
	HistoryDepth int               `json:"history_depth"`
	Typing       bool              `json:"typing"`
	Loading      bool              `json:"loading"`
	LoadingMore  bool              `json:"loading_more"`
	Detail       *media.Item       `json:"detail,omitempty"`
	Overlay      *OverlayState     `json:"overlay,omitempty"`
	TestMode     bool              `json:"test_mode"`
	TestModels   []string          `json:"test_models"`
	Generation   uint64            `json:"generation"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:           s.id,
		Settings:     s.settings.Redacted(),
		Conversation: cloneTurns(s.conversation),
		Results:      cloneItems(s.results),
		MediaType:    s.mediaType,
		ViewMode:     s.viewMode,
		HistoryDepth: len(s.history),
		Typing:       s.typing,
		Loading:      s.loading,
		LoadingMore:  s.loadingMore,
		TestMode:     s.testMode,
		TestModels:   append([]string{}, s.testModels...),
		Generation:   s.generation,
	}
	if snap.Results == nil {
		snap.Results = []media.Item{}
	}
	if s.profile != nil {
		profile := *s.profile
		snap.Profile = &profile
	}
	if s.detail != nil {
		detail := *s.detail
		snap.Detail = &detail
	}
	if s.overlay != nil {
		snap.Overlay = &OverlayState{
			Optimistic: s.overlay.Optimistic(),
			Confirmed:  s.overlay.Confirmed(),
			Pending:    s.overlay.PendingCount(),
		}
	}
	return snap
}

// Frames returns a copy of the undo stack, oldest first.
func (s *Session) Frames() []HistoryFrame {
	s.mu.Lock()
	defer s.mu.Unlock()

	frames := make([]HistoryFrame, len(s.history))
	for i, f := range s.history {
		frames[i] = HistoryFrame{
			Results:      cloneItems(f.Results),
			Conversation: cloneTurns(f.Conversation),
			QueryLabel:   f.QueryLabel,
			ViewMode:     f.ViewMode,
		}
	}
	return frames
}
