package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eternisai/saimilar/internal/analyzer"
	"github.com/eternisai/saimilar/internal/auth"
	"github.com/eternisai/saimilar/internal/harness"
	"github.com/eternisai/saimilar/internal/llm"
	"github.com/eternisai/saimilar/internal/locale"
	"github.com/eternisai/saimilar/internal/logger"
	"github.com/eternisai/saimilar/internal/media"
	"github.com/eternisai/saimilar/internal/overlay"
	"github.com/eternisai/saimilar/internal/settings"
)

const (
	greetingID        = "init"
	typeCategory      = "Type"
	randomQueryLabel  = "Random"
	loadMoreQuery     = "Show me more recommendations similar to the previous request"
	exclusionTemplate = ". IMPORTANT: Exclude these titles: "
)

// Deps are the collaborators shared by every session.
type Deps struct {
	Analyzer Analyzer
	Media    MediaLookup

	// Overlays backs signed-in users' lists. Without it every user gets an
	// in-memory store.
	Overlays overlay.Store
	Settings SettingsStore

	// Harness may be nil; test mode then has no effect.
	Harness *harness.Runner
	Logger  *logger.Logger
}

// SessionContext is the identity a session starts with.
type SessionContext struct {
	ID      string
	Profile *auth.Profile
}

// Session owns one conversation, its result set and undo stack. Operations
// are safe for concurrent use; network calls run without the lock held and
// their results are dropped when a newer operation bumped the generation.
type Session struct {
	id      string
	deps    Deps
	logger  *logger.Logger
	tasks   *harness.Tasks
	testLog *harness.Log
	newID   func() string
	now     func() time.Time

	mu           sync.Mutex
	closed       bool
	generation   uint64
	profile      *auth.Profile
	overlay      *overlay.Overlay
	settings     settings.Settings
	conversation []Turn
	results      []media.Item
	mediaType    media.MediaType
	history      []HistoryFrame
	viewMode     ViewMode
	typing       bool
	loading      bool
	loadingMore  bool
	detail       *media.Item
	detailSeq    uint64
	testMode     bool
	testModels   []string
	lastActive   time.Time
}

// NewSession creates a session with a greeting turn. The user's overlay and
// settings are loaded; load failures are logged and leave defaults in place.
func NewSession(ctx context.Context, sc SessionContext, deps Deps) *Session {
	if sc.ID == "" {
		sc.ID = uuid.New().String()
	}
	if deps.Overlays == nil {
		deps.Overlays = overlay.NewMemoryStore()
	}

	s := &Session{
		id:       sc.ID,
		deps:     deps,
		logger:   deps.Logger.WithComponent("orchestrator"),
		tasks:    harness.NewTasks(context.Background()),
		testLog:  harness.NewLog(),
		newID:    func() string { return uuid.New().String() },
		now:      time.Now,
		settings: settings.Defaults(),
		viewMode: ViewRecommendations,
	}
	s.lastActive = s.now()
	s.OnAuthChange(ctx, sc.Profile)
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) TestLog() *harness.Log { return s.testLog }

// LastActive is the time of the most recent operation.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) ctx(ctx context.Context) context.Context {
	return logger.WithSessionID(ctx, s.id)
}

// ownerID keys settings: the user id when signed in, the session id for guests.
func (s *Session) ownerIDLocked() string {
	if s.profile != nil {
		return s.profile.ID
	}
	return s.id
}

// Owns reports whether userID may act on the session. Guest sessions are open
// to everyone until a user signs in to them.
func (s *Session) Owns(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile == nil || s.profile.ID == userID
}

// UserID returns the signed-in user id, or "" for guests.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return ""
	}
	return s.profile.ID
}

func (s *Session) touchLocked() {
	s.lastActive = s.now()
}

// beginLocked bumps the generation and returns it.
func (s *Session) beginLocked() uint64 {
	s.generation++
	s.touchLocked()
	return s.generation
}

func (s *Session) langLocked() locale.Language {
	if s.settings.Language.Valid() {
		return s.settings.Language
	}
	return locale.Default
}

func (s *Session) greetingLocked() Turn {
	lang := s.langLocked()
	filters := make([]analyzer.FilterOption, 0, 4)
	for _, key := range []locale.Key{locale.TypeMovies, locale.TypeTVShows, locale.TypeAnime, locale.TypeCartoons} {
		label := lang.T(key)
		filters = append(filters, analyzer.FilterOption{Category: typeCategory, Label: label, Value: label})
	}
	return Turn{ID: greetingID, Role: RoleAssistant, Text: lang.T(locale.Welcome), SuggestedFilters: filters}
}

// clearLocked starts a fresh conversation. It is the shared part of reset,
// sign-in changes and model switches.
func (s *Session) clearLocked() {
	s.beginLocked()
	s.conversation = []Turn{s.greetingLocked()}
	s.results = nil
	s.mediaType = media.Movie
	s.history = nil
	s.clearDetailLocked()
	s.viewMode = ViewRecommendations
	s.typing, s.loading, s.loadingMore = false, false, false
}

// Reset clears the conversation to a fresh greeting and drops results and the undo stack.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

// GoBack restores the most recent history frame. It is a no-op on an empty stack.
func (s *Session) GoBack() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.history) == 0 {
		return false
	}
	s.beginLocked()

	frame := s.history[len(s.history)-1]
	s.history = s.history[:len(s.history)-1]

	s.results = frame.Results
	s.conversation = frame.Conversation
	s.viewMode = frame.ViewMode
	s.clearDetailLocked()
	s.typing, s.loading, s.loadingMore = false, false, false
	return true
}

func (s *Session) SetViewMode(mode ViewMode) error {
	if !mode.Valid() {
		return ErrInvalidViewMode
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	s.viewMode = mode
	return nil
}

// OnAuthChange swaps the session identity and resets session-scoped state:
// conversation, results, history and overlays. A nil profile signs out.
func (s *Session) OnAuthChange(ctx context.Context, profile *auth.Profile) {
	ctx = s.ctx(ctx)

	s.mu.Lock()
	s.profile = profile
	s.overlay = nil
	var ov *overlay.Overlay
	if profile != nil {
		ov = overlay.New(s.deps.Overlays, profile.ID)
		s.overlay = ov
	}

	loaded := settings.Defaults()
	if s.deps.Settings != nil {
		stored, err := s.deps.Settings.Load(s.ownerIDLocked())
		if err != nil {
			s.logger.LogError(ctx, err, "failed to load settings")
		} else {
			loaded = stored
		}
	}
	s.settings = loaded
	s.clearLocked()
	s.mu.Unlock()

	if ov != nil {
		if err := ov.Load(ctx); err != nil {
			s.logger.LogError(ctx, err, "failed to load overlay", slog.String("user_id", profile.ID))
		}
	}
}

// Settings returns the current settings.
func (s *Session) Settings() settings.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// UpdateSettings merges the patch, saves it and applies it. Switching the
// active model starts a fresh conversation.
func (s *Session) UpdateSettings(patch settings.Settings) (settings.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.settings.Merge(patch)
	if err := next.Validate(); err != nil {
		return s.settings, err
	}
	if s.deps.Settings != nil {
		if err := s.deps.Settings.Save(s.ownerIDLocked(), next); err != nil {
			return s.settings, err
		}
	}

	modelChanged := !strings.EqualFold(next.ActiveModel, s.settings.ActiveModel)
	s.settings = next
	s.touchLocked()
	if modelChanged {
		s.clearLocked()
	}
	return next, nil
}

// SetTestMode configures the parallel test harness for later submissions.
func (s *Session) SetTestMode(enabled bool, models []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.testMode = enabled
	s.testModels = s.testModels[:0]
	for _, m := range models {
		if m = strings.TrimSpace(m); m != "" {
			s.testModels = append(s.testModels, m)
		}
	}
}

// OpenDetails fetches full details for an item. When the lookup fails it falls
// back to the item from the current results or the user's lists. The user's
// rating is overlaid from watched, then from the current results. A lookup
// that finishes after the detail view was closed or replaced returns
// ErrSuperseded and leaves the view alone.
func (s *Session) OpenDetails(ctx context.Context, id int64, mediaType media.MediaType) (*media.Item, error) {
	ctx = s.ctx(ctx)

	s.mu.Lock()
	s.touchLocked()
	s.detailSeq++
	seq := s.detailSeq
	if mediaType == "" {
		mediaType = s.mediaType
	}
	lang := s.langLocked()
	known, found := s.findLocked(id)
	s.mu.Unlock()

	if found && known.MediaType != "" {
		mediaType = known.MediaType
	}

	item := s.deps.Media.Details(ctx, id, mediaType, lang)
	if item == nil {
		if !found {
			return nil, ErrItemNotFound
		}
		fallback := known
		if fallback.MediaType == "" {
			fallback.MediaType = mediaType
		}
		item = &fallback
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.detailSeq != seq {
		return nil, ErrSuperseded
	}
	if rating := s.ratingLocked(id); rating > 0 {
		item.UserRating = rating
	}
	s.detail = item
	out := *item
	return &out, nil
}

func (s *Session) CloseDetails() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearDetailLocked()
}

// clearDetailLocked closes the detail view and invalidates lookups in flight.
func (s *Session) clearDetailLocked() {
	s.detail = nil
	s.detailSeq++
}

// findLocked looks an item up in the detail view, results and user lists.
func (s *Session) findLocked(id int64) (media.Item, bool) {
	if s.detail != nil && s.detail.ID == id {
		return *s.detail, true
	}
	for _, item := range s.results {
		if item.ID == id {
			return item, true
		}
	}
	if s.overlay != nil {
		view := s.overlay.Optimistic()
		for _, c := range []overlay.Collection{overlay.Watched, overlay.Wishlist} {
			if record, ok := view.Find(c, id); ok {
				return record.Item(), true
			}
		}
	}
	return media.Item{}, false
}

// ratingLocked is the watched rating, or the rating on the current result copy.
func (s *Session) ratingLocked(id int64) int {
	if s.overlay != nil {
		if rating := s.overlay.Rating(id); rating > 0 {
			return rating
		}
	}
	for _, item := range s.results {
		if item.ID == id {
			return item.UserRating
		}
	}
	return 0
}

// Close cancels background harness runs and ends test log streams.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.generation++
	s.mu.Unlock()

	s.tasks.Close()
	s.testLog.CloseSubscribers()
}

func historyMessages(turns []Turn) []llm.Message {
	messages := make([]llm.Message, 0, len(turns))
	for _, turn := range turns {
		role := llm.RoleUser
		if turn.Role == RoleAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: turn.Text})
	}
	return messages
}

func cloneTurns(turns []Turn) []Turn {
	out := make([]Turn, len(turns))
	for i, turn := range turns {
		out[i] = turn
		out[i].SuggestedFilters = append([]analyzer.FilterOption(nil), turn.SuggestedFilters...)
	}
	return out
}

func cloneItems(items []media.Item) []media.Item {
	return append([]media.Item(nil), items...)
}
