package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eternisai/saimilar/internal/analyzer"
	"github.com/eternisai/saimilar/internal/auth"
	"github.com/eternisai/saimilar/internal/harness"
	"github.com/eternisai/saimilar/internal/locale"
	"github.com/eternisai/saimilar/internal/logger"
	"github.com/eternisai/saimilar/internal/media"
	"github.com/eternisai/saimilar/internal/overlay"
	"github.com/eternisai/saimilar/internal/settings"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: slog.LevelError})
}

type analyzerEmulator struct {
	mu       sync.Mutex
	requests []analyzer.Request
	analyze  func(req analyzer.Request) *analyzer.SearchIntent
}

func (e *analyzerEmulator) Analyze(_ context.Context, req analyzer.Request) *analyzer.SearchIntent {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	e.mu.Unlock()
	return e.analyze(req)
}

func (e *analyzerEmulator) last() analyzer.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requests[len(e.requests)-1]
}

func returning(intent *analyzer.SearchIntent) *analyzerEmulator {
	return &analyzerEmulator{analyze: func(analyzer.Request) *analyzer.SearchIntent {
		copied := *intent
		return &copied
	}}
}

type mediaEmulator struct {
	mu        sync.Mutex
	calls     []string
	search    []media.Item
	titles    []media.Item
	similar   []media.Item
	discover  []media.Item
	random    []media.Item
	resolveID int64
	details   map[int64]*media.Item
	panics    bool
}

func (m *mediaEmulator) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	if m.panics {
		panic("lookup exploded")
	}
}

func (m *mediaEmulator) Search(_ context.Context, query string, mt media.MediaType, _ locale.Language) []media.Item {
	m.record("search:" + query + ":" + string(mt))
	return m.search
}

func (m *mediaEmulator) FetchByTitles(_ context.Context, titles []string, mt media.MediaType, _ locale.Language) []media.Item {
	m.record("titles:" + strings.Join(titles, "|") + ":" + string(mt))
	return m.titles
}

func (m *mediaEmulator) ResolveID(_ context.Context, title string, _ media.MediaType, _ locale.Language) (int64, bool) {
	m.record("resolve:" + title)
	return m.resolveID, m.resolveID != 0
}

func (m *mediaEmulator) Similar(_ context.Context, _ int64, _ media.MediaType, _ locale.Language) []media.Item {
	m.record("similar")
	return m.similar
}

func (m *mediaEmulator) Discover(_ context.Context, genres, keywords []string, _ media.MediaType, _ locale.Language) []media.Item {
	m.record("discover:" + strings.Join(genres, "|") + ":" + strings.Join(keywords, "|"))
	return m.discover
}

func (m *mediaEmulator) RandomDiscover(_ context.Context, mt media.MediaType, _ locale.Language) []media.Item {
	m.record("random:" + string(mt))
	return m.random
}

func (m *mediaEmulator) Details(_ context.Context, id int64, _ media.MediaType, _ locale.Language) *media.Item {
	m.record("details")
	if item, ok := m.details[id]; ok {
		copied := *item
		return &copied
	}
	return nil
}

func (m *mediaEmulator) lastCall() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return ""
	}
	return m.calls[len(m.calls)-1]
}

func items(ids ...int64) []media.Item {
	out := make([]media.Item, len(ids))
	for i, id := range ids {
		out[i] = media.Item{ID: id, Title: "T" + string(rune('A'+id%26)), MediaType: media.Movie}
	}
	return out
}

func newTestSession(t *testing.T, a Analyzer, m MediaLookup, profile *auth.Profile, store overlay.Store) *Session {
	t.Helper()
	s := NewSession(context.Background(), SessionContext{ID: "session-1", Profile: profile}, Deps{
		Analyzer: a,
		Media:    m,
		Overlays: store,
		Logger:   testLogger(),
	})
	t.Cleanup(s.Close)
	return s
}

func ids(list []media.Item) []int64 {
	out := make([]int64, len(list))
	for i, item := range list {
		out[i] = item.ID
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNewSessionGreeting(t *testing.T) {
	s := newTestSession(t, returning(&analyzer.SearchIntent{}), &mediaEmulator{}, nil, nil)

	snap := s.Snapshot()
	if len(snap.Conversation) != 1 {
		t.Fatalf("conversation = %d turns, want 1", len(snap.Conversation))
	}
	greeting := snap.Conversation[0]
	if greeting.ID != "init" || greeting.Role != RoleAssistant || greeting.Text != locale.Russian.T(locale.Welcome) {
		t.Errorf("greeting = %+v", greeting)
	}
	if len(greeting.SuggestedFilters) != 4 || greeting.SuggestedFilters[0].Category != "Type" {
		t.Errorf("filters = %+v", greeting.SuggestedFilters)
	}
	if snap.ViewMode != ViewRecommendations || snap.Overlay != nil {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestQuotaFallbackScenario(t *testing.T) {
	apology := locale.Russian.T(locale.QuotaFallback)
	a := returning(&analyzer.SearchIntent{QueryType: analyzer.General, IsFallback: true, ReplyText: apology})
	m := &mediaEmulator{search: items(1, 2)}
	s := newTestSession(t, a, m, nil, nil)

	outcome, err := s.Submit(context.Background(), "sci-fi thrillers")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if !outcome.Intent.IsFallback || outcome.Plan != PlanSearch {
		t.Errorf("outcome = %+v", outcome)
	}
	if got := m.lastCall(); got != "search:sci-fi thrillers:movie" {
		t.Errorf("media call = %q", got)
	}

	snap := s.Snapshot()
	if !equalIDs(ids(snap.Results), []int64{1, 2}) {
		t.Errorf("results = %v", ids(snap.Results))
	}
	if len(snap.Conversation) != 3 {
		t.Fatalf("conversation = %d turns, want greeting, user, assistant", len(snap.Conversation))
	}
	if reply := snap.Conversation[2]; reply.Role != RoleAssistant || reply.Text != apology {
		t.Errorf("reply = %+v", reply)
	}
}

func TestFallbackRefinementIsNoop(t *testing.T) {
	a := returning(&analyzer.SearchIntent{RecommendedTitles: []string{"Alien"}, QueryType: analyzer.Descriptive})
	m := &mediaEmulator{titles: items(1, 2)}
	s := newTestSession(t, a, m, nil, nil)

	if _, err := s.Submit(context.Background(), "space horror"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	before := s.Snapshot()

	a.analyze = func(analyzer.Request) *analyzer.SearchIntent {
		return &analyzer.SearchIntent{IsFallback: true, ReplyText: "overloaded"}
	}
	if _, err := s.LoadMore(context.Background()); err != nil {
		t.Fatalf("LoadMore: %v", err)
	}

	after := s.Snapshot()
	if !equalIDs(ids(after.Results), ids(before.Results)) || len(after.Conversation) != len(before.Conversation) {
		t.Errorf("fallback refinement changed state: %v, %d turns", ids(after.Results), len(after.Conversation))
	}
	if after.LoadingMore || after.Typing {
		t.Error("loading flags not cleared")
	}
}

func TestLookupPlanPrecedence(t *testing.T) {
	tests := []struct {
		name       string
		intent     analyzer.SearchIntent
		media      *mediaEmulator
		wantPlan   Plan
		wantCall   string
		wantResult []int64
	}{
		{
			name:       "generic fresh query uses random discovery",
			intent:     analyzer.SearchIntent{QueryType: analyzer.General, MediaType: media.TV},
			media:      &mediaEmulator{random: items(7)},
			wantPlan:   PlanRandom,
			wantCall:   "random:movie",
			wantResult: []int64{7},
		},
		{
			name: "titles win over similar and genres",
			intent: analyzer.SearchIntent{
				QueryType:         analyzer.SpecificFilm,
				MediaType:         media.TV,
				RecommendedTitles: []string{"Dark", "1899"},
				SearchParameters:  analyzer.SearchParameters{SimilarToTitle: "Dark", Genres: []string{"Drama"}},
			},
			media:      &mediaEmulator{titles: items(3, 4)},
			wantPlan:   PlanTitles,
			wantCall:   "titles:Dark|1899:tv",
			wantResult: []int64{3, 4},
		},
		{
			name: "similar to a resolved title",
			intent: analyzer.SearchIntent{
				QueryType:        analyzer.SpecificFilm,
				SearchParameters: analyzer.SearchParameters{SimilarToTitle: "Heat"},
			},
			media:      &mediaEmulator{resolveID: 949, similar: items(5)},
			wantPlan:   PlanSimilar,
			wantCall:   "similar",
			wantResult: []int64{5},
		},
		{
			name: "unresolved similar title falls back to search",
			intent: analyzer.SearchIntent{
				QueryType:        analyzer.SpecificFilm,
				MediaType:        media.Movie,
				SearchParameters: analyzer.SearchParameters{SimilarToTitle: "Heat"},
			},
			media:      &mediaEmulator{search: items(6)},
			wantPlan:   PlanSearch,
			wantCall:   "search:Heat:movie",
			wantResult: []int64{6},
		},
		{
			name: "genres and keywords use discovery",
			intent: analyzer.SearchIntent{
				QueryType:        analyzer.Descriptive,
				SearchParameters: analyzer.SearchParameters{Genres: []string{"Horror"}, Keywords: []string{"space"}},
			},
			media:      &mediaEmulator{discover: items(8)},
			wantPlan:   PlanDiscover,
			wantCall:   "discover:Horror:space",
			wantResult: []int64{8},
		},
		{
			name:       "descriptive without signal clears results on a fresh query",
			intent:     analyzer.SearchIntent{QueryType: analyzer.Descriptive},
			media:      &mediaEmulator{},
			wantPlan:   PlanNone,
			wantResult: []int64{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(t, returning(&tt.intent), tt.media, nil, nil)

			outcome, err := s.Submit(context.Background(), "query")
			if err != nil {
				t.Fatalf("Submit: %v", err)
			}
			if outcome.Plan != tt.wantPlan {
				t.Errorf("plan = %s, want %s", outcome.Plan, tt.wantPlan)
			}
			if tt.wantCall != "" && tt.media.lastCall() != tt.wantCall {
				t.Errorf("last media call = %q, want %q", tt.media.lastCall(), tt.wantCall)
			}
			if got := ids(s.Snapshot().Results); !equalIDs(got, tt.wantResult) {
				t.Errorf("results = %v, want %v", got, tt.wantResult)
			}
		})
	}
}

func TestRefinementExcludesAndDeduplicates(t *testing.T) {
	a := returning(&analyzer.SearchIntent{QueryType: analyzer.Descriptive, RecommendedTitles: []string{"x"}, ReplyText: "here"})
	m := &mediaEmulator{titles: []media.Item{{ID: 1, Title: "Alien"}, {ID: 2, Title: "Aliens"}}}
	s := newTestSession(t, a, m, nil, nil)

	if _, err := s.Submit(context.Background(), "space horror"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	turns := len(s.Snapshot().Conversation)

	m.titles = []media.Item{{ID: 2, Title: "Aliens"}, {ID: 3, Title: "Prometheus"}, {ID: 3, Title: "Prometheus"}}
	outcome, err := s.LoadMore(context.Background())
	if err != nil {
		t.Fatalf("LoadMore: %v", err)
	}

	query := a.last().Query
	if !strings.HasPrefix(query, loadMoreQuery) || !strings.HasSuffix(query, ". IMPORTANT: Exclude these titles: Alien, Aliens") {
		t.Errorf("query = %q", query)
	}

	snap := s.Snapshot()
	if !equalIDs(ids(snap.Results), []int64{1, 2, 3}) {
		t.Errorf("results = %v, want [1 2 3]", ids(snap.Results))
	}
	if outcome.Added != 1 {
		t.Errorf("added = %d, want 1", outcome.Added)
	}
	if len(snap.Conversation) != turns {
		t.Errorf("refinement changed the transcript: %d turns, want %d", len(snap.Conversation), turns)
	}
	if snap.HistoryDepth != 0 {
		t.Errorf("refinement pushed a history frame")
	}
}

func TestUnmatchedRefinementLeavesResults(t *testing.T) {
	a := returning(&analyzer.SearchIntent{QueryType: analyzer.Descriptive, RecommendedTitles: []string{"x"}})
	m := &mediaEmulator{titles: items(1)}
	s := newTestSession(t, a, m, nil, nil)
	if _, err := s.Submit(context.Background(), "q"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	a.analyze = func(analyzer.Request) *analyzer.SearchIntent {
		return &analyzer.SearchIntent{QueryType: analyzer.General}
	}
	outcome, err := s.LoadMore(context.Background())
	if err != nil {
		t.Fatalf("LoadMore: %v", err)
	}
	if outcome.Plan != PlanNone {
		t.Errorf("plan = %s, want none", outcome.Plan)
	}
	if !equalIDs(ids(s.Snapshot().Results), []int64{1}) {
		t.Errorf("results = %v", ids(s.Snapshot().Results))
	}
}

func TestGoBackRestoresFrames(t *testing.T) {
	var batch int64
	a := returning(&analyzer.SearchIntent{QueryType: analyzer.Descriptive, RecommendedTitles: []string{"x"}, ReplyText: "ok"})
	m := &mediaEmulator{}
	s := newTestSession(t, a, m, nil, nil)

	submit := func(text string) {
		batch++
		m.titles = items(batch*10, batch*10+1)
		if _, err := s.Submit(context.Background(), text); err != nil {
			t.Fatalf("Submit(%q): %v", text, err)
		}
	}

	submit("first")
	first := s.Snapshot()
	if err := s.SetViewMode(ViewWatched); err != nil {
		t.Fatal(err)
	}
	submit("second")
	second := s.Snapshot()
	submit("third")

	frames := s.Frames()
	if len(frames) != 2 || frames[0].QueryLabel != "first" || frames[1].QueryLabel != "second" {
		t.Fatalf("frames = %+v", frames)
	}
	if frames[0].ViewMode != ViewWatched {
		t.Errorf("frame view mode = %s, want watched", frames[0].ViewMode)
	}

	if !s.GoBack() {
		t.Fatal("GoBack reported empty stack")
	}
	got := s.Snapshot()
	if !equalIDs(ids(got.Results), ids(second.Results)) || len(got.Conversation) != len(second.Conversation) || got.ViewMode != ViewRecommendations {
		t.Errorf("after first GoBack: results %v, %d turns, view %s", ids(got.Results), len(got.Conversation), got.ViewMode)
	}

	s.GoBack()
	got = s.Snapshot()
	if !equalIDs(ids(got.Results), ids(first.Results)) || len(got.Conversation) != len(first.Conversation) || got.ViewMode != ViewWatched {
		t.Errorf("after second GoBack: results %v, %d turns, view %s", ids(got.Results), len(got.Conversation), got.ViewMode)
	}

	if s.GoBack() {
		t.Error("GoBack on empty stack reported true")
	}
}

func TestResetClearsState(t *testing.T) {
	a := returning(&analyzer.SearchIntent{QueryType: analyzer.Descriptive, RecommendedTitles: []string{"x"}})
	m := &mediaEmulator{titles: items(1)}
	s := newTestSession(t, a, m, nil, nil)
	s.Submit(context.Background(), "one")
	s.Submit(context.Background(), "two")
	s.SetViewMode(ViewWishlist)

	s.Reset()

	snap := s.Snapshot()
	if len(snap.Conversation) != 1 || snap.Conversation[0].ID != "init" {
		t.Errorf("conversation = %+v", snap.Conversation)
	}
	if len(snap.Results) != 0 || snap.HistoryDepth != 0 || snap.ViewMode != ViewRecommendations || snap.Detail != nil {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestDegradedAnalysisRepliesWithoutResults(t *testing.T) {
	failure := locale.Russian.T(locale.AnalysisFailed)
	a := returning(&analyzer.SearchIntent{QueryType: analyzer.General, ReplyText: failure, Cause: errors.New("bad gateway")})
	m := &mediaEmulator{random: items(1)}
	s := newTestSession(t, a, m, nil, nil)

	outcome, err := s.Submit(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if outcome.Plan != PlanNone || len(m.calls) != 0 {
		t.Errorf("plan = %s, calls = %v", outcome.Plan, m.calls)
	}
	snap := s.Snapshot()
	if last := snap.Conversation[len(snap.Conversation)-1]; last.Text != failure {
		t.Errorf("reply = %q", last.Text)
	}
}

func TestLookupFailureAppendsConnectionError(t *testing.T) {
	a := returning(&analyzer.SearchIntent{QueryType: analyzer.Descriptive, RecommendedTitles: []string{"x"}})
	m := &mediaEmulator{titles: items(1)}
	s := newTestSession(t, a, m, nil, nil)
	if _, err := s.Submit(context.Background(), "first"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	m.panics = true
	if _, err := s.Submit(context.Background(), "second"); err == nil {
		t.Fatal("expected an error")
	}

	snap := s.Snapshot()
	last := snap.Conversation[len(snap.Conversation)-1]
	if last.Role != RoleAssistant || last.Text != locale.Russian.T(locale.ErrorConnection) {
		t.Errorf("last turn = %+v", last)
	}
	if !equalIDs(ids(snap.Results), []int64{1}) {
		t.Errorf("results mutated on failure: %v", ids(snap.Results))
	}
	if snap.Typing || snap.Loading || snap.LoadingMore {
		t.Error("loading flags not cleared")
	}
}

func TestStaleSubmitIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	a := &analyzerEmulator{analyze: func(analyzer.Request) *analyzer.SearchIntent {
		close(started)
		<-release
		return &analyzer.SearchIntent{QueryType: analyzer.Descriptive, RecommendedTitles: []string{"x"}, ReplyText: "late"}
	}}
	m := &mediaEmulator{titles: items(1)}
	s := newTestSession(t, a, m, nil, nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), "slow")
		errCh <- err
	}()

	<-started
	if !s.Snapshot().Typing {
		t.Error("typing not set while awaiting")
	}
	s.Reset()
	close(release)

	if err := <-errCh; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("err = %v, want ErrSuperseded", err)
	}
	snap := s.Snapshot()
	if len(snap.Conversation) != 1 || len(snap.Results) != 0 {
		t.Errorf("late response clobbered state: %d turns, %d results", len(snap.Conversation), len(snap.Results))
	}
}

func TestApplyFilter(t *testing.T) {
	a := returning(&analyzer.SearchIntent{QueryType: analyzer.Descriptive})
	s := newTestSession(t, a, &mediaEmulator{}, nil, nil)

	typeFilter := s.Snapshot().Conversation[0].SuggestedFilters[1]
	if _, err := s.ApplyFilter(context.Background(), typeFilter); err != nil {
		t.Fatalf("ApplyFilter: %v", err)
	}
	if got := a.last().Query; got != typeFilter.Value {
		t.Errorf("query = %q, want %q", got, typeFilter.Value)
	}
	if !s.Snapshot().Conversation[0].SuggestedFilters[1].Selected {
		t.Error("filter not marked selected")
	}

	if _, err := s.ApplyFilter(context.Background(), analyzer.FilterOption{Category: "Genre", Label: "Ужасы", Value: "horror"}); err != nil {
		t.Fatalf("ApplyFilter: %v", err)
	}
	if got := a.last().Query; got != "Применяю фильтр: Ужасы" {
		t.Errorf("query = %q", got)
	}
}

func TestRandom(t *testing.T) {
	s := newTestSession(t, returning(&analyzer.SearchIntent{}), &mediaEmulator{random: items(4, 5)}, nil, nil)

	if _, err := s.Random(context.Background()); err != nil {
		t.Fatalf("Random: %v", err)
	}
	if _, err := s.Random(context.Background()); err != nil {
		t.Fatalf("Random: %v", err)
	}

	snap := s.Snapshot()
	if snap.HistoryDepth != 1 || s.Frames()[0].QueryLabel != "Random" {
		t.Errorf("history depth = %d", snap.HistoryDepth)
	}
	n := len(snap.Conversation)
	if snap.Conversation[n-2].Text != locale.Russian.T(locale.RandomPick) || snap.Conversation[n-1].Text != locale.Russian.T(locale.RandomSearch) {
		t.Errorf("turns = %+v", snap.Conversation[n-2:])
	}
}

func TestAuthRequired(t *testing.T) {
	store := overlay.NewMemoryStore()
	s := newTestSession(t, returning(&analyzer.SearchIntent{}), &mediaEmulator{}, nil, store)
	item := media.Item{ID: 1, Title: "Heat"}

	if err := s.Rate(context.Background(), item, 8); !errors.Is(err, ErrAuthRequired) {
		t.Errorf("Rate err = %v", err)
	}
	if _, err := s.ToggleWishlist(context.Background(), item); !errors.Is(err, ErrAuthRequired) {
		t.Errorf("ToggleWishlist err = %v", err)
	}
	if _, err := s.ToggleWatched(context.Background(), item); !errors.Is(err, ErrAuthRequired) {
		t.Errorf("ToggleWatched err = %v", err)
	}
}

func TestRateCrossEffect(t *testing.T) {
	ctx := context.Background()
	store := overlay.NewMemoryStore()
	x := media.Item{ID: 42, Title: "Heat", MediaType: media.Movie}
	if err := store.Add(ctx, "uid", overlay.Wishlist, overlay.RecordFromItem(x)); err != nil {
		t.Fatal(err)
	}

	a := returning(&analyzer.SearchIntent{QueryType: analyzer.Descriptive, RecommendedTitles: []string{"Heat"}})
	m := &mediaEmulator{titles: []media.Item{x}, details: map[int64]*media.Item{42: &x}}
	s := newTestSession(t, a, m, &auth.Profile{ID: "uid"}, store)

	if _, err := s.Submit(ctx, "heist movies"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := s.OpenDetails(ctx, 42, media.Movie); err != nil {
		t.Fatalf("OpenDetails: %v", err)
	}

	if err := s.Rate(ctx, x, 8); err != nil {
		t.Fatalf("Rate: %v", err)
	}

	snap := s.Snapshot()
	if _, ok := snap.Overlay.Optimistic.Find(overlay.Wishlist, 42); ok {
		t.Error("item still in wishlist")
	}
	watched, ok := snap.Overlay.Confirmed.Find(overlay.Watched, 42)
	if !ok || watched.UserRating != 8 {
		t.Errorf("watched = %+v, %v", watched, ok)
	}
	if snap.Detail == nil || snap.Detail.UserRating != 8 {
		t.Errorf("detail = %+v", snap.Detail)
	}
	if snap.Results[0].UserRating != 8 {
		t.Errorf("result rating = %d", snap.Results[0].UserRating)
	}
	if c := store.Counters("uid"); c.WatchedCount != 1 || c.RatingsCount != 1 || c.WishlistCount != 0 {
		t.Errorf("counters = %+v", c)
	}

	// Ratings carry over to later results.
	if _, err := s.Submit(ctx, "again"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := s.Snapshot().Results[0].UserRating; got != 8 {
		t.Errorf("overlaid rating = %d, want 8", got)
	}
}

type failingUpsertStore struct {
	*overlay.MemoryStore
}

func (f failingUpsertStore) UpsertRating(context.Context, string, overlay.Record, int) error {
	return errors.New("firestore unavailable")
}

func TestRateFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	x := media.Item{ID: 42, Title: "Heat"}
	a := returning(&analyzer.SearchIntent{QueryType: analyzer.Descriptive, RecommendedTitles: []string{"Heat"}})
	s := newTestSession(t, a, &mediaEmulator{titles: []media.Item{x}}, &auth.Profile{ID: "uid"}, failingUpsertStore{overlay.NewMemoryStore()})
	s.Submit(ctx, "heist")

	if err := s.Rate(ctx, x, 8); err == nil {
		t.Fatal("expected the store error")
	}

	snap := s.Snapshot()
	if _, ok := snap.Overlay.Optimistic.Find(overlay.Watched, 42); ok {
		t.Error("failed rating left in the optimistic view")
	}
	if snap.Results[0].UserRating != 0 {
		t.Errorf("result rating = %d, want rollback to 0", snap.Results[0].UserRating)
	}
}

func TestToggleWishlist(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, returning(&analyzer.SearchIntent{}), &mediaEmulator{}, &auth.Profile{ID: "uid"}, overlay.NewMemoryStore())
	item := media.Item{ID: 9, Title: "Ran"}

	added, err := s.ToggleWishlist(ctx, item)
	if err != nil || !added {
		t.Fatalf("first toggle = %v, %v", added, err)
	}
	added, err = s.ToggleWishlist(ctx, item)
	if err != nil || added {
		t.Fatalf("second toggle = %v, %v", added, err)
	}
	if s.Overlay().Contains(overlay.Wishlist, 9) {
		t.Error("item still in wishlist")
	}
}

func TestOnAuthChangeResets(t *testing.T) {
	ctx := context.Background()
	a := returning(&analyzer.SearchIntent{QueryType: analyzer.Descriptive, RecommendedTitles: []string{"x"}})
	s := newTestSession(t, a, &mediaEmulator{titles: items(1)}, nil, overlay.NewMemoryStore())
	s.Submit(ctx, "one")
	s.Submit(ctx, "two")

	s.OnAuthChange(ctx, &auth.Profile{ID: "uid"})

	snap := s.Snapshot()
	if len(snap.Conversation) != 1 || len(snap.Results) != 0 || snap.HistoryDepth != 0 {
		t.Errorf("state not reset: %+v", snap)
	}
	if snap.Overlay == nil || s.UserID() != "uid" {
		t.Error("overlay not attached to the signed-in user")
	}

	s.OnAuthChange(ctx, nil)
	if s.Overlay() != nil || s.UserID() != "" {
		t.Error("sign out kept the overlay")
	}
}

type settingsEmulator struct {
	mu    sync.Mutex
	saved map[string]settings.Settings
}

func (e *settingsEmulator) Load(owner string) (settings.Settings, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.saved[owner]; ok {
		return s, nil
	}
	return settings.Defaults(), nil
}

func (e *settingsEmulator) Save(owner string, s settings.Settings) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.saved[owner] = s
	return nil
}

func TestUpdateSettings(t *testing.T) {
	store := &settingsEmulator{saved: map[string]settings.Settings{}}
	a := returning(&analyzer.SearchIntent{QueryType: analyzer.Descriptive, RecommendedTitles: []string{"x"}})
	s := NewSession(context.Background(), SessionContext{ID: "guest-session"}, Deps{
		Analyzer: a,
		Media:    &mediaEmulator{titles: items(1)},
		Settings: store,
		Logger:   testLogger(),
	})
	defer s.Close()

	s.Submit(context.Background(), "one")

	if _, err := s.UpdateSettings(settings.Settings{Theme: settings.ThemeLight}); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	if len(s.Snapshot().Results) != 1 {
		t.Error("theme change reset the conversation")
	}

	if _, err := s.UpdateSettings(settings.Settings{ActiveModel: "kimi", Language: locale.English}); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Conversation) != 1 || snap.Conversation[0].Text != locale.English.T(locale.Welcome) || len(snap.Results) != 0 {
		t.Errorf("model switch did not start fresh: %+v", snap.Conversation)
	}
	if store.saved["guest-session"].ActiveModel != "kimi" {
		t.Errorf("saved = %+v", store.saved)
	}

	s.Submit(context.Background(), "two")
	if got := a.last().Model; got != "kimi" {
		t.Errorf("analyzer model = %q, want kimi", got)
	}

	if _, err := s.UpdateSettings(settings.Settings{Theme: "sepia"}); err == nil {
		t.Error("expected validation error")
	}
}

func TestTestModeLogsHarnessAndMain(t *testing.T) {
	a := returning(&analyzer.SearchIntent{QueryType: analyzer.Descriptive, ModelKey: "gpt4"})
	runner := harness.NewRunner(a, func(key string) string { return "Model " + key }, time.Millisecond, testLogger())
	s := NewSession(context.Background(), SessionContext{ID: "s"}, Deps{
		Analyzer: a,
		Media:    &mediaEmulator{},
		Harness:  runner,
		Logger:   testLogger(),
	})
	defer s.Close()

	s.SetTestMode(true, []string{"gemini", " ", "kimi"})
	if _, err := s.Submit(context.Background(), "space horror"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(s.TestLog().Entries()) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	entries := s.TestLog().Entries()
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	var main, overrides int
	for _, entry := range entries {
		if strings.HasSuffix(entry.ModelLabel, harness.MainLabelSuffix) {
			main++
			if entry.ModelLabel != "Model gpt4 (Main)" {
				t.Errorf("main label = %q", entry.ModelLabel)
			}
			continue
		}
		overrides++
	}
	if main != 1 || overrides != 2 {
		t.Errorf("main = %d, overrides = %d", main, overrides)
	}
}

// blockingDetails holds Details until release is closed.
type blockingDetails struct {
	*mediaEmulator
	started chan struct{}
	release chan struct{}
}

func (b *blockingDetails) Details(_ context.Context, id int64, mt media.MediaType, _ locale.Language) *media.Item {
	close(b.started)
	<-b.release
	return &media.Item{ID: id, Title: "Late detail", MediaType: mt}
}

func TestLateDetailsDoNotReopenView(t *testing.T) {
	tests := []struct {
		name   string
		action func(t *testing.T, s *Session)
	}{
		{"go back", func(t *testing.T, s *Session) {
			if !s.GoBack() {
				t.Error("GoBack found no frame")
			}
		}},
		{"reset", func(_ *testing.T, s *Session) { s.Reset() }},
		{"close details", func(_ *testing.T, s *Session) { s.CloseDetails() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := returning(&analyzer.SearchIntent{QueryType: analyzer.Descriptive, RecommendedTitles: []string{"x"}, ReplyText: "ok"})
			m := &blockingDetails{
				mediaEmulator: &mediaEmulator{titles: items(1, 2)},
				started:       make(chan struct{}),
				release:       make(chan struct{}),
			}
			s := newTestSession(t, a, m, nil, nil)
			ctx := context.Background()

			for _, q := range []string{"first", "second"} {
				if _, err := s.Submit(ctx, q); err != nil {
					t.Fatalf("Submit(%q): %v", q, err)
				}
			}

			errCh := make(chan error, 1)
			go func() {
				_, err := s.OpenDetails(ctx, 1, media.Movie)
				errCh <- err
			}()

			<-m.started
			tt.action(t, s)
			close(m.release)

			if err := <-errCh; !errors.Is(err, ErrSuperseded) {
				t.Errorf("err = %v, want ErrSuperseded", err)
			}
			if detail := s.Snapshot().Detail; detail != nil {
				t.Errorf("late lookup reopened detail %q", detail.Title)
			}
		})
	}
}

func TestApplyFilterCheckpointPrecedesSelection(t *testing.T) {
	genre := analyzer.FilterOption{Category: "Genre", Label: "Ужасы", Value: "horror"}
	blank := analyzer.FilterOption{Category: "Type", Label: "Blank", Value: " "}
	a := returning(&analyzer.SearchIntent{
		QueryType:         analyzer.Descriptive,
		RecommendedTitles: []string{"x"},
		ReplyText:         "ok",
		SuggestedFilters:  []analyzer.FilterOption{genre, blank},
	})
	s := newTestSession(t, a, &mediaEmulator{titles: items(1, 2)}, nil, nil)
	ctx := context.Background()

	if _, err := s.Submit(ctx, "scary"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := s.ApplyFilter(ctx, genre); err != nil {
		t.Fatalf("ApplyFilter: %v", err)
	}

	if !s.Snapshot().Conversation[2].SuggestedFilters[0].Selected {
		t.Error("filter not marked selected")
	}
	if s.Frames()[0].Conversation[2].SuggestedFilters[0].Selected {
		t.Error("checkpoint captured the filter as selected")
	}

	if !s.GoBack() {
		t.Fatal("GoBack found no frame")
	}
	if s.Snapshot().Conversation[2].SuggestedFilters[0].Selected {
		t.Error("GoBack restored a selected filter")
	}

	if _, err := s.ApplyFilter(ctx, blank); !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("blank filter err = %v, want ErrEmptyQuery", err)
	}
	if s.Snapshot().Conversation[2].SuggestedFilters[1].Selected {
		t.Error("rejected filter marked selected")
	}
}

func TestLoadMoreWhileSearching(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	a := &analyzerEmulator{analyze: func(analyzer.Request) *analyzer.SearchIntent {
		once.Do(func() {
			close(started)
			<-release
		})
		return &analyzer.SearchIntent{QueryType: analyzer.Descriptive, RecommendedTitles: []string{"x"}, ReplyText: "found"}
	}}
	s := newTestSession(t, a, &mediaEmulator{titles: items(1, 2)}, nil, nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), "heist")
		errCh <- err
	}()

	<-started
	if _, err := s.LoadMore(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("LoadMore err = %v, want ErrBusy", err)
	}
	close(release)

	if err := <-errCh; err != nil {
		t.Fatalf("Submit: %v", err)
	}
	snap := s.Snapshot()
	if n := len(snap.Conversation); n != 3 || snap.Conversation[n-1].Text != "found" {
		t.Errorf("conversation = %+v", snap.Conversation)
	}
	if !equalIDs(ids(snap.Results), []int64{1, 2}) {
		t.Errorf("results = %v", ids(snap.Results))
	}

	if _, err := s.LoadMore(context.Background()); err != nil {
		t.Errorf("LoadMore after the search: %v", err)
	}
}
